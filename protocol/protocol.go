package protocol

import (
	"context"
	"io"
	"time"

	"github.com/justapithecus/winusb/ipc"
)

// OrchestratorChannel is the orchestrator's end of a session channel.
type OrchestratorChannel = ipc.Channel[OrchestratorMessage, WorkerMessage]

// WorkerChannel is the worker's end of a session channel.
type WorkerChannel = ipc.Channel[WorkerMessage, OrchestratorMessage]

// NewOrchestratorChannel wraps an already-connected stream as the
// orchestrator end. The channel takes ownership of conn.
func NewOrchestratorChannel(conn io.ReadWriteCloser) *OrchestratorChannel {
	return ipc.NewChannel[OrchestratorMessage, WorkerMessage](conn, OrchestratorCodec{})
}

// NewWorkerChannel wraps an already-connected stream as the worker end.
// The channel takes ownership of conn.
func NewWorkerChannel(conn io.ReadWriteCloser) *WorkerChannel {
	return ipc.NewChannel[WorkerMessage, OrchestratorMessage](conn, WorkerCodec{})
}

// Accept waits for the worker to connect to ln and returns the
// orchestrator end of the channel.
func Accept(ctx context.Context, ln ipc.Listener) (*OrchestratorChannel, error) {
	conn, err := ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return NewOrchestratorChannel(conn), nil
}

// Dial connects to the orchestrator's endpoint and returns the worker end
// of the channel.
func Dial(ctx context.Context, name string, timeout time.Duration) (*WorkerChannel, error) {
	conn, err := ipc.Dial(ctx, name, timeout)
	if err != nil {
		return nil, err
	}
	return NewWorkerChannel(conn), nil
}
