package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/justapithecus/winusb/driver"
	"github.com/justapithecus/winusb/ipc"
	"github.com/justapithecus/winusb/log"
	"github.com/justapithecus/winusb/protocol"
	"github.com/justapithecus/winusb/types"
)

const (
	// DefaultConnectTimeout bounds the worker's connect retries.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultHeartbeatInterval is the heartbeat period while installing.
	DefaultHeartbeatInterval = time.Second
)

// WorkerConfig configures the elevated side of a session.
type WorkerConfig struct {
	// PipeName is the endpoint to connect to, as passed on the command line.
	PipeName string
	// ConnectTimeout bounds connect retries while the endpoint is busy.
	ConnectTimeout time.Duration
	// HeartbeatInterval is the heartbeat period while installing.
	HeartbeatInterval time.Duration
	// Backend performs discovery and installation.
	Backend driver.Backend
	// Logger defaults to a logger carrying the worker context.
	Logger *log.Logger
}

// Worker serves one install session on the elevated side.
type Worker struct {
	config WorkerConfig
	logger *log.Logger
}

// installEvent is produced by the blocking install goroutine.
type installEvent struct {
	result *types.DeviceResult
	err    error
}

// NewWorker validates config and creates a worker.
func NewWorker(config *WorkerConfig) (*Worker, error) {
	cfg := *config
	if !ipc.IsPipeName(cfg.PipeName) {
		return nil, fmt.Errorf("invalid endpoint name %q", cfg.PipeName)
	}
	if cfg.Backend == nil {
		return nil, errors.New("driver backend is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewLogger(&types.SessionMeta{
			SessionID: cfg.PipeName[len(ipc.NamespacePrefix):],
			Role:      types.RoleWorker,
			PID:       os.Getpid(),
		})
	}
	return &Worker{config: cfg, logger: cfg.Logger}, nil
}

// Serve connects to the orchestrator and handles messages until Terminate
// arrives or the orchestrator closes the channel, both of which return
// nil.
func (w *Worker) Serve(ctx context.Context) error {
	w.logger.Info("connecting to orchestrator", map[string]any{
		"endpoint": w.config.PipeName,
	})
	ch, err := protocol.Dial(ctx, w.config.PipeName, w.config.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		if err := ch.Close(); err != nil {
			w.logger.Debug("failed to close channel", map[string]any{"error": err.Error()})
		}
	}()
	return w.serve(ctx, ch)
}

func (w *Worker) serve(ctx context.Context, ch *protocol.WorkerChannel) error {
	for {
		msg, ok, err := ch.Receive(ctx)
		if err != nil {
			return fmt.Errorf("failed to receive: %w", err)
		}
		if !ok {
			w.logger.Info("orchestrator closed the channel", nil)
			return nil
		}
		w.logger.Debug("received", map[string]any{"message": protocol.NameOf(msg)})

		switch m := msg.(type) {
		case protocol.Terminate:
			w.logger.Info("terminate requested", nil)
			return nil
		case protocol.ConfigureLogSink:
			if err := w.configureLogSink(ch, m.Window); err != nil {
				return err
			}
		case protocol.InstallRequest:
			if err := w.install(ctx, ch, m); err != nil {
				return err
			}
		default:
			w.logger.Warn("ignoring unknown message", map[string]any{
				"message": protocol.NameOf(msg),
			})
		}
	}
}

// configureLogSink points the backend's native log output at window. A
// backend that cannot do so is reported to the orchestrator; the session
// goes on without relay. Only a failed send is returned.
func (w *Worker) configureLogSink(ch *protocol.WorkerChannel, window uint64) error {
	registrar, ok := w.config.Backend.(driver.LogSinkRegistrar)
	var err error
	if !ok {
		err = errors.New("driver backend cannot relay native log text")
	} else {
		err = registrar.RegisterLogSink(window)
	}
	if err == nil {
		w.logger.Info("log sink configured", map[string]any{"window": window})
		return nil
	}

	w.logger.Warn("could not configure log sink", map[string]any{"error": err.Error()})
	if err := ch.Send(protocol.Error{Text: err.Error()}); err != nil {
		return fmt.Errorf("failed to send error: %w", err)
	}
	return nil
}

// install acknowledges req, runs the installation on its own goroutine
// and relays its results interleaved with heartbeats until it finishes.
func (w *Worker) install(ctx context.Context, ch *protocol.WorkerChannel, req protocol.InstallRequest) error {
	w.logger.Info("installation requested", map[string]any{"devices": len(req.Devices)})
	if err := ch.Send(protocol.InstallStarted{}); err != nil {
		return fmt.Errorf("failed to send install started: %w", err)
	}

	queue := newResultQueue[installEvent]()
	go w.runInstall(ctx, req, queue)

	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for done := false; !done; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := ch.Send(protocol.Heartbeat{}); err != nil {
				return fmt.Errorf("failed to send heartbeat: %w", err)
			}
		case <-queue.Ready():
			events, closed := queue.Drain()
			for _, ev := range events {
				if err := ch.Send(ev.message()); err != nil {
					return fmt.Errorf("failed to send result: %w", err)
				}
			}
			done = closed
		}
	}

	w.logger.Info("installation finished", nil)
	if err := ch.Send(protocol.InstallFinished{}); err != nil {
		return fmt.Errorf("failed to send install finished: %w", err)
	}
	return nil
}

// runInstall performs the blocking backend calls and closes queue when
// done. A backend panic is reported as an error event.
func (w *Worker) runInstall(ctx context.Context, req protocol.InstallRequest, queue *resultQueue[installEvent]) {
	defer queue.Close()
	defer func() {
		if r := recover(); r != nil {
			queue.Push(installEvent{err: fmt.Errorf("driver backend panicked: %v", r)})
		}
	}()

	err := driver.InstallAll(ctx, w.config.Backend, req.Config, req.Devices, func(r types.DeviceResult) {
		fields := map[string]any{"device": r.Device.String()}
		if r.OK() {
			w.logger.Info("device installed", fields)
		} else {
			fields["error"] = r.Err
			w.logger.Warn("device installation failed", fields)
		}
		queue.Push(installEvent{result: &r})
	})
	if err != nil {
		w.logger.Error("installation failed", map[string]any{"error": err.Error()})
		queue.Push(installEvent{err: err})
	}
}

func (e installEvent) message() protocol.WorkerMessage {
	if e.err != nil {
		return protocol.Error{Text: e.err.Error()}
	}
	return protocol.DeviceResult{Result: *e.result}
}
