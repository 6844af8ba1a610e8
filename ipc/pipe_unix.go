//go:build !windows

package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// On other platforms endpoints are unix domain sockets under the temp
// directory. This keeps the orchestration logic testable off Windows.
func namespacePrefix() string {
	return filepath.Join(os.TempDir(), "winusb-pipe-")
}

type socketListener struct {
	name string
	ln   *net.UnixListener

	mu   sync.Mutex
	done bool
}

func listen(name string) (Listener, error) {
	// A leftover socket file means someone else holds the name.
	if _, err := os.Lstat(name); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrEndpointInUse, name)
	}
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: name, Net: "unix"})
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("%w: %s", ErrEndpointInUse, name)
		}
		return nil, fmt.Errorf("failed to listen on %s: %w", name, err)
	}
	ln.SetUnlinkOnClose(true)
	return &socketListener{name: name, ln: ln}, nil
}

func (l *socketListener) Name() string { return l.name }

func (l *socketListener) Accept(ctx context.Context) (io.ReadWriteCloser, error) {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return nil, ErrListenerClosed
	}
	l.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = l.ln.Close()
	})
	defer stop()

	conn, err := l.ln.AcceptUnix()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrListenerClosed
		}
		return nil, fmt.Errorf("failed to accept on %s: %w", l.name, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.done = true
	// Exactly one peer: stop listening once it is in.
	_ = l.ln.Close()
	return conn, nil
}

func (l *socketListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return nil
	}
	l.done = true
	if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func openPipe(name string) (io.ReadWriteCloser, error) {
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: name, Net: "unix"})
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EAGAIN) {
			return nil, ErrPipeBusy
		}
		return nil, err
	}
	return conn, nil
}
