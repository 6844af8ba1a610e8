//go:build windows

package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/windows"
)

const pipeBufferSize = 64 * 1024

func namespacePrefix() string {
	return `\\.\pipe\`
}

// pipeListener owns one overlapped named-pipe instance until a client
// connects, then hands the handle over to a pipeConn.
type pipeListener struct {
	name string

	mu     sync.Mutex
	handle windows.Handle
	done   bool
}

func listen(name string) (Listener, error) {
	name16, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, fmt.Errorf("invalid pipe name %q: %w", name, err)
	}

	// One instance only, and FIRST_PIPE_INSTANCE fails if the name
	// exists: nobody else can hold or later add an instance.
	openMode := uint32(windows.PIPE_ACCESS_DUPLEX | windows.FILE_FLAG_OVERLAPPED | windows.FILE_FLAG_FIRST_PIPE_INSTANCE)
	pipeMode := uint32(windows.PIPE_TYPE_BYTE | windows.PIPE_READMODE_BYTE | windows.PIPE_WAIT | windows.PIPE_REJECT_REMOTE_CLIENTS)

	h, err := windows.CreateNamedPipe(name16, openMode, pipeMode, 1, pipeBufferSize, pipeBufferSize, 0, nil)
	if err != nil {
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) || errors.Is(err, windows.ERROR_PIPE_BUSY) {
			return nil, fmt.Errorf("%w: %s", ErrEndpointInUse, name)
		}
		return nil, fmt.Errorf("failed to create pipe %s: %w", name, err)
	}
	return &pipeListener{name: name, handle: h}, nil
}

func (l *pipeListener) Name() string { return l.name }

func (l *pipeListener) Accept(ctx context.Context) (io.ReadWriteCloser, error) {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return nil, ErrListenerClosed
	}
	h := l.handle
	l.mu.Unlock()

	if err := connectPipe(ctx, h); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return nil, ErrListenerClosed
	}
	l.done = true
	l.handle = windows.InvalidHandle
	return &pipeConn{handle: h}, nil
}

func connectPipe(ctx context.Context, h windows.Handle) error {
	event, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	defer windows.CloseHandle(event) //nolint:errcheck

	o := &windows.Overlapped{HEvent: event}
	err = windows.ConnectNamedPipe(h, o)
	switch {
	case err == nil, errors.Is(err, windows.ERROR_PIPE_CONNECTED):
		return nil
	case errors.Is(err, windows.ERROR_IO_PENDING):
	default:
		return fmt.Errorf("failed to connect pipe: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = windows.CancelIoEx(h, o)
	})
	defer stop()

	var n uint32
	if err := windows.GetOverlappedResult(h, o, &n, true); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, windows.ERROR_OPERATION_ABORTED) {
			return ErrListenerClosed
		}
		return fmt.Errorf("failed to connect pipe: %w", err)
	}
	return nil
}

func (l *pipeListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return nil
	}
	l.done = true
	h := l.handle
	l.handle = windows.InvalidHandle
	_ = windows.CancelIoEx(h, nil)
	return windows.CloseHandle(h)
}

func openPipe(name string) (io.ReadWriteCloser, error) {
	name16, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, fmt.Errorf("invalid pipe name %q: %w", name, err)
	}
	// SECURITY_IDENTIFICATION keeps the server from impersonating the
	// elevated client at a higher level.
	h, err := windows.CreateFile(
		name16,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_OVERLAPPED|windows.SECURITY_SQOS_PRESENT|windows.SECURITY_IDENTIFICATION,
		0,
	)
	if err != nil {
		if errors.Is(err, windows.ERROR_PIPE_BUSY) {
			return nil, ErrPipeBusy
		}
		return nil, err
	}
	return &pipeConn{handle: h}, nil
}

// pipeConn is an overlapped pipe handle. Overlapped I/O lets a blocked
// Read coexist with Write on the same handle.
type pipeConn struct {
	handle    windows.Handle
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (c *pipeConn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := c.do(p, false)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, windows.ERROR_BROKEN_PIPE), errors.Is(err, windows.ERROR_PIPE_NOT_CONNECTED):
		return n, io.EOF
	default:
		return n, err
	}
}

func (c *pipeConn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := c.do(p[written:], true)
		written += n
		if err != nil {
			if errors.Is(err, windows.ERROR_BROKEN_PIPE) || errors.Is(err, windows.ERROR_NO_DATA) {
				return written, io.ErrClosedPipe
			}
			return written, err
		}
	}
	return written, nil
}

func (c *pipeConn) do(p []byte, write bool) (int, error) {
	if c.closed.Load() {
		return 0, os.ErrClosed
	}
	event, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create event: %w", err)
	}
	defer windows.CloseHandle(event) //nolint:errcheck

	o := &windows.Overlapped{HEvent: event}
	var n uint32
	if write {
		err = windows.WriteFile(c.handle, p, &n, o)
	} else {
		err = windows.ReadFile(c.handle, p, &n, o)
	}
	if errors.Is(err, windows.ERROR_IO_PENDING) {
		err = windows.GetOverlappedResult(c.handle, o, &n, true)
	}
	if errors.Is(err, windows.ERROR_OPERATION_ABORTED) && c.closed.Load() {
		return int(n), os.ErrClosed
	}
	return int(n), err
}

func (c *pipeConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = windows.CancelIoEx(c.handle, nil)
		c.closeErr = windows.CloseHandle(c.handle)
	})
	return c.closeErr
}
