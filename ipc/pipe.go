package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// DefaultSessionID is the endpoint id used when none is configured.
const DefaultSessionID = "winusb-driver-installer"

// DialRetryInterval is the fixed interval between connect attempts while
// the endpoint reports that all instances are busy.
const DialRetryInterval = 50 * time.Millisecond

var (
	// ErrPipeBusy is returned by the platform open call when every
	// instance of the endpoint is taken. Dial retries on it.
	ErrPipeBusy = errors.New("ipc: all pipe instances are busy")
	// ErrConnectTimeout is returned by Dial when the endpoint stayed busy
	// until the deadline.
	ErrConnectTimeout = errors.New("ipc: connect timed out")
	// ErrEndpointInUse is returned by Listen when another process already
	// owns the endpoint name.
	ErrEndpointInUse = errors.New("ipc: endpoint name already claimed")
	// ErrListenerClosed is returned by Accept after Close, or on a second
	// Accept: a listener hands out exactly one connection.
	ErrListenerClosed = errors.New("ipc: listener closed")
)

// NamespacePrefix is the platform namespace every endpoint name lives in.
var NamespacePrefix = namespacePrefix()

// PipeName returns the endpoint name for a session id.
//
// PipeName panics if id already carries NamespacePrefix: passing a full
// name where an id is expected is a programming error.
func PipeName(id string) string {
	if strings.HasPrefix(id, NamespacePrefix) {
		panic(fmt.Sprintf("ipc: session id %q already carries the pipe namespace prefix", id))
	}
	return NamespacePrefix + id
}

// ValidateSessionID rejects ids that cannot survive the worker's command
// line: one carrying NamespacePrefix, or one containing whitespace or a
// double quote. Quoting the worker argument doubles the backslashes of
// the prefix.
func ValidateSessionID(id string) error {
	if strings.HasPrefix(id, NamespacePrefix) {
		return fmt.Errorf("session id %q must not carry the %q prefix", id, NamespacePrefix)
	}
	if strings.ContainsFunc(id, func(r rune) bool { return r == '"' || unicode.IsSpace(r) }) {
		return fmt.Errorf("session id %q must not contain whitespace or quotes", id)
	}
	return nil
}

// IsPipeName reports whether s is a full endpoint name.
func IsPipeName(s string) bool {
	return strings.HasPrefix(s, NamespacePrefix) && len(s) > len(NamespacePrefix)
}

// UniqueSessionID returns base suffixed with a random uuid, for callers
// that run several installers side by side. An empty base means
// DefaultSessionID.
func UniqueSessionID(base string) string {
	if base == "" {
		base = DefaultSessionID
	}
	return base + "-" + uuid.NewString()
}

// Listener is a first-instance endpoint that accepts exactly one peer.
type Listener interface {
	// Accept waits for the peer to connect. It returns ctx.Err() if ctx
	// ends first.
	Accept(ctx context.Context) (io.ReadWriteCloser, error)
	// Close releases the endpoint. A connection already returned by
	// Accept is not affected.
	Close() error
	// Name returns the full endpoint name.
	Name() string
}

// Listen creates the endpoint and claims first-instance status. It fails
// with ErrEndpointInUse if the name is already taken, so a process that
// squats the name cannot receive the elevated peer's connection.
func Listen(name string) (Listener, error) {
	return listen(name)
}

// Dial connects to the endpoint, retrying every DialRetryInterval while
// it is busy. It fails with ErrConnectTimeout once timeout elapses
// without success. Any other open failure is returned immediately.
func Dial(ctx context.Context, name string, timeout time.Duration) (io.ReadWriteCloser, error) {
	return dial(ctx, name, timeout, openPipe)
}

type opener func(name string) (io.ReadWriteCloser, error)

func dial(ctx context.Context, name string, timeout time.Duration, open opener) (io.ReadWriteCloser, error) {
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(DialRetryInterval)
	defer ticker.Stop()

	attempts := 0
	for {
		attempts++
		conn, err := open(name)
		if err == nil {
			return conn, nil
		}
		if !errors.Is(err, ErrPipeBusy) {
			return nil, fmt.Errorf("failed to open %s: %w", name, err)
		}

		select {
		case <-deadline.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s busy after %d attempts in %s", ErrConnectTimeout, name, attempts, timeout)
		case <-ticker.C:
		}
	}
}
