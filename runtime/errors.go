package runtime

import (
	"errors"
	"fmt"
)

// Session timeout and lifecycle sentinels. Each timeout is distinct so
// callers can tell which phase stalled.
var (
	// ErrAcceptTimeout means the worker never connected to the endpoint.
	ErrAcceptTimeout = errors.New("worker did not connect before the accept timeout")
	// ErrStartTimeout means the worker never acknowledged the install request.
	ErrStartTimeout = errors.New("worker did not start the installation before the start timeout")
	// ErrHeartbeatTimeout means the worker went silent during installation.
	ErrHeartbeatTimeout = errors.New("no heartbeat from worker before the heartbeat deadline")
	// ErrInstallTimeout means the installation exceeded its overall budget.
	ErrInstallTimeout = errors.New("installation did not finish before the install timeout")
	// ErrWorkerExited means the worker process exited before connecting.
	ErrWorkerExited = errors.New("worker exited before connecting")
	// ErrWorkerDisconnected means the worker closed the channel mid-session.
	ErrWorkerDisconnected = errors.New("worker closed the channel")
	// ErrUnexpectedMessage marks a message received outside its expected state.
	ErrUnexpectedMessage = errors.New("unexpected message")
	// ErrSessionClosed is returned once the session has been closed.
	ErrSessionClosed = errors.New("session closed")
	// ErrSessionStarted is returned when Install is called twice.
	ErrSessionStarted = errors.New("session already started")
)

// SessionErrorKind classifies fatal session faults.
type SessionErrorKind int

const (
	// SessionErrorTransport indicates an endpoint, connect or framing fault.
	SessionErrorTransport SessionErrorKind = iota
	// SessionErrorProtocol indicates a message received out of order.
	SessionErrorProtocol
	// SessionErrorTimeout indicates one of the session timeouts expired.
	SessionErrorTimeout
	// SessionErrorSpawn indicates the elevated launch failed or was declined.
	SessionErrorSpawn
)

// String returns the kind name used in logs and metrics.
func (k SessionErrorKind) String() string {
	switch k {
	case SessionErrorTransport:
		return "transport"
	case SessionErrorProtocol:
		return "protocol"
	case SessionErrorTimeout:
		return "timeout"
	case SessionErrorSpawn:
		return "spawn"
	default:
		return "unknown"
	}
}

// SessionError is the single terminal error of a failed Install.
type SessionError struct {
	// Kind classifies the fault.
	Kind SessionErrorKind
	// Op is the session step that failed, e.g. "accept".
	Op string
	// Err is the underlying error.
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func isKind(err error, kind SessionErrorKind) bool {
	var sessErr *SessionError
	if errors.As(err, &sessErr) {
		return sessErr.Kind == kind
	}
	return false
}

// IsTransportError returns true if the error is a transport fault.
func IsTransportError(err error) bool { return isKind(err, SessionErrorTransport) }

// IsProtocolError returns true if the error is a protocol fault.
func IsProtocolError(err error) bool { return isKind(err, SessionErrorProtocol) }

// IsTimeoutError returns true if the error is a session timeout.
func IsTimeoutError(err error) bool { return isKind(err, SessionErrorTimeout) }

// IsSpawnError returns true if the error is a launch fault.
func IsSpawnError(err error) bool { return isKind(err, SessionErrorSpawn) }
