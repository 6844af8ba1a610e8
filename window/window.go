// Package window discovers the top-level windows of the current process.
// A window owned by the orchestrator is the sink the elevated worker's
// native library can send log text to.
package window

import (
	"errors"
	"sync"

	"github.com/justapithecus/winusb/driver"
)

// ErrUnsupported is returned on platforms without native windows.
var ErrUnsupported = errors.New("window: not supported on this platform")

// ErrNoWindow is returned when the current process owns no window.
var ErrNoWindow = errors.New("window: no windows are associated with this process")

// Handle is an opaque native window handle.
type Handle uint64

// Visitor receives each top-level window during EnumWindows. Returning
// false stops the enumeration. A visitor must not call EnumWindows.
type Visitor interface {
	Visit(h Handle) bool
}

// VisitorFunc adapts a function to Visitor.
type VisitorFunc func(h Handle) bool

// Visit implements Visitor.
func (f VisitorFunc) Visit(h Handle) bool { return f(h) }

// registry maps enumeration tokens to the visitor of the enumeration in
// flight. A visitor is registered only for the duration of its call.
type registry struct {
	mu       sync.Mutex
	visitors map[uintptr]Visitor
}

var visitors = &registry{visitors: make(map[uintptr]Visitor)}

func (r *registry) add(token uintptr, v Visitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visitors[token] = v
}

func (r *registry) remove(token uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.visitors, token)
}

func (r *registry) lookup(token uintptr) (Visitor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.visitors[token]
	return v, ok
}

// CurrentProcessWindows returns the top-level windows owned by the
// current process, in enumeration order.
func CurrentProcessWindows() ([]Handle, error) {
	var handles []Handle
	err := EnumWindows(VisitorFunc(func(h Handle) bool {
		if ownedByCurrentProcess(h) {
			handles = append(handles, h)
		}
		return true
	}))
	if err != nil {
		return nil, err
	}
	return handles, nil
}

// Sink exposes the first window of the current process as the log sink
// and reads relayed text through Source.
type Sink struct {
	Source driver.LogSource
}

// Window returns the sink window handle. It reports false when the
// process owns no window, which disables log relay.
func (s *Sink) Window() (uint64, bool) {
	handles, err := CurrentProcessWindows()
	if err != nil || len(handles) == 0 {
		return 0, false
	}
	return uint64(handles[0]), true
}

// OpenLogSource opens the native log reader.
func (s *Sink) OpenLogSource() (driver.LogHandle, error) {
	if s.Source == nil {
		return nil, ErrNoWindow
	}
	return s.Source.OpenLog()
}
