//go:build windows

package window

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	callbackOnce sync.Once
	callback     uintptr
)

// enumCallback is the native enumeration callback. param is the token of
// the enumeration in flight.
func enumCallback(hwnd windows.HWND, param uintptr) uintptr {
	v, ok := visitors.lookup(param)
	if !ok {
		return 0
	}
	if v.Visit(Handle(hwnd)) {
		return 1
	}
	if s, ok := v.(*stopRecorder); ok {
		s.stopped = true
	}
	return 0
}

// stopRecorder remembers whether the visitor ended the enumeration, which
// the native call reports as a failure.
type stopRecorder struct {
	Visitor
	stopped bool
}

// EnumWindows calls v for every top-level window on the desktop.
func EnumWindows(v Visitor) error {
	// Callbacks are a limited resource: create exactly one.
	callbackOnce.Do(func() {
		callback = windows.NewCallback(enumCallback)
	})

	// The token is the address of a fresh allocation, unique while it
	// is reachable.
	anchor := new(byte)
	token := uintptr(unsafe.Pointer(anchor))
	rec := &stopRecorder{Visitor: v}
	visitors.add(token, rec)
	defer visitors.remove(token)

	if err := windows.EnumWindows(callback, unsafe.Pointer(anchor)); err != nil && !rec.stopped {
		return err
	}
	return nil
}

func ownedByCurrentProcess(h Handle) bool {
	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(windows.HWND(h), &pid); err != nil {
		return false
	}
	return pid == windows.GetCurrentProcessId()
}
