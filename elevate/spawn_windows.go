//go:build windows

package elevate

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modshell32          = windows.NewLazySystemDLL("shell32.dll")
	procShellExecuteExW = modshell32.NewProc("ShellExecuteExW")
)

const (
	seeMaskNoCloseProcess = 0x00000040
	seeMaskNoAsync        = 0x00000100
)

// shellExecuteInfo mirrors SHELLEXECUTEINFOW.
type shellExecuteInfo struct {
	cbSize         uint32
	fMask          uint32
	hwnd           windows.HWND
	lpVerb         *uint16
	lpFile         *uint16
	lpParameters   *uint16
	lpDirectory    *uint16
	nShow          int32
	hInstApp       windows.Handle
	lpIDList       uintptr
	lpClass        *uint16
	hkeyClass      windows.Handle
	dwHotKey       uint32
	hIconOrMonitor windows.Handle
	hProcess       windows.Handle
}

func start(c *Command) (*Process, error) {
	verb, err := windows.UTF16PtrFromString("runas")
	if err != nil {
		return nil, err
	}
	file, err := windows.UTF16PtrFromString(c.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid executable path %q: %w", c.Path, err)
	}
	params, err := windows.UTF16PtrFromString(c.Params())
	if err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	var dir *uint16
	if c.Dir != "" {
		if dir, err = windows.UTF16PtrFromString(c.Dir); err != nil {
			return nil, fmt.Errorf("invalid directory %q: %w", c.Dir, err)
		}
	}

	show := int32(windows.SW_HIDE)
	if c.ShowWindow {
		show = windows.SW_NORMAL
	}

	info := shellExecuteInfo{
		fMask:        seeMaskNoCloseProcess | seeMaskNoAsync,
		lpVerb:       verb,
		lpFile:       file,
		lpParameters: params,
		lpDirectory:  dir,
		nShow:        show,
	}
	info.cbSize = uint32(unsafe.Sizeof(info))

	r1, _, callErr := procShellExecuteExW.Call(uintptr(unsafe.Pointer(&info)))
	if r1 == 0 {
		// A declined consent prompt fails the call with ERROR_CANCELLED.
		if errors.Is(callErr, windows.ERROR_CANCELLED) {
			return nil, &SpawnError{Path: c.Path, Kind: ErrAccessDenied, Code: uintptr(windows.ERROR_CANCELLED)}
		}
		if info.hInstApp <= 32 {
			return nil, &SpawnError{Path: c.Path, Kind: shellErrorKind(uintptr(info.hInstApp)), Code: uintptr(info.hInstApp)}
		}
		return nil, fmt.Errorf("failed to launch %s elevated: %w", c.Path, callErr)
	}
	if info.hInstApp <= 32 {
		return nil, &SpawnError{Path: c.Path, Kind: shellErrorKind(uintptr(info.hInstApp)), Code: uintptr(info.hInstApp)}
	}
	if info.hProcess == 0 || info.hProcess == windows.InvalidHandle {
		return nil, &SpawnError{Path: c.Path, Kind: ErrNoProcess}
	}
	return newProcess(&windowsHandle{h: info.hProcess}), nil
}

type windowsHandle struct {
	h windows.Handle
}

func (w *windowsHandle) wait(timeout time.Duration) (bool, uint32, error) {
	ms := uint32(windows.INFINITE)
	if timeout >= 0 {
		ms = uint32(timeout.Milliseconds())
	}
	event, err := windows.WaitForSingleObject(w.h, ms)
	switch event {
	case windows.WAIT_OBJECT_0:
		var code uint32
		if err := windows.GetExitCodeProcess(w.h, &code); err != nil {
			return true, 0, err
		}
		return true, code, nil
	case uint32(windows.WAIT_TIMEOUT):
		return false, 0, nil
	default:
		return false, 0, err
	}
}

func (w *windowsHandle) terminate(code uint32) error {
	return windows.TerminateProcess(w.h, code)
}

func (w *windowsHandle) release() error {
	return windows.CloseHandle(w.h)
}

func (w *windowsHandle) pid() int {
	id, err := windows.GetProcessId(w.h)
	if err != nil {
		return 0
	}
	return int(id)
}
