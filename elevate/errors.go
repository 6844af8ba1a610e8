package elevate

import (
	"errors"
	"fmt"
)

// Launch failure kinds. A SpawnError unwraps to exactly one of these.
var (
	ErrFileNotFound          = errors.New("file not found")
	ErrPathNotFound          = errors.New("path not found")
	ErrAccessDenied          = errors.New("access denied")
	ErrOutOfMemory           = errors.New("out of memory")
	ErrLibraryNotFound       = errors.New("dynamic-link library not found")
	ErrShareViolation        = errors.New("cannot share an open file")
	ErrAssociationIncomplete = errors.New("file association information not complete")
	ErrDDETimeout            = errors.New("DDE operation timed out")
	ErrDDEFailed             = errors.New("DDE operation failed")
	ErrDDEBusy               = errors.New("DDE operation is busy")
	ErrNoAssociation         = errors.New("file association not available")
	ErrNoProcess             = errors.New("no process was spawned")
	ErrUnsupported           = errors.New("elevation is not supported on this platform")
)

// ErrProcessReleased is returned when the process handle was already
// released and the exit status is unknown.
var ErrProcessReleased = errors.New("elevate: process handle released")

// SpawnError describes a failed elevated launch.
type SpawnError struct {
	// Path is the executable that was launched.
	Path string
	// Kind is one of the Err* sentinels above.
	Kind error
	// Code is the raw platform code, zero if none.
	Code uintptr
}

func (e *SpawnError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("failed to launch %s elevated: %v (code %d)", e.Path, e.Kind, e.Code)
	}
	return fmt.Sprintf("failed to launch %s elevated: %v", e.Path, e.Kind)
}

func (e *SpawnError) Unwrap() error {
	return e.Kind
}

// IsDeclined reports whether err means the user refused the elevation
// prompt.
func IsDeclined(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// Shell launch error codes, returned in place of an instance handle.
const (
	seErrFNF             = 2
	seErrPNF             = 3
	seErrAccessDenied    = 5
	seErrOOM             = 8
	seErrShare           = 26
	seErrAssocIncomplete = 27
	seErrDDETimeout      = 28
	seErrDDEFail         = 29
	seErrDDEBusy         = 30
	seErrNoAssoc         = 31
	seErrDLLNotFound     = 32
)

// shellErrorKind maps a shell launch code to its sentinel.
func shellErrorKind(code uintptr) error {
	switch code {
	case seErrFNF:
		return ErrFileNotFound
	case seErrPNF:
		return ErrPathNotFound
	case seErrAccessDenied:
		return ErrAccessDenied
	case 0, seErrOOM:
		return ErrOutOfMemory
	case seErrShare:
		return ErrShareViolation
	case seErrAssocIncomplete:
		return ErrAssociationIncomplete
	case seErrDDETimeout:
		return ErrDDETimeout
	case seErrDDEFail:
		return ErrDDEFailed
	case seErrDDEBusy:
		return ErrDDEBusy
	case seErrNoAssoc:
		return ErrNoAssociation
	case seErrDLLNotFound:
		return ErrLibraryNotFound
	default:
		return ErrNoProcess
	}
}
