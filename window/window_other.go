//go:build !windows

package window

// EnumWindows is not supported off Windows.
func EnumWindows(Visitor) error {
	return ErrUnsupported
}

func ownedByCurrentProcess(Handle) bool {
	return false
}
