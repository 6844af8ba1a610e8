//go:build !windows

package elevate

func start(c *Command) (*Process, error) {
	return nil, &SpawnError{Path: c.Path, Kind: ErrUnsupported}
}
