// Package elevate starts processes with administrative rights through the
// platform consent prompt and supervises their lifetime.
package elevate

import "strings"

// Command describes an elevated launch.
type Command struct {
	// Path is the executable to run.
	Path string
	// Args are passed to the executable, quoted by JoinArgs.
	Args []string
	// Dir is the working directory. Empty inherits the default.
	Dir string
	// ShowWindow shows the process window instead of hiding it.
	ShowWindow bool
}

// Params returns the single parameter string passed to the elevated
// process.
func (c *Command) Params() string {
	return JoinArgs(c.Args)
}

// Start launches the command elevated. The returned Process owns the
// process handle; the caller must Kill or Close it.
//
// If the user declines the consent prompt the error unwraps to
// ErrAccessDenied.
func (c *Command) Start() (*Process, error) {
	return start(c)
}

// QuoteArg quotes one argument. An argument without spaces, tabs or
// quotes is returned as is. Anything else, including the empty string, is
// wrapped in quotes with backslashes and quotes escaped.
func QuoteArg(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// JoinArgs quotes every argument and joins them with single spaces.
func JoinArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = QuoteArg(a)
	}
	return strings.Join(quoted, " ")
}
