package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/justapithecus/winusb/types"
)

// ViewInstall is the only view type with TUI support.
const ViewInstall = "install"

// IsTUISupported returns true if the view type supports TUI mode.
func IsTUISupported(viewType string) bool {
	return viewType == ViewInstall
}

// SupportedTUIViews returns a list of view types that support TUI.
func SupportedTUIViews() []string {
	return []string{ViewInstall}
}

// InstallFunc runs one install session, reporting progress through the
// callback.
type InstallFunc func(ctx context.Context, onProgress types.ProgressFunc) (*types.InstallReport, error)

type installResult struct {
	report *types.InstallReport
	err    error
}

// RunInstall runs install while showing its progress. Quitting the view
// early cancels the context passed to install; RunInstall still waits
// for install to return.
func RunInstall(ctx context.Context, title string, total int, install InstallFunc, opts ...tea.ProgramOption) (*types.InstallReport, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewInstallModel(title, total), opts...)

	done := make(chan installResult, 1)
	go func() {
		report, err := install(ctx, func(ev types.Progress) {
			p.Send(progressMsg{event: ev})
		})
		done <- installResult{report: report, err: err}
		p.Send(doneMsg{report: report, err: err})
	}()

	final, runErr := p.Run()
	if m, ok := final.(InstallModel); !ok || m.quitting || runErr != nil {
		cancel()
	}
	res := <-done
	if runErr != nil && res.err == nil {
		return res.report, fmt.Errorf("tui: %w", runErr)
	}
	return res.report, res.err
}
