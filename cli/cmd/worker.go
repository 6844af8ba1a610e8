package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/justapithecus/winusb/driver"
	"github.com/justapithecus/winusb/driver/pnputil"
	"github.com/justapithecus/winusb/ipc"
	"github.com/justapithecus/winusb/log"
	"github.com/justapithecus/winusb/runtime"
	"github.com/justapithecus/winusb/types"
)

// Hooks replaced by tests.
var (
	newBackend = func(logger *log.Logger) driver.Backend {
		return pnputil.New(logger)
	}
	newLauncher = func() runtime.Launcher {
		return runtime.ElevatedLauncher{}
	}
)

// IsWorkerInvocation reports whether args (without the program name)
// select the worker role: exactly one argument carrying the endpoint
// namespace prefix.
func IsWorkerInvocation(args []string) bool {
	return len(args) == 1 && ipc.IsPipeName(args[0])
}

// RunWorker runs the elevated worker role against the endpoint pipeName
// until the orchestrator terminates it or goes away.
func RunWorker(ctx context.Context, pipeName string) error {
	logger := log.NewLogger(&types.SessionMeta{
		SessionID: strings.TrimPrefix(pipeName, ipc.NamespacePrefix),
		Role:      types.RoleWorker,
		PID:       os.Getpid(),
	})

	worker, err := runtime.NewWorker(&runtime.WorkerConfig{
		PipeName: pipeName,
		Backend:  newBackend(logger),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := worker.Serve(ctx); err != nil {
		logger.Error("worker failed", map[string]any{"error": err.Error()})
		return err
	}
	return nil
}
