package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/winusb/cli/config"
	"github.com/justapithecus/winusb/cli/render"
	"github.com/justapithecus/winusb/cli/tui"
	"github.com/justapithecus/winusb/driver"
	"github.com/justapithecus/winusb/ipc"
	"github.com/justapithecus/winusb/log"
	"github.com/justapithecus/winusb/metrics"
	"github.com/justapithecus/winusb/runtime"
	"github.com/justapithecus/winusb/types"
	"github.com/justapithecus/winusb/window"
)

// Exit codes for install.
const (
	exitSuccess  = 0
	exitPartial  = 1
	exitFailure  = 2
	exitDeclined = 3
)

// backendName labels metrics and logs.
const backendName = "pnputil"

// InstallCommand returns the install command, the default action of the
// binary.
func InstallCommand() *cli.Command {
	flags := append(ReadOnlyFlags(),
		ConfigFlag,
		DebugFlag,
		&cli.StringFlag{
			Name:  "vendor",
			Usage: "Manufacturer name written into the driver descriptor",
		},
		&cli.StringFlag{
			Name:  "driver-path",
			Usage: `Directory for the generated driver files, e.g. C:\usb_driver`,
		},
		&cli.StringFlag{
			Name:  "inf-name",
			Usage: "Descriptor file name (must end in .inf)",
		},
		&cli.StringSliceFlag{
			Name:  "device",
			Usage: "Device to install as vid:pid (repeatable; default: every candidate)",
		},
		&cli.BoolFlag{
			Name:  "all",
			Usage: "Include devices already bound to WinUSB",
		},
		&cli.BoolFlag{
			Name:  "missing-driver-only",
			Usage: "Only install on devices with no bound driver",
		},
		&cli.BoolFlag{
			Name:  "show-worker",
			Usage: "Show the elevated worker's console window",
		},
		&cli.StringFlag{
			Name:  "session-id",
			Usage: "Endpoint id shared with the worker",
			Value: ipc.DefaultSessionID,
		},
		&cli.BoolFlag{
			Name:  "unique-session",
			Usage: "Suffix the session id with a random uuid",
		},
		&cli.DurationFlag{
			Name:  "accept-timeout",
			Usage: "How long to wait for the elevated worker to connect (default 2m)",
		},
		&cli.DurationFlag{
			Name:  "install-timeout",
			Usage: "Upper bound on the whole install phase (default 6m)",
		},
		&cli.BoolFlag{
			Name:  "no-log-relay",
			Usage: "Do not relay native driver log text",
		},
		&cli.BoolFlag{
			Name:  "stats",
			Usage: "Include session metrics in the output",
		},
	)
	return &cli.Command{
		Name:   "install",
		Usage:  "Install the WinUSB driver through an elevated worker",
		Flags:  flags,
		Action: installAction,
	}
}

// installOptions is the resolved install configuration.
type installOptions struct {
	install           types.InstallConfig
	deviceIDs         [][2]uint16
	all               bool
	missingDriverOnly bool
	sessionID         string
	workerExecutable  string
	showWorker        bool
	timeouts          runtime.Timeouts
	logRelay          bool
	stats             bool
}

func resolveInstallOptions(c *cli.Context) (*installOptions, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	opts := &installOptions{
		install: types.InstallConfig{
			Vendor:     resolveString(c, "vendor", configVal(cfg, func(c *config.Config) string { return c.Install.Vendor })),
			DriverPath: resolveString(c, "driver-path", configVal(cfg, func(c *config.Config) string { return c.Install.DriverPath })),
			InfName:    resolveString(c, "inf-name", configVal(cfg, func(c *config.Config) string { return c.Install.InfName })),
		},
		all:               c.Bool("all"),
		missingDriverOnly: resolveBool(c, "missing-driver-only", configVal(cfg, func(c *config.Config) bool { return c.Filter.MissingDriverOnly })),
		showWorker:        resolveBool(c, "show-worker", configVal(cfg, func(c *config.Config) bool { return c.Session.ShowWorkerWindow })),
		workerExecutable:  configVal(cfg, func(c *config.Config) string { return c.Session.WorkerExecutable }),
		timeouts:          runtime.DefaultTimeouts(),
		logRelay:          !c.Bool("no-log-relay"),
		stats:             c.Bool("stats"),
	}
	if cfg != nil {
		opts.timeouts = cfg.RuntimeTimeouts()
		opts.logRelay = opts.logRelay && cfg.LogRelayEnabled()
	}

	opts.timeouts.Accept = resolveDuration(c, "accept-timeout", opts.timeouts.Accept)
	opts.timeouts.Install = resolveDuration(c, "install-timeout", opts.timeouts.Install)

	if err := opts.install.Validate(); err != nil {
		return nil, fmt.Errorf("%w (set --vendor, --driver-path and --inf-name or the install section of --config)", err)
	}

	devices := resolveStringSlice(c, "device", configVal(cfg, func(c *config.Config) []string { return c.Filter.Devices }))
	for _, s := range devices {
		vid, pid, err := types.ParseDeviceID(s)
		if err != nil {
			return nil, fmt.Errorf("--device: %w", err)
		}
		opts.deviceIDs = append(opts.deviceIDs, [2]uint16{vid, pid})
	}

	sessionCfg := config.Config{}
	if cfg != nil {
		sessionCfg.Session = cfg.Session
	}
	sessionCfg.Session.ID = resolveString(c, "session-id", sessionCfg.Session.ID)
	sessionCfg.Session.Unique = resolveBool(c, "unique-session", sessionCfg.Session.Unique)
	if err := sessionCfg.Validate(); err != nil {
		return nil, err
	}
	opts.sessionID = sessionCfg.SessionID()

	return opts, nil
}

// filter selects the devices to install.
func (o *installOptions) filter() driver.Filter {
	filters := []driver.Filter{driver.MatchIDs(o.deviceIDs)}
	switch {
	case o.missingDriverOnly:
		filters = append(filters, driver.MissingDriver)
	case !o.all:
		filters = append(filters, driver.NeedsWinUSB)
	}
	return driver.And(filters...)
}

func installAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	opts, err := resolveInstallOptions(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	useTUI := c.Bool("tui")
	logger := log.NewLogger(&types.SessionMeta{
		SessionID: opts.sessionID,
		Role:      types.RoleOrchestrator,
		PID:       os.Getpid(),
	})
	logger.SetDebug(c.Bool("debug"))
	if useTUI {
		logger = logger.WithOutput(io.Discard)
	}

	backend := newBackend(logger)
	devices, err := backend.Enumerate(opts.filter())
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to enumerate devices: %v", err), exitFailure)
	}

	collector := metrics.NewCollector(opts.sessionID, backendName)
	sessionConfig := &runtime.SessionConfig{
		SessionID:        opts.sessionID,
		WorkerExecutable: opts.workerExecutable,
		ShowWorkerWindow: opts.showWorker,
		Timeouts:         opts.timeouts,
		Launcher:         newLauncher(),
		Logger:           logger,
		Collector:        collector,
	}
	if src, ok := backend.(driver.LogSource); ok && opts.logRelay {
		sessionConfig.LogSink = &window.Sink{Source: src}
	}

	session, err := runtime.NewSession(sessionConfig)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("session cleanup failed", map[string]any{"error": err.Error()})
		}
	}()

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	install := func(ctx context.Context, onProgress types.ProgressFunc) (*types.InstallReport, error) {
		return session.Install(ctx, opts.install, devices, onProgress)
	}

	var report *types.InstallReport
	if useTUI {
		report, err = tui.RunInstall(ctx, "Installing WinUSB driver", len(devices), install)
	} else {
		report, err = install(ctx, func(ev types.Progress) {
			if outcome, ok := ev.(types.DeviceOutcome); ok && isStderrTTY() {
				printOutcome(outcome.Result)
			}
		})
	}

	if !useTUI && report != nil {
		summary := render.Summary{Report: report}
		if opts.stats {
			snap := collector.Snapshot()
			summary.Metrics = &snap
		}
		if rerr := r.Render(summary); rerr != nil {
			return fmt.Errorf("failed to render report: %w", rerr)
		}
	}

	code := exitCode(report, err)
	if err != nil {
		return cli.Exit(fmt.Sprintf("install failed: %v", err), code)
	}
	return cli.Exit("", code)
}

func printOutcome(result types.DeviceResult) {
	if result.OK() {
		fmt.Fprintf(os.Stderr, "installed %s\n", result.Device)
		return
	}
	fmt.Fprintf(os.Stderr, "failed %s: %s\n", result.Device, result.Err)
}

// exitCode maps a session outcome to the process exit code.
func exitCode(report *types.InstallReport, err error) int {
	if report == nil {
		if err == nil {
			return exitSuccess
		}
		return exitFailure
	}
	switch report.Status {
	case types.StatusSuccess, types.StatusNothingToDo:
		return exitSuccess
	case types.StatusPartial:
		return exitPartial
	case types.StatusDeclined:
		return exitDeclined
	default:
		return exitFailure
	}
}
