package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/winusb/driver"
	"github.com/justapithecus/winusb/elevate"
	"github.com/justapithecus/winusb/ipc"
	"github.com/justapithecus/winusb/log"
	"github.com/justapithecus/winusb/runtime"
	"github.com/justapithecus/winusb/types"
)

var errTest = errors.New("test failure")

// resolveWith runs the install command with its action replaced, returning
// the resolved options.
func resolveWith(t *testing.T, args ...string) (*installOptions, error) {
	t.Helper()
	cmd := InstallCommand()
	var opts *installOptions
	var resolveErr error
	cmd.Action = func(c *cli.Context) error {
		opts, resolveErr = resolveInstallOptions(c)
		return nil
	}
	app := cli.NewApp()
	app.Commands = []*cli.Command{cmd}
	app.ExitErrHandler = func(*cli.Context, error) {} // suppress os.Exit
	if err := app.Run(append([]string{"winusb-installer", "install"}, args...)); err != nil {
		t.Fatalf("app.Run: %v", err)
	}
	return opts, resolveErr
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "winusb.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

var requiredFlags = []string{"--vendor", "Acme", "--driver-path", `C:\usb_driver`, "--inf-name", "acme.inf"}

func TestResolveInstallOptions_Flags(t *testing.T) {
	args := append([]string{
		"--device", "1234:5678",
		"--device", "abcd:ef01",
		"--show-worker",
		"--session-id", "acme",
		"--accept-timeout", "45s",
	}, requiredFlags...)
	opts, err := resolveWith(t, args...)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if opts.install.Vendor != "Acme" || opts.install.InfName != "acme.inf" {
		t.Errorf("install config = %+v", opts.install)
	}
	if len(opts.deviceIDs) != 2 || opts.deviceIDs[1] != [2]uint16{0xabcd, 0xef01} {
		t.Errorf("deviceIDs = %v", opts.deviceIDs)
	}
	if !opts.showWorker {
		t.Error("expected showWorker")
	}
	if opts.sessionID != "acme" {
		t.Errorf("sessionID = %q, want acme", opts.sessionID)
	}
	if opts.timeouts.Accept != 45*time.Second {
		t.Errorf("Accept = %v, want 45s", opts.timeouts.Accept)
	}
	if opts.timeouts.Install != runtime.DefaultTimeouts().Install {
		t.Errorf("Install = %v, want default", opts.timeouts.Install)
	}
	if !opts.logRelay {
		t.Error("log relay should default to enabled")
	}
}

func TestResolveInstallOptions_MissingInstallConfig(t *testing.T) {
	_, err := resolveWith(t, "--vendor", "Acme")
	if err == nil {
		t.Fatal("expected error for missing driver path")
	}
	if !strings.Contains(err.Error(), "--driver-path") {
		t.Errorf("error should name the flags to set, got: %v", err)
	}
}

func TestResolveInstallOptions_BadDevice(t *testing.T) {
	_, err := resolveWith(t, append([]string{"--device", "nope"}, requiredFlags...)...)
	if err == nil || !strings.Contains(err.Error(), "--device") {
		t.Errorf("expected --device error, got %v", err)
	}
}

func TestResolveInstallOptions_PrefixedSessionID(t *testing.T) {
	_, err := resolveWith(t, append([]string{"--session-id", ipc.PipeName("x")}, requiredFlags...)...)
	if err == nil || !strings.Contains(err.Error(), "session.id") {
		t.Errorf("expected session id error, got %v", err)
	}
}

func TestResolveInstallOptions_SessionIDWithWhitespace(t *testing.T) {
	_, err := resolveWith(t, append([]string{"--session-id", "acme installer"}, requiredFlags...)...)
	if err == nil || !strings.Contains(err.Error(), "whitespace") {
		t.Errorf("expected session id error, got %v", err)
	}
}

func TestResolveInstallOptions_ConfigProvidesFields(t *testing.T) {
	path := writeConfig(t, `install:
  vendor: Config Vendor
  driver_path: C:\cfg
  inf_name: cfg.inf
session:
  id: from-config
  unique: true
  show_worker_window: true
timeouts:
  heartbeat: 2s
filter:
  devices: ["1234:5678"]
  missing_driver_only: true
log_relay:
  enabled: false
`)
	opts, err := resolveWith(t, "--config", path)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if opts.install.Vendor != "Config Vendor" || opts.install.DriverPath != `C:\cfg` {
		t.Errorf("install config = %+v", opts.install)
	}
	if !strings.HasPrefix(opts.sessionID, "from-config-") {
		t.Errorf("sessionID = %q, want unique from-config id", opts.sessionID)
	}
	if !opts.showWorker || !opts.missingDriverOnly {
		t.Errorf("config bools not applied: %+v", opts)
	}
	if opts.timeouts.Heartbeat != 2*time.Second {
		t.Errorf("Heartbeat = %v, want 2s", opts.timeouts.Heartbeat)
	}
	if len(opts.deviceIDs) != 1 {
		t.Errorf("deviceIDs = %v", opts.deviceIDs)
	}
	if opts.logRelay {
		t.Error("config should disable log relay")
	}
}

func TestResolveInstallOptions_CLIOverridesConfig(t *testing.T) {
	path := writeConfig(t, `install:
  vendor: Config Vendor
  driver_path: C:\cfg
  inf_name: cfg.inf
session:
  id: from-config
filter:
  devices: ["1234:5678"]
`)
	opts, err := resolveWith(t, "--config", path, "--vendor", "CLI Vendor", "--session-id", "from-cli", "--device", "aaaa:bbbb")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if opts.install.Vendor != "CLI Vendor" {
		t.Errorf("Vendor = %q, want CLI Vendor", opts.install.Vendor)
	}
	if opts.install.InfName != "cfg.inf" {
		t.Errorf("InfName = %q, want config value", opts.install.InfName)
	}
	if opts.sessionID != "from-cli" {
		t.Errorf("sessionID = %q, want from-cli", opts.sessionID)
	}
	if len(opts.deviceIDs) != 1 || opts.deviceIDs[0] != [2]uint16{0xaaaa, 0xbbbb} {
		t.Errorf("deviceIDs = %v, want only aaaa:bbbb", opts.deviceIDs)
	}
}

func TestResolveInstallOptions_ConfigFileNotFound(t *testing.T) {
	_, err := resolveWith(t, "--config", "/nonexistent/winusb.yaml")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

// --- End-to-end install through an in-process worker ---

type fakeBackend struct {
	mu        sync.Mutex
	devices   []types.Device
	failing   map[uint16]string
	installed []types.Device
}

func (b *fakeBackend) Enumerate(filter driver.Filter) ([]types.Device, error) {
	var out []types.Device
	for _, d := range b.devices {
		if filter == nil || filter(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (b *fakeBackend) Install(device types.Device, _ types.InstallConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if msg, ok := b.failing[device.ProductID]; ok {
		return errors.New(msg)
	}
	b.installed = append(b.installed, device)
	return nil
}

// workerProcess runs a runtime.Worker on a goroutine in place of the
// elevated process.
type workerProcess struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *workerProcess) TryWait(timeout time.Duration) (*elevate.Exited, error) {
	select {
	case <-p.done:
		return &elevate.Exited{Code: 0}, nil
	case <-time.After(timeout):
		return nil, nil
	}
}

func (p *workerProcess) Kill() error {
	p.cancel()
	<-p.done
	return nil
}

func (p *workerProcess) Close() error { return nil }

func (p *workerProcess) Pid() int { return 0 }

func useFakes(t *testing.T, backend driver.Backend, launch runtime.LauncherFunc) {
	t.Helper()
	oldBackend, oldLauncher := newBackend, newLauncher
	newBackend = func(*log.Logger) driver.Backend { return backend }
	newLauncher = func() runtime.Launcher { return launch }
	t.Cleanup(func() {
		newBackend, newLauncher = oldBackend, oldLauncher
	})
}

func inProcessLauncher(backend driver.Backend, launches *int) runtime.LauncherFunc {
	return func(_ string, args []string, _ bool) (runtime.WorkerProcess, error) {
		*launches++
		w, err := runtime.NewWorker(&runtime.WorkerConfig{
			PipeName:          args[0],
			Backend:           backend,
			HeartbeatInterval: 20 * time.Millisecond,
			Logger:            log.Nop(),
		})
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithCancel(context.Background())
		p := &workerProcess{cancel: cancel, done: make(chan struct{})}
		go func() {
			defer close(p.done)
			_ = w.Serve(ctx)
		}()
		return p, nil
	}
}

func runInstallApp(t *testing.T, args ...string) error {
	t.Helper()
	app := cli.NewApp()
	app.Commands = []*cli.Command{InstallCommand()}
	app.ExitErrHandler = func(*cli.Context, error) {} // suppress os.Exit
	base := []string{"winusb-installer", "install", "--format", "json",
		"--session-id", "cmd-" + uuid.NewString()[:8]}
	return app.Run(append(append(base, requiredFlags...), args...))
}

func exitCodeOf(t *testing.T, err error) int {
	t.Helper()
	var exitCoder cli.ExitCoder
	if !errors.As(err, &exitCoder) {
		t.Fatalf("error %v is not a cli.ExitCoder", err)
	}
	return exitCoder.ExitCode()
}

func TestInstallAction_Partial(t *testing.T) {
	backend := &fakeBackend{
		devices: []types.Device{
			{VendorID: 0x1234, ProductID: 0x0001, Description: "ok"},
			{VendorID: 0x1234, ProductID: 0x0002, Description: "broken"},
		},
		failing: map[uint16]string{0x0002: "pnputil exited with 5"},
	}
	launches := 0
	useFakes(t, backend, inProcessLauncher(backend, &launches))

	err := runInstallApp(t, "--stats")
	if got := exitCodeOf(t, err); got != exitPartial {
		t.Errorf("exit code = %d, want %d (err %v)", got, exitPartial, err)
	}
	if launches != 1 {
		t.Errorf("launched %d workers, want 1", launches)
	}
	if len(backend.installed) != 1 || backend.installed[0].ProductID != 0x0001 {
		t.Errorf("installed = %v", backend.installed)
	}
}

func TestInstallAction_Success(t *testing.T) {
	backend := &fakeBackend{
		devices: []types.Device{{VendorID: 0x1234, ProductID: 0x0001}},
	}
	launches := 0
	useFakes(t, backend, inProcessLauncher(backend, &launches))

	err := runInstallApp(t)
	if got := exitCodeOf(t, err); got != exitSuccess {
		t.Errorf("exit code = %d, want %d (err %v)", got, exitSuccess, err)
	}
}

func TestInstallAction_NothingToDo(t *testing.T) {
	winusb := "WinUSB"
	backend := &fakeBackend{
		devices: []types.Device{{VendorID: 0x1234, ProductID: 0x0001, Driver: &winusb}},
	}
	launches := 0
	useFakes(t, backend, inProcessLauncher(backend, &launches))

	err := runInstallApp(t)
	if got := exitCodeOf(t, err); got != exitSuccess {
		t.Errorf("exit code = %d, want %d (err %v)", got, exitSuccess, err)
	}
	if launches != 0 {
		t.Errorf("launched %d workers for an empty device list", launches)
	}
}

func TestInstallAction_Declined(t *testing.T) {
	backend := &fakeBackend{
		devices: []types.Device{{VendorID: 0x1234, ProductID: 0x0001}},
	}
	useFakes(t, backend, func(string, []string, bool) (runtime.WorkerProcess, error) {
		return nil, &elevate.SpawnError{Kind: elevate.ErrAccessDenied}
	})

	err := runInstallApp(t)
	if got := exitCodeOf(t, err); got != exitDeclined {
		t.Errorf("exit code = %d, want %d (err %v)", got, exitDeclined, err)
	}
}

func TestInstallAction_LaunchFailure(t *testing.T) {
	backend := &fakeBackend{
		devices: []types.Device{{VendorID: 0x1234, ProductID: 0x0001}},
	}
	useFakes(t, backend, func(string, []string, bool) (runtime.WorkerProcess, error) {
		return nil, &elevate.SpawnError{Kind: elevate.ErrFileNotFound}
	})

	err := runInstallApp(t)
	if got := exitCodeOf(t, err); got != exitFailure {
		t.Errorf("exit code = %d, want %d (err %v)", got, exitFailure, err)
	}
	if !strings.Contains(err.Error(), "install failed") {
		t.Errorf("error should explain the failure, got %v", err)
	}
}
