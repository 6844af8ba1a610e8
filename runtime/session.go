// Package runtime runs both sides of an install session: the unprivileged
// orchestrator (Session) and the elevated worker (Worker).
package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/justapithecus/winusb/elevate"
	"github.com/justapithecus/winusb/iox"
	"github.com/justapithecus/winusb/ipc"
	"github.com/justapithecus/winusb/log"
	"github.com/justapithecus/winusb/metrics"
	"github.com/justapithecus/winusb/protocol"
	"github.com/justapithecus/winusb/types"
)

// Timeouts bounds each phase of a session. Zero fields take the defaults
// from DefaultTimeouts.
type Timeouts struct {
	// Accept bounds the wait for the worker to connect. It covers the
	// consent prompt, so it is generous.
	Accept time.Duration
	// Start bounds the wait for InstallStarted.
	Start time.Duration
	// Install bounds the whole installing phase. The native install call
	// gives up after five minutes.
	Install time.Duration
	// Heartbeat is the longest silence tolerated while installing.
	Heartbeat time.Duration
	// Poll is the receive timeout between heartbeat deadline checks.
	Poll time.Duration
	// ExitGrace is how long Close waits for the worker to exit after
	// Terminate before killing it.
	ExitGrace time.Duration
	// RelayDelay and RelayInterval pace the log relay.
	RelayDelay    time.Duration
	RelayInterval time.Duration
}

// DefaultTimeouts returns the session defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Accept:        2 * time.Minute,
		Start:         30 * time.Second,
		Install:       6 * time.Minute,
		Heartbeat:     5 * time.Second,
		Poll:          100 * time.Millisecond,
		ExitGrace:     2 * time.Second,
		RelayDelay:    DefaultRelayDelay,
		RelayInterval: DefaultRelayInterval,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	fill := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&t.Accept, d.Accept)
	fill(&t.Start, d.Start)
	fill(&t.Install, d.Install)
	fill(&t.Heartbeat, d.Heartbeat)
	fill(&t.Poll, d.Poll)
	fill(&t.ExitGrace, d.ExitGrace)
	fill(&t.RelayDelay, d.RelayDelay)
	fill(&t.RelayInterval, d.RelayInterval)
	return t
}

// State is the orchestrator's position in the session state machine.
type State int

// Session states in the order a successful session visits them, followed
// by the terminal states.
const (
	StateIdle State = iota
	StateListenerCreated
	StateWorkerSpawned
	StateConnected
	StateLogSinkConfigured
	StateInstallRequested
	StateAwaitingStart
	StateInstalling
	StateCompleted
	StateTimedOut
	StateFailed
)

var stateNames = [...]string{
	StateIdle:              "idle",
	StateListenerCreated:   "listener_created",
	StateWorkerSpawned:     "worker_spawned",
	StateConnected:         "connected",
	StateLogSinkConfigured: "log_sink_configured",
	StateInstallRequested:  "install_requested",
	StateAwaitingStart:     "awaiting_start",
	StateInstalling:        "installing",
	StateCompleted:         "completed",
	StateTimedOut:          "timed_out",
	StateFailed:            "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// SessionConfig configures one install session.
type SessionConfig struct {
	// SessionID names the endpoint. Defaults to ipc.DefaultSessionID.
	// It must not carry the endpoint namespace prefix.
	SessionID string
	// WorkerExecutable is the binary launched elevated. Defaults to the
	// current executable.
	WorkerExecutable string
	// ShowWorkerWindow shows the worker console instead of hiding it.
	ShowWorkerWindow bool
	// Timeouts bounds each phase.
	Timeouts Timeouts
	// Launcher starts the worker. Defaults to ElevatedLauncher.
	Launcher Launcher
	// Listen creates the endpoint. Defaults to ipc.Listen.
	Listen func(name string) (ipc.Listener, error)
	// LogSink enables native log relay when set and a window is available.
	LogSink LogSink
	// Logger defaults to a logger carrying the session context.
	Logger *log.Logger
	// Collector records session metrics. If nil, nothing is recorded.
	Collector *metrics.Collector
}

// Session is the orchestrator side of one install session. It owns the
// endpoint, the worker process, the channel and the log relay; Close
// releases all of them.
type Session struct {
	config   SessionConfig
	timeouts Timeouts
	logger   *log.Logger
	pipeName string

	// ctx ends when Close is called.
	ctx    context.Context
	cancel context.CancelCauseFunc

	// runMu is held by Install for its whole duration and by Close while
	// tearing down, so resources have one owner at a time.
	runMu         sync.Mutex
	started       bool
	listener      ipc.Listener
	process       WorkerProcess
	channel       *protocol.OrchestratorChannel
	relay         *LogRelay
	relayCancel   context.CancelFunc
	terminateSent bool

	stateMu sync.Mutex
	state   State

	closeOnce sync.Once
	closeErr  error
}

// NewSession creates an idle session. It panics if SessionID already
// carries the endpoint namespace prefix and fails if SessionID contains
// whitespace or quotes.
func NewSession(config *SessionConfig) (*Session, error) {
	cfg := *config
	if cfg.SessionID == "" {
		cfg.SessionID = ipc.DefaultSessionID
	}
	pipeName := ipc.PipeName(cfg.SessionID)
	if err := ipc.ValidateSessionID(cfg.SessionID); err != nil {
		return nil, err
	}

	if cfg.WorkerExecutable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate worker executable: %w", err)
		}
		cfg.WorkerExecutable = exe
	}
	if cfg.Launcher == nil {
		cfg.Launcher = ElevatedLauncher{}
	}
	if cfg.Listen == nil {
		cfg.Listen = ipc.Listen
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewLogger(&types.SessionMeta{
			SessionID: cfg.SessionID,
			Role:      types.RoleOrchestrator,
			PID:       os.Getpid(),
		})
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	return &Session{
		config:   cfg,
		timeouts: cfg.Timeouts.withDefaults(),
		logger:   cfg.Logger,
		pipeName: pipeName,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// PipeName returns the endpoint name the worker is told to connect to.
func (s *Session) PipeName() string {
	return s.pipeName
}

// State returns the current state.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
	s.logger.Debug("session state", map[string]any{"state": state.String()})
}

// Install runs the session end-to-end: it creates the endpoint, launches
// the worker elevated, waits for it to connect, sends the install request
// and collects per-device results until the worker reports completion.
//
// Per-device failures do not fail the session; they are reported through
// onProgress and the returned report. Any fatal fault is returned as the
// error, together with a report holding the results received so far.
// An empty device list is a successful no-op that launches nothing.
//
// Install may be called once. The caller must Close the session.
func (s *Session) Install(
	ctx context.Context,
	config types.InstallConfig,
	devices []types.Device,
	onProgress types.ProgressFunc,
) (*types.InstallReport, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.ctx.Err() != nil {
		return nil, ErrSessionClosed
	}
	if s.started {
		return nil, ErrSessionStarted
	}
	s.started = true

	report := &types.InstallReport{
		SessionID: s.config.SessionID,
		Total:     len(devices),
		Results:   []types.DeviceResult{},
	}

	if len(devices) == 0 {
		s.config.Collector.IncSessionStarted()
		s.logger.Warn("no candidate devices found", nil)
		s.finish(report, nil)
		return report, nil
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid install config: %w", err)
	}
	if onProgress == nil {
		onProgress = func(types.Progress) {}
	}
	s.config.Collector.IncSessionStarted()

	s.logger.Info("preparing driver installation", map[string]any{
		"devices": len(devices),
	})

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(s.ctx, func() { cancel(ErrSessionClosed) })
	defer stop()

	err := s.run(ctx, config, devices, onProgress, report)
	s.finish(report, err)
	return report, err
}

func (s *Session) run(
	ctx context.Context,
	config types.InstallConfig,
	devices []types.Device,
	onProgress types.ProgressFunc,
	report *types.InstallReport,
) error {
	if err := s.startWorker(ctx); err != nil {
		return err
	}

	defer s.stopRelay()
	if err := s.configureLogSink(); err != nil {
		return err
	}

	s.logger.Info("starting installation", nil)
	if err := s.channel.Send(protocol.InstallRequest{Config: config, Devices: devices}); err != nil {
		return &SessionError{Kind: SessionErrorTransport, Op: "send install request", Err: err}
	}
	s.setState(StateInstallRequested)

	if err := s.awaitStart(ctx); err != nil {
		return err
	}
	onProgress(types.SessionStarted{})

	if err := s.awaitInstall(ctx, report, onProgress); err != nil {
		return err
	}

	s.sendTerminate("installation finished")
	return nil
}

// startWorker creates the endpoint, launches the worker with the endpoint
// name as its only argument and accepts its connection.
func (s *Session) startWorker(ctx context.Context) error {
	ln, err := s.config.Listen(s.pipeName)
	if err != nil {
		return &SessionError{Kind: SessionErrorTransport, Op: "listen", Err: err}
	}
	s.listener = ln
	s.setState(StateListenerCreated)

	s.logger.Info("endpoint ready, launching worker", map[string]any{
		"endpoint": ln.Name(),
		"worker":   s.config.WorkerExecutable,
	})
	proc, err := s.config.Launcher.Launch(s.config.WorkerExecutable, []string{ln.Name()}, s.config.ShowWorkerWindow)
	if err != nil {
		s.config.Collector.IncWorkerLaunchFailure()
		return &SessionError{Kind: SessionErrorSpawn, Op: "launch worker", Err: err}
	}
	s.config.Collector.IncWorkerLaunchSuccess()
	s.process = proc
	s.setState(StateWorkerSpawned)

	s.logger.Info("waiting for worker to connect", map[string]any{"pid": proc.Pid()})
	ch, err := s.accept(ctx)
	if err != nil {
		return err
	}
	s.channel = ch
	s.setState(StateConnected)
	return nil
}

// accept waits for the worker to connect. It fails fast if the worker
// process exits first.
func (s *Session) accept(ctx context.Context) (*protocol.OrchestratorChannel, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	acceptCtx, cancelTimeout := context.WithTimeoutCause(ctx, s.timeouts.Accept, ErrAcceptTimeout)
	defer cancelTimeout()

	watchDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.watchWorker(watchDone, cancel)
	}()

	ch, err := protocol.Accept(acceptCtx, s.listener)
	close(watchDone)
	wg.Wait()

	if err != nil {
		if acceptCtx.Err() != nil {
			return nil, phaseError(acceptCtx, "accept")
		}
		return nil, &SessionError{Kind: SessionErrorTransport, Op: "accept", Err: err}
	}
	return ch, nil
}

func (s *Session) watchWorker(done <-chan struct{}, cancel context.CancelCauseFunc) {
	for {
		select {
		case <-done:
			return
		default:
		}
		exited, err := s.process.TryWait(s.timeouts.Poll)
		if err != nil {
			return
		}
		if exited != nil {
			cancel(fmt.Errorf("%w (exit code %d)", ErrWorkerExited, exited.Code))
			return
		}
	}
}

// configureLogSink hands the worker a window to send native log text to
// and starts the relay. A missing window or log source only disables the
// relay.
func (s *Session) configureLogSink() error {
	if s.config.LogSink == nil {
		return nil
	}
	window, ok := s.config.LogSink.Window()
	if !ok {
		s.logger.Warn("could not initialize log relay, current process may not own any windows", nil)
		return nil
	}
	h, err := s.config.LogSink.OpenLogSource()
	if err != nil {
		s.logger.Warn("could not open log source", map[string]any{"error": err.Error()})
		return nil
	}
	if err := s.channel.Send(protocol.ConfigureLogSink{Window: window}); err != nil {
		iox.DiscardClose(h)
		return &SessionError{Kind: SessionErrorTransport, Op: "configure log sink", Err: err}
	}
	s.setState(StateLogSinkConfigured)

	relay := NewLogRelay(h, s.logger, s.config.Collector)
	relay.Delay = s.timeouts.RelayDelay
	relay.Interval = s.timeouts.RelayInterval
	relayCtx, cancel := context.WithCancel(s.ctx)
	s.relay, s.relayCancel = relay, cancel
	go func() { _ = relay.Run(relayCtx) }()
	return nil
}

// stopRelay cancels the relay and waits for it to stop polling.
func (s *Session) stopRelay() {
	if s.relay == nil {
		return
	}
	s.relayCancel()
	select {
	case <-s.relay.Done():
	case <-time.After(s.timeouts.ExitGrace):
		s.logger.Warn("log relay did not stop", nil)
	}
	s.relay, s.relayCancel = nil, nil
}

// awaitStart waits for InstallStarted. Heartbeats are ignored and worker
// errors are logged; anything else is a protocol violation.
func (s *Session) awaitStart(ctx context.Context) error {
	s.setState(StateAwaitingStart)
	ctx, cancel := context.WithTimeoutCause(ctx, s.timeouts.Start, ErrStartTimeout)
	defer cancel()

	for {
		msg, ok, err := s.channel.Receive(ctx)
		if err != nil {
			return s.receiveError(ctx, "await start", err)
		}
		if !ok {
			return &SessionError{Kind: SessionErrorTransport, Op: "await start", Err: ErrWorkerDisconnected}
		}

		switch m := msg.(type) {
		case protocol.Heartbeat:
			s.config.Collector.IncHeartbeat()
		case protocol.Error:
			s.logger.Error("worker error", map[string]any{"error": m.Text})
		case protocol.InstallStarted:
			return nil
		default:
			return &SessionError{
				Kind: SessionErrorProtocol,
				Op:   "await start",
				Err:  fmt.Errorf("%w: %s", ErrUnexpectedMessage, protocol.NameOf(msg)),
			}
		}
	}
}

// awaitInstall collects results until InstallFinished. Each receive is
// bounded by the poll timeout so the heartbeat deadline is re-checked at
// least once per poll interval.
func (s *Session) awaitInstall(ctx context.Context, report *types.InstallReport, onProgress types.ProgressFunc) error {
	s.setState(StateInstalling)
	ctx, cancel := context.WithTimeoutCause(ctx, s.timeouts.Install, ErrInstallTimeout)
	defer cancel()

	lastBeat := time.Now()
	for {
		if time.Since(lastBeat) > s.timeouts.Heartbeat {
			return &SessionError{Kind: SessionErrorTimeout, Op: "install", Err: ErrHeartbeatTimeout}
		}

		pollCtx, cancelPoll := context.WithTimeout(ctx, s.timeouts.Poll)
		msg, ok, err := s.channel.Receive(pollCtx)
		cancelPoll()
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(context.Cause(ctx), ErrInstallTimeout) {
				s.logger.Error("installation timed out", nil)
				s.sendTerminate("installation timed out")
			}
			return s.receiveError(ctx, "install", err)
		}
		if !ok {
			return &SessionError{Kind: SessionErrorTransport, Op: "install", Err: ErrWorkerDisconnected}
		}

		switch m := msg.(type) {
		case protocol.Heartbeat:
			s.config.Collector.IncHeartbeat()
			lastBeat = time.Now()
		case protocol.InstallStarted:
			lastBeat = time.Now()
		case protocol.InstallFinished:
			return nil
		case protocol.Error:
			s.logger.Error("worker error", map[string]any{"error": m.Text})
		case protocol.DeviceResult:
			s.recordResult(report, m.Result)
			onProgress(types.DeviceOutcome{Result: m.Result})
		default:
			return &SessionError{
				Kind: SessionErrorProtocol,
				Op:   "install",
				Err:  fmt.Errorf("%w: %s", ErrUnexpectedMessage, protocol.NameOf(msg)),
			}
		}
	}
}

func (s *Session) recordResult(report *types.InstallReport, result types.DeviceResult) {
	report.Results = append(report.Results, result)
	s.config.Collector.RecordDeviceResult(result.OK())
	if result.OK() {
		report.Installed++
		s.logger.Info("device installed", map[string]any{"device": result.Device.String()})
		return
	}
	s.logger.Warn("device installation failed", map[string]any{
		"device": result.Device.String(),
		"error":  result.Err,
	})
}

// receiveError classifies a Receive failure. phase is the context the
// receive ran under.
func (s *Session) receiveError(phase context.Context, op string, err error) error {
	if phase.Err() != nil {
		return phaseError(phase, op)
	}
	var frameErr *ipc.FrameError
	if errors.As(err, &frameErr) && frameErr.Kind == ipc.FrameErrorDecode {
		s.config.Collector.IncIPCDecodeErrors()
	}
	return &SessionError{Kind: SessionErrorTransport, Op: op, Err: err}
}

// phaseError maps the cause of an ended phase context to the session
// taxonomy. Caller cancellation and Close are returned unclassified.
func phaseError(ctx context.Context, op string) error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrAcceptTimeout),
		errors.Is(cause, ErrStartTimeout),
		errors.Is(cause, ErrInstallTimeout):
		return &SessionError{Kind: SessionErrorTimeout, Op: op, Err: cause}
	case errors.Is(cause, ErrWorkerExited):
		return &SessionError{Kind: SessionErrorTransport, Op: op, Err: cause}
	default:
		return cause
	}
}

// sendTerminate asks the worker to exit, at most once. Failure is logged.
func (s *Session) sendTerminate(reason string) {
	if s.channel == nil || s.terminateSent {
		return
	}
	s.terminateSent = true
	if err := s.channel.Send(protocol.Terminate{}); err != nil {
		s.logger.Warn("could not send terminate to worker", map[string]any{
			"reason": reason,
			"error":  err.Error(),
		})
	}
}

func (s *Session) finish(report *types.InstallReport, err error) {
	fields := map[string]any{
		"installed": report.Installed,
		"total":     report.Total,
	}
	switch {
	case err == nil:
		report.Status = types.StatusFor(report.Installed, report.Total)
		s.setState(StateCompleted)
		s.config.Collector.IncSessionCompleted()
		if report.Complete() {
			s.logger.Info("installed drivers", fields)
		} else {
			s.logger.Warn("installed drivers", fields)
		}
	case IsTimeoutError(err):
		report.Status = types.StatusTimedOut
		s.setState(StateTimedOut)
		s.config.Collector.IncSessionTimedOut()
		fields["error"] = err.Error()
		s.logger.Error("session timed out", fields)
	default:
		report.Status = types.StatusFailed
		kind := "canceled"
		var sessErr *SessionError
		if errors.As(err, &sessErr) {
			kind = sessErr.Kind.String()
		}
		if elevate.IsDeclined(err) {
			report.Status = types.StatusDeclined
			kind = "declined"
		}
		s.setState(StateFailed)
		s.config.Collector.RecordSessionFailed(kind)
		fields["error"] = err.Error()
		fields["kind"] = kind
		s.logger.Error("session failed", fields)
	}
}

// Close ends the session: it stops the log relay, asks the worker to exit,
// waits ExitGrace for it, then kills it and releases every handle. It is
// safe to call concurrently with Install, which it interrupts, and more
// than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel(ErrSessionClosed)
		s.runMu.Lock()
		defer s.runMu.Unlock()
		s.closeErr = s.teardown()
	})
	return s.closeErr
}

func (s *Session) teardown() error {
	s.stopRelay()
	s.sendTerminate("session closed")

	var errs []error
	if s.process != nil {
		if s.channel != nil {
			exited, err := s.process.TryWait(s.timeouts.ExitGrace)
			switch {
			case err != nil:
				s.logger.Debug("failed to wait for worker", map[string]any{"error": err.Error()})
			case exited != nil:
				s.logger.Info("worker exited", map[string]any{"exit_code": exited.Code})
			default:
				s.logger.Warn("worker did not exit, killing it", map[string]any{"pid": s.process.Pid()})
			}
		}
		if err := s.process.Kill(); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill worker: %w", err))
		}
		if err := s.process.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to release worker handle: %w", err))
		}
	}
	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			s.logger.Debug("failed to close channel", map[string]any{"error": err.Error()})
		}
	}
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, ipc.ErrListenerClosed) {
			s.logger.Debug("failed to close listener", map[string]any{"error": err.Error()})
		}
	}
	return errors.Join(errs...)
}
