// Package metrics provides per-session metrics collection.
//
// The Collector accumulates counters during a single install session. It is
// a leaf package with no internal dependencies. Session failures are keyed by
// a string kind so callers do not have to share error types with this package.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Session lifecycle
	SessionsStarted   int64            `json:"sessions_started" yaml:"sessions_started"`
	SessionsCompleted int64            `json:"sessions_completed" yaml:"sessions_completed"`
	SessionsFailed    int64            `json:"sessions_failed" yaml:"sessions_failed"`
	SessionsTimedOut  int64            `json:"sessions_timed_out" yaml:"sessions_timed_out"`
	FailuresByKind    map[string]int64 `json:"failures_by_kind,omitempty" yaml:"failures_by_kind,omitempty"`

	// Worker
	WorkerLaunchSuccess int64 `json:"worker_launch_success" yaml:"worker_launch_success"`
	WorkerLaunchFailure int64 `json:"worker_launch_failure" yaml:"worker_launch_failure"`
	HeartbeatsReceived  int64 `json:"heartbeats_received" yaml:"heartbeats_received"`
	IPCDecodeErrors     int64 `json:"ipc_decode_errors" yaml:"ipc_decode_errors"`

	// Devices
	DevicesInstalled int64 `json:"devices_installed" yaml:"devices_installed"`
	DevicesFailed    int64 `json:"devices_failed" yaml:"devices_failed"`

	// Log relay
	LogLinesRelayed int64 `json:"log_lines_relayed" yaml:"log_lines_relayed"`

	// Dimensions (informational, set at construction)
	SessionID string `json:"session_id" yaml:"session_id"`
	Backend   string `json:"backend" yaml:"backend"`
}

// Collector accumulates metrics during a single session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	sessionsStarted   int64
	sessionsCompleted int64
	sessionsFailed    int64
	sessionsTimedOut  int64
	failuresByKind    map[string]int64

	workerLaunchSuccess int64
	workerLaunchFailure int64
	heartbeatsReceived  int64
	ipcDecodeErrors     int64

	devicesInstalled int64
	devicesFailed    int64

	logLinesRelayed int64

	sessionID string
	backend   string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(sessionID, backend string) *Collector {
	return &Collector{
		failuresByKind: make(map[string]int64),
		sessionID:      sessionID,
		backend:        backend,
	}
}

func (c *Collector) inc(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Session lifecycle ---

// IncSessionStarted records a session start.
func (c *Collector) IncSessionStarted() {
	if c == nil {
		return
	}
	c.inc(&c.sessionsStarted)
}

// IncSessionCompleted records a session that reached InstallFinished, or an
// empty device list.
func (c *Collector) IncSessionCompleted() {
	if c == nil {
		return
	}
	c.inc(&c.sessionsCompleted)
}

// RecordSessionFailed records a fatal session fault. kind is the fault
// class (transport, protocol, spawn, declined). Timeouts use
// IncSessionTimedOut.
func (c *Collector) RecordSessionFailed(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsFailed++
	if c.failuresByKind == nil {
		c.failuresByKind = make(map[string]int64)
	}
	c.failuresByKind[kind]++
	c.mu.Unlock()
}

// IncSessionTimedOut records a session aborted by one of its timeouts.
func (c *Collector) IncSessionTimedOut() {
	if c == nil {
		return
	}
	c.inc(&c.sessionsTimedOut)
}

// --- Worker ---

// IncWorkerLaunchSuccess records a successful elevated launch.
func (c *Collector) IncWorkerLaunchSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.workerLaunchSuccess)
}

// IncWorkerLaunchFailure records a failed or declined elevated launch.
func (c *Collector) IncWorkerLaunchFailure() {
	if c == nil {
		return
	}
	c.inc(&c.workerLaunchFailure)
}

// IncHeartbeat records a heartbeat received from the worker.
func (c *Collector) IncHeartbeat() {
	if c == nil {
		return
	}
	c.inc(&c.heartbeatsReceived)
}

// IncIPCDecodeErrors records an IPC frame or message decode error.
func (c *Collector) IncIPCDecodeErrors() {
	if c == nil {
		return
	}
	c.inc(&c.ipcDecodeErrors)
}

// --- Devices ---

// RecordDeviceResult records one per-device outcome.
func (c *Collector) RecordDeviceResult(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.inc(&c.devicesInstalled)
	} else {
		c.inc(&c.devicesFailed)
	}
}

// --- Log relay ---

// IncLogLinesRelayed records one chunk of relayed native log text.
func (c *Collector) IncLogLinesRelayed() {
	if c == nil {
		return
	}
	c.inc(&c.logLinesRelayed)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	failures := make(map[string]int64, len(c.failuresByKind))
	for k, v := range c.failuresByKind {
		failures[k] = v
	}

	return Snapshot{
		SessionsStarted:   c.sessionsStarted,
		SessionsCompleted: c.sessionsCompleted,
		SessionsFailed:    c.sessionsFailed,
		SessionsTimedOut:  c.sessionsTimedOut,
		FailuresByKind:    failures,

		WorkerLaunchSuccess: c.workerLaunchSuccess,
		WorkerLaunchFailure: c.workerLaunchFailure,
		HeartbeatsReceived:  c.heartbeatsReceived,
		IPCDecodeErrors:     c.ipcDecodeErrors,

		DevicesInstalled: c.devicesInstalled,
		DevicesFailed:    c.devicesFailed,

		LogLinesRelayed: c.logLinesRelayed,

		SessionID: c.sessionID,
		Backend:   c.backend,
	}
}
