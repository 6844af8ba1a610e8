// Package protocol defines the two closed message vocabularies exchanged
// between the orchestrator and the elevated worker, and binds each role's
// outgoing type to the other's incoming type.
//
// Each message is encoded as a two-element msgpack array: a discriminant
// followed by the message body, itself an array of fields in declared
// order. The schema is fixed and versionless; both processes ship in the
// same executable.
package protocol

import "github.com/justapithecus/winusb/types"

// Discriminants of OrchestratorMessage variants. Values are part of the
// wire format.
const (
	tagInstallRequest uint8 = iota
	tagConfigureLogSink
	tagTerminate
)

// Discriminants of WorkerMessage variants. Values are part of the wire
// format.
const (
	tagDeviceResult uint8 = iota
	tagError
	tagInstallStarted
	tagInstallFinished
	tagHeartbeat
)

// OrchestratorMessage is sent by the orchestrator to the worker.
//
// The set of implementations is closed: InstallRequest, ConfigureLogSink
// and Terminate.
type OrchestratorMessage interface {
	orchestratorTag() uint8
}

// InstallRequest asks the worker to install the driver for Devices.
type InstallRequest struct {
	_msgpack struct{} `msgpack:",as_array"`

	Config  types.InstallConfig
	Devices []types.Device
}

// ConfigureLogSink hands the worker an opaque native window handle that
// can receive relayed log text.
type ConfigureLogSink struct {
	_msgpack struct{} `msgpack:",as_array"`

	Window uint64
}

// Terminate asks the worker to exit.
type Terminate struct {
	_msgpack struct{} `msgpack:",as_array"`
}

func (InstallRequest) orchestratorTag() uint8   { return tagInstallRequest }
func (ConfigureLogSink) orchestratorTag() uint8 { return tagConfigureLogSink }
func (Terminate) orchestratorTag() uint8        { return tagTerminate }

// WorkerMessage is sent by the worker to the orchestrator.
//
// The set of implementations is closed: DeviceResult, Error,
// InstallStarted, InstallFinished and Heartbeat.
type WorkerMessage interface {
	workerTag() uint8
}

// DeviceResult reports the outcome for one device.
type DeviceResult struct {
	_msgpack struct{} `msgpack:",as_array"`

	Result types.DeviceResult
}

// Error reports a non-fatal worker-side failure.
type Error struct {
	_msgpack struct{} `msgpack:",as_array"`

	Text string
}

// InstallStarted acknowledges an InstallRequest.
type InstallStarted struct {
	_msgpack struct{} `msgpack:",as_array"`
}

// InstallFinished ends an install cycle.
type InstallFinished struct {
	_msgpack struct{} `msgpack:",as_array"`
}

// Heartbeat is sent periodically while an install cycle runs.
type Heartbeat struct {
	_msgpack struct{} `msgpack:",as_array"`
}

func (DeviceResult) workerTag() uint8    { return tagDeviceResult }
func (Error) workerTag() uint8           { return tagError }
func (InstallStarted) workerTag() uint8  { return tagInstallStarted }
func (InstallFinished) workerTag() uint8 { return tagInstallFinished }
func (Heartbeat) workerTag() uint8       { return tagHeartbeat }

// NameOf returns a short variant name for logging.
func NameOf(msg any) string {
	switch msg.(type) {
	case InstallRequest:
		return "install_request"
	case ConfigureLogSink:
		return "configure_log_sink"
	case Terminate:
		return "terminate"
	case DeviceResult:
		return "device_result"
	case Error:
		return "error"
	case InstallStarted:
		return "install_started"
	case InstallFinished:
		return "install_finished"
	case Heartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}
