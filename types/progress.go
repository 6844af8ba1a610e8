package types

// Progress is an outward-facing session event. It is decoupled from the
// wire protocol: callers observe progress without depending on it.
//
// The set of implementations is closed: SessionStarted and DeviceOutcome.
type Progress interface {
	progress()
}

// SessionStarted is emitted once the worker acknowledged the install
// request.
type SessionStarted struct{}

// DeviceOutcome is emitted for every device the worker attempted.
type DeviceOutcome struct {
	Result DeviceResult
}

func (SessionStarted) progress() {}
func (DeviceOutcome) progress()  {}

// ProgressFunc receives session progress events. It is called from the
// session's control loop and must not block for long.
type ProgressFunc func(Progress)
