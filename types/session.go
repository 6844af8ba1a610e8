// Package types defines the core domain types shared by the orchestrator
// and the elevated worker.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
)

// Role identifies which side of the privilege split a process plays.
type Role string

const (
	// RoleOrchestrator is the unprivileged side that launches the worker.
	RoleOrchestrator Role = "orchestrator"
	// RoleWorker is the elevated side that performs the installation.
	RoleWorker Role = "worker"
)

// SessionMeta identifies a session and the role of the current process.
type SessionMeta struct {
	// SessionID is the endpoint id shared by both roles.
	SessionID string
	// Role is the role of the current process.
	Role Role
	// PID is the current process id. Zero if unknown.
	PID int
}

// Validate checks that the session id and role are set.
func (m *SessionMeta) Validate() error {
	if m.SessionID == "" {
		return errors.New("session_id must be non-empty")
	}
	switch m.Role {
	case RoleOrchestrator, RoleWorker:
		return nil
	default:
		return fmt.Errorf("unknown role %q", m.Role)
	}
}

// SessionStatus is the final classification of a session.
type SessionStatus string

const (
	// StatusSuccess indicates every requested device was installed.
	StatusSuccess SessionStatus = "success"
	// StatusPartial indicates the session completed but some devices failed.
	StatusPartial SessionStatus = "partial"
	// StatusNothingToDo indicates an empty device list.
	StatusNothingToDo SessionStatus = "nothing_to_do"
	// StatusFailed indicates a fatal transport, protocol or spawn fault.
	StatusFailed SessionStatus = "failed"
	// StatusTimedOut indicates one of the session timeouts expired.
	StatusTimedOut SessionStatus = "timed_out"
	// StatusDeclined indicates the user declined the elevation prompt.
	StatusDeclined SessionStatus = "declined"
)

// StatusFor classifies a completed tally.
func StatusFor(installed, total int) SessionStatus {
	switch {
	case total == 0:
		return StatusNothingToDo
	case installed == total:
		return StatusSuccess
	default:
		return StatusPartial
	}
}
