package elevate

import (
	"fmt"
	"sync"
	"time"
)

// terminatedExitCode is the exit code Kill forces on a running process.
const terminatedExitCode = 1

// waitSlice bounds each platform wait inside Wait so Close is never
// blocked behind an unbounded wait.
const waitSlice = 250 * time.Millisecond

// Exited is the terminal status of a process.
type Exited struct {
	Code uint32
}

// processHandle is the platform process handle.
type processHandle interface {
	// wait returns exited=true and the exit code once the process has
	// terminated, or exited=false when timeout elapses first.
	wait(timeout time.Duration) (exited bool, code uint32, err error)
	terminate(code uint32) error
	release() error
	pid() int
}

// Process exclusively owns the handle of an elevated process. The handle
// is released exactly once, by Kill or Close, whichever comes first.
// Process is safe for concurrent use.
type Process struct {
	// mu is held shared while the handle is in use and exclusively while
	// it is terminated or released.
	mu       sync.RWMutex
	h        processHandle
	pid      int
	released bool

	statusMu sync.Mutex
	exited   *Exited
}

func newProcess(h processHandle) *Process {
	return &Process{h: h, pid: h.pid()}
}

// Pid returns the process id, or 0 if unknown.
func (p *Process) Pid() int {
	return p.pid
}

func (p *Process) status() *Exited {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	return p.exited
}

func (p *Process) setStatus(e *Exited) {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	if p.exited == nil {
		p.exited = e
	}
}

// TryWait waits up to timeout for the process to exit. It returns
// (nil, nil) if the process is still running when timeout elapses.
func (p *Process) TryWait(timeout time.Duration) (*Exited, error) {
	if e := p.status(); e != nil {
		return e, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.released {
		if e := p.status(); e != nil {
			return e, nil
		}
		return nil, ErrProcessReleased
	}

	exited, code, err := p.h.wait(timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for process %d: %w", p.pid, err)
	}
	if !exited {
		return nil, nil
	}
	p.setStatus(&Exited{Code: code})
	return p.status(), nil
}

// Wait blocks until the process exits.
func (p *Process) Wait() (*Exited, error) {
	for {
		e, err := p.TryWait(waitSlice)
		if e != nil || err != nil {
			return e, err
		}
	}
}

// Kill forcibly terminates the process and releases its handle. It first
// checks the exit status with a zero timeout: a process that already
// exited is not signaled. Kill on an exited or already killed process
// returns nil.
func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil
	}

	if p.status() == nil {
		exited, code, err := p.h.wait(0)
		switch {
		case err != nil:
			return fmt.Errorf("failed to query process %d: %w", p.pid, err)
		case exited:
			p.setStatus(&Exited{Code: code})
		default:
			if err := p.h.terminate(terminatedExitCode); err != nil {
				return fmt.Errorf("failed to terminate process %d: %w", p.pid, err)
			}
			p.setStatus(&Exited{Code: terminatedExitCode})
		}
	}
	return p.releaseLocked()
}

// Close releases the process handle without terminating the process.
// It is safe to call more than once.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil
	}
	return p.releaseLocked()
}

func (p *Process) releaseLocked() error {
	p.released = true
	if err := p.h.release(); err != nil {
		return fmt.Errorf("failed to release process %d: %w", p.pid, err)
	}
	return nil
}
