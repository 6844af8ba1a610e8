package elevate

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeHandle simulates a process handle. exitCh is closed when the
// process exits.
type fakeHandle struct {
	mu         sync.Mutex
	exitCh     chan struct{}
	code       uint32
	terminates int
	releases   int
	waitErr    error
	termErr    error
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{exitCh: make(chan struct{})}
}

func (f *fakeHandle) exit(code uint32) {
	f.mu.Lock()
	f.code = code
	f.mu.Unlock()
	close(f.exitCh)
}

func (f *fakeHandle) wait(timeout time.Duration) (bool, uint32, error) {
	if f.waitErr != nil {
		return false, 0, f.waitErr
	}
	var timer <-chan time.Time
	if timeout >= 0 {
		timer = time.After(timeout)
	}
	select {
	case <-f.exitCh:
		f.mu.Lock()
		defer f.mu.Unlock()
		return true, f.code, nil
	case <-timer:
		// A zero timeout still reports an exit that already happened.
		select {
		case <-f.exitCh:
			f.mu.Lock()
			defer f.mu.Unlock()
			return true, f.code, nil
		default:
			return false, 0, nil
		}
	}
}

func (f *fakeHandle) terminate(code uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminates++
	if f.termErr != nil {
		return f.termErr
	}
	f.code = code
	close(f.exitCh)
	return nil
}

func (f *fakeHandle) release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	return nil
}

func (f *fakeHandle) pid() int { return 4242 }

func (f *fakeHandle) counts() (terminates, releases int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminates, f.releases
}

func TestProcess_TryWaitTimeout(t *testing.T) {
	h := newFakeHandle()
	p := newProcess(h)
	defer p.Close()

	e, err := p.TryWait(10 * time.Millisecond)
	if err != nil || e != nil {
		t.Fatalf("TryWait = (%v, %v), want (nil, nil) while running", e, err)
	}

	h.exit(7)
	e, err = p.TryWait(time.Second)
	if err != nil || e == nil || e.Code != 7 {
		t.Fatalf("TryWait = (%v, %v), want exit code 7", e, err)
	}
}

func TestProcess_Wait(t *testing.T) {
	h := newFakeHandle()
	p := newProcess(h)
	defer p.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		h.exit(0)
	}()

	e, err := p.Wait()
	if err != nil || e == nil || e.Code != 0 {
		t.Fatalf("Wait = (%v, %v), want exit code 0", e, err)
	}
}

func TestProcess_KillTwice(t *testing.T) {
	h := newFakeHandle()
	p := newProcess(h)

	if err := p.Kill(); err != nil {
		t.Fatalf("first Kill failed: %v", err)
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("second Kill failed: %v", err)
	}

	terminates, releases := h.counts()
	if terminates != 1 {
		t.Errorf("terminates = %d, want 1", terminates)
	}
	if releases != 1 {
		t.Errorf("releases = %d, want 1", releases)
	}

	e, err := p.TryWait(0)
	if err != nil || e == nil || e.Code != terminatedExitCode {
		t.Errorf("TryWait after Kill = (%v, %v), want terminated status", e, err)
	}
}

func TestProcess_KillAfterExit(t *testing.T) {
	h := newFakeHandle()
	p := newProcess(h)
	h.exit(0)

	if err := p.Kill(); err != nil {
		t.Fatalf("Kill after exit failed: %v", err)
	}
	terminates, releases := h.counts()
	if terminates != 0 {
		t.Errorf("terminates = %d, want 0 for an exited process", terminates)
	}
	if releases != 1 {
		t.Errorf("releases = %d, want 1", releases)
	}
}

func TestProcess_KillTerminateError(t *testing.T) {
	h := newFakeHandle()
	h.termErr = errors.New("denied")
	p := newProcess(h)

	if err := p.Kill(); !errors.Is(err, h.termErr) {
		t.Fatalf("Kill error = %v, want %v", err, h.termErr)
	}
	// The handle is still owned and released on Close.
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, releases := h.counts(); releases != 1 {
		t.Errorf("releases = %d, want 1", releases)
	}
}

func TestProcess_CloseReleasesOnce(t *testing.T) {
	h := newFakeHandle()
	p := newProcess(h)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Close()
			_ = p.Kill()
		}()
	}
	wg.Wait()

	terminates, releases := h.counts()
	if releases != 1 {
		t.Errorf("releases = %d, want exactly 1", releases)
	}
	if terminates > 1 {
		t.Errorf("terminates = %d, want at most 1", terminates)
	}
}

func TestProcess_TryWaitAfterClose(t *testing.T) {
	p := newProcess(newFakeHandle())
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := p.TryWait(0); !errors.Is(err, ErrProcessReleased) {
		t.Errorf("TryWait after Close = %v, want ErrProcessReleased", err)
	}
}

func TestProcess_Pid(t *testing.T) {
	if got := newProcess(newFakeHandle()).Pid(); got != 4242 {
		t.Errorf("Pid() = %d, want 4242", got)
	}
}
