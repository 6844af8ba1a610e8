package runtime

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/justapithecus/winusb/driver"
	"github.com/justapithecus/winusb/log"
	"github.com/justapithecus/winusb/metrics"
)

const (
	// DefaultRelayDelay is the grace period before the first poll.
	DefaultRelayDelay = 400 * time.Millisecond
	// DefaultRelayInterval is the poll period.
	DefaultRelayInterval = 100 * time.Millisecond

	relayBufferSize = 8 << 10
)

// errRelayStopped is returned by Poll after the relay has stopped.
var errRelayStopped = errors.New("log relay stopped")

// LogRelay forwards native log text from the worker into the orchestrator
// log. Delivery is best-effort: text still pending when the session ends
// is dropped.
//
// The relay owns its handle and closes it when Run returns.
type LogRelay struct {
	// Delay is the wait before the first poll.
	Delay time.Duration
	// Interval is the poll period.
	Interval time.Duration

	handle    driver.LogHandle
	buf       []byte
	logger    *log.Logger
	collector *metrics.Collector

	done chan struct{}
	err  error
}

// NewLogRelay creates a relay over h. logger and collector may be nil.
func NewLogRelay(h driver.LogHandle, logger *log.Logger, collector *metrics.Collector) *LogRelay {
	if logger == nil {
		logger = log.Nop()
	}
	return &LogRelay{
		Delay:     DefaultRelayDelay,
		Interval:  DefaultRelayInterval,
		handle:    h,
		buf:       make([]byte, relayBufferSize),
		logger:    logger,
		collector: collector,
		done:      make(chan struct{}),
	}
}

// Poll reads whatever text is newly available. It returns false when
// nothing is pending. A read error is terminal for the relay.
func (r *LogRelay) Poll() (string, bool, error) {
	if r.err != nil {
		return "", false, errRelayStopped
	}
	n, err := r.handle.Read(r.buf)
	if err != nil {
		r.err = err
		return "", false, err
	}
	if n == 0 {
		return "", false, nil
	}
	text := strings.TrimRight(string(r.buf[:n]), "\x00\r\n")
	if text == "" {
		return "", false, nil
	}
	return text, true, nil
}

// Run waits Delay, then polls every Interval until ctx is done or a read
// fails. It closes the handle and Done before returning. Cancellation is
// observed between polls.
func (r *LogRelay) Run(ctx context.Context) error {
	defer close(r.done)
	defer func() {
		if err := r.handle.Close(); err != nil {
			r.logger.Debug("failed to close log source", map[string]any{
				"error": err.Error(),
			})
		}
	}()

	delay := time.NewTimer(r.Delay)
	defer delay.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-delay.C:
	}

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return nil
		}

		text, ok, err := r.Poll()
		if err != nil {
			r.logger.Error("log relay read failed", map[string]any{
				"error": err.Error(),
			})
			return err
		}
		if ok {
			r.collector.IncLogLinesRelayed()
			r.logger.Info(text, map[string]any{"source": "native"})
		}
	}
}

// Done is closed once Run has returned.
func (r *LogRelay) Done() <-chan struct{} {
	return r.done
}
