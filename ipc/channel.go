package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrChannelClosed is returned by Send and Receive after Close.
var ErrChannelClosed = errors.New("ipc: channel closed")

// Codec converts between messages and frame payloads. Out is the type
// this side sends, In the type it receives.
type Codec[Out, In any] interface {
	Encode(msg Out) ([]byte, error)
	Decode(payload []byte) (In, error)
}

// Channel is a bidirectional typed message stream over one byte-stream
// endpoint. It exclusively owns the endpoint: at most one Channel may
// wrap a given stream, and closing the Channel closes the stream.
//
// Send calls are serialized and delivered in order. Receive may be
// called with a short deadline in a loop; a frame that arrives after the
// deadline is kept for the next call rather than dropped.
type Channel[Out, In any] struct {
	conn  io.ReadWriteCloser
	codec Codec[Out, In]
	enc   *FrameEncoder
	dec   *FrameDecoder

	sendMu sync.Mutex

	readOnce sync.Once
	incoming chan received[In]
	terminal *received[In] // first EOF or error, sticky
	recvMu   sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

type received[In any] struct {
	msg In
	err error
}

// NewChannel wraps conn. The returned channel takes ownership of conn.
func NewChannel[Out, In any](conn io.ReadWriteCloser, codec Codec[Out, In]) *Channel[Out, In] {
	return &Channel[Out, In]{
		conn:     conn,
		codec:    codec,
		enc:      NewFrameEncoder(conn),
		dec:      NewFrameDecoder(conn),
		incoming: make(chan received[In]),
		closed:   make(chan struct{}),
	}
}

// Send encodes msg and writes it as one frame.
func (c *Channel[Out, In]) Send(msg Out) error {
	select {
	case <-c.closed:
		return ErrChannelClosed
	default:
	}

	payload, err := c.codec.Encode(msg)
	if err != nil {
		return &FrameError{
			Kind: FrameErrorEncode,
			Msg:  fmt.Sprintf("failed to encode %T", msg),
			Err:  err,
		}
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.enc.WriteFrame(payload)
}

// Receive returns the next message.
//
// Returns:
//   - (msg, true, nil): a message arrived
//   - (zero, false, nil): the peer closed the stream cleanly
//   - (zero, false, err): a fatal transport or decode error, or ctx ended
//
// Once the stream has ended (EOF or fatal error) every later call
// returns the same result.
func (c *Channel[Out, In]) Receive(ctx context.Context) (In, bool, error) {
	var zero In

	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	if c.terminal != nil {
		return zero, false, c.terminal.err
	}

	c.readOnce.Do(func() { go c.readLoop() })

	select {
	case r := <-c.incoming:
		if r.err != nil {
			if r.err == io.EOF {
				r.err = nil
			}
			c.terminal = &r
			return zero, false, r.err
		}
		return r.msg, true, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case <-c.closed:
		return zero, false, ErrChannelClosed
	}
}

// readLoop is the single reader of the stream. It hands each decoded
// message to Receive and exits after the first EOF or error.
func (c *Channel[Out, In]) readLoop() {
	for {
		r := c.readOne()
		select {
		case c.incoming <- r:
		case <-c.closed:
			return
		}
		if r.err != nil {
			return
		}
	}
}

func (c *Channel[Out, In]) readOne() received[In] {
	payload, err := c.dec.ReadFrame()
	if err != nil {
		return received[In]{err: err}
	}
	msg, err := c.codec.Decode(payload)
	if err != nil {
		return received[In]{err: &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode message",
			Err:  err,
		}}
	}
	return received[In]{msg: msg}
}

// Close closes the underlying stream and unblocks pending Receive calls.
// It is safe to call more than once.
func (c *Channel[Out, In]) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
