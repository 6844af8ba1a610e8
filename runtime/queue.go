package runtime

import "sync"

// resultQueue is an unbounded FIFO between one producer (the blocking
// install goroutine) and one consumer (the worker message loop). Push
// never blocks, so a slow channel never stalls the native call.
type resultQueue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	ready  chan struct{}
}

func newResultQueue[T any]() *resultQueue[T] {
	return &resultQueue[T]{ready: make(chan struct{}, 1)}
}

// Push appends v. Values pushed after Close are dropped.
func (q *resultQueue[T]) Push(v T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.signal()
}

// Close marks the end of the stream. The consumer sees closed from Drain
// once every earlier value has been drained.
func (q *resultQueue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Ready receives a value whenever Push or Close happened since the last
// receive.
func (q *resultQueue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Drain removes and returns all pending values in push order, and whether
// the producer has closed the queue.
func (q *resultQueue[T]) Drain() ([]T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items, q.closed
}

func (q *resultQueue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
