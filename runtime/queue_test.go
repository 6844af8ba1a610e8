package runtime

import (
	"reflect"
	"testing"
	"time"
)

func TestResultQueue_FIFO(t *testing.T) {
	q := newResultQueue[int]()
	for i := range 5 {
		q.Push(i)
	}

	select {
	case <-q.Ready():
	default:
		t.Fatal("Ready not signaled after Push")
	}

	items, closed := q.Drain()
	if !reflect.DeepEqual(items, []int{0, 1, 2, 3, 4}) {
		t.Errorf("Drain = %v", items)
	}
	if closed {
		t.Error("queue reported closed before Close")
	}
	if items, _ := q.Drain(); len(items) != 0 {
		t.Errorf("second Drain = %v, want empty", items)
	}
}

func TestResultQueue_Close(t *testing.T) {
	q := newResultQueue[string]()
	q.Push("a")
	q.Close()
	q.Push("dropped")

	items, closed := q.Drain()
	if !reflect.DeepEqual(items, []string{"a"}) || !closed {
		t.Errorf("Drain = %v, %v; want [a], true", items, closed)
	}
}

func TestResultQueue_PushNeverBlocks(t *testing.T) {
	q := newResultQueue[int]()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 10000 {
			q.Push(i)
		}
		q.Close()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Push blocked without a consumer")
	}

	items, closed := q.Drain()
	if len(items) != 10000 || !closed {
		t.Errorf("Drain returned %d items, closed=%v", len(items), closed)
	}
}

func TestResultQueue_ConsumerSeesEverything(t *testing.T) {
	q := newResultQueue[int]()
	go func() {
		for i := range 100 {
			q.Push(i)
			if i%10 == 0 {
				time.Sleep(time.Millisecond)
			}
		}
		q.Close()
	}()

	var got []int
	timeout := time.After(5 * time.Second)
	for closed := false; !closed; {
		select {
		case <-q.Ready():
		case <-timeout:
			t.Fatal("consumer starved")
		}
		var items []int
		items, closed = q.Drain()
		got = append(got, items...)
	}

	if len(got) != 100 {
		t.Fatalf("consumer saw %d items, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("item %d = %d, out of order", i, v)
		}
	}
}
