package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"lattice-siem/internal/schema"
)

func task(n int) *Task {
	return &Task{
		Event:  &schema.Event{EventID: uuid.New(), EventType: "test.event"},
		Topic:  "siem-events",
		Offset: int64(n),
	}
}

func TestRingBufferFIFO(t *testing.T) {
	rb := NewRingBuffer(8)

	for i := 0; i < 5; i++ {
		if err := rb.Push(task(i)); err != nil {
			t.Fatalf("Push(%d) error = %v", i, err)
		}
	}

	for i := 0; i < 5; i++ {
		got, err := rb.Pop()
		if err != nil {
			t.Fatalf("Pop() error = %v", err)
		}
		if got.Offset != int64(i) {
			t.Errorf("Pop() offset = %d, want %d", got.Offset, i)
		}
	}

	if _, err := rb.Pop(); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("Pop() on empty = %v, want ErrQueueEmpty", err)
	}
}

func TestRingBufferFull(t *testing.T) {
	rb := NewRingBuffer(2)

	if err := rb.Push(task(0)); err != nil {
		t.Fatal(err)
	}
	if err := rb.Push(task(1)); err != nil {
		t.Fatal(err)
	}
	if err := rb.Push(task(2)); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Push() on full = %v, want ErrQueueFull", err)
	}
}

func TestRingBufferWraparound(t *testing.T) {
	rb := NewRingBuffer(3)

	for i := 0; i < 10; i++ {
		if err := rb.Push(task(i)); err != nil {
			t.Fatal(err)
		}
		got, err := rb.Pop()
		if err != nil {
			t.Fatal(err)
		}
		if got.Offset != int64(i) {
			t.Errorf("offset = %d, want %d", got.Offset, i)
		}
	}
}

func TestPushWaitBlocksUntilDrained(t *testing.T) {
	rb := NewRingBuffer(1)
	if err := rb.Push(task(0)); err != nil {
		t.Fatal(err)
	}

	pushed := make(chan error, 1)
	go func() {
		pushed <- rb.PushWait(context.Background(), task(1))
	}()

	select {
	case err := <-pushed:
		t.Fatalf("PushWait returned %v while queue was full", err)
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := rb.Pop(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-pushed:
		if err != nil {
			t.Fatalf("PushWait error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("PushWait still blocked after a slot freed up")
	}

	got, err := rb.Pop()
	if err != nil || got.Offset != 1 {
		t.Errorf("Pop() = %v, %v; want the waited task", got, err)
	}
}

func TestPushWaitContextCancel(t *testing.T) {
	rb := NewRingBuffer(1)
	if err := rb.Push(task(0)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	pushed := make(chan error, 1)
	go func() {
		pushed <- rb.PushWait(ctx, task(1))
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-pushed:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("PushWait error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("PushWait did not observe cancellation")
	}
}

func TestPushWaitClosedQueue(t *testing.T) {
	rb := NewRingBuffer(1)
	rb.Close()
	if err := rb.PushWait(context.Background(), task(0)); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("PushWait on closed = %v, want ErrQueueClosed", err)
	}
}

func TestPopBlockingDrainsAfterClose(t *testing.T) {
	rb := NewRingBuffer(4)
	for i := 0; i < 3; i++ {
		if err := rb.Push(task(i)); err != nil {
			t.Fatal(err)
		}
	}
	rb.Close()

	// Queued tasks remain poppable after close.
	for i := 0; i < 3; i++ {
		got, err := rb.PopBlocking()
		if err != nil {
			t.Fatalf("PopBlocking() error = %v", err)
		}
		if got.Offset != int64(i) {
			t.Errorf("offset = %d, want %d", got.Offset, i)
		}
	}

	if _, err := rb.PopBlocking(); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("PopBlocking() after drain = %v, want ErrQueueClosed", err)
	}
}

func TestPopBlockingUnblocksOnClose(t *testing.T) {
	rb := NewRingBuffer(4)

	done := make(chan error, 1)
	go func() {
		_, err := rb.PopBlocking()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	rb.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrQueueClosed) {
			t.Errorf("PopBlocking() = %v, want ErrQueueClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("PopBlocking did not unblock on Close")
	}
}

func TestConcurrentProducersConsumers(t *testing.T) {
	rb := NewRingBuffer(16)
	const producers = 4
	const perProducer = 100

	for p := 0; p < producers; p++ {
		go func(p int) {
			for i := 0; i < perProducer; i++ {
				if err := rb.PushWait(context.Background(), task(p*perProducer+i)); err != nil {
					t.Errorf("PushWait error: %v", err)
					return
				}
			}
		}(p)
	}

	seen := make(map[int64]bool)
	for i := 0; i < producers*perProducer; i++ {
		got, err := rb.PopBlocking()
		if err != nil {
			t.Fatalf("PopBlocking() error = %v", err)
		}
		if seen[got.Offset] {
			t.Fatalf("offset %d delivered twice", got.Offset)
		}
		seen[got.Offset] = true
	}

	if rb.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after draining", rb.Len())
	}

	m := rb.Metrics()
	if m.Pushed != producers*perProducer || m.Popped != producers*perProducer {
		t.Errorf("metrics = %+v, want %d pushed and popped", m, producers*perProducer)
	}
}

func TestRingBufferDefaultCapacity(t *testing.T) {
	rb := NewRingBuffer(0)
	if rb.Cap() != 10000 {
		t.Errorf("Cap() = %d, want default 10000", rb.Cap())
	}
}
