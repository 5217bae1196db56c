// Package queue provides the bounded buffer sitting between the broker
// consumer and the correlation worker pool. A full buffer suspends the
// producer, which is the system's backpressure signal.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"lattice-siem/internal/schema"
)

var (
	// ErrQueueFull is returned by non-blocking pushes on a full queue.
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueEmpty is returned by non-blocking pops on an empty queue.
	ErrQueueEmpty = errors.New("queue is empty")
	// ErrQueueClosed is returned once the queue is closed for writes and,
	// for consumers, fully drained.
	ErrQueueClosed = errors.New("queue is closed")
)

// Task is one unit of correlation work: a decoded event plus its
// originating broker coordinates, kept for diagnostics.
type Task struct {
	Event     *schema.Event
	Topic     string
	Partition int
	Offset    int64
}

// RingBuffer is a bounded circular buffer for tasks. Producers block in
// PushWait while the buffer is full; consumers block in PopBlocking
// while it is empty. Close rejects further writes but lets consumers
// drain what is already queued.
type RingBuffer struct {
	buffer []*Task
	size   int
	head   int
	tail   int
	count  int
	closed bool

	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	// Metrics (accessed atomically)
	totalPushed uint64
	totalPopped uint64
}

// NewRingBuffer creates a RingBuffer with the specified capacity.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 10000
	}

	rb := &RingBuffer{
		buffer: make([]*Task, size),
		size:   size,
	}
	rb.notFull = sync.NewCond(&rb.mu)
	rb.notEmpty = sync.NewCond(&rb.mu)
	return rb
}

// Push adds a task without blocking. Returns ErrQueueFull at capacity.
func (rb *RingBuffer) Push(task *Task) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.closed {
		return ErrQueueClosed
	}
	if rb.count == rb.size {
		return ErrQueueFull
	}

	rb.pushLocked(task)
	return nil
}

// PushWait adds a task, blocking while the queue is full until capacity
// frees up, the queue closes, or ctx is cancelled. Each drained item
// admits exactly one blocked producer.
func (rb *RingBuffer) PushWait(ctx context.Context, task *Task) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for rb.count == rb.size && !rb.closed {
		if err := rb.waitLocked(ctx, rb.notFull); err != nil {
			return err
		}
	}

	if rb.closed {
		return ErrQueueClosed
	}

	rb.pushLocked(task)
	return nil
}

func (rb *RingBuffer) pushLocked(task *Task) {
	rb.buffer[rb.tail] = task
	rb.tail = (rb.tail + 1) % rb.size
	rb.count++
	atomic.AddUint64(&rb.totalPushed, 1)
	rb.notEmpty.Signal()
}

// waitLocked waits on cond, waking early when ctx is cancelled. The
// watcher goroutine broadcasts so cancelled waiters re-check and return.
func (rb *RingBuffer) waitLocked(ctx context.Context, cond *sync.Cond) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ctx.Done() == nil {
		cond.Wait()
		return nil
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			rb.mu.Lock()
			cond.Broadcast()
			rb.mu.Unlock()
		case <-stop:
		}
	}()

	cond.Wait()
	close(stop)
	return ctx.Err()
}

// Pop removes a task without blocking. Returns ErrQueueEmpty when empty,
// ErrQueueClosed once closed and drained.
func (rb *RingBuffer) Pop() (*Task, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 {
		if rb.closed {
			return nil, ErrQueueClosed
		}
		return nil, ErrQueueEmpty
	}
	return rb.popLocked(), nil
}

// PopBlocking removes a task, blocking until one is available. Returns
// ErrQueueClosed once the queue is closed and fully drained.
func (rb *RingBuffer) PopBlocking() (*Task, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for rb.count == 0 && !rb.closed {
		rb.notEmpty.Wait()
	}

	if rb.count == 0 {
		return nil, ErrQueueClosed
	}
	return rb.popLocked(), nil
}

func (rb *RingBuffer) popLocked() *Task {
	task := rb.buffer[rb.head]
	rb.buffer[rb.head] = nil // allow GC
	rb.head = (rb.head + 1) % rb.size
	rb.count--
	atomic.AddUint64(&rb.totalPopped, 1)
	rb.notFull.Signal()
	return task
}

// Len returns the current number of queued tasks.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Cap returns the capacity of the queue.
func (rb *RingBuffer) Cap() int {
	return rb.size
}

// Close rejects further writes and wakes all waiters. Already-queued
// tasks remain poppable until drained.
func (rb *RingBuffer) Close() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.closed = true
	rb.notFull.Broadcast()
	rb.notEmpty.Broadcast()
}

// Metrics returns queue statistics.
func (rb *RingBuffer) Metrics() QueueMetrics {
	return QueueMetrics{
		Pushed:   atomic.LoadUint64(&rb.totalPushed),
		Popped:   atomic.LoadUint64(&rb.totalPopped),
		Depth:    rb.Len(),
		Capacity: rb.size,
	}
}

// QueueMetrics holds statistics about queue operations.
type QueueMetrics struct {
	Pushed   uint64 `json:"pushed"`
	Popped   uint64 `json:"popped"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
}
