package game

import (
	"errors"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

var (
	// ErrQueueFull is returned when a player's pending input queue is at capacity.
	ErrQueueFull = errors.New("game: input queue full")
	// ErrQueueClosed is returned once the owning player has disconnected.
	ErrQueueClosed = errors.New("game: input queue closed")
)

// Input is one client control frame. The server interprets it during a tick;
// it is consumed exactly once.
type Input struct {
	Forward   bool
	Backward  bool
	Left      bool
	Right     bool
	Jump      bool
	LookDelta mgl32.Vec2
	Tick      uint64 // client-declared tick the frame belongs to
}

// InputQueue is a bounded FIFO of inputs waiting for the next tick. It is
// guarded by its own mutex so connection goroutines never touch the registry.
type InputQueue struct {
	mu      sync.Mutex
	pending []Input
	cap     int
	dropped uint64
	closed  bool
}

// NewInputQueue creates a queue that keeps at most capacity inputs.
// A non-positive capacity falls back to 256.
func NewInputQueue(capacity int) *InputQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &InputQueue{cap: capacity}
}

// Push appends an input. When full the new input is dropped so the inputs
// already queued keep their order.
func (q *InputQueue) Push(in Input) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if len(q.pending) >= q.cap {
		q.dropped++
		return ErrQueueFull
	}
	q.pending = append(q.pending, in)
	return nil
}

// Drain removes and returns every queued input in submission order.
func (q *InputQueue) Drain() []Input {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	out := q.pending
	q.pending = nil
	return out
}

// Len reports the number of pending inputs.
func (q *InputQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Dropped reports how many inputs were discarded because the queue was full.
func (q *InputQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close rejects further pushes and discards anything still pending.
func (q *InputQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.pending = nil
}
