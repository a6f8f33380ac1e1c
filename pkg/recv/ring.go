// pkg/recv/ring.go

package recv

import (
	"sync"

	"SpeadFlow/pkg/utils"

	"github.com/pkg/errors"
)

// ErrRingStopped is returned by ring operations after the ring stopped, or
// by Pop once every producer is gone and the ring has drained.
var ErrRingStopped = errors.New("ring buffer is stopped")

// ChunkRing is a bounded MPMC queue of chunks. Producers are counted: when
// the last producer leaves, the ring stops once drained so consumers see
// end-of-stream. Stop() wakes every blocked caller; chunks already queued
// can still be popped afterwards.
type ChunkRing struct {
	mu       sync.Mutex
	notFull  *utils.Cond
	notEmpty *utils.Cond

	items []*Chunk
	head  int
	count int

	producers int
	stopped   bool
	draining  bool // no producers left, stop once empty
}

// NewChunkRing creates a ring with the given capacity.
func NewChunkRing(capacity int) *ChunkRing {
	if capacity < 1 {
		capacity = 1
	}
	r := &ChunkRing{items: make([]*Chunk, capacity)}
	r.notFull = utils.NewCond(&r.mu)
	r.notEmpty = utils.NewCond(&r.mu)
	return r
}

func (r *ChunkRing) Cap() int {
	return len(r.items)
}

func (r *ChunkRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Push appends a chunk, blocking while the ring is full.
func (r *ChunkRing) Push(c *Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for !r.stopped && r.count == len(r.items) {
		r.notFull.Wait()
	}
	if r.stopped {
		return ErrRingStopped
	}
	r.items[(r.head+r.count)%len(r.items)] = c
	r.count++
	r.notEmpty.Signal()
	return nil
}

// TryPush appends a chunk without blocking.
func (r *ChunkRing) TryPush(c *Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrRingStopped
	}
	if r.count == len(r.items) {
		return errors.New("ring buffer is full")
	}
	r.items[(r.head+r.count)%len(r.items)] = c
	r.count++
	r.notEmpty.Signal()
	return nil
}

// Pop removes the oldest chunk, blocking while the ring is empty. It keeps
// returning queued chunks after a stop, and ErrRingStopped once drained.
func (r *ChunkRing) Pop() (*Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.count == 0 {
		if r.stopped || r.draining {
			return nil, ErrRingStopped
		}
		r.notEmpty.Wait()
	}
	return r.popLocked(), nil
}

// TryPop removes the oldest chunk without blocking. The second value is
// false when nothing was available.
func (r *ChunkRing) TryPop() (*Chunk, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return nil, false
	}
	return r.popLocked(), true
}

func (r *ChunkRing) popLocked() *Chunk {
	c := r.items[r.head]
	r.items[r.head] = nil
	r.head = (r.head + 1) % len(r.items)
	r.count--
	r.notFull.Signal()
	return c
}

// AddProducer registers a producer feeding the ring.
func (r *ChunkRing) AddProducer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers++
	r.draining = false
}

// RemoveProducer unregisters a producer. When the count drops to zero the
// ring transitions to stopped-once-drained.
func (r *ChunkRing) RemoveProducer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers--
	if r.producers <= 0 {
		r.draining = true
		r.notEmpty.Broadcast()
	}
}

// Stop wakes all blocked callers. Push fails afterwards; Pop keeps serving
// whatever is already queued.
func (r *ChunkRing) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	r.notFull.Broadcast()
	r.notEmpty.Broadcast()
}

// Stopped reports whether Stop was called.
func (r *ChunkRing) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}
