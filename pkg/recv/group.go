// pkg/recv/group.go

package recv

import (
	"sync"
	"sync/atomic"

	"SpeadFlow/pkg/utils"
)

var logger = utils.GetLogger("speadflow")

// Group aggregates multiple member streams writing into a shared window of
// chunks. Completed chunks leave the window through the configured ready
// callback in strictly ascending chunk ID order, each exactly once.
//
// The public surface (EmplaceMember, Stop, member inspection) must be
// called from one goroutine at a time; in particular Stop must not run
// concurrently with EmplaceMember. The internal chunk operations are
// thread-safe and are serialised by the group mutex.
type Group struct {
	config GroupConfig

	mu sync.Mutex
	// readyCond is notified whenever a chunk is left with only the window's
	// reference, and on stop, so that eviction can make progress.
	readyCond *utils.Cond

	window *chunkWindow
	// readyQueue holds chunks that left the window with no references
	// left, in ascending ID order, until the active dispatcher hands them
	// to the ready callback. The callback runs outside the group mutex (it
	// may block on a full data ring); a single dispatcher at a time keeps
	// deliveries ordered.
	readyQueue  []*Chunk
	dispatching bool

	streams     []*Stream
	liveStreams int

	stopping bool
	stopOnce sync.Once
}

// NewGroup creates a group for the given configuration.
func NewGroup(config GroupConfig) (*Group, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	g := &Group{
		config: config,
		window: newChunkWindow(config.MaxChunks),
	}
	g.readyCond = utils.NewCond(&g.mu)
	return g, nil
}

// Config returns the group configuration.
func (g *Group) Config() GroupConfig {
	return g.config
}

// EmplaceMember constructs a new member stream and attaches it to the group.
func (g *Group) EmplaceMember(config StreamConfig) (*Stream, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	s := newStream(g, len(g.streams), config)
	g.streams = append(g.streams, s)
	g.liveStreams++
	g.config.Hooks.StreamAdded(s)
	g.mu.Unlock()
	return s, nil
}

// Len returns the number of member streams.
func (g *Group) Len() int {
	return len(g.streams)
}

// Member returns the member stream at the given index.
func (g *Group) Member(i int) *Stream {
	return g.streams[i]
}

// Stop stops every member, releases all chunks still held by the window and
// returns once everything has been delivered. It is idempotent; concurrent
// callers block until the first one finishes.
func (g *Group) Stop() {
	g.stopOnce.Do(g.stop)
}

func (g *Group) stop() {
	g.mu.Lock()
	g.stopping = true
	streams := make([]*Stream, len(g.streams))
	copy(streams, g.streams)
	g.mu.Unlock()
	// Wake members blocked inside getChunk before joining them.
	g.readyCond.Broadcast()

	for _, s := range streams {
		s.Stop()
	}

	g.mu.Lock()
	g.flushWindowLocked()
	g.mu.Unlock()
	g.dispatchReady(nil)
}

// getChunk returns the chunk with the given ID with its reference count
// incremented, shifting the window if the ID is beyond the tail. It returns
// nil if the ID is too old, the allocator declined, or the group stopped.
//
// Advancing the window may block until the members let go of the slots
// being vacated: in lossless mode by finishing or releasing their heaps on
// their own, in lossy mode prodded by a flush request posted to every
// member. Vacated chunks are handed to the ready callback outside the mutex
// before returning, unless another goroutine is already dispatching; that
// goroutine then delivers them and this call returns without waiting.
func (g *Group) getChunk(chunkID int64, streamID int, st *StreamStats) *Chunk {
	g.mu.Lock()
	c := g.getChunkLocked(chunkID, streamID, st)
	g.mu.Unlock()
	g.dispatchReady(st)
	return c
}

func (g *Group) getChunkLocked(chunkID int64, streamID int, st *StreamStats) *Chunk {
	flushAsked := false
	for {
		if g.stopping {
			return nil
		}
		if chunkID < g.window.headChunk() {
			atomic.AddInt64(&st.TooOldHeaps, 1)
			return nil
		}
		if chunkID < g.window.tailChunk() {
			break
		}
		target := chunkID - g.window.capacity() + 1 // head after the shift
		if g.config.Eviction == Lossy && !flushAsked {
			// Ask every member to drop its stake in the slots about to be
			// vacated; their executors release the references promptly.
			for _, s := range g.streams {
				s.asyncFlushUntil(target)
			}
			flushAsked = true
		}
		// Evict the oldest slot once it is held by the window alone.
		if c := g.window.get(g.window.headChunk()); c != nil && c.refs > 1 {
			g.readyCond.Wait()
			continue
		}
		g.window.flushHead(g.queueReadyLocked)
	}

	c := g.window.get(chunkID)
	if c == nil {
		c = g.config.Allocate(chunkID, st)
		if c == nil {
			atomic.AddInt64(&st.RejectedHeaps, 1)
			return nil
		}
		c.ID = chunkID
		c.refs = 1 // the window's own reference
		g.window.put(c)
	}
	c.refs++
	c.StreamID = streamID
	return c
}

// queueReadyLocked drops the window's reference of a vacated chunk and
// queues it for delivery. The callers only vacate slots whose members have
// all let go, so the count must reach zero here.
func (g *Group) queueReadyLocked(c *Chunk) {
	c.refs--
	if c.refs != 0 {
		logger.Errorf("chunk %d evicted with %d references", c.ID, c.refs)
		c.refs = 0
	}
	g.readyQueue = append(g.readyQueue, c)
}

// releaseChunk drops one member reference and wakes any eviction waiting
// for the count to drain. It never blocks beyond the mutex; delivery of the
// chunk happens on the goroutine that dispatches it after eviction.
func (g *Group) releaseChunk(c *Chunk, st *StreamStats) {
	g.mu.Lock()
	c.refs--
	if c.refs <= 1 {
		g.readyCond.Broadcast()
	}
	g.mu.Unlock()
}

// dispatchReady drains the ready queue into the user callback. The group
// mutex is only taken to pop the queue: the callback itself runs unlocked,
// so a slow consumer stalls only the delivering goroutine. At most one
// dispatcher is active at a time, which keeps deliveries in queue order;
// everyone else returns immediately, since the active dispatcher re-checks
// the queue after every delivery and drains whatever was added meanwhile.
// st may be nil.
func (g *Group) dispatchReady(st *StreamStats) {
	g.mu.Lock()
	if g.dispatching {
		g.mu.Unlock()
		return
	}
	g.dispatching = true
	for len(g.readyQueue) > 0 {
		c := g.readyQueue[0]
		g.readyQueue = g.readyQueue[1:]
		g.mu.Unlock()
		g.config.Ready(c, st)
		g.mu.Lock()
	}
	g.dispatching = false
	g.mu.Unlock()
}

// flushWindowLocked queues every chunk still resident in the window.
// Callers must have drained all member references first, and must call
// dispatchReady after releasing the mutex.
func (g *Group) flushWindowLocked() {
	g.window.reset(g.queueReadyLocked)
}

// streamStopReceived accounts for a member that will produce no more heaps.
// When the last one leaves, the remaining window is flushed downstream.
func (g *Group) streamStopReceived(s *Stream) {
	g.mu.Lock()
	g.liveStreams--
	last := g.liveStreams == 0
	if last {
		g.flushWindowLocked()
	}
	g.mu.Unlock()
	if last {
		g.dispatchReady(nil)
	}
	g.config.Hooks.StreamStopReceived(s)
}
