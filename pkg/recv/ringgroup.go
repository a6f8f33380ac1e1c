// pkg/recv/ringgroup.go

package recv

import "sync"

// RingGroup is a Group wired to a pair of chunk rings: empty chunks are
// taken from the free ring and completed chunks are delivered to the data
// ring. Both rings are stopped as soon as any member is stopped by the
// user; chunks that become ready afterwards are diverted to a graveyard,
// which is emptied by the goroutine calling Stop.
type RingGroup struct {
	*Group
	dataRing *ChunkRing
	freeRing *ChunkRing

	gmu       sync.Mutex
	graveyard []*Chunk

	userHooks Hooks
}

// NewRingGroup creates a ring-backed group. The Allocate and Ready
// callbacks of the configuration are replaced by the ring pair.
func NewRingGroup(config GroupConfig, dataRing, freeRing *ChunkRing) (*RingGroup, error) {
	rg := &RingGroup{dataRing: dataRing, freeRing: freeRing}
	rg.userHooks = config.Hooks
	if rg.userHooks == nil {
		rg.userHooks = NopHooks{}
	}
	config.Allocate = rg.allocate
	config.Ready = rg.ready
	config.Hooks = (*ringHooks)(rg)
	g, err := NewGroup(config)
	if err != nil {
		return nil, err
	}
	rg.Group = g
	return rg, nil
}

// DataRing returns the ring delivering completed chunks.
func (rg *RingGroup) DataRing() *ChunkRing {
	return rg.dataRing
}

// FreeRing returns the ring replenishing empty chunks.
func (rg *RingGroup) FreeRing() *ChunkRing {
	return rg.freeRing
}

func (rg *RingGroup) allocate(chunkID int64, st *StreamStats) *Chunk {
	if rg.freeRing.Stopped() {
		return nil
	}
	c, ok := rg.freeRing.TryPop()
	if !ok {
		return nil
	}
	return c
}

func (rg *RingGroup) ready(c *Chunk, st *StreamStats) {
	if err := rg.dataRing.Push(c); err != nil {
		rg.gmu.Lock()
		rg.graveyard = append(rg.graveyard, c)
		rg.gmu.Unlock()
	}
}

// AddFreeChunk recycles a consumed chunk back into the free ring. A chunk
// that cannot be returned because the ring has stopped is dropped.
func (rg *RingGroup) AddFreeChunk(c *Chunk) {
	c.Reset()
	if err := rg.freeRing.TryPush(c); err != nil {
		c.Free()
	}
}

// Stop stops the rings, then the group, then empties the graveyard on the
// calling goroutine.
func (rg *RingGroup) Stop() {
	// Stopping the first member does this as well, but the rings must stop
	// even when the group has no members.
	rg.dataRing.Stop()
	rg.freeRing.Stop()
	rg.Group.Stop()
	rg.gmu.Lock()
	graveyard := rg.graveyard
	rg.graveyard = nil
	rg.gmu.Unlock()
	for _, c := range graveyard {
		c.Free()
	}
}

// graveyardLen is used by the tests.
func (rg *RingGroup) graveyardLen() int {
	rg.gmu.Lock()
	defer rg.gmu.Unlock()
	return len(rg.graveyard)
}

// ringHooks layers ring maintenance over the user's hooks.
type ringHooks RingGroup

func (h *ringHooks) StreamAdded(s *Stream) {
	h.dataRing.AddProducer()
	h.userHooks.StreamAdded(s)
}

func (h *ringHooks) StreamStopReceived(s *Stream) {
	h.dataRing.RemoveProducer()
	h.userHooks.StreamStopReceived(s)
}

func (h *ringHooks) StreamPreStop(s *Stream) {
	// Shut down the rings so a caller that is no longer servicing them
	// cannot deadlock the teardown.
	h.dataRing.Stop()
	h.freeRing.Stop()
	h.userHooks.StreamPreStop(s)
}
