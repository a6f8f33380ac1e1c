// pkg/recv/group_test.go

package recv

import (
	"sync"
	"testing"
	"time"

	"SpeadFlow/pkg/spead"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testHeapSize      = 4
	testHeapsPerChunk = 2
	testChunkSize     = testHeapSize * testHeapsPerChunk
)

func testPlace(h *spead.PacketHeader) (Placement, bool) {
	idx := h.HeapCnt % testHeapsPerChunk
	return Placement{
		ChunkID:    h.HeapCnt / testHeapsPerChunk,
		HeapIndex:  idx,
		HeapOffset: idx * testHeapSize,
	}, true
}

// heapPacket carries a complete heap in one packet.
func heapPacket(cnt int64) []byte {
	payload := make([]byte, testHeapSize)
	for i := range payload {
		payload[i] = byte(cnt)
	}
	return spead.EncodePacket(&spead.PacketSpec{
		HeapCnt:    cnt,
		HeapLength: testHeapSize,
		Payload:    payload,
	})
}

// partPacket carries half of a heap.
func partPacket(cnt int64, off int64) []byte {
	payload := make([]byte, testHeapSize/2)
	for i := range payload {
		payload[i] = byte(cnt)
	}
	return spead.EncodePacket(&spead.PacketSpec{
		HeapCnt:       cnt,
		HeapLength:    testHeapSize,
		PayloadOffset: off,
		Payload:       payload,
	})
}

type collector struct {
	mu     sync.Mutex
	chunks []*Chunk
}

func (c *collector) ready(ch *Chunk, st *StreamStats) {
	c.mu.Lock()
	c.chunks = append(c.chunks, ch)
	c.mu.Unlock()
}

func (c *collector) ids() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int64, len(c.chunks))
	for i, ch := range c.chunks {
		ids[i] = ch.ID
	}
	return ids
}

func (c *collector) get(i int) *Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chunks[i]
}

func (c *collector) waitLen(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second * 2)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		l := len(c.chunks)
		c.mu.Unlock()
		if l >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d chunks, got %d", n, len(c.ids()))
}

func newTestGroup(t *testing.T, maxChunks int64, eviction EvictionMode, col *collector) *Group {
	t.Helper()
	g, err := NewGroup(GroupConfig{
		MaxChunks: maxChunks,
		Eviction:  eviction,
		Allocate: func(id int64, st *StreamStats) *Chunk {
			return NewChunk(testHeapsPerChunk, testChunkSize)
		},
		Ready: col.ready,
	})
	require.NoError(t, err)
	return g
}

func emplace(t *testing.T, g *Group) *Stream {
	t.Helper()
	s, err := g.EmplaceMember(StreamConfig{Place: testPlace, StopOnStopItem: true})
	require.NoError(t, err)
	return s
}

// feedSync processes packets on the member's executor and waits for them.
func feedSync(s *Stream, pkts ...[]byte) {
	done := make(chan struct{})
	s.exec.Post(func() {
		for _, p := range pkts {
			s.handlePacket(p)
		}
		close(done)
	})
	<-done
}

func feedAsync(s *Stream, pkts ...[]byte) chan struct{} {
	done := make(chan struct{})
	s.exec.Post(func() {
		for _, p := range pkts {
			s.handlePacket(p)
		}
		close(done)
	})
	return done
}

func TestGroupConfigValidation(t *testing.T) {
	col := &collector{}
	alloc := func(id int64, st *StreamStats) *Chunk { return nil }

	_, err := NewGroup(GroupConfig{MaxChunks: 0, Allocate: alloc, Ready: col.ready})
	assert.Error(t, err)
	_, err = NewGroup(GroupConfig{MaxChunks: 2, Ready: col.ready})
	assert.Error(t, err)
	_, err = NewGroup(GroupConfig{MaxChunks: 2, Allocate: alloc})
	assert.Error(t, err)

	g := newTestGroup(t, 2, Lossy, col)
	_, err = g.EmplaceMember(StreamConfig{})
	assert.Error(t, err)
	g.Stop()
}

func TestSingleMemberWindowAdvance(t *testing.T) {
	col := &collector{}
	g := newTestGroup(t, 2, Lossy, col)
	s := emplace(t, g)

	// Heaps 0,1 complete chunk 0; heap 2 opens chunk 1. Both stay inside
	// the window.
	feedSync(s, heapPacket(0), heapPacket(1), heapPacket(2))
	assert.Empty(t, col.ids())

	// Heap 4 starts chunk 2 and pushes chunk 0 out of the window.
	feedSync(s, heapPacket(4))
	col.waitLen(t, 1)
	assert.Equal(t, []int64{0}, col.ids())
	assert.Equal(t, []byte{1, 1}, col.get(0).Present)
	assert.Equal(t, []byte{0, 0, 0, 0, 1, 1, 1, 1}, col.get(0).Data)

	// A heap routed behind the head is too old now.
	feedSync(s, heapPacket(1))
	assert.Equal(t, int64(1), s.Stats().TooOldHeaps)

	g.Stop()
	assert.Equal(t, []int64{0, 1, 2}, col.ids())
	assert.Equal(t, []byte{1, 0}, col.get(1).Present)
	assert.Equal(t, []byte{1, 0}, col.get(2).Present)
}

func TestLosslessBlocksOnLaggingMember(t *testing.T) {
	col := &collector{}
	g := newTestGroup(t, 4, Lossless, col)
	a := emplace(t, g)
	b := emplace(t, g)

	// A completes one heap in each of chunks 0..3; B leaves half a heap
	// in chunk 0.
	feedSync(a, heapPacket(0), heapPacket(2), heapPacket(4), heapPacket(6))
	feedSync(b, partPacket(1, 0))

	// A moving to chunk 4 must wait for B to let go of chunk 0.
	done := feedAsync(a, heapPacket(8))
	select {
	case <-done:
		t.Fatal("get_chunk should block while chunk 0 is held")
	case <-time.After(time.Millisecond * 100):
	}

	feedSync(b, partPacket(1, testHeapSize/2))
	select {
	case <-done:
	case <-time.After(time.Second * 2):
		t.Fatal("get_chunk did not unblock")
	}
	col.waitLen(t, 1)
	assert.Equal(t, []int64{0}, col.ids())
	assert.Equal(t, []byte{1, 1}, col.get(0).Present)

	g.Stop()
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, col.ids())
}

func TestLossyEvictsLaggingMember(t *testing.T) {
	col := &collector{}
	g := newTestGroup(t, 4, Lossy, col)
	a := emplace(t, g)
	b := emplace(t, g)

	feedSync(a, heapPacket(0), heapPacket(2), heapPacket(4), heapPacket(6))
	feedSync(b, partPacket(1, 0))

	// A moving to chunk 4 does not wait for B's heap to complete: B is
	// told to drop its half-received heap and A proceeds.
	done := feedAsync(a, heapPacket(8))
	select {
	case <-done:
	case <-time.After(time.Second * 2):
		t.Fatal("get_chunk should not block in lossy mode")
	}
	col.waitLen(t, 1)
	assert.Equal(t, []int64{0}, col.ids())
	assert.Equal(t, []byte{1, 0}, col.get(0).Present)

	deadline := time.Now().Add(time.Second * 2)
	for b.Stats().IncompleteHeapsEvicted == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, int64(1), b.Stats().IncompleteHeapsEvicted)

	// The second half arrives too late and opens a heap behind the head.
	feedSync(b, partPacket(1, testHeapSize/2))
	assert.Equal(t, int64(1), b.Stats().TooOldHeaps)

	g.Stop()
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, col.ids())
}

func TestAllocateFailSkipsChunk(t *testing.T) {
	col := &collector{}
	g, err := NewGroup(GroupConfig{
		MaxChunks: 2,
		Allocate: func(id int64, st *StreamStats) *Chunk {
			if id == 1 {
				return nil
			}
			return NewChunk(testHeapsPerChunk, testChunkSize)
		},
		Ready: col.ready,
	})
	require.NoError(t, err)
	s := emplace(t, g)

	feedSync(s, heapPacket(0), heapPacket(1)) // chunk 0
	feedSync(s, heapPacket(2), heapPacket(3)) // chunk 1: allocation declined
	assert.Equal(t, int64(2), s.Stats().RejectedHeaps)

	feedSync(s, heapPacket(4)) // chunk 2 still works
	col.waitLen(t, 1)
	g.Stop()
	assert.Equal(t, []int64{0, 2}, col.ids())
	assert.Equal(t, int64(2), s.Stats().RejectedHeaps)
}

func TestBadPacketDoesNotTouchWindow(t *testing.T) {
	col := &collector{}
	g := newTestGroup(t, 2, Lossy, col)
	s := emplace(t, g)

	bad := heapPacket(0)
	bad[0] = 0x54
	feedSync(s, bad, []byte{1, 2, 3})
	assert.Equal(t, int64(2), s.Stats().BadPackets)
	assert.Equal(t, int64(0), s.Stats().Packets)
	assert.False(t, g.window.occupied())

	g.Stop()
	assert.Empty(t, col.ids())
}

func TestStopItemFlushesMember(t *testing.T) {
	col := &collector{}
	g := newTestGroup(t, 2, Lossy, col)
	s := emplace(t, g)

	feedSync(s, partPacket(0, 0))
	feedSync(s, spead.EncodeStopPacket(100))
	assert.Equal(t, int64(1), s.Stats().StopItems)
	assert.Equal(t, int64(1), s.Stats().IncompleteHeapsEvicted)

	// The last member left, so the window is flushed downstream.
	col.waitLen(t, 1)
	assert.Equal(t, []int64{0}, col.ids())
	assert.Equal(t, []byte{0, 0}, col.get(0).Present)

	// Packets after the stop are dropped silently.
	packets := s.Stats().Packets
	feedSync(s, heapPacket(4))
	assert.Equal(t, packets, s.Stats().Packets)

	g.Stop()
	assert.Equal(t, []int64{0}, col.ids())
}

func TestLiveStreamsAccounting(t *testing.T) {
	col := &collector{}
	g := newTestGroup(t, 2, Lossy, col)
	a := emplace(t, g)
	emplace(t, g)
	assert.Equal(t, 2, g.Len())

	g.mu.Lock()
	assert.Equal(t, 2, g.liveStreams)
	g.mu.Unlock()

	feedSync(a, spead.EncodeStopPacket(0))
	g.mu.Lock()
	assert.Equal(t, 1, g.liveStreams)
	g.mu.Unlock()

	g.Stop()
	g.mu.Lock()
	assert.Equal(t, 0, g.liveStreams)
	g.mu.Unlock()
	assert.False(t, g.window.occupied())
}

func TestBlockingReadyDoesNotStallGroup(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	col := &collector{}
	g, err := NewGroup(GroupConfig{
		MaxChunks: 2,
		Eviction:  Lossy,
		Allocate: func(id int64, st *StreamStats) *Chunk {
			return NewChunk(testHeapsPerChunk, testChunkSize)
		},
		Ready: func(c *Chunk, st *StreamStats) {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-gate
			col.ready(c, st)
		},
	})
	require.NoError(t, err)
	a := emplace(t, g)
	b := emplace(t, g)

	feedSync(a, heapPacket(0))
	// Chunk 2 pushes chunk 0 out; A gets stuck in the ready callback, but
	// only after letting go of the group mutex. B is fed only once A is
	// inside the callback, so that A and not B is the delivering goroutine.
	aDone := feedAsync(a, heapPacket(4))
	select {
	case <-entered:
	case <-time.After(time.Second * 2):
		t.Fatal("chunk 0 was not handed to the ready callback")
	}

	// B keeps acquiring and releasing in-window chunks meanwhile.
	bDone := feedAsync(b, heapPacket(3), heapPacket(5))
	select {
	case <-bDone:
	case <-time.After(time.Second * 2):
		t.Fatal("a blocked ready callback must not stall other members")
	}

	close(gate)
	select {
	case <-aDone:
	case <-time.After(time.Second * 2):
		t.Fatal("delivery did not resume")
	}
	g.Stop()
	assert.Equal(t, []int64{0, 1, 2}, col.ids())
}

func TestWindowJumpSkipsEmptySlots(t *testing.T) {
	col := &collector{}
	g := newTestGroup(t, 2, Lossy, col)
	s := emplace(t, g)

	feedSync(s, heapPacket(0))
	// Jumping far ahead delivers only the occupied slot; the empty ids in
	// between are skipped without being allocated.
	feedSync(s, heapPacket(20)) // chunk 10
	col.waitLen(t, 1)
	assert.Equal(t, []int64{0}, col.ids())

	g.Stop()
	assert.Equal(t, []int64{0, 10}, col.ids())
}

func TestStopIdempotent(t *testing.T) {
	col := &collector{}
	g := newTestGroup(t, 2, Lossy, col)
	s := emplace(t, g)
	feedSync(s, heapPacket(0))
	g.Stop()
	g.Stop()
	assert.Equal(t, []int64{0}, col.ids())
}
