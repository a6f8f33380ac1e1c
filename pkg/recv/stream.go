// pkg/recv/stream.go

package recv

import (
	"io"
	"sync"
	"sync/atomic"

	"SpeadFlow/pkg/spead"
)

// heapState tracks the assembly of one heap. A heap is open when created,
// assembling while payload arrives, and is dropped from the table once
// complete or aborted.
type heapState struct {
	cnt      int64
	length   int64 // declared heap length, -1 when unknown
	received int64
	chunk    *Chunk
	offset   int64 // base offset of the heap inside the chunk buffer
	index    int64 // heap index inside the chunk
	serial   int64 // creation order, used to abort the oldest first
}

// Stream is one member of a chunk stream group. All heap assembly runs on
// the member's serial executor; HandlePacket can be called from any
// goroutine (typically a reader loop).
type Stream struct {
	id     int
	group  *Group
	config StreamConfig
	exec   *serialExecutor

	stats StreamStats

	// State below is only touched on the executor goroutine.
	heaps      map[int64]*heapState
	nextSerial int64
	// headChunk is the oldest chunk ID this member may still write to; the
	// member holds no references behind it.
	headChunk int64
	stopped   bool

	stopOnce sync.Once
	readers  []io.Closer
	rmu      sync.Mutex
}

func newStream(g *Group, id int, config StreamConfig) *Stream {
	return &Stream{
		id:     id,
		group:  g,
		config: config,
		exec:   newSerialExecutor(),
		heaps:  make(map[int64]*heapState),
	}
}

// ID returns the index of the member within its group.
func (s *Stream) ID() int {
	return s.id
}

// Stats returns a snapshot of the member's batch statistics.
func (s *Stream) Stats() StreamStats {
	return s.stats.Snapshot()
}

// HandlePacket schedules one datagram for processing. The data is owned by
// the stream until processed and must not be reused by the caller.
func (s *Stream) HandlePacket(data []byte) {
	s.exec.Post(func() { s.handlePacket(data) })
}

func (s *Stream) handlePacket(data []byte) {
	if s.stopped {
		return
	}
	if len(data) > s.config.MaxPacketSize {
		atomic.AddInt64(&s.stats.BadPackets, 1)
		return
	}
	var ph spead.PacketHeader
	if spead.DecodePacket(&ph, data) == 0 {
		atomic.AddInt64(&s.stats.BadPackets, 1)
		return
	}
	atomic.AddInt64(&s.stats.Packets, 1)
	if ph.IsStop() {
		atomic.AddInt64(&s.stats.StopItems, 1)
		if s.config.StopOnStopItem {
			s.stopReceived()
		}
		return
	}
	if s.config.MaxHeapSize > 0 && ph.HeapLength > s.config.MaxHeapSize {
		atomic.AddInt64(&s.stats.RejectedHeaps, 1)
		return
	}

	h := s.heaps[ph.HeapCnt]
	if h == nil {
		h = s.openHeap(&ph)
		if h == nil {
			return
		}
	}

	off := h.offset + ph.PayloadOffset
	if off < 0 || off+ph.PayloadLength > int64(len(h.chunk.Data)) {
		atomic.AddInt64(&s.stats.BadPackets, 1)
		return
	}
	copy(h.chunk.Data[off:off+ph.PayloadLength], ph.Payload)
	h.chunk.StreamID = s.id
	h.received += ph.PayloadLength
	if h.length >= 0 && h.received >= h.length {
		s.completeHeap(h)
	}
}

// openHeap routes a new heap through the place callback and acquires its
// chunk from the group.
func (s *Stream) openHeap(ph *spead.PacketHeader) *heapState {
	pl, ok := s.config.Place(ph)
	if !ok || pl.ChunkID < 0 {
		atomic.AddInt64(&s.stats.RejectedHeaps, 1)
		return nil
	}
	// A member never keeps references behind its own window position:
	// release stale heaps before asking the group to advance.
	maxChunks := s.group.window.capacity()
	if pl.ChunkID >= s.headChunk+maxChunks {
		s.flushUntil(pl.ChunkID - maxChunks + 1)
	}
	c := s.group.getChunk(pl.ChunkID, s.id, &s.stats)
	if c == nil {
		return nil
	}
	if len(s.heaps) >= s.config.MaxHeaps {
		s.abortOldest()
	}
	atomic.AddInt64(&s.stats.Heaps, 1)
	h := &heapState{
		cnt:    ph.HeapCnt,
		length: ph.HeapLength,
		chunk:  c,
		offset: pl.HeapOffset,
		index:  pl.HeapIndex,
		serial: s.nextSerial,
	}
	s.nextSerial++
	s.heaps[ph.HeapCnt] = h
	return h
}

func (s *Stream) completeHeap(h *heapState) {
	if h.index >= 0 && h.index < int64(len(h.chunk.Present)) {
		h.chunk.Present[h.index] = 1
	}
	atomic.AddInt64(&s.stats.CompletedHeaps, 1)
	delete(s.heaps, h.cnt)
	s.group.releaseChunk(h.chunk, &s.stats)
}

func (s *Stream) abortHeap(h *heapState) {
	atomic.AddInt64(&s.stats.IncompleteHeapsEvicted, 1)
	delete(s.heaps, h.cnt)
	s.group.releaseChunk(h.chunk, &s.stats)
}

func (s *Stream) abortOldest() {
	var oldest *heapState
	for _, h := range s.heaps {
		if oldest == nil || h.serial < oldest.serial {
			oldest = h
		}
	}
	if oldest != nil {
		s.abortHeap(oldest)
	}
}

// flushUntil aborts every partial heap routed to a chunk with ID strictly
// less than chunkID. It runs on the executor goroutine.
func (s *Stream) flushUntil(chunkID int64) {
	for _, h := range s.heaps {
		if h.chunk.ID < chunkID {
			s.abortHeap(h)
		}
	}
	if chunkID > s.headChunk {
		s.headChunk = chunkID
	}
}

// asyncFlushUntil posts a deferred flush, so the group can reclaim evicted
// slots without blocking on this member. Safe to call from any goroutine.
func (s *Stream) asyncFlushUntil(chunkID int64) {
	s.exec.Post(func() { s.flushUntil(chunkID) })
}

// stopReceived flushes all remaining heaps and detaches the member from the
// group accounting. Runs on the executor goroutine; idempotent.
func (s *Stream) stopReceived() {
	if s.stopped {
		return
	}
	s.stopped = true
	for _, h := range s.heaps {
		s.abortHeap(h)
	}
	s.group.streamStopReceived(s)
}

// Stop stops the member: readers are closed, pending work is drained, and
// any partial heaps are released. Packets arriving afterwards are dropped
// silently. It is idempotent; the group calls it for every member during
// its own Stop.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		s.group.config.Hooks.StreamPreStop(s)
		s.rmu.Lock()
		readers := s.readers
		s.readers = nil
		s.rmu.Unlock()
		for _, r := range readers {
			_ = r.Close()
		}
		done := make(chan struct{})
		s.exec.Post(func() {
			s.stopReceived()
			close(done)
		})
		<-done
		s.exec.Close()
	})
}

func (s *Stream) addReader(r io.Closer) {
	s.rmu.Lock()
	s.readers = append(s.readers, r)
	s.rmu.Unlock()
}
