// pkg/recv/stream_test.go

package recv

import (
	"testing"

	"SpeadFlow/pkg/spead"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamMaxHeapsAbortsOldest(t *testing.T) {
	col := &collector{}
	g := newTestGroup(t, 4, Lossy, col)
	s, err := g.EmplaceMember(StreamConfig{Place: testPlace, MaxHeaps: 2})
	require.NoError(t, err)

	feedSync(s, partPacket(0, 0), partPacket(2, 0))
	assert.Equal(t, int64(0), s.Stats().IncompleteHeapsEvicted)
	feedSync(s, partPacket(4, 0))
	assert.Equal(t, int64(1), s.Stats().IncompleteHeapsEvicted)

	// The youngest heaps are still live and can complete.
	feedSync(s, partPacket(2, testHeapSize/2), partPacket(4, testHeapSize/2))
	assert.Equal(t, int64(2), s.Stats().CompletedHeaps)
	g.Stop()
}

func TestStreamMaxHeapSize(t *testing.T) {
	col := &collector{}
	g := newTestGroup(t, 4, Lossy, col)
	s, err := g.EmplaceMember(StreamConfig{Place: testPlace, MaxHeapSize: testHeapSize / 2})
	require.NoError(t, err)

	feedSync(s, heapPacket(0))
	assert.Equal(t, int64(1), s.Stats().RejectedHeaps)
	assert.Equal(t, int64(1), s.Stats().Packets)
	g.Stop()
	assert.Empty(t, col.ids())
}

func TestStreamPlaceReject(t *testing.T) {
	col := &collector{}
	g := newTestGroup(t, 4, Lossy, col)
	reject := func(h *spead.PacketHeader) (Placement, bool) {
		return Placement{}, false
	}
	s, err := g.EmplaceMember(StreamConfig{Place: reject})
	require.NoError(t, err)

	feedSync(s, heapPacket(0))
	assert.Equal(t, int64(1), s.Stats().RejectedHeaps)
	g.Stop()
	assert.Empty(t, col.ids())
}

func TestStreamOversizedDatagram(t *testing.T) {
	col := &collector{}
	g := newTestGroup(t, 4, Lossy, col)
	s, err := g.EmplaceMember(StreamConfig{Place: testPlace, MaxPacketSize: 16})
	require.NoError(t, err)

	feedSync(s, heapPacket(0)) // larger than 16 bytes with its pointer table
	assert.Equal(t, int64(1), s.Stats().BadPackets)
	g.Stop()
}

func TestStreamPayloadBeyondChunk(t *testing.T) {
	col := &collector{}
	g := newTestGroup(t, 4, Lossy, col)
	// Place every heap at the end of the chunk so a full heap spills over.
	place := func(h *spead.PacketHeader) (Placement, bool) {
		return Placement{ChunkID: h.HeapCnt, HeapIndex: 0, HeapOffset: testChunkSize - 1}, true
	}
	s, err := g.EmplaceMember(StreamConfig{Place: place})
	require.NoError(t, err)

	feedSync(s, heapPacket(0))
	assert.Equal(t, int64(1), s.Stats().BadPackets)
	g.Stop()
}
