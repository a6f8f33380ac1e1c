// pkg/recv/chunk.go

package recv

import "SpeadFlow/pkg/utils"

// InvalidChunkID marks a chunk that is not bound to any window position.
const InvalidChunkID = -1

// Chunk is a fixed-size aggregation window for a contiguous range of heaps.
// Ownership is shared between the group window and the member streams
// writing into it; the reference count is embedded in the chunk and is
// only touched under the group mutex.
type Chunk struct {
	// ID of the chunk, or InvalidChunkID while the chunk is free.
	ID int64
	// StreamID of the member that most recently touched the chunk.
	StreamID int
	// Data holds the payload of all heaps routed to this chunk.
	Data []byte
	// Present has one byte per expected heap, set to 1 once the heap has
	// been fully received. Bytes are never cleared for a given occupancy.
	Present []byte
	// Extra is optional per-heap metadata. NewChunk leaves it nil and the
	// receive path never writes it (the place callback sees only the packet
	// header); Reset zeroes it.
	Extra []byte

	refs int64
}

// NewChunk returns a free chunk able to hold heaps heaps and size payload bytes.
func NewChunk(heaps, size int) *Chunk {
	return &Chunk{
		ID:       InvalidChunkID,
		StreamID: -1,
		Data:     utils.Alloc(size),
		Present:  make([]byte, heaps),
	}
}

// Reset prepares a consumed chunk for reuse.
func (c *Chunk) Reset() {
	c.ID = InvalidChunkID
	c.StreamID = -1
	for i := range c.Present {
		c.Present[i] = 0
	}
	for i := range c.Extra {
		c.Extra[i] = 0
	}
}

// Free releases the accounting for the chunk's buffer.
func (c *Chunk) Free() {
	if c.Data != nil {
		utils.Free(c.Data)
		c.Data = nil
	}
}
