// pkg/recv/config.go

package recv

import (
	"SpeadFlow/pkg/spead"

	"github.com/pkg/errors"
)

// EvictionMode controls what happens when new data arrives past the tail of
// the group window and older chunks have to make room.
type EvictionMode int

const (
	// Lossy forces member streams to release incomplete chunks.
	Lossy EvictionMode = iota
	// Lossless delivers a chunk only once every member has released it;
	// backpressure propagates upstream by blocking the packet path.
	Lossless
)

func (m EvictionMode) String() string {
	if m == Lossless {
		return "lossless"
	}
	return "lossy"
}

// DefaultMaxChunks is a suggested size of the group window. NewGroup does
// not fill it in: a zero MaxChunks is rejected.
const DefaultMaxChunks = 2

// AllocateFunc returns a chunk to hold the given chunk ID, or nil if no
// chunk can be provided (the ID is then skipped and its heaps are lost).
type AllocateFunc func(chunkID int64, st *StreamStats) *Chunk

// ReadyFunc receives a completed chunk. Chunks are handed over in strictly
// ascending chunk ID order, each exactly once. st is nil for chunks flushed
// during group teardown.
type ReadyFunc func(c *Chunk, st *StreamStats)

// Placement is the routing decision for one heap.
type Placement struct {
	ChunkID    int64
	HeapIndex  int64
	HeapOffset int64
}

// PlaceFunc maps a packet header to the chunk slot its heap belongs to.
// It must be deterministic and side-effect free; returning false rejects
// the heap.
type PlaceFunc func(h *spead.PacketHeader) (Placement, bool)

// Hooks are extension points fired on membership changes. The zero-value
// NopHooks is used when none are configured.
type Hooks interface {
	// StreamAdded is called under the group mutex for a newly added member.
	StreamAdded(s *Stream)
	// StreamStopReceived is called once per member after it has flushed,
	// whether the stop came from the network or from the user.
	StreamStopReceived(s *Stream)
	// StreamPreStop is called before a member is stopped by the user,
	// outside the group mutex.
	StreamPreStop(s *Stream)
}

// NopHooks implements Hooks doing nothing.
type NopHooks struct{}

func (NopHooks) StreamAdded(*Stream)        {}
func (NopHooks) StreamStopReceived(*Stream) {}
func (NopHooks) StreamPreStop(*Stream)      {}

// GroupConfig configures a chunk stream group.
type GroupConfig struct {
	// MaxChunks is the number of chunks that can be live at the same time.
	// A value of 1 means heaps must arrive in chunk order.
	MaxChunks int64
	Eviction  EvictionMode
	Allocate  AllocateFunc
	Ready     ReadyFunc
	Hooks     Hooks
}

func (c *GroupConfig) validate() error {
	if c.MaxChunks <= 0 {
		return errors.New("max chunks must be positive")
	}
	if c.Allocate == nil {
		return errors.New("allocate callback is not set")
	}
	if c.Ready == nil {
		return errors.New("ready callback is not set")
	}
	if c.Hooks == nil {
		c.Hooks = NopHooks{}
	}
	return nil
}

// Defaults for StreamConfig.
const (
	DefaultMaxHeaps      = 16
	DefaultMaxPacketSize = 65536
)

// StreamConfig configures one member stream of a group.
type StreamConfig struct {
	// MaxHeaps bounds the number of partially received heaps kept per
	// member; the oldest is aborted when the table is full.
	MaxHeaps int
	// MaxPacketSize bounds the size of an accepted datagram.
	MaxPacketSize int
	// MaxHeapSize rejects heaps declaring a larger length; 0 means no limit.
	MaxHeapSize int64
	Place       PlaceFunc
	// StopOnStopItem stops the member when a stream_ctrl stop item arrives.
	StopOnStopItem bool
}

func (c *StreamConfig) validate() error {
	if c.Place == nil {
		return errors.New("place callback is not set")
	}
	if c.MaxHeaps <= 0 {
		c.MaxHeaps = DefaultMaxHeaps
	}
	if c.MaxPacketSize <= 0 {
		c.MaxPacketSize = DefaultMaxPacketSize
	}
	return nil
}
