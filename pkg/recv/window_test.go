// pkg/recv/window_test.go

package recv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowBounds(t *testing.T) {
	w := newChunkWindow(4)
	assert.Equal(t, int64(4), w.capacity())
	assert.Equal(t, int64(0), w.headChunk())
	assert.Equal(t, int64(4), w.tailChunk())
	assert.False(t, w.occupied())

	c := &Chunk{ID: 2}
	w.put(c)
	assert.Same(t, c, w.get(2))
	assert.True(t, w.occupied())
	assert.Nil(t, w.get(0))
}

func TestWindowFlushHeadSkipsEmpty(t *testing.T) {
	w := newChunkWindow(4)
	w.put(&Chunk{ID: 1})
	w.put(&Chunk{ID: 3})

	var flushed []int64
	sink := func(c *Chunk) { flushed = append(flushed, c.ID) }
	for i := 0; i < 3; i++ {
		w.flushHead(sink)
	}
	assert.Equal(t, []int64{1}, flushed)
	assert.Equal(t, int64(3), w.headChunk())
	assert.Equal(t, int64(7), w.tailChunk())
	// Slot 3 is still inside the shifted window.
	require.NotNil(t, w.get(3))
	assert.Equal(t, int64(3), w.get(3).ID)
}

func TestWindowReset(t *testing.T) {
	w := newChunkWindow(3)
	w.put(&Chunk{ID: 0})
	w.put(&Chunk{ID: 2})

	var flushed []int64
	w.reset(func(c *Chunk) { flushed = append(flushed, c.ID) })
	assert.Equal(t, []int64{0, 2}, flushed)
	assert.False(t, w.occupied())
	assert.Equal(t, int64(0), w.headChunk())
}

func TestWindowWrapAround(t *testing.T) {
	w := newChunkWindow(2)
	w.put(&Chunk{ID: 0})
	w.put(&Chunk{ID: 1})
	var flushed []int64
	sink := func(c *Chunk) { flushed = append(flushed, c.ID) }
	w.flushHead(sink)
	w.put(&Chunk{ID: 2})
	w.flushHead(sink)
	w.put(&Chunk{ID: 3})
	assert.Equal(t, []int64{0, 1}, flushed)
	assert.Equal(t, int64(2), w.get(2).ID)
	assert.Equal(t, int64(3), w.get(3).ID)
}
