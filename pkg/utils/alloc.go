// pkg/utils/alloc.go

package utils

import "sync/atomic"

var usedMemory int64

// Alloc returns a buffer of the given size, counted against AllocMemory.
func Alloc(size int) []byte {
	atomic.AddInt64(&usedMemory, int64(size))
	return make([]byte, size)
}

// Free returns the memory hold by a buffer allocated by Alloc.
func Free(b []byte) {
	atomic.AddInt64(&usedMemory, -int64(cap(b)))
}

// AllocMemory returns the size of memory that was allocated for chunk buffers.
func AllocMemory() int64 {
	return atomic.LoadInt64(&usedMemory)
}
