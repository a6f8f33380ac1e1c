// pkg/recv/stats.go

package recv

import "sync/atomic"

// StreamStats are per-member batch statistics. Counters are updated with
// atomics so they can be read while the stream is running.
type StreamStats struct {
	Packets                int64
	BadPackets             int64
	Heaps                  int64
	CompletedHeaps         int64
	IncompleteHeapsEvicted int64
	TooOldHeaps            int64
	RejectedHeaps          int64
	StopItems              int64
}

// Snapshot returns a consistent-enough copy for reporting.
func (st *StreamStats) Snapshot() StreamStats {
	return StreamStats{
		Packets:                atomic.LoadInt64(&st.Packets),
		BadPackets:             atomic.LoadInt64(&st.BadPackets),
		Heaps:                  atomic.LoadInt64(&st.Heaps),
		CompletedHeaps:         atomic.LoadInt64(&st.CompletedHeaps),
		IncompleteHeapsEvicted: atomic.LoadInt64(&st.IncompleteHeapsEvicted),
		TooOldHeaps:            atomic.LoadInt64(&st.TooOldHeaps),
		RejectedHeaps:          atomic.LoadInt64(&st.RejectedHeaps),
		StopItems:              atomic.LoadInt64(&st.StopItems),
	}
}

// Add accumulates another snapshot into st (used for group totals).
func (st *StreamStats) Add(o StreamStats) {
	st.Packets += o.Packets
	st.BadPackets += o.BadPackets
	st.Heaps += o.Heaps
	st.CompletedHeaps += o.CompletedHeaps
	st.IncompleteHeapsEvicted += o.IncompleteHeapsEvicted
	st.TooOldHeaps += o.TooOldHeaps
	st.RejectedHeaps += o.RejectedHeaps
	st.StopItems += o.StopItems
}
