package gpuchannel

import "sync/atomic"

// payloadBits is the width of the GPU-written semaphore payload. The
// hardware only ever writes a 32-bit value into the tracking location;
// everything above that has to be reconstructed host-side.
const payloadBits = 32

// wrapThreshold is half the 32-bit payload space. When the distance
// between queued and completed_cache exceeds this, a single wraparound
// can no longer be distinguished from "nothing new happened yet" and a
// forced refresh is the only safe move (spec.md §9, belt-and-braces
// wraparound handling).
const wrapThreshold = uint64(1) << (payloadBits - 1)

// Semaphore is the tracking semaphore described in spec.md §3/§4.1: a
// monotonically increasing 64-bit "queued" counter maintained entirely
// host-side, and a 64-bit "completed_cache" reconstructed from the
// 32-bit value the GPU actually writes back.
//
// queued and completedCache are atomic.Uint64 rather than plain fields
// under the pool lock because Refresh runs without the pool lock
// (UpdateProgress refreshes before locking): it reads queued while
// EndPush may be advancing it, and it advances completedCache with a
// compare-and-swap so concurrent refreshes never move it backwards.
// ReserveNext is only called under the pool lock (EndPush).
type Semaphore struct {
	queued         atomic.Uint64
	completedCache atomic.Uint64
}

// ReserveNext advances queued by one and returns the new value, which
// is the value the push being ended will release. Callers must hold
// the owning pool's lock.
func (s *Semaphore) ReserveNext() uint64 {
	return s.queued.Add(1)
}

// Queued returns the last value reserved.
func (s *Semaphore) Queued() uint64 {
	return s.queued.Load()
}

// CompletedCache returns the most recent 64-bit reconstruction of the
// GPU's completed counter, without touching the GPU-visible payload.
func (s *Semaphore) CompletedCache() uint64 {
	return s.completedCache.Load()
}

// IsCompleted reports whether v has already been retired according to
// the cached completed value, with no refresh.
func (s *Semaphore) IsCompleted(v uint64) bool {
	return v <= s.completedCache.Load()
}

// Refresh reconstructs the 64-bit completed counter from the raw
// 32-bit payload the GPU wrote and returns the new cached value. It
// never moves completedCache backwards: a stale or racing read of the
// payload can only ever look like "no progress", never regression.
//
// Reconstruction assumes payload is queued's low 32 bits as of some
// point no earlier than the last refresh: take queued's high bits,
// splice in payload, and step back by one wraparound if that puts the
// result ahead of queued (the GPU cannot complete work that was never
// queued).
func (s *Semaphore) Refresh(payload uint32) uint64 {
	queued := s.queued.Load()
	const mask = uint64(1)<<payloadBits - 1

	reconstructed := (queued &^ mask) | uint64(payload)
	if reconstructed > queued {
		reconstructed -= uint64(1) << payloadBits
	}

	for {
		cur := s.completedCache.Load()
		if reconstructed <= cur {
			return cur
		}
		if s.completedCache.CompareAndSwap(cur, reconstructed) {
			return reconstructed
		}
	}
}

// NeedsForcedRefresh reports whether the gap between queued and the
// last cached completed value has grown large enough that a single
// 32-bit wraparound could no longer be told apart from stagnation,
// per spec.md §9's wraparound design note.
func (s *Semaphore) NeedsForcedRefresh() bool {
	return s.queued.Load()-s.completedCache.Load() > wrapThreshold
}
