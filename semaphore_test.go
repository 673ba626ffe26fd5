package gpuchannel

import "testing"

func TestSemaphoreReserveNextMonotonic(t *testing.T) {
	var s Semaphore
	prev := uint64(0)
	for i := 0; i < 10; i++ {
		v := s.ReserveNext()
		if v <= prev {
			t.Fatalf("ReserveNext() = %d, want strictly greater than %d", v, prev)
		}
		prev = v
	}
	if s.Queued() != 10 {
		t.Errorf("Queued() = %d, want 10", s.Queued())
	}
}

func TestSemaphoreRefreshNeverRegresses(t *testing.T) {
	var s Semaphore
	for i := 0; i < 5; i++ {
		s.ReserveNext()
	}

	if got := s.Refresh(3); got != 3 {
		t.Fatalf("Refresh(3) = %d, want 3", got)
	}
	if !s.IsCompleted(3) || s.IsCompleted(4) {
		t.Errorf("IsCompleted disagrees with refreshed value")
	}

	// A stale/racing payload read must never move completedCache
	// backwards.
	if got := s.Refresh(1); got != 3 {
		t.Errorf("Refresh(1) after Refresh(3) = %d, want unchanged 3", got)
	}

	if got := s.Refresh(5); got != 5 {
		t.Errorf("Refresh(5) = %d, want 5", got)
	}
}

func TestSemaphoreRefreshWraparound(t *testing.T) {
	var s Semaphore
	// Push queued past the 32-bit boundary.
	base := uint64(1) << 33
	s.queued.Store(base + 2)

	// The GPU payload is the low 32 bits of a value close to, but not
	// exceeding, queued.
	payload := uint32(base + 1)
	got := s.Refresh(payload)
	want := base + 1
	if got != want {
		t.Errorf("Refresh reconstructed %d, want %d", got, want)
	}
}

func TestSemaphoreNeedsForcedRefresh(t *testing.T) {
	var s Semaphore
	s.queued.Store(10)
	s.completedCache.Store(0)
	if s.NeedsForcedRefresh() {
		t.Fatalf("small gap should not need forced refresh")
	}
	s.queued.Store(uint64(1)<<31 + 10)
	if !s.NeedsForcedRefresh() {
		t.Errorf("gap exceeding 2^31 should need forced refresh")
	}
}
