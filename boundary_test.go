package gpuchannel

import (
	"testing"

	"github.com/go-logr/logr"
)

// assertInvariants checks the quantified invariants of spec.md §8 that
// hold after every publicly observable transition on ch.
func assertInvariants(t *testing.T, ch *Channel) {
	t.Helper()

	ch.pool.lock.Lock()
	n := ch.ringBuf.capacity()
	cpc := ch.ringBuf.currentPushesCount
	cpuPut := ch.ringBuf.cpuPut
	gpuGet := ch.ringBuf.gpuGet
	ch.pool.lock.Unlock()

	if cpc < 0 || cpc >= n {
		t.Errorf("current_pushes_count = %d, want in [0, %d)", cpc, n)
	}
	if cpuPut != gpuGet {
		pending := ch.ringBuf.pending()
		if pending == 0 {
			t.Errorf("cpu_put (%d) != gpu_get (%d) but pending() == 0", cpuPut, gpuGet)
		}
	}
	if ch.sem.CompletedCache() > ch.sem.Queued() {
		t.Errorf("completed_cache (%d) exceeds queued (%d)", ch.sem.CompletedCache(), ch.sem.Queued())
	}
}

// TestBoundaryMinimumRingSize covers spec.md §8's N=32 boundary: 31
// reservations succeed immediately, the 32nd blocks until a slot
// completes.
func TestBoundaryMinimumRingSize(t *testing.T) {
	const ringSize = 32
	m, rmFake, _, _ := newTestManager(t, ringSize)
	defer m.Destroy()

	ch := m.Pools()[0].channels[0]

	for i := 0; i < ringSize-1; i++ {
		if !ch.tryClaim() {
			t.Fatalf("reservation %d of %d failed, want success", i+1, ringSize-1)
		}
	}
	if ch.tryClaim() {
		t.Fatalf("32nd reservation on a 32-slot ring succeeded, want blocked")
	}
	assertInvariants(t, ch)

	p, err := ch.BeginPush()
	if err != nil {
		t.Fatalf("BeginPush: %v", err)
	}
	ch.EndPush(p)
	rmFake.AdvancePayload(ch.handle, uint32(p.TrackingValue()))
	ch.UpdateProgress(1, UpdateCompleted)

	if !ch.tryClaim() {
		t.Fatalf("reservation after one completion failed, want success")
	}
	assertInvariants(t, ch)
}

// TestBoundaryLargeRingSize covers spec.md §8's N=1024 boundary: 1023
// reservations succeed, the 1024th blocks.
func TestBoundaryLargeRingSize(t *testing.T) {
	const ringSize = 1024
	m, _, _, _ := newTestManager(t, ringSize)
	defer m.Destroy()

	ch := m.Pools()[0].channels[0]

	for i := 0; i < ringSize-1; i++ {
		if !ch.tryClaim() {
			t.Fatalf("reservation %d of %d failed, want success", i+1, ringSize-1)
		}
	}
	if ch.tryClaim() {
		t.Fatalf("1024th reservation on a 1024-slot ring succeeded, want blocked")
	}
	assertInvariants(t, ch)
}

// TestRoundTripSinglePush covers spec.md §8's begin_push/end_push
// round-trip: queued advances by exactly one and completed_cache
// eventually matches it.
func TestRoundTripSinglePush(t *testing.T) {
	m, rmFake, _, _ := newTestManager(t, 1024)
	defer m.Destroy()

	ch := m.Pools()[0].channels[0]

	before := ch.sem.Queued()
	v := doPush(t, ch)
	if ch.sem.Queued() != before+1 {
		t.Fatalf("queued = %d, want %d", ch.sem.Queued(), before+1)
	}
	if v != before+1 {
		t.Fatalf("tracking value = %d, want %d", v, before+1)
	}

	rmFake.AdvancePayload(ch.handle, uint32(v))
	ch.UpdateProgress(1, UpdateCompleted)
	if ch.sem.CompletedCache() != v {
		t.Fatalf("completed_cache = %d, want %d", ch.sem.CompletedCache(), v)
	}
	assertInvariants(t, ch)
}

// TestUpdateProgressChunkedMatchesUnbounded covers spec.md §8's
// idempotence property: update_progress(max=k) applied repeatedly
// reaches the same final state as a single update_progress(max=∞)
// call.
func TestUpdateProgressChunkedMatchesUnbounded(t *testing.T) {
	const pushes = 20

	run := func(t *testing.T, chunk int) (completed uint64, pending int) {
		m, rmFake, _, _ := newTestManager(t, 1024)
		defer m.Destroy()
		ch := m.Pools()[0].channels[0]

		var last uint64
		for i := 0; i < pushes; i++ {
			last = doPush(t, ch)
		}
		rmFake.AdvancePayload(ch.handle, uint32(last))

		for {
			p := ch.UpdateProgress(chunk, UpdateCompleted)
			if p == 0 || chunk >= pushes {
				pending = p
				break
			}
		}
		return ch.sem.CompletedCache(), pending
	}

	unboundedCompleted, unboundedPending := run(t, pushes)
	chunkedCompleted, chunkedPending := run(t, 3)

	if unboundedCompleted != chunkedCompleted {
		t.Errorf("completed_cache mismatch: unbounded=%d chunked=%d", unboundedCompleted, chunkedCompleted)
	}
	if unboundedPending != chunkedPending {
		t.Errorf("pending mismatch: unbounded=%d chunked=%d", unboundedPending, chunkedPending)
	}
}

// TestNoLostPushInfo covers spec.md §8's "no lost push-info" invariant:
// the free-list plus the in-flight set always partition the push-info
// array exactly once.
func TestNoLostPushInfo(t *testing.T) {
	m, rmFake, _, _ := newTestManager(t, 1024)
	defer m.Destroy()

	ch := m.Pools()[0].channels[0]
	pool := ch.pushInfos

	seen := make([]int, len(pool.records))
	mark := func(idx int) {
		for idx >= 0 {
			seen[idx]++
			idx = pool.records[idx].next
		}
	}

	var last uint64
	const inflight = 6
	for i := 0; i < inflight; i++ {
		last = doPush(t, ch)
	}

	ch.pool.lock.Lock()
	mark(pool.head)
	ch.pool.lock.Unlock()

	for i := ch.ringBuf.gpuGet; i != ch.ringBuf.cpuPut; i = (i + 1) % ch.ringBuf.capacity() {
		seen[ch.ringBuf.slots[i].pushInfoRef]++
	}

	for idx, count := range seen {
		if count != 1 {
			t.Errorf("push-info slot %d counted %d times, want exactly 1", idx, count)
		}
	}

	rmFake.AdvancePayload(ch.handle, uint32(last))
	ch.UpdateProgress(inflight, UpdateCompleted)

	for i := range seen {
		seen[i] = 0
	}
	ch.pool.lock.Lock()
	mark(pool.head)
	ch.pool.lock.Unlock()
	for idx, count := range seen {
		if count != 1 {
			t.Errorf("after drain, push-info slot %d counted %d times, want exactly 1", idx, count)
		}
	}
}

// TestLocationClampingScenario covers spec.md §8 scenario 5 end to end.
func TestLocationClampingScenario(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want func(r resolvedConfig) bool
	}{
		{
			name: "below minimum clamps to 32",
			cfg:  Config{NumGPFifoEntries: 20},
			want: func(r resolvedConfig) bool { return r.numGPFifoEntries == 32 },
		},
		{
			name: "non power of two falls back to default",
			cfg:  Config{NumGPFifoEntries: 1500},
			want: func(r resolvedConfig) bool { return r.numGPFifoEntries == defaultGPFIFOEntries },
		},
		{
			name: "vid pushbuffer on aarch64 forced to sys",
			cfg:  Config{PushbufferLoc: "vid", Hints: PlatformHints{AArch64: true}},
			want: func(r resolvedConfig) bool { return r.pushbufferLoc == LocationSys },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := resolve(tc.cfg, logr.Discard())
			if !tc.want(r) {
				t.Errorf("resolve(%+v) = %+v, did not satisfy expectation", tc.cfg, r)
			}
		})
	}
}
