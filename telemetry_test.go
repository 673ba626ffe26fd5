package gpuchannel

import "testing"

// TestChannelSnapshotReflectsPending exercises Channel.Snapshot against
// the telemetry package's structs (spec.md §6).
func TestChannelSnapshotReflectsPending(t *testing.T) {
	m, _, _, _ := newTestManager(t, 1024)
	defer m.Destroy()

	ch := m.Pools()[0].channels[0]

	doPush(t, ch)
	v2 := doPush(t, ch)

	snap := ch.Snapshot()
	if snap.Name != ch.Name() {
		t.Errorf("Name = %q, want %q", snap.Name, ch.Name())
	}
	if snap.State != "active" {
		t.Errorf("State = %q, want active", snap.State)
	}
	if snap.Queued != 2 {
		t.Errorf("Queued = %d, want 2", snap.Queued)
	}
	if len(snap.Pending) != 2 {
		t.Fatalf("len(Pending) = %d, want 2", len(snap.Pending))
	}
	if snap.Pending[len(snap.Pending)-1].TrackingValue != v2 {
		t.Errorf("last pending tracking value = %d, want %d", snap.Pending[len(snap.Pending)-1].TrackingValue, v2)
	}
	if snap.Capacity != ch.ringBuf.capacity() {
		t.Errorf("Capacity = %d, want %d", snap.Capacity, ch.ringBuf.capacity())
	}
}

// TestChannelSnapshotRecordsRecentFinished exercises the bounded
// recently-finished ring (spec.md §6, "up to five recently finished").
func TestChannelSnapshotRecordsRecentFinished(t *testing.T) {
	m, rmFake, _, _ := newTestManager(t, 1024)
	defer m.Destroy()

	ch := m.Pools()[0].channels[0]

	const n = 7
	var last uint64
	for i := 0; i < n; i++ {
		last = doPush(t, ch)
	}
	rmFake.AdvancePayload(ch.handle, uint32(last))
	ch.UpdateProgress(n, UpdateCompleted)

	snap := ch.Snapshot()
	if len(snap.RecentFinished) != recentFinishedCap {
		t.Fatalf("len(RecentFinished) = %d, want %d (bounded)", len(snap.RecentFinished), recentFinishedCap)
	}
	if snap.RecentFinished[0].TrackingValue != last {
		t.Errorf("most recent finished tracking value = %d, want %d", snap.RecentFinished[0].TrackingValue, last)
	}
	if snap.State != "idle" {
		t.Errorf("State = %q, want idle after full drain", snap.State)
	}
}

// TestManagerSnapshotAggregatesChannels exercises Manager.Snapshot
// (spec.md §6).
func TestManagerSnapshotAggregatesChannels(t *testing.T) {
	m, _, _, _ := newTestManager(t, 1024)
	defer m.Destroy()

	snap := m.Snapshot()
	if snap.PoolCount != len(m.pools) {
		t.Errorf("PoolCount = %d, want %d", snap.PoolCount, len(m.pools))
	}
	if len(snap.Channels) != len(m.pools)*channelsPerPool {
		t.Errorf("len(Channels) = %d, want %d", len(snap.Channels), len(m.pools)*channelsPerPool)
	}
	if snap.FatalError != "" {
		t.Errorf("FatalError = %q, want empty before any fault", snap.FatalError)
	}
}

// TestManagerSnapshotReportsFatalError exercises the fatal-error field
// populated once CheckErrors records a fault (spec.md §4.6, §7).
func TestManagerSnapshotReportsFatalError(t *testing.T) {
	m, rmFake, _, _ := newTestManager(t, 1024)
	defer m.Destroy()

	ch := m.Pools()[0].channels[0]
	doPush(t, ch)
	rmFake.SetError(ch.handle)

	if err := m.CheckErrors(); err == nil {
		t.Fatal("expected a fault")
	}

	snap := m.Snapshot()
	if snap.FatalError == "" {
		t.Errorf("FatalError = %q, want non-empty after a fault", snap.FatalError)
	}
}
