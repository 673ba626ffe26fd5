// Package telemetry defines the read-only inspection structs named in
// spec.md §6 (Telemetry surface). The engine populates them on demand
// via Channel.Snapshot/Manager.Snapshot; nothing here holds a
// reference back into the engine's live state.
package telemetry

// FinishedPush is one entry of a channel's bounded recently-finished
// ring (spec.md §6, "up to five recently finished pushes").
type FinishedPush struct {
	TrackingValue uint64
	Description   string
	SourceSite    string
}

// PendingPush is one in-flight slot, in gpu_get-to-cpu_put order.
type PendingPush struct {
	TrackingValue uint64
	Description   string
	SourceSite    string
	Acquires      []AcquireEntry
}

// AcquireEntry mirrors one cross-channel dependency a pending push
// recorded for diagnostics.
type AcquireEntry struct {
	Channel string
	Value   uint64
}

// ChannelSnapshot is the per-channel inspection endpoint (spec.md §6).
type ChannelSnapshot struct {
	Name            string
	State           string
	Completed       uint64
	Queued          uint64
	Capacity        int
	GPPutLocation   string
	GPFifoLocation  string
	GetIndex        int
	PutIndex        int
	SemaphoreGPUVA  uint64
	Pending         []PendingPush
	RecentFinished  []FinishedPush
}

// ManagerSnapshot is the per-manager inspection endpoint (spec.md §6).
type ManagerSnapshot struct {
	Channels   []ChannelSnapshot
	PoolCount  int
	FatalError string
}
