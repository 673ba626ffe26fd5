package gpuchannel

// maxAcquireInfo bounds the per-push acquire-set used for cross-channel
// dependency diagnostics (spec.md §3, Push-info record).
const maxAcquireInfo = 8

// AcquireInfo records one cross-channel value a push waited on before
// it was submitted, kept only for diagnostics (§6 Telemetry surface).
type AcquireInfo struct {
	Channel string
	Value   uint64
}

// OnCompleteFunc is invoked, if set, when the GPFIFO slot carrying a
// push is observed complete by UpdateProgress.
type OnCompleteFunc func()

// pushInfo is one descriptor record from spec.md §3: diagnostic
// metadata for a single in-flight push, drawn from a per-channel
// free-list at BeginPush and returned when the owning slot is
// reclaimed by UpdateProgress.
//
// next implements the intrusive singly-linked free-list the spec's §9
// design note calls for: an index into the owning channel's pushInfo
// slice, -1 marking the end of the list. This mirrors the teacher's
// sync.Pool free chain shape without paying for an interface-typed
// container, and keeps push_info_ref (spec.md §3) a stable small
// integer as the spec requires.
type pushInfo struct {
	next int

	inUse       bool
	Description string
	SourceSite  string
	OnComplete  OnCompleteFunc

	acquires    [maxAcquireInfo]AcquireInfo
	numAcquires int
}

// pushInfoPool is the free-list of pushInfo records described in
// spec.md §3/§4.2, sized exactly to the owning ring's capacity so that
// "pool empty at reservation time" is impossible by construction: a
// ring slot can only be reserved when a push-info record is free in
// lock-step with it.
type pushInfoPool struct {
	records []pushInfo
	head    int // index of first free record, -1 if none
}

func newPushInfoPool(capacity int) *pushInfoPool {
	p := &pushInfoPool{
		records: make([]pushInfo, capacity),
		head:    0,
	}
	for i := range p.records {
		if i == capacity-1 {
			p.records[i].next = -1
		} else {
			p.records[i].next = i + 1
		}
	}
	return p
}

// acquire detaches the head of the free-list and returns its index.
// Callers must hold the owning pool's spinLock. Per spec.md §4.2, the
// free-list can never be empty at a successful reservation, so an
// empty list here indicates a ring/push-info accounting bug rather
// than a condition callers should handle.
func (p *pushInfoPool) acquire() int {
	idx := p.head
	if idx < 0 {
		panic("gpuchannel: push-info free-list exhausted")
	}
	p.head = p.records[idx].next
	rec := &p.records[idx]
	rec.inUse = true
	rec.Description = ""
	rec.SourceSite = ""
	rec.OnComplete = nil
	rec.numAcquires = 0
	return idx
}

// release returns a record to the free-list. Callers must hold the
// owning pool's spinLock.
func (p *pushInfoPool) release(idx int) {
	rec := &p.records[idx]
	rec.inUse = false
	rec.next = p.head
	p.head = idx
}

func (p *pushInfoPool) get(idx int) *pushInfo {
	return &p.records[idx]
}
