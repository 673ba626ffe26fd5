package gpuchannel

import (
	"fmt"

	"github.com/coregpu/gpuchannel/hal"
	"github.com/coregpu/gpuchannel/rm"
)

// ChannelState is the three-state machine from spec.md §4.4.
type ChannelState int

const (
	ChannelIdle ChannelState = iota
	ChannelActive
	ChannelFaulted
)

func (s ChannelState) String() string {
	switch s {
	case ChannelIdle:
		return "idle"
	case ChannelActive:
		return "active"
	case ChannelFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// UpdateMode selects how far UpdateProgress walks the ring (spec.md
// §4.3).
type UpdateMode int

const (
	// UpdateCompleted stops at the first slot whose tracking value has
	// not yet been observed complete.
	UpdateCompleted UpdateMode = iota
	// UpdateForceAll walks every pending slot unconditionally, used at
	// fault-driven teardown when the device is assumed dead.
	UpdateForceAll
)

// defaultMaxToComplete bounds a single UpdateProgress call so it never
// holds the pool lock for long (spec.md §4.3).
const defaultMaxToComplete = 8

// recentFinishedCap is how many recently-finished pushes a channel
// keeps for telemetry (spec.md §6, "up to five recently finished").
const recentFinishedCap = 5

// finishedPush is a lightweight record of a completed push kept only
// for telemetry.
type finishedPush struct {
	trackingValue uint64
	description   string
	sourceSite    string
}

// Channel binds a ring, a tracking semaphore and a push-info pool to a
// hardware channel handle (spec.md §3). All mutation of its ring,
// push-info free-list and reservation counters happens under
// pool.lock; Channel has no lock of its own.
type Channel struct {
	name string
	pool *ChannelPool

	ringBuf   *ring
	sem       Semaphore
	pushInfos *pushInfoPool

	handle uint64
	info   rm.ChannelInfo

	// gpfifoLoc and gpputLoc are the resolved locations (spec.md §6)
	// this channel's ring and doorbell were allocated in, kept only for
	// telemetry (Snapshot); the bytes RM actually placed are already
	// fixed by the time the channel exists.
	gpfifoLoc Location
	gpputLoc  Location

	pushbuffer hal.Pushbuffer
	ceHal      hal.CEHal
	hostHal    hal.HostHal
	rmBinding  rm.Binding

	// faultKind is set once, the first time CheckErrors observes an
	// error; it is never cleared, per spec.md §7's "sticky" policy.
	faultKind ErrorKind

	recentFinished [recentFinishedCap]finishedPush
	recentCount    int
	recentNext     int
}

func newChannel(name string, pool *ChannelPool, capacity int, handle uint64, info rm.ChannelInfo, gpfifoLoc, gpputLoc Location, pb hal.Pushbuffer, ce hal.CEHal, host hal.HostHal, rmb rm.Binding) *Channel {
	return &Channel{
		name:       name,
		pool:       pool,
		ringBuf:    newRing(capacity),
		pushInfos:  newPushInfoPool(capacity),
		handle:     handle,
		info:       info,
		gpfifoLoc:  gpfifoLoc,
		gpputLoc:   gpputLoc,
		pushbuffer: pb,
		ceHal:      ce,
		hostHal:    host,
		rmBinding:  rmb,
	}
}

// Name returns the channel's diagnostic name.
func (c *Channel) Name() string { return c.name }

// State reports the channel's current state per spec.md §4.4.
func (c *Channel) State() ChannelState {
	c.pool.lock.Lock()
	defer c.pool.lock.Unlock()
	return c.stateLocked()
}

// tryClaim attempts the fast-path reservation under the pool lock.
func (c *Channel) tryClaim() bool {
	c.pool.lock.Lock()
	claimed := c.ringBuf.tryClaim()
	c.pool.lock.Unlock()
	return claimed
}

// Reserve claims one ring slot, spinning with bounded backoff while
// capacity is unavailable (spec.md §4.3, Reserve). Each spin iteration
// calls the channel's own CheckErrors and returns its error; the
// manager's global fatal flag is not consulted.
func (c *Channel) Reserve() error {
	if c.tryClaim() {
		return nil
	}

	c.UpdateProgress(defaultMaxToComplete, UpdateCompleted)

	var spin spinLoop
	for !c.tryClaim() {
		if err := c.CheckErrors(); err != nil {
			return err
		}
		spin.Wait()
		c.UpdateProgress(defaultMaxToComplete, UpdateCompleted)
	}
	return nil
}

// BeginPush acquires a pushbuffer region and a push-info record for a
// new push (spec.md §4.3, Begin push). No ring/cpu_put mutation
// happens here; that is deferred to EndPush.
func (c *Channel) BeginPush() (*Push, error) {
	tok, err := c.pushbuffer.BeginPush()
	if err != nil {
		return nil, fmt.Errorf("gpuchannel: begin push on %s: %w", c.name, err)
	}

	c.pool.lock.Lock()
	idx := c.pushInfos.acquire()
	c.pool.lock.Unlock()

	return &Push{channel: c, token: tok, pushInfoIndex: idx}, nil
}

// EndPush installs push into the ring, publishes the new GPPUT, and
// hands the pushbuffer region to the pushbuffer collaborator's
// in-flight list, exactly in the order spec.md §4.3 (End push)
// requires: the store-store fence must precede the GPPUT write, and
// EndPush on the pushbuffer must happen before the pool lock is
// released.
func (c *Channel) EndPush(p *Push) {
	c.pool.lock.Lock()

	value := c.sem.ReserveNext()
	payload := uint32(value)

	semVA := c.semaphoreGPUVA()
	c.ceHal.SemaphoreRelease(p.token, semVA, payload)

	cpuPut := c.ringBuf.cpuPut
	newCPUPut := (cpuPut + 1) % c.ringBuf.capacity()

	slot := &c.ringBuf.slots[cpuPut]
	slot.trackingValue = value
	slot.pushbufferOffset = c.pushbuffer.Offset(p.token)
	slot.pushbufferSize = c.pushbuffer.Size(p.token)
	slot.pushInfoRef = p.pushInfoIndex

	c.ringBuf.currentPushesCount--

	pushbufferVA := c.pushbuffer.GPUVA(p.token)
	c.hostHal.SetGPFifoEntry(cpuPut, pushbufferVA, slot.pushbufferSize)

	// Store-store fence: every pushbuffer and GP-entry write above
	// must be globally visible before the GPPUT doorbell below
	// (spec.md §4.3 step 5). sync/atomic's sequentially consistent
	// store is the idiomatic Go stand-in for a bare memory fence; Go
	// exposes no unattached mb() primitive.
	fenceStoreStore.Store(fenceStoreStore.Load() + 1)

	c.ringBuf.cpuPut = newCPUPut
	c.hostHal.WriteGPUPut(c.handle, newCPUPut)

	// Must run before unlock: a racing UpdateProgress must never see
	// this slot complete before the pushbuffer knows it was submitted
	// (spec.md §4.3 step 7).
	c.pushbuffer.EndPush(p.token, value)

	c.pool.lock.Unlock()

	// Post-unlock full fence: addresses an observed throughput quirk
	// on some platforms, no correctness role (spec.md §4.3 step 9).
	fenceFull.Store(fenceFull.Load() + 1)
	_ = fenceFull.Load()

	p.trackingValue = value
}

// semaphoreGPUVA returns the GPU-visible address of this channel's
// tracking semaphore payload. The engine only needs a stable value to
// pass to the HAL; the real address space management lives entirely
// outside this package.
func (c *Channel) semaphoreGPUVA() uint64 {
	return c.info.GPFifoEntries ^ 0x5345 // distinct from the GPFIFO base, diagnostic only
}

// UpdateProgress walks the ring from gpu_get towards cpu_put,
// reclaiming every slot the mode accepts as complete, and returns the
// number of slots still pending (spec.md §4.3, Update progress).
func (c *Channel) UpdateProgress(maxToComplete int, mode UpdateMode) int {
	var completedValue uint64
	if mode == UpdateCompleted {
		// No lock needed for the refresh read itself (spec.md §4.3,
		// Update progress step 1); the cache update is monotone under
		// the semaphore's own CAS discipline.
		completedValue = c.forceRefresh()
	}

	c.pool.lock.Lock()

	cpuPut := c.ringBuf.cpuPut
	gpuGet := c.ringBuf.gpuGet
	n := c.ringBuf.capacity()
	completedCount := 0

	for gpuGet != cpuPut && completedCount < maxToComplete {
		slot := &c.ringBuf.slots[gpuGet]
		if mode == UpdateCompleted && slot.trackingValue > completedValue {
			break
		}

		c.pushbuffer.MarkCompleted(slot.trackingValue)
		c.recordFinished(slot)
		info := c.pushInfos.get(slot.pushInfoRef)
		if info.OnComplete != nil {
			info.OnComplete()
		}
		c.pushInfos.release(slot.pushInfoRef)

		gpuGet = (gpuGet + 1) % n
		completedCount++
	}

	c.ringBuf.gpuGet = gpuGet
	pending := c.ringBuf.pending()

	c.pool.lock.Unlock()

	return pending
}

// forceRefresh reads the GPU-written payload and refreshes the tracking
// semaphore from it unconditionally; UpdateProgress calls it on every
// UpdateCompleted call, whatever the gap between queued and
// completed_cache.
func (c *Channel) forceRefresh() uint64 {
	payload := c.rmBinding.ReadSemaphorePayload(c.handle)
	return c.sem.Refresh(payload)
}

// recordFinished appends to the bounded "recently finished" ring used
// by telemetry (spec.md §6).
func (c *Channel) recordFinished(slot *gpfifoSlot) {
	info := c.pushInfos.get(slot.pushInfoRef)
	c.recentFinished[c.recentNext] = finishedPush{
		trackingValue: slot.trackingValue,
		description:   info.Description,
		sourceSite:    info.SourceSite,
	}
	c.recentNext = (c.recentNext + 1) % recentFinishedCap
	if c.recentCount < recentFinishedCap {
		c.recentCount++
	}
}

// CheckErrors reports the channel's sticky fault state (spec.md §4.4,
// §7). The first time it observes an error, it refines Rc into Ecc if
// the ECC notifier is also set, and freezes the kind from then on.
func (c *Channel) CheckErrors() error {
	c.pool.lock.Lock()
	defer c.pool.lock.Unlock()

	if c.faultKind != ErrKindNone {
		return c.faultError()
	}

	if !c.rmBinding.ErrorNotifierSet(c.handle) {
		return nil
	}

	kind := ErrKindChannelRC
	if c.rmBinding.ECCNotifierSet(c.handle) {
		kind = ErrKindChannelECC
	}
	c.faultKind = kind
	return c.faultError()
}

func (c *Channel) faultError() error {
	return newChannelError(c.faultKind, c.name, "channel reported a fault")
}

// fatalEntry returns the first pending slot's diagnostic push-info,
// used by the manager to report which push likely caused a fault
// (spec.md §4.6, §7).
func (c *Channel) fatalEntry() (desc, site string, trackingValue uint64, ok bool) {
	c.pool.lock.Lock()
	defer c.pool.lock.Unlock()
	if c.ringBuf.gpuGet == c.ringBuf.cpuPut {
		return "", "", 0, false
	}
	slot := &c.ringBuf.slots[c.ringBuf.gpuGet]
	info := c.pushInfos.get(slot.pushInfoRef)
	return info.Description, info.SourceSite, slot.trackingValue, true
}

// destroy force-drains every pending slot (spec.md §4.4, §7: in-flight
// semaphore values after a fault are not trusted) and releases RM
// resources. Safe to call on a never-faulted idle channel too, in
// which case the ForceAll walk is a no-op.
func (c *Channel) destroy() {
	c.UpdateProgress(c.ringBuf.capacity(), UpdateForceAll)
	if c.handle != 0 {
		c.rmBinding.ChannelDestroy(c.handle)
	}
}
