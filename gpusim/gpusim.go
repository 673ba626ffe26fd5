// Package gpusim supplies in-memory fakes for the external
// collaborators named in spec.md §6 (pushbuffer allocator, HAL, RM
// binding), good enough to drive the engine end to end without real
// hardware. It is itself a SPEC_FULL.md deliverable, not test-only
// scaffolding: §8's fault-injection and controlled-payload-advance
// scenarios need a collaborator a real driver could never give
// deterministically.
package gpusim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/coregpu/gpuchannel/hal"
	"github.com/coregpu/gpuchannel/rm"
)

// region is the bookkeeping for one reserved pushbuffer range.
type region struct {
	offset uint64
	gpuVA  uint64
	size   uint32
}

// Pushbuffer is a bounded in-memory stand-in for the real pushbuffer
// allocator. Its backing store is a golang.org/x/sync/semaphore
// weighted semaphore sized to regionCount, grounded in the pack's
// sclevine-xsum pqueue use of the same package for bounded admission:
// the fake exhibits its own admission pressure independent of the
// ring's, the way a real device-memory pool would.
type Pushbuffer struct {
	sem *semaphore.Weighted

	mu       sync.Mutex
	nextTok  hal.PushToken
	regions  map[hal.PushToken]*region
	byTracking map[uint64]hal.PushToken
}

// NewPushbuffer creates a fake pushbuffer with room for regionCount
// concurrently in-flight pushes.
func NewPushbuffer(regionCount int) *Pushbuffer {
	return &Pushbuffer{
		sem:        semaphore.NewWeighted(int64(regionCount)),
		regions:    make(map[hal.PushToken]*region),
		byTracking: make(map[uint64]hal.PushToken),
		nextTok:    1,
	}
}

// BeginPush reserves a region, failing fast rather than blocking: a
// full backing store under the core's own backpressure would
// otherwise deadlock the very reservation the ring is meant to bound.
func (p *Pushbuffer) BeginPush() (hal.PushToken, error) {
	if !p.sem.TryAcquire(1) {
		return 0, fmt.Errorf("gpusim: pushbuffer exhausted")
	}

	p.mu.Lock()
	tok := p.nextTok
	p.nextTok++
	p.regions[tok] = &region{offset: uint64(tok) * 256, gpuVA: 0xF00D0000 + uint64(tok)*256}
	p.mu.Unlock()

	return tok, nil
}

// EndPush records which tracking value will eventually free tok's
// region.
func (p *Pushbuffer) EndPush(tok hal.PushToken, trackingValue uint64) {
	p.mu.Lock()
	p.byTracking[trackingValue] = tok
	p.mu.Unlock()
}

// MarkCompleted releases tok's region back to the backing semaphore.
func (p *Pushbuffer) MarkCompleted(trackingValue uint64) {
	p.mu.Lock()
	tok, ok := p.byTracking[trackingValue]
	if ok {
		delete(p.byTracking, trackingValue)
		delete(p.regions, tok)
	}
	p.mu.Unlock()
	if ok {
		p.sem.Release(1)
	}
}

func (p *Pushbuffer) GPUVA(tok hal.PushToken) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.regions[tok].gpuVA
}

func (p *Pushbuffer) Offset(tok hal.PushToken) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.regions[tok].offset
}

func (p *Pushbuffer) Size(tok hal.PushToken) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.regions[tok].size
}

// SetSize lets a test (or a real command encoder) record how many
// bytes were written before EndPush.
func (p *Pushbuffer) SetSize(tok hal.PushToken, size uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.regions[tok]; ok {
		r.size = size
	}
}

// InUse reports how many regions are currently reserved, for test
// assertions about pushbuffer-level backpressure.
func (p *Pushbuffer) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.regions)
}

// semRelease is one recorded semaphore-release command.
type semRelease struct {
	gpuVA   uint64
	payload uint32
}

// HAL is a fake implementing both hal.CEHal and hal.HostHal, recording
// every command it encodes so tests can assert on them instead of
// decoding real GPU command streams.
type HAL struct {
	mu        sync.Mutex
	releases  []semRelease
	gpFifo    map[int]gpfifoEntry
	gpPuts    []gpPutWrite
	ceInits   int
	hostInits int
}

type gpfifoEntry struct {
	va   uint64
	size uint32
}

type gpPutWrite struct {
	handle uint64
	newPut int
}

func NewHAL() *HAL {
	return &HAL{gpFifo: make(map[int]gpfifoEntry)}
}

func (h *HAL) Init(hal.PushToken) {
	h.mu.Lock()
	h.ceInits++
	h.mu.Unlock()
}

func (h *HAL) SemaphoreRelease(tok hal.PushToken, gpuVA uint64, payload32 uint32) {
	h.mu.Lock()
	h.releases = append(h.releases, semRelease{gpuVA: gpuVA, payload: payload32})
	h.mu.Unlock()
}

func (h *HAL) SetGPFifoEntry(ringIndex int, pushbufferVA uint64, size uint32) {
	h.mu.Lock()
	h.gpFifo[ringIndex] = gpfifoEntry{va: pushbufferVA, size: size}
	h.mu.Unlock()
}

func (h *HAL) WriteGPUPut(channelHandle uint64, newPut int) {
	h.mu.Lock()
	h.gpPuts = append(h.gpPuts, gpPutWrite{handle: channelHandle, newPut: newPut})
	h.mu.Unlock()
}

// ReleaseCount returns how many semaphore-release commands have been
// recorded, for test assertions.
func (h *HAL) ReleaseCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.releases)
}

// channelState is the RM-visible fault/semaphore state of one fake
// channel.
type channelState struct {
	payload atomic.Uint32
	errored atomic.Bool
	ecc     atomic.Bool
}

// RM is a fake rm.Binding. It hands out monotonically increasing
// handles and keeps per-handle fault/semaphore state a test can drive
// directly, playing the role real hardware/RM interrupts would.
type RM struct {
	caps map[int]rm.CECapsView

	mu       sync.Mutex
	nextH    uint64
	channels map[uint64]*channelState
}

func NewRM(caps map[int]rm.CECapsView) *RM {
	return &RM{caps: caps, channels: make(map[uint64]*channelState), nextH: 1}
}

func (r *RM) ChannelAllocate(_ rm.AddressSpace, params rm.ChannelParams) (uint64, rm.ChannelInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handle := r.nextH
	r.nextH++
	r.channels[handle] = &channelState{}

	info := rm.ChannelInfo{
		GPFifoEntries: 0x10000 + handle*0x1000,
		ErrorNotifier: 0x20000 + handle*0x1000,
		HwRunlistID:   0,
		HwChannelID:   uint32(handle),
	}
	_ = params
	return handle, info, nil
}

func (r *RM) ChannelDestroy(handle uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, handle)
}

func (r *RM) QueryCopyEngineCaps() (map[int]rm.CECapsView, error) {
	return r.caps, nil
}

func (r *RM) ErrorNotifierSet(handle uint64) bool {
	r.mu.Lock()
	st, ok := r.channels[handle]
	r.mu.Unlock()
	return ok && st.errored.Load()
}

func (r *RM) ECCNotifierSet(handle uint64) bool {
	r.mu.Lock()
	st, ok := r.channels[handle]
	r.mu.Unlock()
	return ok && st.ecc.Load()
}

func (r *RM) ReadSemaphorePayload(handle uint64) uint32 {
	r.mu.Lock()
	st, ok := r.channels[handle]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	return st.payload.Load()
}

// AdvancePayload moves handle's simulated semaphore payload forward to
// n, modelling the GPU retiring releases up to value n.
func (r *RM) AdvancePayload(handle uint64, n uint32) {
	r.mu.Lock()
	st, ok := r.channels[handle]
	r.mu.Unlock()
	if ok {
		st.payload.Store(n)
	}
}

// SetError flips handle's error notifier, modelling a GPU-reported
// channel fault.
func (r *RM) SetError(handle uint64) {
	r.mu.Lock()
	st, ok := r.channels[handle]
	r.mu.Unlock()
	if ok {
		st.errored.Store(true)
	}
}

// SetECC flips handle's ECC notifier in addition to the plain error
// notifier, modelling an ECC-classified fault.
func (r *RM) SetECC(handle uint64) {
	r.SetError(handle)
	r.mu.Lock()
	st, ok := r.channels[handle]
	r.mu.Unlock()
	if ok {
		st.ecc.Store(true)
	}
}
