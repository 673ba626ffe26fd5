package gpuchannel

import (
	"fmt"
	"sync/atomic"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/coregpu/gpuchannel/hal"
	"github.com/coregpu/gpuchannel/rm"
)

// channelsPerPool is the fixed channel-array size of every pool the
// manager creates. The spec leaves pool sizing to the embedder; a
// small constant keeps the reference engine's resource footprint
// predictable the way the teacher's fixed-size arrays do.
const channelsPerPool = 4

// FatalInfo is the process-wide fault record the manager keeps after
// the first channel error it observes (spec.md §4.6, §7).
type FatalInfo struct {
	Kind          ErrorKind
	Channel       string
	Description   string
	SourceSite    string
	TrackingValue uint64
}

// Manager owns every pool, runs CE selection at construction, and
// coordinates manager-wide progress, waiting and error reporting
// (spec.md §3, Channel manager).
type Manager struct {
	log logr.Logger
	cfg resolvedConfig

	pools          []*ChannelPool
	ceIndexOfPool  []int
	defaultForType [numChannelTypes]*ChannelPool
	gpuToGPU       map[int]*ChannelPool

	pushbuffer hal.Pushbuffer
	rmBinding  rm.Binding

	fatal      atomic.Bool
	fatalInfo  atomic.Pointer[FatalInfo]
}

// Deps bundles the external collaborators a Manager is built against
// (spec.md §6). A single struct keeps NewManager's signature stable as
// the set of collaborators settles, matching the constructor-options
// shape several of the pack's service types use.
type Deps struct {
	Pushbuffer hal.Pushbuffer
	CEHal      hal.CEHal
	HostHal    hal.HostHal
	RM         rm.Binding
	Log        logr.Logger
}

// NewManager resolves cfg, runs CE selection against caps, creates one
// pool per usable CE (plus, if isProxy is set, a dedicated single-
// channel MEMOPS proxy pool), and allocates channelsPerPool hardware
// channels in each (spec.md §4.5, §4.6).
func NewManager(cfg Config, caps map[int]CECaps, deps Deps, isProxy bool) (*Manager, error) {
	resolved := resolve(cfg, deps.Log)

	preferred, usableMask, err := pickCopyEngines(caps)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		log:        deps.Log,
		cfg:        resolved,
		pushbuffer: deps.Pushbuffer,
		rmBinding:  deps.RM,
		gpuToGPU:   make(map[int]*ChannelPool),
	}

	for ce := 0; ce < maxCopyEngines; ce++ {
		if usableMask&(uint64(1)<<uint(ce)) == 0 {
			continue
		}
		pool, err := m.createPool(ce, false, resolved.numGPFifoEntries, deps)
		if err != nil {
			m.destroyPools()
			return nil, err
		}
		m.pools = append(m.pools, pool)
		m.ceIndexOfPool = append(m.ceIndexOfPool, ce)
	}

	for _, t := range channelSelectionOrder {
		ce := preferred[t]
		pool := m.poolForCE(ce)
		if pool == nil {
			m.destroyPools()
			return nil, newChannelError(ErrKindGeneric, "", "preferred CE has no backing pool")
		}
		m.defaultForType[t] = pool
	}

	if isProxy {
		proxyPool, err := m.createPool(preferred[ChannelTypeMemops], true, resolved.numGPFifoEntries, deps)
		if err != nil {
			m.destroyPools()
			return nil, err
		}
		m.pools = append(m.pools, proxyPool)
		m.ceIndexOfPool = append(m.ceIndexOfPool, preferred[ChannelTypeMemops])
		m.defaultForType[ChannelTypeMemops] = proxyPool
	}

	deps.Log.V(1).Info("channel manager constructed", "pools", len(m.pools), "gpfifoEntries", resolved.numGPFifoEntries)
	return m, nil
}

func (m *Manager) poolForCE(ce int) *ChannelPool {
	for i, c := range m.ceIndexOfPool {
		if c == ce {
			return m.pools[i]
		}
	}
	return nil
}

func (m *Manager) createPool(ce int, isProxy bool, ringCapacity int, deps Deps) (*ChannelPool, error) {
	pool := &ChannelPool{ceIndex: ce, isProxy: isProxy}

	numChannels := channelsPerPool
	if isProxy {
		numChannels = 1
	}

	for i := 0; i < numChannels; i++ {
		params := rm.ChannelParams{
			IsProxy:          isProxy,
			NumGPFifoEntries: ringCapacity,
			GPFifoLoc:        m.cfg.gpfifoLoc.String(),
			GPPutLoc:         m.cfg.gpputLoc.String(),
			PushbufferLoc:    m.cfg.pushbufferLoc.String(),
		}
		handle, info, err := deps.RM.ChannelAllocate(0, params)
		if err != nil {
			pool.destroy()
			return nil, fmt.Errorf("gpuchannel: allocate channel: %w", err)
		}
		name := fmt.Sprintf("ce%d-%d", ce, i)
		if isProxy {
			name = fmt.Sprintf("proxy-ce%d", ce)
		}
		ch := newChannel(name, pool, ringCapacity, handle, info, m.cfg.gpfifoLoc, m.cfg.gpputLoc, deps.Pushbuffer, deps.CEHal, deps.HostHal, deps.RM)

		ceTok, err := bootstrapToken(deps.Pushbuffer)
		if err != nil {
			ch.destroy()
			pool.destroy()
			return nil, fmt.Errorf("gpuchannel: bootstrap ce_hal.init on %s: %w", name, err)
		}
		deps.CEHal.Init(ceTok)

		hostTok, err := bootstrapToken(deps.Pushbuffer)
		if err != nil {
			ch.destroy()
			pool.destroy()
			return nil, fmt.Errorf("gpuchannel: bootstrap host_hal.init on %s: %w", name, err)
		}
		deps.HostHal.Init(hostTok)

		pool.channels = append(pool.channels, ch)
	}

	return pool, nil
}

// bootstrapToken obtains a push token for one-shot channel init commands
// (spec.md §6, ce_hal.init/host_hal.init). Bootstrap init never contends
// for ring capacity, so a direct BeginPush is safe to call eagerly at
// construction; a failure here propagates and unwinds construction like
// every other fallible allocation step (spec.md §7).
func bootstrapToken(pb hal.Pushbuffer) (hal.PushToken, error) {
	return pb.BeginPush()
}

// ReserveType claims a slot on an arbitrary channel of the pool bound
// to type t (spec.md §4.3, reserve_type).
func (m *Manager) ReserveType(t ChannelType) (*Channel, error) {
	pool := m.defaultForType[t]
	return pool.reserveAny()
}

// ReserveGPUToGPU claims a slot for a peer copy, consulting the
// late-bound per-peer pool set by SetP2PPool and falling back to the
// default GPU_TO_GPU pool when no peer-specific pool has been
// installed yet (spec.md §4.3, reserve_gpu_to_gpu; §9, Peer-pool
// assignment).
func (m *Manager) ReserveGPUToGPU(peerGPUIndex int) (*Channel, error) {
	pool, ok := m.gpuToGPU[peerGPUIndex]
	if !ok || pool == nil {
		pool = m.defaultForType[ChannelTypeGPUToGPU]
	}
	return pool.reserveAny()
}

// SetP2PPool installs the pool backed by optimalCE as the preferred
// route for peer copies to peerGPUIndex, discovered after manager
// construction (spec.md §9, Peer-pool assignment).
func (m *Manager) SetP2PPool(peerGPUIndex int, optimalCE int) error {
	pool := m.poolForCE(optimalCE)
	if pool == nil {
		return newChannelError(ErrKindGeneric, "", "no pool for requested peer CE")
	}
	m.gpuToGPU[peerGPUIndex] = pool
	return nil
}

// UpdateProgressAll sums UpdateProgress across every channel in every
// pool, fanning out one goroutine per pool bounded by errgroup, since
// pools share no state besides the (already lock-protected) channel
// list (spec.md §4.6, update_progress_all).
func (m *Manager) UpdateProgressAll() int {
	var g errgroup.Group
	totals := make([]int, len(m.pools))
	for i, pool := range m.pools {
		i, pool := i, pool
		g.Go(func() error {
			totals[i] = pool.updateProgressAll()
			return nil
		})
	}
	_ = g.Wait()

	total := 0
	for _, t := range totals {
		total += t
	}
	return total
}

// Wait blocks, spinning with bounded backoff, until every channel has
// drained or a channel/global error is observed (spec.md §4.6, wait).
func (m *Manager) Wait() error {
	if m.UpdateProgressAll() == 0 {
		return m.CheckErrors()
	}

	var spin spinLoop
	for {
		if m.UpdateProgressAll() == 0 {
			return m.CheckErrors()
		}
		if err := m.CheckErrors(); err != nil {
			return err
		}
		spin.Wait()
	}
}

// CheckErrors checks the global fatal flag first, then every channel
// in manager order. The first channel fault found is recorded into the
// process-wide FatalInfo (spec.md §4.6, §7).
func (m *Manager) CheckErrors() error {
	if m.fatal.Load() {
		if info := m.fatalInfo.Load(); info != nil {
			return newChannelError(info.Kind, info.Channel, info.Description)
		}
		return ErrGeneric
	}

	for _, pool := range m.pools {
		for _, ch := range pool.channels {
			if err := ch.CheckErrors(); err != nil {
				m.recordFatal(ch, err)
				return err
			}
		}
	}
	return nil
}

func (m *Manager) recordFatal(ch *Channel, err error) {
	if !m.fatal.CompareAndSwap(false, true) {
		return
	}
	cerr, _ := err.(*ChannelError)
	desc, site, trackingValue, _ := ch.fatalEntry()
	info := &FatalInfo{Channel: ch.Name(), Description: desc, SourceSite: site, TrackingValue: trackingValue}
	if cerr != nil {
		info.Kind = cerr.Kind
	}
	m.fatalInfo.Store(info)
	m.log.Error(err, "channel fault detected", "channel", ch.Name())
}

func (m *Manager) destroyPools() {
	for i := len(m.pools) - 1; i >= 0; i-- {
		m.pools[i].destroy()
	}
}

// Destroy force-drains and tears down every pool, in reverse creation
// order (spec.md §7).
func (m *Manager) Destroy() {
	m.destroyPools()
}

// Pools exposes the manager's pools for telemetry snapshotting.
func (m *Manager) Pools() []*ChannelPool { return m.pools }

// FatalError returns the recorded process-wide fault, if any.
func (m *Manager) FatalError() *FatalInfo {
	return m.fatalInfo.Load()
}
