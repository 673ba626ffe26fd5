package gpuchannel

import "github.com/coregpu/gpuchannel/telemetry"

// Snapshot returns a read-only view of the channel's current state for
// the telemetry surface (spec.md §6).
func (c *Channel) Snapshot() telemetry.ChannelSnapshot {
	c.pool.lock.Lock()
	defer c.pool.lock.Unlock()

	snap := telemetry.ChannelSnapshot{
		Name:           c.name,
		State:          c.stateLocked().String(),
		Completed:      c.sem.CompletedCache(),
		Queued:         c.sem.Queued(),
		Capacity:       c.ringBuf.capacity(),
		GPFifoLocation: c.gpfifoLoc.String(),
		GPPutLocation:  c.gpputLoc.String(),
		GetIndex:       c.ringBuf.gpuGet,
		PutIndex:       c.ringBuf.cpuPut,
		SemaphoreGPUVA: c.semaphoreGPUVA(),
	}

	n := c.ringBuf.capacity()
	for i := c.ringBuf.gpuGet; i != c.ringBuf.cpuPut; i = (i + 1) % n {
		slot := &c.ringBuf.slots[i]
		info := c.pushInfos.get(slot.pushInfoRef)
		p := telemetry.PendingPush{
			TrackingValue: slot.trackingValue,
			Description:   info.Description,
			SourceSite:    info.SourceSite,
		}
		for j := 0; j < info.numAcquires; j++ {
			p.Acquires = append(p.Acquires, telemetry.AcquireEntry{
				Channel: info.acquires[j].Channel,
				Value:   info.acquires[j].Value,
			})
		}
		snap.Pending = append(snap.Pending, p)
	}

	for i := 0; i < c.recentCount; i++ {
		idx := (c.recentNext - 1 - i + recentFinishedCap) % recentFinishedCap
		f := c.recentFinished[idx]
		snap.RecentFinished = append(snap.RecentFinished, telemetry.FinishedPush{
			TrackingValue: f.trackingValue,
			Description:   f.description,
			SourceSite:    f.sourceSite,
		})
	}

	return snap
}

// stateLocked is State's body, callable while already holding
// c.pool.lock (State itself takes the lock, so it cannot call this
// from a context that already holds it).
func (c *Channel) stateLocked() ChannelState {
	if c.faultKind != ErrKindNone {
		return ChannelFaulted
	}
	if c.sem.Queued() == c.sem.CompletedCache() && c.ringBuf.currentPushesCount == 0 {
		return ChannelIdle
	}
	return ChannelActive
}

// Snapshot returns a read-only view of every channel the manager owns
// (spec.md §6).
func (m *Manager) Snapshot() telemetry.ManagerSnapshot {
	snap := telemetry.ManagerSnapshot{PoolCount: len(m.pools)}
	for _, pool := range m.pools {
		for _, ch := range pool.channels {
			snap.Channels = append(snap.Channels, ch.Snapshot())
		}
	}
	if info := m.fatalInfo.Load(); info != nil {
		snap.FatalError = info.Kind.String()
	}
	return snap
}
