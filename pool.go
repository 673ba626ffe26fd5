package gpuchannel

// ChannelPool is a fixed set of channels sharing one copy engine and
// one spinlock (spec.md §2, §3). It is the only mutex guarding the
// ring indices, push-info free-lists and reservation counters of every
// channel it owns.
type ChannelPool struct {
	lock spinLock

	ceIndex  int
	isProxy  bool
	channels []*Channel
}

// reserveAny scans the pool's channels in array order and claims the
// first one with available capacity, updating progress across the
// whole pool and retrying when none can be claimed immediately
// (spec.md §4.3, Reserve via reserve_type). The scan order is
// intentionally unweighted by occupancy — spec.md §9 notes this as an
// open design question callers may improve on without violating any
// invariant.
func (p *ChannelPool) reserveAny() (*Channel, error) {
	for _, ch := range p.channels {
		if ch.tryClaim() {
			return ch, nil
		}
	}

	var spin spinLoop
	for {
		for _, ch := range p.channels {
			ch.UpdateProgress(defaultMaxToComplete, UpdateCompleted)

			if ch.tryClaim() {
				return ch, nil
			}

			if err := ch.CheckErrors(); err != nil {
				return nil, err
			}
		}
		spin.Wait()
	}
}

// updateProgressAll sums UpdateProgress across every channel in the
// pool and returns the total pending count.
func (p *ChannelPool) updateProgressAll() int {
	pending := 0
	for _, ch := range p.channels {
		pending += ch.UpdateProgress(defaultMaxToComplete, UpdateCompleted)
	}
	return pending
}

// checkErrors returns the first channel error observed in the pool, if
// any.
func (p *ChannelPool) checkErrors() error {
	for _, ch := range p.channels {
		if err := ch.CheckErrors(); err != nil {
			return err
		}
	}
	return nil
}

// destroy force-drains and tears down every channel in the pool, in
// reverse order, matching the construction-unwind convention spec.md
// §7 requires for partial-failure cleanup.
func (p *ChannelPool) destroy() {
	for i := len(p.channels) - 1; i >= 0; i-- {
		p.channels[i].destroy()
	}
}
