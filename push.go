package gpuchannel

import "github.com/coregpu/gpuchannel/hal"

// Push is one client-level unit of submission: begin, encode commands
// through the HAL, end (spec.md §2, §4.3). It carries a lookup
// back-reference to its channel, never ownership — ownership of the
// ring, semaphore and push-info pool stays with the Channel.
type Push struct {
	channel       *Channel
	token         hal.PushToken
	pushInfoIndex int

	// trackingValue is populated by EndPush; zero before then.
	trackingValue uint64
}

// Channel returns the channel this push was begun on.
func (p *Push) Channel() *Channel { return p.channel }

// TrackingValue returns the semaphore value that marks this push
// complete. Only meaningful after EndPush has returned.
func (p *Push) TrackingValue() uint64 { return p.trackingValue }

// SetDescription attaches a human-readable diagnostic to the push,
// surfaced through the telemetry package and in fault reports
// (spec.md §3, Push-info record).
func (p *Push) SetDescription(desc, sourceSite string) {
	info := p.channel.pushInfos.get(p.pushInfoIndex)
	info.Description = desc
	info.SourceSite = sourceSite
}

// AddAcquire records a cross-channel value this push waited on before
// being submitted, for dependency diagnostics (spec.md §3). Up to
// maxAcquireInfo entries are kept; further calls are dropped silently,
// matching the spec's "small fixed cap" wording — acquire-set overflow
// is a diagnostics-quality concern, never a correctness one.
func (p *Push) AddAcquire(channel string, value uint64) {
	info := p.channel.pushInfos.get(p.pushInfoIndex)
	if info.numAcquires >= maxAcquireInfo {
		return
	}
	info.acquires[info.numAcquires] = AcquireInfo{Channel: channel, Value: value}
	info.numAcquires++
}

// OnComplete registers a callback invoked once UpdateProgress observes
// this push's GPFIFO slot complete.
func (p *Push) OnComplete(fn OnCompleteFunc) {
	p.channel.pushInfos.get(p.pushInfoIndex).OnComplete = fn
}
