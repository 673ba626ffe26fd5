package gpuchannel

import "math/bits"

const noCEChosen = -1

// ceUsable reports whether CE cap can service channel type t (spec.md
// §4.5, Usability).
func ceUsable(t ChannelType, cap CECaps) bool {
	if !cap.Supported || cap.GRCE {
		return false
	}
	switch t {
	case ChannelTypeCPUToGPU, ChannelTypeGPUToCPU:
		return cap.Sysmem
	case ChannelTypeGPUInternal, ChannelTypeMemops:
		return true
	case ChannelTypeGPUToGPU:
		return cap.P2P
	default:
		return false
	}
}

// ceUsageCount counts how many channel types' preferred CE is ce,
// biasing later selections towards less-loaded engines (spec.md §4.5).
func ceUsageCount(ce int, preferred [numChannelTypes]int) int {
	count := 0
	for _, p := range preferred {
		if p == ce {
			count++
		}
	}
	return count
}

// ceLess reports whether candidate ce0 should be preferred over ce1
// for channel type t, given the capability table and the CE usage
// counts accumulated by earlier selections (spec.md §4.5, Preference
// ordering). Ties fall through to the common tail: usage count, then
// non-shared, then lower index.
func ceLess(t ChannelType, caps map[int]CECaps, ce0, ce1 int, preferred [numChannelTypes]int) bool {
	cap0, cap1 := caps[ce0], caps[ce1]

	switch t {
	case ChannelTypeCPUToGPU:
		if cap0.SysmemRead != cap1.SysmemRead {
			return cap0.SysmemRead // higher sysmemRead wins
		}
		if cap0.NvlinkP2P != cap1.NvlinkP2P {
			return !cap0.NvlinkP2P // avoid nvlinkP2p
		}
	case ChannelTypeGPUToCPU:
		if cap0.SysmemWrite != cap1.SysmemWrite {
			return cap0.SysmemWrite
		}
		if cap0.NvlinkP2P != cap1.NvlinkP2P {
			return !cap0.NvlinkP2P
		}
	case ChannelTypeGPUToGPU:
		if p0, p1 := bits.OnesCount32(cap0.CEPceMask), bits.OnesCount32(cap1.CEPceMask); p0 != p1 {
			return p0 > p1
		}
	case ChannelTypeGPUInternal:
		if p0, p1 := bits.OnesCount32(cap0.CEPceMask), bits.OnesCount32(cap1.CEPceMask); p0 != p1 {
			return p0 > p1
		}
		if cap0.NvlinkP2P != cap1.NvlinkP2P {
			return !cap0.NvlinkP2P
		}
	case ChannelTypeMemops:
		// falls straight through to the usage-count tail below.
	}

	if u0, u1 := ceUsageCount(ce0, preferred), ceUsageCount(ce1, preferred); u0 != u1 {
		return u0 < u1 // prefer less-used CEs
	}
	if cap0.Shared != cap1.Shared {
		return !cap0.Shared // prefer non-shared
	}
	return ce0 < ce1
}

// pickCEForType selects the preferred CE for channel type t out of
// every usable CE in caps, OR-ing every usable CE it sees into
// usableMask as a side effect (spec.md §4.5, pick_ce_for_channel_type).
func pickCEForType(t ChannelType, caps map[int]CECaps, usableMask *uint64, preferred [numChannelTypes]int) (int, error) {
	best := noCEChosen
	for ce, cap := range caps {
		if !ceUsable(t, cap) {
			continue
		}
		*usableMask |= 1 << uint(ce)

		if best == noCEChosen || ceLess(t, caps, ce, best, preferred) {
			best = ce
		}
	}
	if best == noCEChosen {
		return 0, newChannelError(ErrKindNotSupported, "", "no usable copy engine for type "+t.String())
	}
	return best, nil
}

// pickCopyEngines runs CE selection for every channel type in
// spec.md §4.5's mandated order, returning the preferred CE per type
// and a bitmask of every usable CE (used to size one pool per usable
// CE, not only the chosen ones).
func pickCopyEngines(caps map[int]CECaps) (preferred [numChannelTypes]int, usableMask uint64, err error) {
	for i := range preferred {
		preferred[i] = noCEChosen
	}

	for _, t := range channelSelectionOrder {
		ce, err := pickCEForType(t, caps, &usableMask, preferred)
		if err != nil {
			return preferred, usableMask, err
		}
		preferred[t] = ce
	}
	return preferred, usableMask, nil
}

// poolIndexForCE computes a usable CE's pool index by bitmap rank: the
// number of usable CEs strictly below ce (spec.md §4.5), mirroring the
// original source's bitmap_weight(ce_mask, ce) one-liner.
func poolIndexForCE(usableMask uint64, ce int) int {
	if ce >= 64 {
		return bits.OnesCount64(usableMask)
	}
	return bits.OnesCount64(usableMask & ((uint64(1) << uint(ce)) - 1))
}
