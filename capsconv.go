package gpuchannel

import "github.com/coregpu/gpuchannel/rm"

// CapsFromRM converts the RM collaborator's capability view into the
// table CE selection consumes (spec.md §4.5). Kept as a standalone
// conversion so package rm never needs to import the engine's types.
func CapsFromRM(v map[int]rm.CECapsView) map[int]CECaps {
	out := make(map[int]CECaps, len(v))
	for ce, c := range v {
		out[ce] = CECaps{
			Supported:   c.Supported,
			GRCE:        c.GRCE,
			Sysmem:      c.Sysmem,
			SysmemRead:  c.SysmemRead,
			SysmemWrite: c.SysmemWrite,
			P2P:         c.P2P,
			NvlinkP2P:   c.NvlinkP2P,
			CEPceMask:   c.CEPceMask,
			Shared:      c.Shared,
		}
	}
	return out
}
