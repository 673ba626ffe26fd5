package gpuchannel

// ChannelType names one of the logical work streams the manager
// multiplexes onto copy-engine hardware queues (spec.md §2/§4.5).
type ChannelType int

const (
	ChannelTypeCPUToGPU ChannelType = iota
	ChannelTypeGPUToCPU
	ChannelTypeGPUInternal
	ChannelTypeMemops
	ChannelTypeGPUToGPU

	numChannelTypes
)

func (t ChannelType) String() string {
	switch t {
	case ChannelTypeCPUToGPU:
		return "CPU_TO_GPU"
	case ChannelTypeGPUToCPU:
		return "GPU_TO_CPU"
	case ChannelTypeGPUInternal:
		return "GPU_INTERNAL"
	case ChannelTypeMemops:
		return "MEMOPS"
	case ChannelTypeGPUToGPU:
		return "GPU_TO_GPU"
	default:
		return "UNKNOWN"
	}
}

// channelSelectionOrder is the order in which types are assigned a
// preferred CE at manager construction. The order matters: each
// selection bumps the chosen CE's usage count, biasing later picks
// towards less-loaded engines (spec.md §4.5).
var channelSelectionOrder = [numChannelTypes]ChannelType{
	ChannelTypeCPUToGPU,
	ChannelTypeGPUToCPU,
	ChannelTypeGPUInternal,
	ChannelTypeGPUToGPU,
	ChannelTypeMemops,
}

// maxCopyEngines bounds the CE indices NewManager scans when creating
// pools; real hardware exposes far fewer CEs than this.
const maxCopyEngines = 32

// CECaps describes one copy engine's capability vector, keyed by CE
// index in the table passed to NewManager (spec.md §4.5).
type CECaps struct {
	Supported  bool
	GRCE       bool
	Sysmem     bool
	SysmemRead bool
	SysmemWrite bool
	P2P        bool
	NvlinkP2P  bool
	CEPceMask  uint32
	Shared     bool
}
