// Package rm declares the resource-manager collaborator contract
// (spec.md §6): the binding that allocates and destroys hardware
// channels. The core never talks to RM directly; it consumes this
// interface so the same engine can run against real hardware or
// package gpusim's fake.
package rm

// ChannelInfo carries the facts RM hands back after allocating a
// hardware channel (spec.md §6).
type ChannelInfo struct {
	// GPFifoEntries is the GPU-visible base address of the channel's
	// GPFIFO ring.
	GPFifoEntries uint64
	// ErrorNotifier is the GPU-visible address RM/the GPU writes a
	// nonzero value to on channel fault.
	ErrorNotifier uint64
	HwRunlistID   uint32
	HwChannelID   uint32
}

// AddressSpace identifies the GPU virtual address space a channel is
// bound into; opaque to the engine.
type AddressSpace uint64

// ChannelParams carries the per-channel allocation parameters RM
// needs, including the location overrides resolved from Config.
type ChannelParams struct {
	IsProxy          bool
	NumGPFifoEntries int

	// GPFifoLoc, GPPutLoc and PushbufferLoc are the resolved location
	// strings ("sys", "vid" or "auto") the engine's configuration
	// resolution (resolve in package gpuchannel) produced, passed
	// through verbatim so RM allocates each buffer in the aperture the
	// engine decided on (spec.md §6).
	GPFifoLoc     string
	GPPutLoc      string
	PushbufferLoc string
}

// Binding is the RM collaborator contract.
type Binding interface {
	// ChannelAllocate creates one hardware channel and returns its
	// handle plus the facts in ChannelInfo.
	ChannelAllocate(as AddressSpace, params ChannelParams) (handle uint64, info ChannelInfo, err error)

	// ChannelDestroy releases a previously-allocated channel.
	ChannelDestroy(handle uint64)

	// QueryCopyEngineCaps returns the capability vector for every copy
	// engine RM knows about on this GPU, indexed by CE index.
	QueryCopyEngineCaps() (map[int]CECapsView, error)

	// ErrorNotifierSet reports whether the GPU or RM has written a
	// nonzero value into handle's error notifier word (spec.md §6,
	// ChannelInfo.errorNotifier). A stand-in for dereferencing the raw
	// GPU-visible address: the address itself is only carried in
	// ChannelInfo and is not read by the engine; reads go through here.
	ErrorNotifierSet(handle uint64) bool

	// ECCNotifierSet reports whether the GPU's ECC error notifier is
	// set, consulted only after ErrorNotifierSet is true, to refine a
	// plain Rc fault into an Ecc fault (spec.md §4.4, §7).
	ECCNotifierSet(handle uint64) bool

	// ReadSemaphorePayload reads the raw 32-bit value the GPU most
	// recently wrote into handle's tracking semaphore location
	// (spec.md §4.1, Refresh).
	ReadSemaphorePayload(handle uint64) uint32
}

// CECapsView mirrors gpuchannel.CECaps without importing the root
// package, keeping this interface's boundary free of a dependency on
// the engine's own types.
type CECapsView struct {
	Supported   bool
	GRCE        bool
	Sysmem      bool
	SysmemRead  bool
	SysmemWrite bool
	P2P         bool
	NvlinkP2P   bool
	CEPceMask   uint32
	Shared      bool
}
