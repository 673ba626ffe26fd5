// Package hal declares the two external collaborator contracts named in
// spec.md §6: the pushbuffer allocator and the command encoder (HAL).
// Neither is defined here — the engine only consumes them. Package
// gpusim supplies simulated implementations good enough to drive the
// engine without real hardware.
package hal

// PushToken identifies one in-flight push to the pushbuffer
// collaborator; it is opaque to the engine beyond what Pushbuffer
// itself needs to resolve it back to a region.
type PushToken = uint64

// Pushbuffer is the allocator that hands out contiguous device-visible
// regions for encoded commands (spec.md §6, Pushbuffer collaborator).
type Pushbuffer interface {
	// BeginPush reserves a contiguous region for one push and returns a
	// token identifying it for the rest of the push's lifetime.
	BeginPush() (PushToken, error)

	// EndPush commits the region and attaches it to the lifecycle of
	// the GPFIFO slot it was installed into, identified by the slot's
	// tracking value. It must be called before the owning pool's lock
	// is released (spec.md §4.3 step 7) so a racing completion
	// observer never sees the slot complete before the pushbuffer
	// knows it was submitted.
	EndPush(tok PushToken, trackingValue uint64)

	// MarkCompleted tells the pushbuffer a previously-ended push's
	// region may now be reclaimed.
	MarkCompleted(trackingValue uint64)

	// GPUVA returns the GPU-visible address of the region reserved for
	// tok.
	GPUVA(tok PushToken) uint64

	// Offset returns the region's offset within the pushbuffer.
	Offset(tok PushToken) uint64

	// Size returns the number of bytes written into the region so far.
	Size(tok PushToken) uint32
}

// CEHal is the copy-engine command encoder collaborator (spec.md §6).
type CEHal interface {
	// Init encodes a channel's one-shot bootstrap CE commands.
	Init(tok PushToken)

	// SemaphoreRelease appends a release-to-value command that writes
	// payload32 to gpuVA once the preceding commands in the push
	// retire on the GPU.
	SemaphoreRelease(tok PushToken, gpuVA uint64, payload32 uint32)
}

// HostHal is the host/GPFIFO command encoder collaborator (spec.md
// §6).
type HostHal interface {
	// Init encodes a channel's one-shot bootstrap host commands.
	Init(tok PushToken)

	// SetGPFifoEntry encodes one GP-entry pointing at pushbufferVA,
	// sized bytes long, at the given ring index.
	SetGPFifoEntry(ringIndex int, pushbufferVA uint64, size uint32)

	// WriteGPUPut writes the GPPUT doorbell for channelHandle,
	// publishing newPut to the GPU.
	WriteGPUPut(channelHandle uint64, newPut int)
}
