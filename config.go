package gpuchannel

import (
	"math/bits"

	"github.com/go-logr/logr"
)

// Location names one of the memory apertures a ring, doorbell, or
// pushbuffer can live in. The zero value is LocationAuto; ParseLocation
// always returns a valid Location.
type Location int

const (
	// LocationAuto lets the platform pick based on its capabilities.
	LocationAuto Location = iota
	// LocationSys places the object in system memory.
	LocationSys
	// LocationVid places the object in GPU-local video memory.
	LocationVid
)

func (l Location) String() string {
	switch l {
	case LocationSys:
		return "sys"
	case LocationVid:
		return "vid"
	default:
		return "auto"
	}
}

// ParseLocation parses one of "sys", "vid", "auto". Any other string
// (including the empty string) silently resets to LocationAuto, per the
// configuration surface contract: invalid strings never fail
// construction, they degrade to the safe default.
func ParseLocation(s string) Location {
	switch s {
	case "sys":
		return LocationSys
	case "vid":
		return LocationVid
	default:
		return LocationAuto
	}
}

const (
	minGPFIFOEntries     = 32
	maxGPFIFOEntries     = 1 << 20
	defaultGPFIFOEntries = 1024
)

// PlatformHints describes the GPU-topology facts that influence location
// defaults. A real embedder fills this in from RM queries; gpusim
// supplies a canned set for tests.
type PlatformHints struct {
	// NoLocalMemory is true for GPUs with no on-board memory (e.g. some
	// integrated parts): all three locations are forced to "sys".
	NoLocalMemory bool
	// AArch64 rejects pushbuffer_loc == "vid".
	AArch64 bool
	// NoVidmemGPFIFO is true on hardware that cannot host a GPFIFO ring
	// in video memory; both gpfifo_loc and gpput_loc degrade to "auto".
	NoVidmemGPFIFO bool
	// FastCoherentLink lowers the default gpfifo_loc to "sys" (it has no
	// effect on gpput_loc, which stays "vid" unless explicitly overridden).
	FastCoherentLink bool
}

// Config is the process-wide configuration surface, set once at Manager
// construction (spec.md §6, Configuration surface).
type Config struct {
	// NumGPFifoEntries is the requested ring capacity. It is clamped to
	// [32, 2^20] and rounded to the 1024 default when not a power of two.
	NumGPFifoEntries int
	GPFifoLoc        string
	GPPutLoc         string
	PushbufferLoc    string

	Hints PlatformHints
}

// resolvedConfig is the validated, clamped form of Config actually used
// by the engine.
type resolvedConfig struct {
	numGPFifoEntries int
	gpfifoLoc        Location
	gpputLoc         Location
	pushbufferLoc    Location
}

// resolve clamps and overrides the raw Config per spec.md §6, logging
// every clamp/override decision at a diagnostic level the way a driver
// component would surface configuration surprises to its embedder.
//
// The resolution order follows original_source/.../uvm_channel.c's
// init_channel_manager_conf: NoLocalMemory short-circuits everything to
// "sys"; otherwise pushbuffer_loc defaults to "sys" and is only raised
// to "vid" by an explicit, valid, non-AArch64 request; then, absent
// NoVidmemGPFIFO, gpfifo_loc/gpput_loc default to "vid" (lower latency),
// with FastCoherentLink lowering gpfifo_loc's default to "sys" — and an
// explicit, valid override always wins over both the default and the
// hint.
func resolve(cfg Config, log logr.Logger) resolvedConfig {
	n := clampGPFifoEntries(cfg.NumGPFifoEntries, log)

	if cfg.Hints.NoLocalMemory {
		return resolvedConfig{
			numGPFifoEntries: n,
			gpfifoLoc:        LocationSys,
			gpputLoc:         LocationSys,
			pushbufferLoc:    LocationSys,
		}
	}

	pushbufferLoc := LocationSys
	requestedPushbufferLoc := logInvalidLocation(log, "pushbuffer", cfg.PushbufferLoc)
	if requestedPushbufferLoc == LocationVid {
		if cfg.Hints.AArch64 {
			log.V(1).Info("pushbuffer_loc=vid is not supported on aarch64, using sys instead")
		} else {
			pushbufferLoc = LocationVid
		}
	}

	if cfg.Hints.NoVidmemGPFIFO {
		return resolvedConfig{
			numGPFifoEntries: n,
			gpfifoLoc:        LocationAuto,
			gpputLoc:         LocationAuto,
			pushbufferLoc:    pushbufferLoc,
		}
	}

	// By default place GPFIFO and GPPUT on vidmem: it potentially has
	// lower latency.
	gpfifoLoc := LocationVid
	gpputLoc := LocationVid
	if cfg.Hints.FastCoherentLink {
		gpfifoLoc = LocationSys
	}

	if requested := logInvalidLocation(log, "gpfifo", cfg.GPFifoLoc); requested != LocationAuto {
		gpfifoLoc = requested
	}
	if requested := logInvalidLocation(log, "gpput", cfg.GPPutLoc); requested != LocationAuto {
		gpputLoc = requested
		if gpputLoc == LocationSys {
			log.V(1).Info("gpput_loc=sys is not supported in production and may crash the system")
		}
	}

	return resolvedConfig{
		numGPFifoEntries: n,
		gpfifoLoc:        gpfifoLoc,
		gpputLoc:         gpputLoc,
		pushbufferLoc:    pushbufferLoc,
	}
}

// logInvalidLocation parses s, logging a diagnostic if it is a
// non-empty string that is neither a valid location nor "auto" (a
// truly invalid override, as opposed to an absent or explicit "auto"
// one).
func logInvalidLocation(log logr.Logger, field, s string) Location {
	loc := ParseLocation(s)
	if s != "" && s != "auto" && loc == LocationAuto {
		log.V(1).Info("invalid location, resetting to auto", "field", field, "requested", s)
	}
	return loc
}

func clampGPFifoEntries(n int, log logr.Logger) int {
	if n <= 0 {
		return defaultGPFIFOEntries
	}
	if n < minGPFIFOEntries {
		log.V(1).Info("num_gpfifo_entries below minimum, clamping", "requested", n, "clamped", minGPFIFOEntries)
		return minGPFIFOEntries
	}
	if n > maxGPFIFOEntries {
		log.V(1).Info("num_gpfifo_entries above maximum, clamping", "requested", n, "clamped", maxGPFIFOEntries)
		return maxGPFIFOEntries
	}
	if bits.OnesCount(uint(n)) != 1 {
		log.V(1).Info("num_gpfifo_entries not a power of two, using default", "requested", n, "default", defaultGPFIFOEntries)
		return defaultGPFIFOEntries
	}
	return n
}
