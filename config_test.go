package gpuchannel

import (
	"testing"

	"github.com/go-logr/logr"
)

func TestClampGPFifoEntries(t *testing.T) {
	cases := []struct {
		name string
		in   int
		want int
	}{
		{"below minimum", 20, minGPFIFOEntries},
		{"not a power of two", 1500, defaultGPFIFOEntries},
		{"zero uses default", 0, defaultGPFIFOEntries},
		{"minimum boundary", 32, 32},
		{"maximum boundary", 1 << 20, 1 << 20},
		{"above maximum", 1<<20 + 1, maxGPFIFOEntries},
		{"already default", 1024, 1024},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := clampGPFifoEntries(tc.in, logr.Discard())
			if got != tc.want {
				t.Errorf("clampGPFifoEntries(%d) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseLocationIdempotent(t *testing.T) {
	for _, s := range []string{"sys", "vid", "auto", "garbage", ""} {
		loc := ParseLocation(s)
		again := ParseLocation(loc.String())
		if again != loc {
			t.Errorf("ParseLocation(%q).String() = %q, reparsed to %v, want %v", s, loc.String(), again, loc)
		}
		if s != "sys" && s != "vid" && loc != LocationAuto {
			t.Errorf("ParseLocation(%q) = %v, want auto for invalid input", s, loc)
		}
	}
}

func TestResolveHints(t *testing.T) {
	t.Run("no local memory forces sys", func(t *testing.T) {
		cfg := Config{Hints: PlatformHints{NoLocalMemory: true}}
		r := resolve(cfg, logr.Discard())
		if r.gpfifoLoc != LocationSys || r.gpputLoc != LocationSys || r.pushbufferLoc != LocationSys {
			t.Errorf("resolve() = %+v, want all sys", r)
		}
	})

	t.Run("aarch64 rejects pushbuffer vid", func(t *testing.T) {
		cfg := Config{PushbufferLoc: "vid", Hints: PlatformHints{AArch64: true}}
		r := resolve(cfg, logr.Discard())
		if r.pushbufferLoc != LocationSys {
			t.Errorf("pushbufferLoc = %v, want sys on aarch64", r.pushbufferLoc)
		}
	})

	t.Run("no vidmem gpfifo degrades to auto", func(t *testing.T) {
		cfg := Config{GPFifoLoc: "vid", GPPutLoc: "vid", Hints: PlatformHints{NoVidmemGPFIFO: true}}
		r := resolve(cfg, logr.Discard())
		if r.gpfifoLoc != LocationAuto || r.gpputLoc != LocationAuto {
			t.Errorf("resolve() = %+v, want gpfifo/gpput auto", r)
		}
	})

	t.Run("fast coherent link defaults gpfifo to sys", func(t *testing.T) {
		cfg := Config{Hints: PlatformHints{FastCoherentLink: true}}
		r := resolve(cfg, logr.Discard())
		if r.gpfifoLoc != LocationSys {
			t.Errorf("gpfifoLoc = %v, want sys", r.gpfifoLoc)
		}
	})

	t.Run("invalid location string falls back to default", func(t *testing.T) {
		cfg := Config{GPFifoLoc: "nonsense"}
		r := resolve(cfg, logr.Discard())
		if r.gpfifoLoc != LocationVid {
			t.Errorf("gpfifoLoc = %v, want vid (the unoverridden default)", r.gpfifoLoc)
		}
	})

	t.Run("gpfifo and gpput default to vid", func(t *testing.T) {
		cfg := Config{}
		r := resolve(cfg, logr.Discard())
		if r.gpfifoLoc != LocationVid || r.gpputLoc != LocationVid {
			t.Errorf("resolve() = %+v, want gpfifo/gpput vid by default", r)
		}
		if r.pushbufferLoc != LocationSys {
			t.Errorf("pushbufferLoc = %v, want sys by default", r.pushbufferLoc)
		}
	})

	t.Run("explicit override wins over fast coherent link downgrade", func(t *testing.T) {
		cfg := Config{GPFifoLoc: "vid", Hints: PlatformHints{FastCoherentLink: true}}
		r := resolve(cfg, logr.Discard())
		if r.gpfifoLoc != LocationVid {
			t.Errorf("gpfifoLoc = %v, want vid (explicit override beats the hint)", r.gpfifoLoc)
		}
	})

	t.Run("explicit pushbuffer vid override applies without aarch64", func(t *testing.T) {
		cfg := Config{PushbufferLoc: "vid"}
		r := resolve(cfg, logr.Discard())
		if r.pushbufferLoc != LocationVid {
			t.Errorf("pushbufferLoc = %v, want vid", r.pushbufferLoc)
		}
	})
}
