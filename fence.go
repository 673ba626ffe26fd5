package gpuchannel

import "sync/atomic"

// Go exposes no free-standing memory-fence primitive; the ecosystem's
// idiomatic stand-in (the same one runtime/chan.go uses internally to
// order visibility around a channel's lock, per the teacher slice) is
// a sequentially-consistent atomic store/load on a dedicated variable.
// These two package-level counters exist solely to carry that
// ordering; their values have no meaning of their own.
var (
	fenceStoreStore atomic.Uint64
	fenceFull       atomic.Uint64
)
