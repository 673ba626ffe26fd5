package gpuchannel

import (
	"runtime"
	"time"
)

// spinLoop implements the UVM_SPIN_LOOP-style bounded backoff named in
// spec.md §4.3/§9: a short busy-wait that escalates to cooperative
// yields and finally to small sleeps the longer it runs, so a caller
// waiting on GPU progress burns less CPU the longer the wait drags on
// without ever parking on a kernel primitive.
//
// Grounded in the teacher's sync.Mutex.lockSlow fast-spin-then-yield
// shape (bounded spin iterations before falling back to the
// scheduler), adapted here to also grow into real sleeps since,
// unlike a mutex critical section, a GPU completion can legitimately
// take far longer than a few scheduler quanta.
type spinLoop struct {
	iter int
}

const (
	spinLoopFastIters = 4
	spinLoopYields     = 1000
	spinLoopSleep      = 50 * time.Microsecond
)

// Wait advances the backoff by one step.
func (s *spinLoop) Wait() {
	switch {
	case s.iter < spinLoopFastIters:
		procyield(30)
	case s.iter < spinLoopYields:
		runtime.Gosched()
	default:
		time.Sleep(spinLoopSleep)
	}
	s.iter++
}
