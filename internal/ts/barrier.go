package ts

import "sync"

// Barrier is a reusable count-down rendezvous: Wait blocks until the
// configured number of threads have arrived, then releases them all and
// resets for the next cycle.
//
// Go has no native barrier, so this is the mutex+condvar emulation.
type Barrier struct {
	mu        sync.Mutex
	cv        *sync.Cond
	threshold uint64
	entered   uint64
	cycle     uint64
}

// NewBarrier returns a barrier that releases arrivals in groups of count.
// count must be at least 1.
func NewBarrier(count uint64) *Barrier {
	if count == 0 {
		panic("ts: barrier threshold must be >= 1")
	}

	b := &Barrier{threshold: count}
	b.cv = sync.NewCond(&b.mu)

	return b
}

// Wait blocks until threshold threads (including the caller) have entered
// the current cycle, then returns in all of them. The barrier is
// immediately reusable for the next cycle.
func (b *Barrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	cycle := b.cycle

	b.entered++
	if b.entered == b.threshold {
		// Last arrival: reset and release the whole group.
		b.entered = 0
		b.cycle++
		b.cv.Broadcast()

		return
	}

	// The cycle counter distinguishes this group from the next one, so a
	// fast thread re-entering Wait cannot consume this cycle's wakeup.
	for cycle == b.cycle {
		b.cv.Wait()
	}
}
