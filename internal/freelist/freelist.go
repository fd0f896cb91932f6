package freelist

import (
	"errors"
	"sync/atomic"

	"github.com/qkoziol/hdf5/internal/ts"
)

// NoLimit disables a cap when stored in Limits.
const NoLimit = ^uint64(0)

// Default caps, bytes.
const (
	defaultRegularListLimit  = 64 * 1024
	defaultRegularClassLimit = 1 * 1024 * 1024
	defaultArrayListLimit    = 256 * 1024
	defaultArrayClassLimit   = 4 * 1024 * 1024
	defaultBlockListLimit    = 1024 * 1024
	defaultBlockClassLimit   = 16 * 1024 * 1024
	defaultFactoryListLimit  = 1024 * 1024
	defaultFactoryClassLimit = 16 * 1024 * 1024
)

var (
	// ErrAlloc is returned when a memory request fails even after a
	// global garbage-collection retry.
	ErrAlloc = errors.New("freelist: allocation failed")

	// ErrBadSize is returned for requests the class cannot serve (zero
	// size, or an array count beyond the head's maximum).
	ErrBadSize = errors.New("freelist: bad block size")

	// ErrDestroyed is returned for operations on a destroyed factory.
	ErrDestroyed = errors.New("freelist: factory destroyed")
)

// Limits carries the per-list and global caps for all four classes, in
// bytes. NoLimit disables a cap.
type Limits struct {
	RegularList  uint64
	RegularClass uint64
	ArrayList    uint64
	ArrayClass   uint64
	BlockList    uint64
	BlockClass   uint64
	FactoryList  uint64
	FactoryClass uint64
}

// DefaultLimits returns the library's default caps.
func DefaultLimits() Limits {
	return Limits{
		RegularList:  defaultRegularListLimit,
		RegularClass: defaultRegularClassLimit,
		ArrayList:    defaultArrayListLimit,
		ArrayClass:   defaultArrayClassLimit,
		BlockList:    defaultBlockListLimit,
		BlockClass:   defaultBlockClassLimit,
		FactoryList:  defaultFactoryListLimit,
		FactoryClass: defaultFactoryClassLimit,
	}
}

// SetLimits installs new caps for all four classes. Lowering a cap takes
// effect on the next free; it does not trigger collection by itself.
func SetLimits(l Limits) {
	regClass.lstLim.Store(l.RegularList)
	regClass.glbLim.Store(l.RegularClass)
	arrClass.lstLim.Store(l.ArrayList)
	arrClass.glbLim.Store(l.ArrayClass)
	blkClass.lstLim.Store(l.BlockList)
	blkClass.glbLim.Store(l.BlockClass)
	facClass.lstLim.Store(l.FactoryList)
	facClass.glbLim.Store(l.FactoryClass)
}

// CurrentLimits returns the caps currently in force.
func CurrentLimits() Limits {
	return Limits{
		RegularList:  regClass.lstLim.Load(),
		RegularClass: regClass.glbLim.Load(),
		ArrayList:    arrClass.lstLim.Load(),
		ArrayClass:   arrClass.glbLim.Load(),
		BlockList:    blkClass.lstLim.Load(),
		BlockClass:   blkClass.glbLim.Load(),
		FactoryList:  facClass.lstLim.Load(),
		FactoryClass: facClass.glbLim.Load(),
	}
}

// collectable is one head on a class's garbage-collection registry.
type collectable interface {
	// gcList frees every block parked on the head's free list(s) and
	// returns the number of bytes released.
	gcList() uint64

	// outstanding reports the head's allocated count. Parked blocks are
	// included until gcList runs, so right after gcList it is the number
	// of live allocations.
	outstanding() uint64
}

// class groups the registry, gauge, and caps for one free-list class.
type class struct {
	mu    ts.DlfttMutex // guards heads
	heads []collectable

	memFreed atomic.Int64 // bytes parked on this class's free lists
	lstLim   atomic.Uint64
	glbLim   atomic.Uint64
}

func newClass(lstLim, glbLim uint64) *class {
	c := &class{}
	c.lstLim.Store(lstLim)
	c.glbLim.Store(glbLim)

	return c
}

var (
	regClass = newClass(defaultRegularListLimit, defaultRegularClassLimit)
	arrClass = newClass(defaultArrayListLimit, defaultArrayClassLimit)
	blkClass = newClass(defaultBlockListLimit, defaultBlockClassLimit)
	facClass = newClass(defaultFactoryListLimit, defaultFactoryClassLimit)
)

// register links a head onto the class's garbage-collection registry.
func (c *class) register(h collectable) {
	c.mu.Acquire()
	c.heads = append(c.heads, h)
	c.mu.Release()
}

// unregister removes a head (factory destroy).
func (c *class) unregister(h collectable) {
	c.mu.Acquire()

	for i, cur := range c.heads {
		if cur == h {
			c.heads = append(c.heads[:i], c.heads[i+1:]...)

			break
		}
	}

	c.mu.Release()
}

// noteFreed records bytes newly parked on a free list and reports whether
// the class's global cap is now exceeded.
func (c *class) noteFreed(n uint64) bool {
	freed := c.memFreed.Add(int64(n))

	return uint64(freed) > c.glbLim.Load()
}

// noteReclaimed records bytes leaving a free list (reuse or collection).
func (c *class) noteReclaimed(n uint64) {
	c.memFreed.Add(-int64(n))
}

// overListLimit reports whether a single list holding n bytes exceeds the
// per-list cap.
func (c *class) overListLimit(n uint64) bool {
	return n > c.lstLim.Load()
}

// gc walks every head registered with the class and collects each one.
// The list-of-heads mutex is taken first; gcList takes each head's own
// mutex, preserving the fixed lock order.
func (c *class) gc() {
	c.mu.Acquire()

	for _, h := range c.heads {
		c.noteReclaimed(h.gcList())
	}

	c.mu.Release()
}

// term collects the class and drops heads with no outstanding
// allocations, keeping the rest registered. Returns the number of heads
// still live.
func (c *class) term() int {
	c.mu.Acquire()

	kept := c.heads[:0]

	for _, h := range c.heads {
		c.noteReclaimed(h.gcList())

		if h.outstanding() > 0 {
			kept = append(kept, h)
		}
	}

	c.heads = kept
	left := len(kept)

	c.mu.Release()

	return left
}

// FreedBytes returns the per-class "memory parked on free lists" gauges,
// in the order regular, array, block, factory. Consistent only at
// quiescent points.
func FreedBytes() (reg, arr, blk, fac uint64) {
	return uint64(regClass.memFreed.Load()),
		uint64(arrClass.memFreed.Load()),
		uint64(blkClass.memFreed.Load()),
		uint64(facClass.memFreed.Load())
}

// GarbageCollect frees every block parked on every free list of every
// class. Live allocations are untouched.
func GarbageCollect() {
	regClass.gc()
	arrClass.gc()
	blkClass.gc()
	facClass.gc()
}

// Term collects all classes and forgets heads with nothing outstanding.
// Returns the number of heads that still have live allocations and were
// therefore kept.
func Term() int {
	left := regClass.term()
	left += arrClass.term()
	left += blkClass.term()
	left += facClass.term()

	return left
}

// allocGate simulates allocator exhaustion in tests. When set, a request
// is refused while the gate returns false; production leaves it nil (the
// Go runtime has no recoverable out-of-memory signal).
var allocGate func(size uint64) bool

// reserve applies the allocate-or-collect-and-retry policy for a raw
// request of size bytes.
func reserve(size uint64) error {
	if allocGate == nil || allocGate(size) {
		return nil
	}

	// Out of memory: collect everything parked and retry once.
	GarbageCollect()

	if !allocGate(size) {
		return ErrAlloc
	}

	return nil
}
