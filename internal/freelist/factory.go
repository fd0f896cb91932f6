package freelist

import (
	"github.com/qkoziol/hdf5/internal/ts"
)

// Factory is a runtime-created free list for byte blocks of one
// caller-chosen fixed size. It behaves like a Regular head but is
// independently destroyable; destroying it drops its parked blocks and
// removes it from the factory class registry.
type Factory struct {
	mu   ts.DlfttMutex // guards the fields below
	size uint64

	list      [][]byte // parked blocks, LIFO
	allocated uint64
	onlist    uint64
	destroyed bool
}

// NewFactory creates a factory for blocks of exactly size bytes and
// registers it with the factory class.
func NewFactory(size uint64) (*Factory, error) {
	if size == 0 {
		return nil, ErrBadSize
	}

	f := &Factory{size: size}
	facClass.register(f)

	return f, nil
}

// Size returns the fixed block size the factory serves.
func (f *Factory) Size() uint64 { return f.size }

// Alloc returns a block of the factory's size, recycled when one is
// parked. Recycled blocks keep their previous contents.
func (f *Factory) Alloc() ([]byte, error) {
	f.mu.Acquire()

	if f.destroyed {
		f.mu.Release()

		return nil, ErrDestroyed
	}

	if n := len(f.list); n > 0 {
		buf := f.list[n-1]
		f.list[n-1] = nil
		f.list = f.list[:n-1]
		f.onlist--

		f.mu.Release()
		facClass.noteReclaimed(f.size)

		return buf, nil
	}

	f.mu.Release()

	if err := reserve(f.size); err != nil {
		return nil, err
	}

	buf := make([]byte, f.size)

	f.mu.Acquire()
	f.allocated++
	f.mu.Release()

	return buf, nil
}

// Calloc returns a zeroed block of the factory's size.
func (f *Factory) Calloc() ([]byte, error) {
	buf, err := f.Alloc()
	if err != nil {
		return nil, err
	}

	clear(buf)

	return buf, nil
}

// Free parks a block on the factory's free list.
func (f *Factory) Free(buf []byte) {
	if uint64(len(buf)) != f.size {
		panic("freelist: Factory.Free of block with the wrong size")
	}

	f.mu.Acquire()

	if f.destroyed {
		f.mu.Release()

		return
	}

	f.list = append(f.list, buf)
	f.onlist++
	onlistBytes := f.onlist * f.size

	f.mu.Release()

	overClass := facClass.noteFreed(f.size)

	if facClass.overListLimit(onlistBytes) {
		facClass.noteReclaimed(f.gcList())
	}

	if overClass {
		facClass.gc()
	}
}

// Destroy drops the factory's parked blocks and removes it from the
// class registry. Live allocations from the factory stay valid; further
// Alloc calls fail with ErrDestroyed.
func (f *Factory) Destroy() {
	facClass.noteReclaimed(f.gcList())
	facClass.unregister(f)

	f.mu.Acquire()
	f.destroyed = true
	f.mu.Release()
}

// gcList drops every parked block, returning the bytes released.
func (f *Factory) gcList() uint64 {
	f.mu.Acquire()

	released := f.onlist * f.size

	clear(f.list)
	f.list = f.list[:0]
	f.allocated -= f.onlist
	f.onlist = 0

	f.mu.Release()

	return released
}

func (f *Factory) outstanding() uint64 {
	f.mu.Acquire()
	defer f.mu.Release()

	return f.allocated
}

// Stats returns the factory's allocation counters.
func (f *Factory) Stats() (allocated, onList uint64) {
	f.mu.Acquire()
	defer f.mu.Release()

	return f.allocated, f.onlist
}
