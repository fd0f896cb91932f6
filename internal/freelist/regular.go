package freelist

import (
	"unsafe"

	"github.com/qkoziol/hdf5/internal/ts"
)

// Regular is a free list for one fixed record type. Freed records are
// kept on a LIFO stack and handed back by Alloc before the runtime is
// asked for fresh ones.
type Regular[T any] struct {
	mu   ts.DlfttMutex // guards the fields below
	name string
	size uint64

	list      []*T // parked records, LIFO
	allocated uint64
	onlist    uint64
}

// NewRegular creates a head for records of type T and registers it with
// the regular class. The name is used in diagnostics only.
func NewRegular[T any](name string) *Regular[T] {
	var zero T

	h := &Regular[T]{
		name: name,
		size: uint64(unsafe.Sizeof(zero)),
	}

	// Accounting needs a non-zero size even for empty records.
	if h.size == 0 {
		h.size = 1
	}

	regClass.register(h)

	return h
}

// Alloc returns a record from the free list, or a fresh zeroed one. A
// recycled record keeps its previous contents; use Calloc for a cleared
// record.
func (h *Regular[T]) Alloc() (*T, error) {
	h.mu.Acquire()

	if n := len(h.list); n > 0 {
		obj := h.list[n-1]
		h.list[n-1] = nil
		h.list = h.list[:n-1]
		h.onlist--

		h.mu.Release()
		regClass.noteReclaimed(h.size)

		return obj, nil
	}

	h.mu.Release()

	if err := reserve(h.size); err != nil {
		return nil, err
	}

	obj := new(T)

	h.mu.Acquire()
	h.allocated++
	h.mu.Release()

	return obj, nil
}

// Calloc returns a zeroed record.
func (h *Regular[T]) Calloc() (*T, error) {
	obj, err := h.Alloc()
	if err != nil {
		return nil, err
	}

	var zero T
	*obj = zero

	return obj, nil
}

// Free parks a record on the head's free list. Exceeding the per-list cap
// collects this list; exceeding the class cap collects the whole class.
func (h *Regular[T]) Free(obj *T) {
	if obj == nil {
		panic("freelist: Regular.Free(nil)")
	}

	h.mu.Acquire()

	h.list = append(h.list, obj)
	h.onlist++
	onlistBytes := h.onlist * h.size

	h.mu.Release()

	overClass := regClass.noteFreed(h.size)

	if regClass.overListLimit(onlistBytes) {
		regClass.noteReclaimed(h.gcList())
	}

	if overClass {
		regClass.gc()
	}
}

// gcList drops every parked record, returning the bytes released.
func (h *Regular[T]) gcList() uint64 {
	h.mu.Acquire()

	released := h.onlist * h.size

	clear(h.list)
	h.list = h.list[:0]
	h.allocated -= h.onlist
	h.onlist = 0

	h.mu.Release()

	return released
}

// outstanding reports the allocated count, which includes parked records
// until gcList has run.
func (h *Regular[T]) outstanding() uint64 {
	h.mu.Acquire()
	defer h.mu.Release()

	return h.allocated
}

// Stats returns the head's allocation counters: records allocated and not
// yet released by garbage collection, and records currently parked.
func (h *Regular[T]) Stats() (allocated, onList uint64) {
	h.mu.Acquire()
	defer h.mu.Release()

	return h.allocated, h.onlist
}

// Name returns the diagnostic name given at creation.
func (h *Regular[T]) Name() string { return h.name }
