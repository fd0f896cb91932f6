package freelist

import (
	"github.com/qkoziol/hdf5/internal/ts"
)

// blkNode is one size class on a Block head's priority queue.
type blkNode struct {
	size       uint64
	list       [][]byte // parked blocks of exactly this size, LIFO
	next, prev *blkNode
}

// Block is a free list for raw byte blocks of arbitrary exact sizes.
//
// Each distinct size gets its own sublist. Sublists form a doubly linked
// chain reordered most-recently-used-first on every lookup, so repeated
// traffic in one size stays at the head of the search.
type Block struct {
	mu   ts.DlfttMutex // guards the fields below
	name string

	head      *blkNode // MRU end of the size-class chain
	allocated uint64
	onlist    uint64
	listBytes uint64 // bytes parked on this head across all sizes
}

// NewBlock creates a block head and registers it with the block class.
func NewBlock(name string) *Block {
	h := &Block{name: name}
	blkClass.register(h)

	return h
}

// findNode locates the sublist for size and moves it to the chain head.
// Caller holds h.mu. Returns nil when the size has no sublist yet.
func (h *Block) findNode(size uint64) *blkNode {
	node := h.head
	for node != nil && node.size != size {
		node = node.next
	}

	if node == nil || node == h.head {
		return node
	}

	// Unlink and reinsert at the MRU end.
	node.prev.next = node.next
	if node.next != nil {
		node.next.prev = node.prev
	}

	node.prev = nil
	node.next = h.head
	h.head.prev = node
	h.head = node

	return node
}

// Alloc returns a block of exactly size bytes, recycled if one is parked.
// Recycled blocks keep their previous contents.
func (h *Block) Alloc(size uint64) ([]byte, error) {
	if size == 0 {
		return nil, ErrBadSize
	}

	h.mu.Acquire()

	node := h.findNode(size)
	if node != nil {
		if n := len(node.list); n > 0 {
			buf := node.list[n-1]
			node.list[n-1] = nil
			node.list = node.list[:n-1]
			h.onlist--
			h.listBytes -= size

			h.mu.Release()
			blkClass.noteReclaimed(size)

			return buf, nil
		}
	}

	h.mu.Release()

	if err := reserve(size); err != nil {
		return nil, err
	}

	buf := make([]byte, size)

	h.mu.Acquire()
	h.allocated++
	h.mu.Release()

	return buf, nil
}

// Calloc returns a zeroed block of exactly size bytes.
func (h *Block) Calloc(size uint64) ([]byte, error) {
	buf, err := h.Alloc(size)
	if err != nil {
		return nil, err
	}

	clear(buf)

	return buf, nil
}

// Realloc returns a block of newSize carrying the old block's leading
// contents. A block already of newSize is returned unchanged.
func (h *Block) Realloc(buf []byte, newSize uint64) ([]byte, error) {
	if buf == nil {
		return h.Alloc(newSize)
	}

	if uint64(len(buf)) == newSize {
		return buf, nil
	}

	out, err := h.Alloc(newSize)
	if err != nil {
		return nil, err
	}

	copy(out, buf)
	h.Free(buf)

	return out, nil
}

// Free parks a block on the sublist for its exact size, creating the
// sublist on first use.
func (h *Block) Free(buf []byte) {
	size := uint64(len(buf))
	if size == 0 {
		panic("freelist: Block.Free of empty block")
	}

	h.mu.Acquire()

	node := h.findNode(size)
	if node == nil {
		node = &blkNode{size: size, next: h.head}
		if h.head != nil {
			h.head.prev = node
		}

		h.head = node
	}

	node.list = append(node.list, buf)
	h.onlist++
	h.listBytes += size
	onlistBytes := h.listBytes

	h.mu.Release()

	overClass := blkClass.noteFreed(size)

	if blkClass.overListLimit(onlistBytes) {
		blkClass.noteReclaimed(h.gcList())
	}

	if overClass {
		blkClass.gc()
	}
}

// gcList drops every parked block and removes fully drained size classes
// from the chain.
func (h *Block) gcList() uint64 {
	h.mu.Acquire()

	released := h.listBytes

	// All sublists drain here, so the whole chain goes.
	h.head = nil
	h.allocated -= h.onlist
	h.onlist = 0
	h.listBytes = 0

	h.mu.Release()

	return released
}

func (h *Block) outstanding() uint64 {
	h.mu.Acquire()
	defer h.mu.Release()

	return h.allocated
}

// Stats returns the head's allocation counters.
func (h *Block) Stats() (allocated, onList uint64) {
	h.mu.Acquire()
	defer h.mu.Release()

	return h.allocated, h.onlist
}

// SizeClasses returns the sizes currently on the priority chain, MRU
// first. Intended for tests.
func (h *Block) SizeClasses() []uint64 {
	h.mu.Acquire()
	defer h.mu.Release()

	var sizes []uint64
	for node := h.head; node != nil; node = node.next {
		sizes = append(sizes, node.size)
	}

	return sizes
}

// Name returns the diagnostic name given at creation.
func (h *Block) Name() string { return h.name }
