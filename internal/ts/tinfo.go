package ts

import (
	"sync"
)

// ErrStack is the per-thread diagnostic stack. Library internals push an
// error for each failing frame on the way out of a call; the entries are
// consumed (or cleared) by the caller that observes the failure.
//
// An ErrStack is owned by exactly one thread and must not be shared.
type ErrStack struct {
	entries []error
}

// Push records err on the stack. nil errors are ignored.
func (s *ErrStack) Push(err error) {
	if err != nil {
		s.entries = append(s.entries, err)
	}
}

// Entries returns the recorded errors, oldest first.
func (s *ErrStack) Entries() []error {
	return s.entries
}

// Clear discards all recorded errors, keeping the backing storage for reuse.
func (s *ErrStack) Clear() {
	s.entries = s.entries[:0]
}

// ThreadInfo is the registry record for one thread.
//
// The id is unique for the life of the process and never reused, even when
// the record itself is recycled for a new thread. The remaining fields are
// owned by the thread the record is currently assigned to and are accessed
// without locking.
type ThreadInfo struct {
	id       uint64
	apiCtx   any      // head of the thread's API-context stack, owned by the context layer
	errStack ErrStack // diagnostic stack, owned by the error layer
	dlftt    uint     // "disable locking for this thread" depth
}

// ID returns the thread's unique ID (>= 1).
func (t *ThreadInfo) ID() uint64 { return t.id }

// APICtx returns a pointer to the thread's API-context slot.
func (t *ThreadInfo) APICtx() *any { return &t.apiCtx }

// ErrStack returns the thread's diagnostic stack.
func (t *ThreadInfo) ErrStack() *ErrStack { return &t.errStack }

// DLFTT returns the thread's current "disable locking" depth.
func (t *ThreadInfo) DLFTT() uint { return t.dlftt }

// SetDLFTT replaces the thread's "disable locking" depth.
func (t *ThreadInfo) SetDLFTT(v uint) { t.dlftt = v }

// IncDLFTT increments the thread's "disable locking" depth.
func (t *ThreadInfo) IncDLFTT() { t.dlftt++ }

// DecDLFTT decrements the thread's "disable locking" depth. Decrementing
// past zero is a caller bug and panics.
func (t *ThreadInfo) DecDLFTT() {
	if t.dlftt == 0 {
		panic("ts: DLFTT decrement below zero")
	}

	t.dlftt--
}

// tinfoNode wraps a ThreadInfo for the registry's recycling list.
type tinfoNode struct {
	next *tinfoNode
	info ThreadInfo
}

// tinfoRegistry hands out ThreadInfo records keyed by goroutine, recycling
// records through an intrusive free list when threads exit.
//
// The registry mutex guards the live map, the free list, and the ID
// counter. A record's interior fields are never touched under this mutex;
// they belong to the owning thread.
type tinfoRegistry struct {
	mu       sync.Mutex
	live     map[ThreadID]*tinfoNode
	nextFree *tinfoNode
	nextID   uint64
}

var tinfo = tinfoRegistry{live: make(map[ThreadID]*tinfoNode)}

// CurrentInfo returns the calling thread's registry record, creating one on
// first access. IDs are assigned monotonically starting at 1 and are never
// reused, even when a record is recycled from the free list.
func CurrentInfo() *ThreadInfo {
	self := CurrentThread()

	tinfo.mu.Lock()

	if node, ok := tinfo.live[self]; ok {
		tinfo.mu.Unlock()

		return &node.info
	}

	// Reuse a parked record if one is available.
	node := tinfo.nextFree
	if node != nil {
		tinfo.nextFree = node.next
	} else {
		node = &tinfoNode{}
	}

	tinfo.nextID++
	id := tinfo.nextID

	tinfo.live[self] = node
	tinfo.mu.Unlock()

	node.next = nil
	node.info = ThreadInfo{id: id}

	return &node.info
}

// ThreadUniqueID returns the registry ID for the calling thread, creating
// its record on first access. The ID satisfies: 1 <= ID, constant over the
// thread's lifetime, and no two threads share one.
func ThreadUniqueID() uint64 {
	return CurrentInfo().id
}

// ThreadExit parks the calling thread's record on the registry free list.
//
// Goroutines have no exit hook, so threads that pass through the library
// call this on their way out; a record that is never returned is simply
// not recycled.
func ThreadExit() {
	self := CurrentThread()

	tinfo.mu.Lock()
	defer tinfo.mu.Unlock()

	node, ok := tinfo.live[self]
	if !ok {
		return
	}

	delete(tinfo.live, self)
	node.next = tinfo.nextFree
	tinfo.nextFree = node
}

// tinfoTerm drains the registry's free list and forgets live records. Only
// called from library teardown.
func tinfoTerm() {
	tinfo.mu.Lock()
	defer tinfo.mu.Unlock()

	tinfo.nextFree = nil
	tinfo.live = make(map[ThreadID]*tinfoNode)
	// The ID counter is deliberately not reset: IDs are unique for the
	// process lifetime, not the library lifetime.
}
