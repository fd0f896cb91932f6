// Package freelist provides the library's recycling arenas for small,
// same-shaped allocations.
//
// Four classes exist, each with its own registry of heads, per-list and
// global byte caps, and a "memory parked on free lists" gauge:
//
//   - Regular: one fixed record type per head (generic over T).
//   - Array: slices of a fixed element type, one sublist per element
//     count up to a bounded maximum.
//   - Block: raw byte blocks keyed by exact size, with the size classes
//     kept on a most-recently-used priority chain.
//   - Factory: byte blocks of a caller-chosen fixed size, with
//     independently destroyable handles.
//
// Freeing onto a list that exceeds its per-list cap garbage-collects that
// list; exceeding the class's global cap garbage-collects the whole
// class. Garbage collection releases parked blocks back to the runtime;
// live allocations are never touched.
//
// Every head's metadata is guarded by a DLFTT-aware mutex so the arenas
// stay callable from threads that have disabled per-thread locking (user
// callbacks re-entering the library). Lock order is fixed: a class's
// list-of-heads mutex before any individual head's mutex, and a head's
// mutex is never held across a pass that takes the list-of-heads mutex.
package freelist
