// Package ts is the thread-safety substrate for the library.
//
// It provides the global API lock that serializes entry into library
// routines, the per-thread info registry behind it, and the lower-level
// primitives both are built from: a recursive exclusive lock, a recursive
// reader/writer lock, a DLFTT-aware mutex, and a reusable barrier.
//
// "DLFTT" is short for "disable locking for this thread". Each thread
// carries a counter in its registry record; while the counter is positive,
// acquisitions of DLFTT-aware mutexes on that thread become no-ops. The
// library bumps the counter around user callbacks that were invoked under
// the API lock, so those callbacks can re-enter the library without
// self-deadlocking.
//
// Threads are identified by goroutine. A goroutine's ID is extracted from
// the runtime and mapped to a registry record with a process-unique,
// monotonically increasing 64-bit ID that is never reused.
package ts
