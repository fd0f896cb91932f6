// Package hdf5 exposes the concurrency and memory-management core of
// the library: the global API lock with its recursive-entry and
// user-callback escape hatches, the free-list arena tunables, and the
// POSIX-backed and memory-resident file drivers.
//
// Library entry points serialize through a process-wide API lock. A
// thread may hold the lock recursively; callbacks invoked under the lock
// can re-enter the library after UserCallbackPrepare raises the thread's
// "disable locking" depth. The free-list arenas recycle small fixed
// shapes under per-list and global memory caps, collecting garbage when
// a cap is exceeded. The file drivers provide a byte-addressed file
// abstraction with overflow-checked addressing, advisory locking, and an
// in-memory variant with page-granular dirty tracking.
package hdf5
