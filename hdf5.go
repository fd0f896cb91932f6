package hdf5

import (
	"github.com/qkoziol/hdf5/internal/ts"
)

// MutexAcquire attempts, without blocking, to reserve count recursive
// holds of the library's API lock for the calling thread. acquired
// reports whether the reservation succeeded; false means another thread
// holds the lock.
func MutexAcquire(count uint) (acquired bool) {
	return ts.DefaultAPILock().Acquire(count)
}

// MutexRelease releases the calling thread's entire recursive stack of
// API lock holds and returns the depth that was released.
func MutexRelease() (prevCount uint) {
	return ts.DefaultAPILock().Release()
}

// MutexAttemptCount returns the number of attempts made to acquire the
// API lock so far, a contention diagnostic.
func MutexAttemptCount() uint64 {
	return ts.DefaultAPILock().AttemptCount()
}

// UserCallbackPrepare readies the calling thread for a user callback
// invoked under the API lock: while prepared, the thread can re-enter
// the library without self-deadlocking. Every call must be balanced by
// UserCallbackRestore.
func UserCallbackPrepare() {
	ts.DefaultAPILock().CallbackPrepare()
}

// UserCallbackRestore undoes the matching UserCallbackPrepare.
func UserCallbackRestore() {
	ts.DefaultAPILock().CallbackRestore()
}

// ThreadID returns the library's identifier for the calling thread:
// >= 1, constant for the thread's lifetime, and never reused within the
// process.
func ThreadID() uint64 {
	return ts.ThreadUniqueID()
}
