package ts

import (
	"sync"
	"sync/atomic"
)

// APILock is the serialization point for library entry points.
//
// Two variants exist, chosen at construction:
//
//   - The canonical variant pairs a recursive reader/writer lock with the
//     per-thread DLFTT counter. Mutating entry points take the write hold,
//     read-only entry points take a read hold, and a thread with DLFTT > 0
//     skips the lock entirely (it already holds it further up its stack).
//
//   - The exclusive variant degenerates to the recursive exclusive lock
//     with a shared lock count, and pins DLFTT permanently at zero.
//
// The process-wide instance lives behind the package-level functions
// below; separate instances exist only in tests.
type APILock struct {
	exclusive bool

	// Exclusive variant.
	ex        *ExLock
	lockCount uint // guarded by ownership of ex

	// Canonical (rw-lock + DLFTT) variant.
	rw *RWLock

	attempts atomic.Uint64
}

// NewAPILock returns an API lock of the requested variant.
func NewAPILock(exclusive bool) *APILock {
	l := &APILock{exclusive: exclusive}
	if exclusive {
		l.ex = NewExLock()
	} else {
		l.rw = NewRWLock()
	}

	return l
}

// AttemptCount returns the number of lock entry attempts so far.
func (l *APILock) AttemptCount() uint64 {
	return l.attempts.Load()
}

// Lock acquires the lock for a mutating library entry point.
//
// The returned depth is the calling thread's DLFTT value at entry; the
// caller must pass it to Unlock so the exit path agrees with the entry
// path about whether the lock was really taken.
func (l *APILock) Lock() uint {
	l.attempts.Add(1)

	if l.exclusive {
		l.ex.Lock()
		l.lockCount++

		return 0
	}

	dlftt := CurrentInfo().DLFTT()
	if dlftt == 0 {
		l.rw.Lock()
	}

	return dlftt
}

// Unlock releases the hold taken by the matching Lock. dlftt must be the
// value Lock returned.
func (l *APILock) Unlock(dlftt uint) {
	if l.exclusive {
		l.lockCount--
		l.ex.Unlock()

		return
	}

	if dlftt == 0 {
		l.rw.Unlock()
	}
}

// RLock acquires the lock for a read-only library entry point. The return
// value has the same contract as Lock.
func (l *APILock) RLock() uint {
	l.attempts.Add(1)

	if l.exclusive {
		l.ex.Lock()
		l.lockCount++

		return 0
	}

	dlftt := CurrentInfo().DLFTT()
	if dlftt == 0 {
		l.rw.RLock()
	}

	return dlftt
}

// RUnlock releases the hold taken by the matching RLock.
func (l *APILock) RUnlock(dlftt uint) {
	l.Unlock(dlftt)
}

// Acquire attempts, without blocking, to reserve n recursive holds of the
// lock for the calling thread. On success acquired is true and the thread
// may re-enter the library n times without further acquisition.
func (l *APILock) Acquire(n uint) (acquired bool) {
	l.attempts.Add(1)

	if l.exclusive {
		if !l.ex.TryLockN(n) {
			return false
		}

		l.lockCount += n

		return true
	}

	info := CurrentInfo()

	dlftt := info.DLFTT()
	if dlftt == 0 {
		if !l.rw.TryLock() {
			return false
		}
	}

	// Holding the write lock (directly or further up the stack): record
	// the reserved depth in the thread's DLFTT counter.
	info.SetDLFTT(dlftt + n)

	return true
}

// Release releases the calling thread's entire recursive stack of holds,
// returning the depth that was released.
func (l *APILock) Release() (prev uint) {
	if l.exclusive {
		prev = l.lockCount
		l.lockCount = 0

		for range prev {
			l.ex.Unlock()
		}

		return prev
	}

	info := CurrentInfo()

	prev = info.DLFTT()
	info.SetDLFTT(0)
	l.rw.Unlock()

	return prev
}

// CallbackPrepare disables API locking for the calling thread before a
// user callback is invoked under the lock. No-op in the exclusive variant.
func (l *APILock) CallbackPrepare() {
	if l.exclusive {
		return
	}

	CurrentInfo().IncDLFTT()
}

// CallbackRestore restores the calling thread's locking state after a user
// callback returns. No-op in the exclusive variant.
func (l *APILock) CallbackRestore() {
	if l.exclusive {
		return
	}

	CurrentInfo().DecDLFTT()
}

var (
	apiLock      *APILock
	apiOnce      sync.Once
	apiExclusive bool
)

// UseExclusiveAPILock selects the single-mutex variant for the
// process-wide API lock. It must be called before any other API-lock
// operation; calls after the once-only initialization has run are ignored.
func UseExclusiveAPILock() {
	apiExclusive = true
}

// DefaultAPILock returns the process-wide API lock, initializing it on
// first use through a once-only latch.
func DefaultAPILock() *APILock {
	apiOnce.Do(func() {
		apiLock = NewAPILock(apiExclusive)
	})

	return apiLock
}

// Term resets the package's global state: the API lock singleton and the
// thread-info registry. Only for library teardown; callers must ensure no
// thread holds or is acquiring the lock.
func Term() {
	apiLock = nil
	apiOnce = sync.Once{}
	apiExclusive = false

	tinfoTerm()
}
