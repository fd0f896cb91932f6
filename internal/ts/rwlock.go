package ts

import "sync"

// rwLockMode is the current grant state of an RWLock.
type rwLockMode int

const (
	rwIdle rwLockMode = iota
	rwRead
	rwWrite
)

// RWLockStats are counters sampled from an RWLock. They are only
// consistent as a set when obtained through Stats, which samples them
// under the lock's internal mutex.
type RWLockStats struct {
	ReadLocksGranted       int64 // including recursive grants
	ReadLocksReleased      int64
	RealReadLocksGranted   int64 // excluding recursive grants
	RealReadLocksReleased  int64
	MaxReadLocks           int64
	MaxReadRecursionDepth  int64
	ReadLocksDelayed       int64
	WriteLocksGranted      int64
	WriteLocksReleased     int64
	RealWriteLocksGranted  int64
	RealWriteLocksReleased int64
	MaxWriteLocks          int64
	MaxWriteRecursionDepth int64
	WriteLocksDelayed      int64
	MaxWriteLocksPending   int64
}

// RWLock is a recursive reader/writer lock.
//
// Unlike sync.RWMutex it permits recursive write locks: a thread holding
// the write lock may take it again, and may also take read locks, dropping
// the lock only when unlock calls balance lock calls. Grants are
// writer-preferring: when both readers and writers are waiting, a waiting
// writer is admitted first.
//
// The implementation extends the R/W lock from "UNIX Network Programming"
// Volume 2 (Stevens) with recursion and writer counting. Per-thread read
// recursion is tracked in a table owned by the lock, so multiple RWLocks
// can be held recursively by one thread at the same time.
type RWLock struct {
	mu   sync.Mutex
	mode rwLockMode

	// Writer fields.
	writersCV      *sync.Cond
	writeThread    ThreadID
	writeDepth     int32
	waitingWriters int32

	// Reader fields.
	readersCV     *sync.Cond
	activeReaders int32
	readDepth     map[ThreadID]int32

	statsEnabled bool
	stats        RWLockStats
}

// NewRWLock returns an initialized recursive reader/writer lock.
// Statistics collection is off; see EnableStats.
func NewRWLock() *RWLock {
	l := &RWLock{readDepth: make(map[ThreadID]int32)}
	l.writersCV = sync.NewCond(&l.mu)
	l.readersCV = sync.NewCond(&l.mu)

	return l
}

// EnableStats turns on statistics collection. Call before the lock is
// shared between threads.
func (l *RWLock) EnableStats() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.statsEnabled = true
}

// Stats returns a consistent snapshot of the lock's statistics.
func (l *RWLock) Stats() RWLockStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.stats
}

// ResetStats zeroes the statistics counters.
func (l *RWLock) ResetStats() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats = RWLockStats{}
}

// RLock acquires a read hold.
//
// A thread already holding a read or write hold on this lock is granted a
// recursive hold immediately, even when writers are waiting; symmetric
// Unlock calls are required for every hold. A fresh reader waits while a
// writer is active or pending, so writers are not starved.
func (l *RWLock) RLock() {
	self := CurrentThread()

	l.mu.Lock()
	defer l.mu.Unlock()

	// A writer may take recursive read holds; count them against its
	// write recursion so release stays symmetric.
	if l.mode == rwWrite && l.writeThread == self {
		l.writeDepth++
		l.noteWriteGrant(false)

		return
	}

	depth := l.readDepth[self]

	if depth == 0 {
		delayed := false

		// New reader: wait out active/pending writers.
		for l.mode == rwWrite || l.waitingWriters > 0 {
			delayed = true
			l.readersCV.Wait()
		}

		l.mode = rwRead
		l.activeReaders++
		l.noteReadGrant(true, delayed)
	} else {
		// Recursive read hold; never blocks.
		l.noteReadGrant(false, false)
	}

	l.readDepth[self] = depth + 1

	if l.statsEnabled && int64(depth+1) > l.stats.MaxReadRecursionDepth {
		l.stats.MaxReadRecursionDepth = int64(depth + 1)
	}
}

// Lock acquires the write hold, waiting for active readers and writers to
// drain. Recursive write holds by the owning thread are granted
// immediately.
func (l *RWLock) Lock() {
	self := CurrentThread()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.mode == rwWrite && l.writeThread == self {
		l.writeDepth++
		l.noteWriteGrant(false)

		return
	}

	delayed := false

	for l.mode != rwIdle {
		delayed = true
		l.waitingWriters++

		if l.statsEnabled && int64(l.waitingWriters) > l.stats.MaxWriteLocksPending {
			l.stats.MaxWriteLocksPending = int64(l.waitingWriters)
		}

		l.writersCV.Wait()
		l.waitingWriters--
	}

	l.mode = rwWrite
	l.writeThread = self
	l.writeDepth = 1
	l.noteWriteGrant(true)

	if delayed && l.statsEnabled {
		l.stats.WriteLocksDelayed++
	}
}

// TryLock attempts to take the write hold without blocking and reports
// whether it succeeded.
func (l *RWLock) TryLock() bool {
	self := CurrentThread()

	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.mode == rwIdle:
		l.mode = rwWrite
		l.writeThread = self
		l.writeDepth = 1
		l.noteWriteGrant(true)
	case l.mode == rwWrite && l.writeThread == self:
		l.writeDepth++
		l.noteWriteGrant(false)
	default:
		return false
	}

	return true
}

// Unlock releases one hold. For a writer, reaching depth zero wakes a
// waiting writer first (writer preference), else broadcasts to readers.
// For a reader, draining the last active reader does the same. Unlocking
// an idle lock, or a hold the calling thread does not have, panics.
func (l *RWLock) Unlock() {
	self := CurrentThread()

	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.mode {
	case rwWrite:
		if l.writeThread != self {
			panic("ts: RWLock.Unlock by non-owning writer")
		}

		l.writeDepth--
		l.noteWriteRelease(l.writeDepth == 0)

		if l.writeDepth == 0 {
			l.writeThread = 0
			l.mode = rwIdle
			l.wakeNext()
		}

	case rwRead:
		depth := l.readDepth[self]
		if depth == 0 {
			panic("ts: RWLock.Unlock by thread without read hold")
		}

		depth--
		if depth == 0 {
			delete(l.readDepth, self)

			l.activeReaders--
			l.noteReadRelease(true)

			if l.activeReaders == 0 {
				l.mode = rwIdle
				l.wakeNext()
			}
		} else {
			l.readDepth[self] = depth
			l.noteReadRelease(false)
		}

	default:
		panic("ts: RWLock.Unlock of idle lock")
	}
}

// wakeNext admits the next holder after the lock went idle: a waiting
// writer if there is one, otherwise all waiting readers.
func (l *RWLock) wakeNext() {
	if l.waitingWriters > 0 {
		l.writersCV.Signal()
	} else {
		l.readersCV.Broadcast()
	}
}

func (l *RWLock) noteReadGrant(real, delayed bool) {
	if !l.statsEnabled {
		return
	}

	l.stats.ReadLocksGranted++

	if real {
		l.stats.RealReadLocksGranted++
	}

	if delayed {
		l.stats.ReadLocksDelayed++
	}

	if int64(l.activeReaders) > l.stats.MaxReadLocks {
		l.stats.MaxReadLocks = int64(l.activeReaders)
	}
}

func (l *RWLock) noteReadRelease(real bool) {
	if !l.statsEnabled {
		return
	}

	l.stats.ReadLocksReleased++

	if real {
		l.stats.RealReadLocksReleased++
	}
}

func (l *RWLock) noteWriteGrant(real bool) {
	if !l.statsEnabled {
		return
	}

	l.stats.WriteLocksGranted++

	if real {
		l.stats.RealWriteLocksGranted++
		if l.stats.MaxWriteLocks < 1 {
			l.stats.MaxWriteLocks = 1
		}
	}

	if int64(l.writeDepth) > l.stats.MaxWriteRecursionDepth {
		l.stats.MaxWriteRecursionDepth = int64(l.writeDepth)
	}
}

func (l *RWLock) noteWriteRelease(real bool) {
	if !l.statsEnabled {
		return
	}

	l.stats.WriteLocksReleased++

	if real {
		l.stats.RealWriteLocksReleased++
	}
}
