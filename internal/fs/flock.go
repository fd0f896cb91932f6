package fs

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

var (
	// ErrWouldBlock is returned when a non-blocking lock request finds
	// the lock held by another process.
	ErrWouldBlock = errors.New("lock would block")

	// ErrLockUnsupported is returned when the filesystem does not
	// support advisory locks (NFS and friends). Callers holding an
	// "ignore disabled locks" flag treat it as success.
	ErrLockUnsupported = errors.New("file locking unsupported by filesystem")
)

// Flock takes a non-blocking advisory lock on an open descriptor:
// exclusive when rw is true, shared otherwise.
//
// flock is advisory and applies to the inode behind fd, not a pathname.
// All cooperating processes must take the lock for it to have effect.
func Flock(fd int, rw bool) error {
	how := unix.LOCK_SH
	if rw {
		how = unix.LOCK_EX
	}

	return flockRetryEINTR(fd, how|unix.LOCK_NB)
}

// Funlock drops the advisory lock held on fd.
func Funlock(fd int) error {
	return flockRetryEINTR(fd, unix.LOCK_UN)
}

// flockRetryEINTR wraps flock, retrying on EINTR.
//
// EINTR means a signal interrupted the syscall before it could complete;
// the call just needs to be reissued. Retries are capped so a
// pathological signal storm cannot spin forever.
func flockRetryEINTR(fd int, how int) error {
	const maxEINTRRetries = 10000

	var err error

	for range maxEINTRRetries {
		err = unix.Flock(fd, how)

		switch {
		case err == nil:
			return nil
		case errors.Is(err, syscall.EINTR):
			continue
		case errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN):
			return ErrWouldBlock
		case errors.Is(err, syscall.ENOTSUP) || errors.Is(err, syscall.EOPNOTSUPP) ||
			errors.Is(err, syscall.ENOSYS):
			return ErrLockUnsupported
		default:
			return err
		}
	}

	return err
}
