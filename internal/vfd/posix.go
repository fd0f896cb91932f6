package vfd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/qkoziol/hdf5/internal/fs"
)

// ErrIO is wrapped around syscall failures and unexpected transfer
// counts from the drivers.
var ErrIO = errors.New("vfd: i/o error")

// opKind is the last sequential operation on a descriptor, tracked only
// when positional I/O is unavailable.
type opKind int

const (
	opUnknown opKind = iota
	opRead
	opWrite
)

// PosixConfig configures Open.
type PosixConfig struct {
	// ReadWrite opens for writing as well as reading.
	ReadWrite bool
	// Create creates the file if it does not exist (requires ReadWrite).
	Create bool
	// Truncate empties an existing file on open.
	Truncate bool
	// Exclusive makes Create fail if the file already exists.
	Exclusive bool

	// IgnoreDisabledLocks treats "advisory locks unsupported" as
	// success in Lock and Unlock.
	IgnoreDisabledLocks bool

	// SequentialIO disables the positional read/write fast path and
	// falls back to seek-then-transfer with seek elision, the way
	// platforms without pread/pwrite behave.
	SequentialIO bool

	// FS overrides the filesystem; nil uses the real one.
	FS fs.FS
}

// PosixFile is a file accessed through the POSIX-like I/O shim.
//
// The logical end-of-address (eoa) tracks how much address space the
// layer above has allocated; the end-of-file (eof) tracks the high-water
// mark of bytes actually written. eof never trails a successful write.
type PosixFile struct {
	fsys fs.FS
	f    fs.File
	name string

	eoa uint64
	eof uint64

	// Identity, from fstat at open: on POSIX systems device+inode
	// uniquely identify a file.
	device uint64
	inode  uint64

	ignoreDisabledLocks bool

	// Sequential fallback state. pos/op elide the seek when the next
	// transfer continues where the previous one of the same kind ended.
	sequential bool
	pos        uint64
	op         opKind
	seekCount  uint64
}

// Open opens (or creates) the file at path.
func Open(path string, cfg PosixConfig) (*PosixFile, error) {
	fsys := cfg.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	flag := os.O_RDONLY

	if cfg.ReadWrite {
		flag = os.O_RDWR
	}
	if cfg.Create {
		flag |= os.O_CREATE
	}
	if cfg.Truncate {
		flag |= os.O_TRUNC
	}
	if cfg.Exclusive {
		flag |= os.O_EXCL
	}

	f, err := fsys.OpenFile(path, flag, 0o666)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	file := &PosixFile{
		fsys:                fsys,
		f:                   f,
		name:                path,
		eof:                 uint64(info.Size()),
		ignoreDisabledLocks: cfg.IgnoreDisabledLocks,
		sequential:          cfg.SequentialIO,
		pos:                 UndefAddr,
		op:                  opUnknown,
	}

	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		file.device = uint64(st.Dev)
		file.inode = uint64(st.Ino)
	}

	return file, nil
}

// Close closes the descriptor.
func (p *PosixFile) Close(timing *Timing) error {
	timing.start()
	defer timing.stop()

	if err := p.f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", p.name, err)
	}

	return nil
}

// Compare orders two files by identity: device number, then inode.
// Equal identity means the same on-disk file.
func (p *PosixFile) Compare(other *PosixFile) int {
	if p.device != other.device {
		if p.device < other.device {
			return -1
		}

		return 1
	}

	if p.inode != other.inode {
		if p.inode < other.inode {
			return -1
		}

		return 1
	}

	return 0
}

// Name returns the path given at open.
func (p *PosixFile) Name() string { return p.name }

// EOA returns the logical end-of-address.
func (p *PosixFile) EOA() uint64 { return p.eoa }

// SetEOA sets the logical end-of-address.
func (p *PosixFile) SetEOA(addr uint64) error {
	if addrOverflow(addr) {
		return fmt.Errorf("set eoa %#x: %w", addr, ErrOverflow)
	}

	p.eoa = addr

	return nil
}

// EOF returns the tracked physical end-of-file.
func (p *PosixFile) EOF() uint64 { return p.eof }

// SetEOF overrides the tracked physical end-of-file.
func (p *PosixFile) SetEOF(addr uint64) error {
	if addrOverflow(addr) {
		return fmt.Errorf("set eof %#x: %w", addr, ErrOverflow)
	}

	p.eof = addr

	return nil
}

// Handle exposes the underlying open file.
func (p *PosixFile) Handle() fs.File { return p.f }

// SeekCount reports how many repositioning calls the sequential path has
// made. Always zero on the positional path.
func (p *PosixFile) SeekCount() uint64 { return p.seekCount }

// seekTo repositions the descriptor for a sequential transfer, skipping
// the syscall when the descriptor is already positioned by a previous
// operation of the same kind.
func (p *PosixFile) seekTo(addr uint64, kind opKind, timing *Timing) error {
	if addr == p.pos && kind == p.op {
		return nil
	}

	began := time.Now()

	if _, err := p.f.Seek(int64(addr), io.SeekStart); err != nil {
		p.pos = UndefAddr
		p.op = opUnknown

		return fmt.Errorf("seek %s to %#x: %w", p.name, addr, err)
	}

	p.seekCount++
	timing.seek(began)

	return nil
}

// Read fills buf from the file starting at addr. Short transfers are
// retried against the remaining range; a transfer that hits end-of-file
// zero-fills the rest of buf.
func (p *PosixFile) Read(addr uint64, buf []byte, timing *Timing) error {
	if regionOverflow(addr, uint64(len(buf))) {
		return fmt.Errorf("read %s at %#x+%d: %w", p.name, addr, len(buf), ErrOverflow)
	}

	timing.start()
	defer timing.stop()

	if p.sequential {
		if err := p.seekTo(addr, opRead, timing); err != nil {
			return err
		}
	}

	offset := addr

	for len(buf) > 0 {
		var (
			n   int
			err error
		)

		if p.sequential {
			n, err = p.f.Read(buf)
		} else {
			n, err = p.f.ReadAt(buf, int64(offset))
		}

		if err != nil && !errors.Is(err, io.EOF) {
			if p.sequential {
				p.pos = UndefAddr
				p.op = opUnknown
			}

			return fmt.Errorf("reading %s at %#x: %w: %w", p.name, offset, ErrIO, err)
		}

		if n == 0 {
			// End of file: the remainder of the request reads as zeros.
			clear(buf)

			break
		}

		offset += uint64(n)
		buf = buf[n:]
	}

	if p.sequential {
		p.pos = offset
		p.op = opRead
	}

	return nil
}

// Write stores buf into the file starting at addr, retrying short
// transfers, and advances the tracked end-of-file past the write.
func (p *PosixFile) Write(addr uint64, buf []byte, timing *Timing) error {
	if regionOverflow(addr, uint64(len(buf))) {
		return fmt.Errorf("write %s at %#x+%d: %w", p.name, addr, len(buf), ErrOverflow)
	}

	timing.start()
	defer timing.stop()

	if p.sequential {
		if err := p.seekTo(addr, opWrite, timing); err != nil {
			return err
		}
	}

	offset := addr

	for len(buf) > 0 {
		var (
			n   int
			err error
		)

		if p.sequential {
			n, err = p.f.Write(buf)
		} else {
			n, err = p.f.WriteAt(buf, int64(offset))
		}

		if err != nil {
			if p.sequential {
				p.pos = UndefAddr
				p.op = opUnknown
			}

			return fmt.Errorf("writing %s at %#x: %w: %w", p.name, offset, ErrIO, err)
		}

		offset += uint64(n)
		buf = buf[n:]
	}

	if p.sequential {
		p.pos = offset
		p.op = opWrite
	}

	if offset > p.eof {
		p.eof = offset
	}

	return nil
}

// Truncate sets the physical file length to size, or to the current eoa
// when size is UndefAddr. Any cached sequential position is invalidated.
func (p *PosixFile) Truncate(size uint64, timing *Timing) error {
	if size == UndefAddr {
		size = p.eoa
	}

	if addrOverflow(size) {
		return fmt.Errorf("truncate %s to %#x: %w", p.name, size, ErrOverflow)
	}

	timing.start()
	defer timing.stop()

	if err := p.f.Truncate(int64(size)); err != nil {
		return fmt.Errorf("truncating %s: %w: %w", p.name, ErrIO, err)
	}

	p.eof = size
	p.pos = UndefAddr
	p.op = opUnknown

	return nil
}

// Lock takes a non-blocking advisory lock: exclusive when rw is true,
// shared otherwise. Filesystems without lock support fail with
// fs.ErrLockUnsupported unless the file ignores disabled locks.
func (p *PosixFile) Lock(rw bool, timing *Timing) error {
	timing.start()
	defer timing.stop()

	err := fs.Flock(int(p.f.Fd()), rw)
	if errors.Is(err, fs.ErrLockUnsupported) && p.ignoreDisabledLocks {
		return nil
	}

	return err
}

// Unlock drops the advisory lock.
func (p *PosixFile) Unlock(timing *Timing) error {
	timing.start()
	defer timing.stop()

	err := fs.Funlock(int(p.f.Fd()))
	if errors.Is(err, fs.ErrLockUnsupported) && p.ignoreDisabledLocks {
		return nil
	}

	return err
}

// Sync flushes the descriptor's data to stable storage.
func (p *PosixFile) Sync() error {
	if err := p.f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w: %w", p.name, ErrIO, err)
	}

	return nil
}
