package vfd

import (
	"errors"
	"fmt"
	"os"

	"github.com/qkoziol/hdf5/internal/freelist"
	"github.com/qkoziol/hdf5/internal/fs"
	"github.com/qkoziol/hdf5/internal/skiplist"
)

// defaultIncrement is the buffer growth granularity when the caller does
// not choose one.
const defaultIncrement = 64 * 1024

// ErrClosed is returned for operations on a closed core file.
var ErrClosed = errors.New("vfd: file closed")

// dirtyRegion is a closed interval [start, end] of page-aligned bytes
// that must reach the backing store on the next flush.
type dirtyRegion struct {
	start, end uint64
}

// regionFL recycles dirty-region records across all core files.
var regionFL = freelist.NewRegular[dirtyRegion]("core dirty region")

// ImageCallbacks customize how a core file's buffer is obtained and
// released, for callers that hand buffers across an ABI boundary. Either
// both are nil or both are set.
type ImageCallbacks struct {
	Alloc func(size uint64) ([]byte, error)
	Free  func(buf []byte)
}

// CoreConfig configures OpenCore.
type CoreConfig struct {
	// Increment is the growth granularity of the memory buffer; the
	// buffer length is always a multiple of it. Zero selects the
	// default (64 KiB).
	Increment uint64

	// ReadWrite permits writes. Required for write tracking.
	ReadWrite bool
	// Create creates the backing file if it does not exist.
	Create bool
	// Truncate discards existing backing-file content on open.
	Truncate bool

	// BackingStore opens (or creates) the named file and shadows the
	// buffer into it on flush. Without it the file lives and dies in
	// memory.
	BackingStore bool

	// WriteTracking maintains the dirty-region index so flush writes
	// only touched pages. PageSize is the tracking granularity; zero
	// disables tracking regardless of WriteTracking.
	WriteTracking bool
	PageSize      uint64

	// Image seeds the buffer with an existing in-memory file image
	// instead of reading the backing file.
	Image []byte

	// Callbacks override buffer allocation and release.
	Callbacks ImageCallbacks

	// IgnoreDisabledLocks is forwarded to the backing file's advisory
	// locking.
	IgnoreDisabledLocks bool

	// FS overrides the filesystem for the backing file; nil uses the
	// real one.
	FS fs.FS
}

// CoreFile is the memory-resident file: a buffer grown in increments,
// optionally shadowed into a backing file, optionally tracking dirty
// pages so flushes write only what changed.
type CoreFile struct {
	name    string
	backing *PosixFile

	buf       []byte // length is a multiple of increment and >= eof
	increment uint64
	eoa       uint64
	eof       uint64

	dirty     bool
	dirtyList *skiplist.List[*dirtyRegion] // keyed on region start
	pageSize  uint64

	cb       ImageCallbacks
	readonly bool
	closed   bool
}

// ErrReadOnly is returned for writes to a file opened without ReadWrite.
var ErrReadOnly = errors.New("vfd: file opened read-only")

// OpenCore opens a memory-resident file named path.
func OpenCore(path string, cfg CoreConfig) (*CoreFile, error) {
	if (cfg.Callbacks.Alloc == nil) != (cfg.Callbacks.Free == nil) {
		return nil, errors.New("vfd: image callbacks must be set together")
	}

	increment := cfg.Increment
	if increment == 0 {
		increment = defaultIncrement
	}

	file := &CoreFile{
		name:      path,
		increment: increment,
		cb:        cfg.Callbacks,
		readonly:  !cfg.ReadWrite,
	}

	if cfg.BackingStore {
		backing, err := Open(path, PosixConfig{
			ReadWrite:           cfg.ReadWrite,
			Create:              cfg.Create,
			Truncate:            cfg.Truncate,
			IgnoreDisabledLocks: cfg.IgnoreDisabledLocks,
			FS:                  cfg.FS,
		})
		if err != nil {
			return nil, err
		}

		file.backing = backing
	}

	// Seed the buffer: a supplied image wins, then existing backing
	// content, else the file starts empty.
	switch {
	case len(cfg.Image) > 0:
		if err := file.grow(uint64(len(cfg.Image))); err != nil {
			file.abortOpen()

			return nil, err
		}

		copy(file.buf, cfg.Image)
		file.eof = uint64(len(cfg.Image))

	case file.backing != nil && file.backing.EOF() > 0 && !cfg.Truncate:
		size := file.backing.EOF()
		if err := file.grow(size); err != nil {
			file.abortOpen()

			return nil, err
		}

		if err := file.backing.Read(0, file.buf[:size], nil); err != nil {
			file.abortOpen()

			return nil, err
		}

		file.eof = size
	}

	if cfg.WriteTracking && cfg.PageSize > 0 && cfg.ReadWrite {
		file.pageSize = cfg.PageSize
		file.dirtyList = skiplist.New[*dirtyRegion](int64(os.Getpid()))
	}

	return file, nil
}

// abortOpen releases the partially opened file.
func (c *CoreFile) abortOpen() {
	if c.backing != nil {
		_ = c.backing.Close(nil)
	}

	c.freeBuf()
}

// grow extends the buffer so it covers at least size bytes, keeping the
// length a multiple of the increment. New bytes are zero.
func (c *CoreFile) grow(size uint64) error {
	if addrOverflow(size) {
		return fmt.Errorf("grow to %#x: %w", size, ErrOverflow)
	}

	if size <= uint64(len(c.buf)) {
		return nil
	}

	newLen := (size + c.increment - 1) / c.increment * c.increment

	var (
		newBuf []byte
		err    error
	)

	if c.cb.Alloc != nil {
		newBuf, err = c.cb.Alloc(newLen)
		if err != nil {
			return fmt.Errorf("image alloc %d bytes: %w", newLen, err)
		}

		if uint64(len(newBuf)) < newLen {
			return fmt.Errorf("image alloc returned %d bytes, need %d", len(newBuf), newLen)
		}

		newBuf = newBuf[:newLen]
	} else {
		newBuf = make([]byte, newLen)
	}

	copy(newBuf, c.buf)
	c.freeBuf()
	c.buf = newBuf

	return nil
}

// freeBuf releases the buffer through the user callback when present.
func (c *CoreFile) freeBuf() {
	if c.buf == nil {
		return
	}

	if c.cb.Free != nil {
		c.cb.Free(c.buf)
	}

	c.buf = nil
}

// Name returns the path given at open.
func (c *CoreFile) Name() string { return c.name }

// EOA returns the logical end-of-address.
func (c *CoreFile) EOA() uint64 { return c.eoa }

// SetEOA sets the logical end-of-address.
func (c *CoreFile) SetEOA(addr uint64) error {
	if addrOverflow(addr) {
		return fmt.Errorf("set eoa %#x: %w", addr, ErrOverflow)
	}

	c.eoa = addr

	return nil
}

// EOF returns the in-memory end-of-file (bytes in use in the buffer).
func (c *CoreFile) EOF() uint64 { return c.eof }

// Dirty reports whether the buffer holds unflushed writes.
func (c *CoreFile) Dirty() bool { return c.dirty }

// Tracking reports whether the dirty-region index is live.
func (c *CoreFile) Tracking() bool { return c.dirtyList != nil }

// Compare orders two core files. Files with backing stores compare by
// the backing file's identity; purely in-memory files only equal
// themselves and order by nothing in particular (structure identity).
func (c *CoreFile) Compare(other *CoreFile) int {
	if c.backing != nil && other.backing != nil {
		return c.backing.Compare(other.backing)
	}

	if c == other {
		return 0
	}

	if c.backing != nil {
		return -1
	}
	if other.backing != nil {
		return 1
	}

	// Both unnamed: arbitrary but consistent order.
	if fmt.Sprintf("%p", c) < fmt.Sprintf("%p", other) {
		return -1
	}

	return 1
}

// Read copies len(buf) bytes starting at addr out of the memory buffer.
// Bytes past the end-of-file read as zeros.
func (c *CoreFile) Read(addr uint64, buf []byte) error {
	if c.closed {
		return ErrClosed
	}

	if regionOverflow(addr, uint64(len(buf))) {
		return fmt.Errorf("read %s at %#x+%d: %w", c.name, addr, len(buf), ErrOverflow)
	}

	n := uint64(0)
	if addr < c.eof {
		n = min(uint64(len(buf)), c.eof-addr)
		copy(buf[:n], c.buf[addr:addr+n])
	}

	clear(buf[n:])

	return nil
}

// Write copies buf into the memory buffer at addr, growing it in
// increment multiples as needed, and records the touched pages when
// write tracking is on.
func (c *CoreFile) Write(addr uint64, buf []byte) error {
	if c.closed {
		return ErrClosed
	}

	if c.readonly {
		return fmt.Errorf("write %s: %w", c.name, ErrReadOnly)
	}

	size := uint64(len(buf))

	if regionOverflow(addr, size) {
		return fmt.Errorf("write %s at %#x+%d: %w", c.name, addr, size, ErrOverflow)
	}

	if size == 0 {
		return nil
	}

	if err := c.grow(addr + size); err != nil {
		return err
	}

	if addr+size > c.eof {
		c.eof = addr + size
	}

	copy(c.buf[addr:addr+size], buf)
	c.dirty = true

	if c.dirtyList != nil {
		if err := c.addDirtyRegion(addr, addr+size-1); err != nil {
			return err
		}
	}

	return nil
}

// addDirtyRegion records the closed byte interval [start, end] in the
// dirty-region index, expanding it to page boundaries and merging it
// with neighbors so live regions never overlap.
func (c *CoreFile) addDirtyRegion(start, end uint64) error {
	// Expand to page boundaries: start rounds down, end rounds up to
	// one byte short of the next boundary, clamped to the current eof.
	start = start / c.pageSize * c.pageSize

	if end%c.pageSize != c.pageSize-1 {
		end = (end/c.pageSize+1)*c.pageSize - 1
		if end > c.eof {
			end = c.eof - 1
		}
	}

	// Neighbors: bItem ends at or before the new start, aItem starts at
	// or before the new end+1 (so "touching" counts as overlap).
	var bItem, aItem *dirtyRegion

	if _, v, ok := c.dirtyList.Less(start + 1); ok {
		bItem = v
	}
	if _, v, ok := c.dirtyList.Less(end + 2); ok {
		aItem = v
	}

	// Absorb a following region the new one reaches into.
	if aItem != nil && start < aItem.start && end < aItem.end {
		end = aItem.end
	}

	// Extend the preceding region instead of inserting when the new
	// region touches or overlaps it.
	createNew := true

	if bItem != nil && start <= bItem.end+1 {
		start = bItem.start
		createNew = false
	}

	// Remove regions now fully shadowed by [start, end].
	for aItem != nil && aItem.start > start {
		var prev *dirtyRegion

		if _, v, ok := c.dirtyList.Less(aItem.start - 1); ok {
			prev = v
		}

		if removed, ok := c.dirtyList.Remove(aItem.start); ok {
			regionFL.Free(removed)
		}

		aItem = prev
	}

	if createNew {
		if existing, ok := c.dirtyList.Search(start); ok {
			if existing.end < end {
				existing.end = end
			}
		} else {
			item, err := regionFL.Calloc()
			if err != nil {
				return err
			}

			item.start = start
			item.end = end

			if err := c.dirtyList.Insert(start, item); err != nil {
				regionFL.Free(item)

				return fmt.Errorf("inserting dirty region [%#x, %#x]: %w", start, end, err)
			}
		}
	} else if bItem.end < end {
		bItem.end = end
	}

	return nil
}

// Regions returns the dirty regions in ascending start order. Intended
// for tests and diagnostics.
func (c *CoreFile) Regions() [][2]uint64 {
	if c.dirtyList == nil {
		return nil
	}

	out := make([][2]uint64, 0, c.dirtyList.Count())

	c.dirtyList.Ascend(func(_ uint64, r *dirtyRegion) bool {
		out = append(out, [2]uint64{r.start, r.end})

		return true
	})

	return out
}

// Flush writes unflushed content to the backing store: the tracked dirty
// regions when tracking is on, the whole buffer up to eof otherwise.
// Without a backing store (or with a clean buffer) it does nothing.
func (c *CoreFile) Flush() error {
	if c.closed {
		return ErrClosed
	}

	if c.backing == nil || !c.dirty {
		return nil
	}

	if c.dirtyList != nil {
		for {
			_, region, ok := c.dirtyList.RemoveFirst()
			if !ok {
				break
			}

			start, end := region.start, region.end
			regionFL.Free(region)

			// The index may hold pages beyond a shrunken eof.
			if start >= c.eof {
				continue
			}
			if end >= c.eof {
				end = c.eof - 1
			}

			if err := c.backing.Write(start, c.buf[start:end+1], nil); err != nil {
				return err
			}
		}
	} else if c.eof > 0 {
		if err := c.backing.Write(0, c.buf[:c.eof], nil); err != nil {
			return err
		}
	}

	c.dirty = false

	return nil
}

// Truncate aligns storage with the logical end-of-address.
//
// When closing with a backing store, the backing file is cut (or grown)
// to exactly eoa. Otherwise the buffer is grown to eoa rounded up to an
// increment multiple, zero-filling the extension, and the backing file
// is left alone. Calling it twice with an unchanged eoa is a no-op the
// second time.
func (c *CoreFile) Truncate(closing bool) error {
	if c.closed {
		return ErrClosed
	}

	if closing {
		if c.backing != nil {
			if err := c.backing.Truncate(c.eoa, nil); err != nil {
				return err
			}
		}

		c.eof = c.eoa

		return nil
	}

	newEOF := (c.eoa + c.increment - 1) / c.increment * c.increment

	if err := c.grow(newEOF); err != nil {
		return err
	}

	if newEOF > c.eof {
		c.eof = newEOF
	}

	return nil
}

// Lock forwards an advisory lock request to the backing file; purely
// in-memory files have nothing to lock.
func (c *CoreFile) Lock(rw bool) error {
	if c.backing == nil {
		return nil
	}

	return c.backing.Lock(rw, nil)
}

// Unlock forwards the advisory unlock to the backing file.
func (c *CoreFile) Unlock() error {
	if c.backing == nil {
		return nil
	}

	return c.backing.Unlock(nil)
}

// Image returns a copy of the file's content up to eof.
func (c *CoreFile) Image() []byte {
	out := make([]byte, c.eof)
	copy(out, c.buf[:c.eof])

	return out
}

// Close flushes best-effort, tears down the dirty-region index, releases
// the buffer, and closes the backing file. The first error does not stop
// the remaining teardown; all failures are reported together.
func (c *CoreFile) Close() error {
	if c.closed {
		return nil
	}

	flushErr := c.Flush()

	if c.dirtyList != nil {
		for {
			_, region, ok := c.dirtyList.RemoveFirst()
			if !ok {
				break
			}

			regionFL.Free(region)
		}

		c.dirtyList = nil
	}

	c.freeBuf()

	var closeErr error

	if c.backing != nil {
		closeErr = c.backing.Close(nil)
		c.backing = nil
	}

	c.closed = true

	return errors.Join(flushErr, closeErr)
}
