// Package fs abstracts the operating-system file surface the file
// drivers are built on. The [FS]/[File] interface pair exists so driver
// tests can substitute or instrument the filesystem; production code
// uses [Real], a passthrough to the os package.
package fs

import (
	"io"
	"os"
)

// File is one open file. *os.File satisfies it; the drivers rely on Fd
// returning a descriptor usable with flock and positional I/O, and on
// Stat().Sys() being a *syscall.Stat_t for identity checks.
type File interface {
	io.Closer
	io.Reader
	io.Writer
	io.Seeker
	io.ReaderAt
	io.WriterAt

	Name() string
	Fd() uintptr
	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
}

// FS is the filesystem operations the drivers need.
type FS interface {
	OpenFile(path string, flag int, perm os.FileMode) (File, error)
	Stat(path string) (os.FileInfo, error)
	Remove(path string) error
	// WriteFileAtomic replaces the file at path with data without a
	// window where a partial file is visible.
	WriteFileAtomic(path string, data []byte) error
}
