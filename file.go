package hdf5

import (
	"os"

	"github.com/qkoziol/hdf5/internal/config"
	"github.com/qkoziol/hdf5/internal/vfd"
)

// File option types and constructors, re-exported from the driver layer.
type (
	// FileConfig configures OpenFile.
	FileConfig = vfd.PosixConfig

	// MemFileConfig configures OpenMemFile.
	MemFileConfig = vfd.CoreConfig

	// MemImageCallbacks override how a memory file's buffer is
	// obtained and released.
	MemImageCallbacks = vfd.ImageCallbacks

	// PosixFile is a file accessed through the POSIX-like I/O shim.
	PosixFile = vfd.PosixFile

	// MemFile is the memory-resident file.
	MemFile = vfd.CoreFile

	// IOTiming captures wall-clock measurements around one driver
	// operation.
	IOTiming = vfd.Timing
)

// OpenFile opens path through the POSIX-backed driver.
func OpenFile(path string, cfg FileConfig) (*PosixFile, error) {
	return vfd.Open(path, cfg)
}

// OpenMemFile opens a memory-resident file, optionally shadowed into a
// backing file at path.
func OpenMemFile(path string, cfg MemFileConfig) (*MemFile, error) {
	return vfd.OpenCore(path, cfg)
}

// OpenMemFileConfigured opens a memory-resident file with tunables
// (increment, write tracking, page size, lock handling) taken from the
// library's config files in workDir, merged with built-in defaults.
func OpenMemFileConfigured(path, workDir string) (*MemFile, error) {
	cfg, _, err := config.Load(workDir, "", os.Environ())
	if err != nil {
		return nil, err
	}

	return vfd.OpenCore(path, vfd.CoreConfig{
		Increment:           cfg.CoreIncrement,
		ReadWrite:           true,
		Create:              true,
		BackingStore:        path != "",
		WriteTracking:       cfg.WriteTracking,
		PageSize:            cfg.PageSize,
		IgnoreDisabledLocks: cfg.IgnoreDisabledFileLocks,
	})
}
