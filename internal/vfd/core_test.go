package vfd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func openCore(t *testing.T, cfg CoreConfig) *CoreFile {
	t.Helper()

	path := filepath.Join(t.TempDir(), "core")

	cfg.ReadWrite = true
	if cfg.BackingStore {
		cfg.Create = true
	}

	f, err := OpenCore(path, cfg)
	if err != nil {
		t.Fatalf("OpenCore(%q): %v", path, err)
	}

	t.Cleanup(func() { _ = f.Close() })

	return f
}

func Test_CoreFile_Write_Then_Read_Round_Trips(t *testing.T) {
	t.Parallel()

	f := openCore(t, CoreConfig{Increment: 1024})

	want := []byte("in-memory bytes")

	if err := f.Write(3000, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := make([]byte, len(want))
	if err := f.Read(3000, got); err != nil {
		t.Fatalf("Read: %v", err)
	}

	if !bytes.Equal(got, want) {
		t.Fatalf("read back %q, want %q", got, want)
	}
}

func Test_CoreFile_Buffer_Grows_In_Increment_Multiples(t *testing.T) {
	t.Parallel()

	f := openCore(t, CoreConfig{Increment: 1024})

	if err := f.Write(0, make([]byte, 1)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if got, want := uint64(len(f.buf)), uint64(1024); got != want {
		t.Fatalf("buffer length after 1-byte write = %d, want %d", got, want)
	}

	if err := f.Write(1024, make([]byte, 1)); err != nil {
		t.Fatalf("second Write: %v", err)
	}

	if got, want := uint64(len(f.buf)), uint64(2048); got != want {
		t.Fatalf("buffer length after growth = %d, want %d", got, want)
	}

	if got, want := f.EOF(), uint64(1025); got != want {
		t.Fatalf("EOF() = %d, want %d", got, want)
	}
}

func Test_CoreFile_Extension_Bytes_Read_As_Zero(t *testing.T) {
	t.Parallel()

	f := openCore(t, CoreConfig{Increment: 512})

	if err := f.Write(100, []byte{0xaa}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := []byte{0xff, 0xff, 0xff}
	if err := f.Read(99, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}

	if want := []byte{0, 0xaa, 0}; !bytes.Equal(buf, want) {
		t.Fatalf("Read = %v, want %v", buf, want)
	}
}

func Test_CoreFile_Dirty_Regions_Merge_Across_Page_Boundaries(t *testing.T) {
	t.Parallel()

	f := openCore(t, CoreConfig{
		Increment:     8192,
		BackingStore:  true,
		WriteTracking: true,
		PageSize:      4096,
	})

	// Three writes: two disjoint pages, then one bridging them.
	if err := f.Write(100, make([]byte, 10)); err != nil {
		t.Fatalf("Write 1: %v", err)
	}
	if err := f.Write(5000, make([]byte, 10)); err != nil {
		t.Fatalf("Write 2: %v", err)
	}
	if err := f.Write(4090, make([]byte, 20)); err != nil {
		t.Fatalf("Write 3: %v", err)
	}

	// End pages clamp to eof-1 (eof is 5010 after the second write).
	want := [][2]uint64{{0, 5009}}
	if diff := cmp.Diff(want, f.Regions()); diff != "" {
		t.Fatalf("merged regions mismatch (-want +got):\n%s", diff)
	}
}

func Test_CoreFile_Dirty_Regions_Stay_Sorted_And_Disjoint(t *testing.T) {
	t.Parallel()

	f := openCore(t, CoreConfig{
		Increment:     64 * 1024,
		BackingStore:  true,
		WriteTracking: true,
		PageSize:      512,
	})

	// Size the file first so end-page rounding is not clamped.
	if err := f.Write(0, make([]byte, 64*1024)); err != nil {
		t.Fatalf("sizing Write: %v", err)
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	offsets := []uint64{40000, 8000, 24000, 8100, 23000, 100, 39000}
	for _, off := range offsets {
		if err := f.Write(off, make([]byte, 300)); err != nil {
			t.Fatalf("Write at %d: %v", off, err)
		}
	}

	regions := f.Regions()
	for i, r := range regions {
		if r[0] > r[1] {
			t.Fatalf("region %d inverted: [%d, %d]", i, r[0], r[1])
		}
		if r[0]%512 != 0 || r[1]%512 != 511 {
			t.Fatalf("region %d not page aligned: [%d, %d]", i, r[0], r[1])
		}
		if i > 0 && regions[i-1][1]+1 >= r[0] {
			t.Fatalf("regions %d and %d overlap or touch: %v", i-1, i, regions)
		}
	}
}

func Test_CoreFile_Flush_Writes_Only_Tracked_Regions(t *testing.T) {
	t.Parallel()

	f := openCore(t, CoreConfig{
		Increment:     8192,
		BackingStore:  true,
		WriteTracking: true,
		PageSize:      4096,
	})

	payload := bytes.Repeat([]byte{0x5a}, 100)

	if err := f.Write(0, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if !f.Dirty() {
		t.Fatal("file not dirty after write")
	}

	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if f.Dirty() {
		t.Fatal("file still dirty after flush")
	}

	if got := len(f.Regions()); got != 0 {
		t.Fatalf("dirty regions after flush = %d, want 0", got)
	}

	onDisk, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if !bytes.Equal(onDisk[:100], payload) {
		t.Fatal("backing store does not hold the flushed bytes")
	}
}

func Test_CoreFile_Flush_Without_Tracking_Writes_Whole_Buffer(t *testing.T) {
	t.Parallel()

	f := openCore(t, CoreConfig{Increment: 4096, BackingStore: true})

	if err := f.Write(0, []byte("head")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Write(2000, []byte("tail")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	onDisk, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if got, want := uint64(len(onDisk)), f.EOF(); got != want {
		t.Fatalf("backing length = %d, want eof %d", got, want)
	}
	if !bytes.Equal(onDisk[2000:2004], []byte("tail")) {
		t.Fatal("backing store missing buffer content")
	}
}

func Test_CoreFile_Open_From_Image_Seeds_Buffer(t *testing.T) {
	t.Parallel()

	image := []byte("preloaded file image")

	f, err := OpenCore("", CoreConfig{Increment: 64, Image: image, ReadWrite: true})
	if err != nil {
		t.Fatalf("OpenCore: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })

	if got, want := f.EOF(), uint64(len(image)); got != want {
		t.Fatalf("EOF() = %d, want %d", got, want)
	}

	got := make([]byte, len(image))
	if err := f.Read(0, got); err != nil {
		t.Fatalf("Read: %v", err)
	}

	if !bytes.Equal(got, image) {
		t.Fatalf("image read back %q, want %q", got, image)
	}
}

func Test_CoreFile_Open_Reads_Existing_Backing_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "existing")
	content := []byte("persisted earlier")

	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	f, err := OpenCore(path, CoreConfig{Increment: 32, BackingStore: true, ReadWrite: true})
	if err != nil {
		t.Fatalf("OpenCore: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })

	got := make([]byte, len(content))
	if err := f.Read(0, got); err != nil {
		t.Fatalf("Read: %v", err)
	}

	if !bytes.Equal(got, content) {
		t.Fatalf("read back %q, want %q", got, content)
	}
}

func Test_CoreFile_Image_Callbacks_Manage_The_Buffer(t *testing.T) {
	t.Parallel()

	var (
		allocs int
		frees  int
	)

	cb := ImageCallbacks{
		Alloc: func(size uint64) ([]byte, error) {
			allocs++

			return make([]byte, size), nil
		},
		Free: func([]byte) { frees++ },
	}

	f, err := OpenCore("", CoreConfig{Increment: 256, ReadWrite: true, Callbacks: cb})
	if err != nil {
		t.Fatalf("OpenCore: %v", err)
	}

	if err := f.Write(0, []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Write(300, []byte("y")); err != nil {
		t.Fatalf("grow Write: %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if allocs != 2 {
		t.Fatalf("allocs = %d, want 2 (initial + growth)", allocs)
	}
	if frees != 2 {
		t.Fatalf("frees = %d, want 2 (growth swap + close)", frees)
	}
}

func Test_CoreFile_Truncate_On_Close_Cuts_Backing_To_EOA(t *testing.T) {
	t.Parallel()

	f := openCore(t, CoreConfig{Increment: 1024, BackingStore: true})

	if err := f.Write(0, make([]byte, 2000)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if err := f.SetEOA(1500); err != nil {
		t.Fatalf("SetEOA: %v", err)
	}

	if err := f.Truncate(true); err != nil {
		t.Fatalf("Truncate(closing): %v", err)
	}

	info, err := os.Stat(f.Name())
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}

	if got, want := uint64(info.Size()), uint64(1500); got != want {
		t.Fatalf("backing size = %d, want %d", got, want)
	}

	if got, want := f.EOF(), uint64(1500); got != want {
		t.Fatalf("EOF() = %d, want %d", got, want)
	}
}

func Test_CoreFile_Truncate_Mid_Life_Grows_Buffer_Without_Backing_IO(t *testing.T) {
	t.Parallel()

	f := openCore(t, CoreConfig{Increment: 1024, BackingStore: true})

	if err := f.SetEOA(1500); err != nil {
		t.Fatalf("SetEOA: %v", err)
	}

	if err := f.Truncate(false); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	// eoa rounds up to the next increment multiple.
	if got, want := f.EOF(), uint64(2048); got != want {
		t.Fatalf("EOF() = %d, want %d", got, want)
	}

	// Idempotent: a second call with the same eoa changes nothing.
	if err := f.Truncate(false); err != nil {
		t.Fatalf("second Truncate: %v", err)
	}
	if got := f.EOF(); got != 2048 {
		t.Fatalf("EOF() after repeat = %d, want 2048", got)
	}

	info, err := os.Stat(f.Name())
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("mid-life truncate touched the backing file: size %d", info.Size())
	}
}

func Test_CoreFile_Write_To_ReadOnly_File_Fails(t *testing.T) {
	t.Parallel()

	f, err := OpenCore("", CoreConfig{Increment: 64, Image: []byte("fixed")})
	if err != nil {
		t.Fatalf("OpenCore: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })

	if err := f.Write(0, []byte("nope")); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("Write err = %v, want ErrReadOnly", err)
	}
}

func Test_CoreFile_Close_Is_Idempotent(t *testing.T) {
	t.Parallel()

	f := openCore(t, CoreConfig{Increment: 64})

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := f.Read(0, make([]byte, 1)); !errors.Is(err, ErrClosed) {
		t.Fatalf("Read after close err = %v, want ErrClosed", err)
	}
}
