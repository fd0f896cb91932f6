package freelist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// The free-list classes are process-wide (registries, gauges, caps), so
// these tests run serially and restore the default caps when they finish.

func withDefaultLimits(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		SetLimits(DefaultLimits())
		GarbageCollect()
	})
}

type record struct {
	a, b uint64
}

const recordSize = 16 // unsafe.Sizeof(record{})

func Test_Regular_Recycles_Freed_Records(t *testing.T) {
	withDefaultLimits(t)

	h := NewRegular[record]("record")

	first, err := h.Alloc()
	require.NoError(t, err)

	first.a = 7
	h.Free(first)

	second, err := h.Alloc()
	require.NoError(t, err)
	require.Same(t, first, second, "Alloc should hand back the parked record")
	require.Equal(t, uint64(7), second.a, "recycled records keep their contents")

	cleared, err := h.Calloc()
	require.NoError(t, err)
	require.Equal(t, record{}, *cleared, "Calloc must zero the record")
}

func Test_Regular_Free_Under_List_Cap_Parks_Without_Collection(t *testing.T) {
	withDefaultLimits(t)

	limits := DefaultLimits()
	limits.RegularList = 4 * recordSize
	SetLimits(limits)

	h := NewRegular[record]("under-cap")

	const k = 4 // k*recordSize == cap, not over it

	blocks := make([]*record, 0, k)

	for range k {
		obj, err := h.Alloc()
		require.NoError(t, err)

		blocks = append(blocks, obj)
	}

	for _, obj := range blocks {
		h.Free(obj)
	}

	allocated, onList := h.Stats()
	require.Equal(t, uint64(k), allocated)
	require.Equal(t, uint64(k), onList, "no collection may run at or under the cap")
}

func Test_Regular_Free_Over_List_Cap_Collects_The_List(t *testing.T) {
	withDefaultLimits(t)

	limits := DefaultLimits()
	limits.RegularList = 4 * recordSize
	SetLimits(limits)

	h := NewRegular[record]("over-cap")

	const k = 5 // k*recordSize > cap on the final free

	blocks := make([]*record, 0, k)

	for range k {
		obj, err := h.Alloc()
		require.NoError(t, err)

		blocks = append(blocks, obj)
	}

	for _, obj := range blocks {
		h.Free(obj)
	}

	allocated, onList := h.Stats()
	require.Zero(t, onList, "the over-cap free must drain the list")
	require.Zero(t, allocated)
}

func Test_Class_Gauge_Matches_Sum_Of_Parked_Bytes(t *testing.T) {
	withDefaultLimits(t)
	GarbageCollect() // start from a zero gauge

	h1 := NewRegular[record]("gauge-1")
	h2 := NewRegular[record]("gauge-2")

	var parked []*record

	for range 3 {
		obj, err := h1.Alloc()
		require.NoError(t, err)

		parked = append(parked, obj)
	}

	obj, err := h2.Alloc()
	require.NoError(t, err)
	parked = append(parked, obj)

	for _, p := range parked[:3] {
		h1.Free(p)
	}
	h2.Free(parked[3])

	_, on1 := h1.Stats()
	_, on2 := h2.Stats()
	reg, _, _, _ := FreedBytes()
	require.Equal(t, (on1+on2)*recordSize, reg,
		"class gauge must equal the bytes parked across its heads")
}

func Test_Allocated_Never_Less_Than_OnList(t *testing.T) {
	withDefaultLimits(t)

	h := NewRegular[record]("invariant")

	var objs []*record

	for range 8 {
		obj, err := h.Alloc()
		require.NoError(t, err)

		objs = append(objs, obj)
	}

	for i, obj := range objs {
		h.Free(obj)

		allocated, onList := h.Stats()
		require.GreaterOrEqual(t, allocated, onList, "after free %d", i)
	}
}

func Test_Global_Cap_Excess_Collects_Whole_Class(t *testing.T) {
	withDefaultLimits(t)
	GarbageCollect()

	limits := DefaultLimits()
	limits.RegularList = NoLimit // isolate the global cap
	limits.RegularClass = 6 * recordSize
	SetLimits(limits)

	h1 := NewRegular[record]("class-1")
	h2 := NewRegular[record]("class-2")

	var fromH1 []*record

	for range 4 {
		obj, err := h1.Alloc()
		require.NoError(t, err)

		fromH1 = append(fromH1, obj)
	}

	var fromH2 []*record

	for range 3 {
		obj, allocErr := h2.Alloc()
		require.NoError(t, allocErr)

		fromH2 = append(fromH2, obj)
	}

	for _, obj := range fromH1 {
		h1.Free(obj)
	}

	// 4 records parked: under the 6-record class cap, nothing collected.
	_, on1 := h1.Stats()
	require.Equal(t, uint64(4), on1)

	// Three more frees onto h2 drive the gauge past the class cap.
	for _, obj := range fromH2 {
		h2.Free(obj)
	}

	_, on1 = h1.Stats()
	_, on2 := h2.Stats()
	require.Zero(t, on1, "class collection must drain every head")
	require.Zero(t, on2)

	reg, _, _, _ := FreedBytes()
	require.Zero(t, reg, "gauge must return to zero after class collection")
}

func Test_Alloc_Failure_Collects_And_Retries_Once(t *testing.T) {
	withDefaultLimits(t)

	h := NewBlock("retry")

	// Park a block so there is something for the retry pass to collect.
	seed, err := h.Alloc(64)
	require.NoError(t, err)
	h.Free(seed)

	calls := 0
	allocGate = func(size uint64) bool {
		calls++

		// Refuse until the parked memory has been collected.
		_, onList := h.Stats()

		return onList == 0
	}
	t.Cleanup(func() { allocGate = nil })

	buf, err := h.Alloc(64)
	require.NoError(t, err, "allocation must succeed after the collection retry")
	require.Len(t, buf, 64)
	require.Equal(t, 2, calls, "exactly one retry after the collection pass")

	allocGate = func(uint64) bool { return false }

	_, err = h.Alloc(64)
	require.ErrorIs(t, err, ErrAlloc, "exhaustion after retry surfaces as ErrAlloc")
}

func Test_Array_Sublists_Recycle_By_Element_Count(t *testing.T) {
	withDefaultLimits(t)

	h := NewArray[uint32]("coords", 8)

	three, err := h.Alloc(3)
	require.NoError(t, err)
	require.Len(t, three, 3)

	five, err := h.Alloc(5)
	require.NoError(t, err)

	h.Free(three)
	h.Free(five)

	_, onList := h.Stats()
	require.Equal(t, uint64(2), onList)

	// A 3-element request must come from the 3-element sublist.
	three[0] = 0xfeed
	again, err := h.Alloc(3)
	require.NoError(t, err)
	require.Len(t, again, 3)
	require.Equal(t, uint32(0xfeed), again[0], "recycled slice keeps contents")

	_, onList = h.Stats()
	require.Equal(t, uint64(1), onList, "only the 5-element slice remains parked")
}

func Test_Array_Rejects_Counts_Beyond_Maximum(t *testing.T) {
	withDefaultLimits(t)

	h := NewArray[uint32]("bounded", 4)

	_, err := h.Alloc(5)
	require.ErrorIs(t, err, ErrBadSize)

	_, err = h.Alloc(-1)
	require.ErrorIs(t, err, ErrBadSize)
}

func Test_Array_Realloc_Preserves_Leading_Contents(t *testing.T) {
	withDefaultLimits(t)

	h := NewArray[uint32]("grow", 8)

	buf, err := h.Alloc(2)
	require.NoError(t, err)

	buf[0], buf[1] = 10, 20

	grown, err := h.Realloc(buf, 4)
	require.NoError(t, err)
	require.Len(t, grown, 4)
	require.Equal(t, uint32(10), grown[0])
	require.Equal(t, uint32(20), grown[1])

	same, err := h.Realloc(grown, 4)
	require.NoError(t, err)
	require.Equal(t, &grown[0], &same[0], "same-count realloc returns the block unchanged")
}

func Test_Block_Priority_Chain_Orders_Size_Classes_MRU_First(t *testing.T) {
	withDefaultLimits(t)

	h := NewBlock("mru")

	for _, size := range []uint64{128, 256, 512} {
		buf, err := h.Alloc(size)
		require.NoError(t, err)

		h.Free(buf)
	}

	require.Equal(t, []uint64{512, 256, 128}, h.SizeClasses())

	// Touching the 128 class moves it to the front.
	buf, err := h.Alloc(128)
	require.NoError(t, err)
	h.Free(buf)

	require.Equal(t, []uint64{128, 512, 256}, h.SizeClasses())
}

func Test_Block_Recycles_Only_Exact_Sizes(t *testing.T) {
	withDefaultLimits(t)

	h := NewBlock("exact")

	buf, err := h.Alloc(100)
	require.NoError(t, err)
	h.Free(buf)

	other, err := h.Alloc(101)
	require.NoError(t, err)
	require.Len(t, other, 101)

	_, onList := h.Stats()
	require.Equal(t, uint64(1), onList, "the 100-byte block stays parked")

	same, err := h.Alloc(100)
	require.NoError(t, err)
	require.Len(t, same, 100)

	_, onList = h.Stats()
	require.Zero(t, onList)
}

func Test_Factory_Heads_Destroy_Independently(t *testing.T) {
	withDefaultLimits(t)

	f1, err := NewFactory(32)
	require.NoError(t, err)

	f2, err := NewFactory(64)
	require.NoError(t, err)

	b1, err := f1.Alloc()
	require.NoError(t, err)
	f1.Free(b1)

	f1.Destroy()

	_, err = f1.Alloc()
	require.ErrorIs(t, err, ErrDestroyed)

	// The sibling factory is unaffected.
	b2, err := f2.Alloc()
	require.NoError(t, err)
	require.Len(t, b2, 64)

	f2.Free(b2)
	f2.Destroy()
}

func Test_Factory_Rejects_Zero_Size(t *testing.T) {
	withDefaultLimits(t)

	_, err := NewFactory(0)
	require.ErrorIs(t, err, ErrBadSize)
}

func Test_Term_Keeps_Heads_With_Outstanding_Allocations(t *testing.T) {
	withDefaultLimits(t)
	// Heads left over from earlier tests that still hold live allocations
	// survive Term; count them as the baseline.
	base := Term()

	busy := NewRegular[record]("busy")
	idle := NewRegular[record]("idle")

	held, err := busy.Alloc()
	require.NoError(t, err)

	parked, err := idle.Alloc()
	require.NoError(t, err)
	idle.Free(parked)

	left := Term()
	require.Equal(t, base+1, left, "only the head with live allocations survives")

	busy.Free(held)
	require.Equal(t, base, Term())
}
