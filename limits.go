package hdf5

import (
	"errors"

	"github.com/qkoziol/hdf5/internal/freelist"
)

// Unlimited disables a free-list cap when passed to SetFreeListLimits.
const Unlimited = -1

// ErrBadLimit is returned for cap values below Unlimited.
var ErrBadLimit = errors.New("hdf5: free-list limit must be -1 or >= 0")

// SetFreeListLimits sets the per-list and global memory caps, in bytes,
// for the four free-list classes. A value of Unlimited (-1) removes the
// cap; any other negative value is rejected.
func SetFreeListLimits(regList, regGlobal, arrList, arrGlobal, blkList, blkGlobal, facList, facGlobal int) error {
	vals := []int{regList, regGlobal, arrList, arrGlobal, blkList, blkGlobal, facList, facGlobal}
	out := make([]uint64, len(vals))

	for i, v := range vals {
		switch {
		case v == Unlimited:
			out[i] = freelist.NoLimit
		case v < 0:
			return ErrBadLimit
		default:
			out[i] = uint64(v)
		}
	}

	freelist.SetLimits(freelist.Limits{
		RegularList:  out[0],
		RegularClass: out[1],
		ArrayList:    out[2],
		ArrayClass:   out[3],
		BlockList:    out[4],
		BlockClass:   out[5],
		FactoryList:  out[6],
		FactoryClass: out[7],
	})

	return nil
}

// GarbageCollect releases every block parked on every free list back to
// the runtime. Live allocations are untouched.
func GarbageCollect() {
	freelist.GarbageCollect()
}
