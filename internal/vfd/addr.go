package vfd

import "errors"

// MaxAddr is the largest usable file address: the top of the signed
// 63-bit range the OS offset type can carry.
const MaxAddr = uint64(1<<63 - 1)

// UndefAddr marks an unset address.
const UndefAddr = ^uint64(0)

// ErrOverflow is returned when an address, size, or their sum leaves the
// addressable range.
var ErrOverflow = errors.New("vfd: address overflow")

// addrOverflow reports whether a is unusable as a file offset.
func addrOverflow(a uint64) bool {
	return a == UndefAddr || a&^MaxAddr != 0
}

// regionOverflow reports whether [a, a+n) leaves the addressable range,
// including wraparound of the sum.
func regionOverflow(a, n uint64) bool {
	if addrOverflow(a) || n&^MaxAddr != 0 {
		return true
	}

	end := a + n

	return end < a || end&^MaxAddr != 0
}
