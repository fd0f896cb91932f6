// Package vfd implements the low-level file drivers: a POSIX-backed
// file ([PosixFile]) and a memory-resident file ([CoreFile]) that can
// shadow its buffer into an optional backing file.
//
// Addresses are unsigned 64-bit offsets constrained to the signed range
// the OS seek/positional calls accept; every operation validates its
// address arithmetic before touching the descriptor. Operations accept
// an optional [Timing] record that captures wall-clock elapsed time
// around the underlying syscalls.
package vfd
