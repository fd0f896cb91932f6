package ts

import "runtime"

// ThreadID identifies the calling goroutine for lock-ownership purposes.
// It is the runtime's goroutine ID: positive, unique for the life of the
// goroutine, and never reused while the goroutine runs.
type ThreadID int64

// CurrentThread returns the ID of the calling goroutine.
//
// The ID is parsed out of the first line of the goroutine's stack header
// ("goroutine 123 [running]:"). There is no faster portable way to get at
// it from outside the runtime; callers that need it repeatedly should hold
// on to a ThreadInfo record instead, which caches nothing but is keyed by
// this value.
func CurrentThread() ThreadID {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	return parseGID(buf[:n])
}

// parseGID extracts the goroutine ID from a stack header. Returns 0 if the
// buffer does not start with the expected "goroutine " prefix.
func parseGID(buf []byte) ThreadID {
	const prefix = "goroutine "

	if len(buf) < len(prefix) || string(buf[:len(prefix)]) != prefix {
		return 0
	}

	var gid int64

	for i := len(prefix); i < len(buf); i++ {
		c := buf[i]
		if c < '0' || c > '9' {
			break
		}

		gid = gid*10 + int64(c-'0')
	}

	return ThreadID(gid)
}
