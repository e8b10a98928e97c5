package matrix

import "unsafe"

// wordAt returns a pointer to the uint64 at byte offset off within buf, for
// use with sync/atomic. buf must be at least off+8 bytes and the mapping
// must keep buf's backing array alive for as long as the returned pointer is
// used — true for the lifetime of an open Region's mmap.
//
// This is the standard Go idiom for atomic access to a byte slice backed by
// mapped memory: there is no atomic-load-from-[]byte in the standard
// library, so every seqlock-adjacent field access in this codebase goes
// through a helper like this one rather than through unsafe casts sprinkled
// at call sites.
func wordAt(buf []byte, off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&buf[off]))
}
