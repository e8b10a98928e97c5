// Package matrix implements the fixed-size shared-memory region the feeder
// publishes into: a per-symbol version vector followed by a slot array of
// fixed-size BBO records, indexed by (symbol, exchange) with pure
// arithmetic — no growth, no indirection.
//
// This package owns the byte layout only. The seqlock read/write protocol
// that makes concurrent access to a slot safe lives in internal/seqlock;
// matrix just hands out stable addresses and acquire-loads the version
// counters.
package matrix

const (
	// SMax is the maximum number of symbols the matrix can track. It must
	// match the feeder's build-time constant.
	SMax = 2048

	// VSize is the byte width of a single version counter.
	VSize = 8

	// SlotSize is the byte width of a single BBO slot — one cache line.
	SlotSize = 64
)

// EMax mirrors internal/exchange.EMax. It is redeclared here (rather than
// imported) so that matrix has no dependency on the exchange package: the
// byte layout is a pure function of symbol/exchange counts, and the exchange
// package's job is only to give names to the indices matrix already
// supports. Both constants must agree; this is checked once in
// internal/reader's package init.
const EMax = 6

// VersionsSize is the total size in bytes of the version vector region.
const VersionsSize = SMax * VSize

// SlotsSize is the total size in bytes of the slot array region.
const SlotsSize = SMax * EMax * SlotSize

// RegionSize is the exact size in bytes the shared-memory file must have.
const RegionSize = VersionsSize + SlotsSize

// VersionOffset returns the byte offset of symbol s's version counter.
func VersionOffset(s int) int {
	return s * VSize
}

// SlotOffset returns the byte offset of the BBO slot for (symbol, exchange).
// Pure arithmetic, no load, no bounds checking — callers validate s and e
// against the configured SMax/EMax before calling.
func SlotOffset(s, e int) int {
	return VersionsSize + (s*EMax+e)*SlotSize
}
