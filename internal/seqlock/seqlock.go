// Package seqlock implements the reader and writer sides of the per-slot
// publication protocol: a single writer publishes a 64-byte BBO record
// against many readers without locks, using an even/odd sequence counter to
// detect torn reads.
//
// Go has no volatile-read primitive and no atomic load wider than 64 bits,
// so a slot cannot be taken in one aligned 64-byte load. Instead the slot is
// treated as eight 64-bit words; the six that carry data (word 0 and the
// five payload words) are each loaded with sync/atomic, and the two reserved
// words are not read. The payload loads are bracketed between two loads of
// word 0 (which carries the sequence number in its low 32 bits). A reader that observes the same even
// sequence on both sides of the payload loads has a consistent snapshot.
package seqlock

import (
	"math"
	"sync/atomic"
	"unsafe"
)

// Field byte offsets within a 64-byte slot. The layout is fixed and shared
// with the feeder process; all multi-byte fields are little-endian.
const (
	OffSeq         = 0
	OffMsgType     = 4
	OffExchangeID  = 5
	OffSymbolID    = 6
	OffTimestampNs = 8
	OffBidPrice    = 16
	OffBidSize     = 24
	OffAskPrice    = 32
	OffAskSize     = 40
	OffReserved    = 48

	// SlotSize is the fixed width of a slot — one cache line.
	SlotSize = 64
)

// MsgTypeBBO is the only message discriminator value the reader understands
// today.
const MsgTypeBBO = 1

// Payload is the decoded 60-byte body of a BBO slot.
type Payload struct {
	MsgType     uint8
	ExchangeID  uint8
	SymbolID    uint16
	TimestampNs uint64
	BidPrice    float64
	BidSize     float64
	AskPrice    float64
	AskSize     float64
}

// Valid reports whether the payload is a usable two-sided quote: both
// prices positive, bid strictly below ask, sizes finite and non-negative.
// All downstream logic rejects invalid slots.
func (p Payload) Valid() bool {
	return p.BidPrice > 0 && p.AskPrice > 0 && p.BidPrice < p.AskPrice &&
		!math.IsInf(p.BidSize, 0) && !math.IsInf(p.AskSize, 0) &&
		p.BidSize >= 0 && p.AskSize >= 0
}

// Status classifies the outcome of a single read attempt.
type Status int

const (
	// StatusNeverWritten means seq == 0: the feeder has never published to
	// this slot. It is the zero value of Status so that a zero-value Result
	// (e.g. the reserved exchange-0 slot in an ExchangeReading array nobody
	// populated) reads as "never written" rather than as a committed
	// snapshot.
	StatusNeverWritten Status = iota
	// StatusOK means Payload is a consistent, committed snapshot.
	StatusOK
	// StatusTorn means the read overlapped a writer's claim/commit window
	// and must be retried or rejected.
	StatusTorn
)

// Result is the outcome of one read attempt against a slot.
type Result struct {
	Status  Status
	Payload Payload
	// Seq is the committed sequence number observed for a StatusOK result
	// (0 for StatusNeverWritten, meaningless for StatusTorn). Callers that
	// track per-slot history (internal/reader's backward-movement check)
	// compare this across reads of the same slot; readOnce itself only ever
	// observes one instant and cannot detect a multi-read regression on its
	// own.
	Seq uint32
}

func word(slot []byte, off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&slot[off]))
}

// readOnce performs exactly one seq1/payload/seq2 pass with no retry. slot
// must be exactly SlotSize bytes, 8-byte
// aligned (true for any slot handed out by internal/matrix, since RegionSize
// and SlotOffset keep every slot 64-byte aligned from the start of the
// mmap).
func readOnce(slot []byte) Result {
	w0 := atomic.LoadUint64(word(slot, OffSeq))
	seq1 := uint32(w0)

	if seq1 == 0 {
		return Result{Status: StatusNeverWritten}
	}
	if seq1&1 != 0 {
		return Result{Status: StatusTorn}
	}

	w1 := atomic.LoadUint64(word(slot, OffTimestampNs))
	w2 := atomic.LoadUint64(word(slot, OffBidPrice))
	w3 := atomic.LoadUint64(word(slot, OffBidSize))
	w4 := atomic.LoadUint64(word(slot, OffAskPrice))
	w5 := atomic.LoadUint64(word(slot, OffAskSize))

	w0b := atomic.LoadUint64(word(slot, OffSeq))
	seq2 := uint32(w0b)

	if seq1 != seq2 {
		return Result{Status: StatusTorn}
	}

	p := Payload{
		MsgType:     uint8(w0 >> 32),
		ExchangeID:  uint8(w0 >> 40),
		SymbolID:    uint16(w0 >> 48),
		TimestampNs: w1,
		BidPrice:    math.Float64frombits(w2),
		BidSize:     math.Float64frombits(w3),
		AskPrice:    math.Float64frombits(w4),
		AskSize:     math.Float64frombits(w5),
	}
	return Result{Status: StatusOK, Payload: p, Seq: seq2}
}

// ReadSlot performs the guarded read with at most one retry. This is the
// poll-path variant: a reader iterating many slots per cycle must not spin
// on one that is mid-write, so a second torn result is returned as-is and
// the slot is picked up again on the next version advance.
func ReadSlot(slot []byte) Result {
	r := readOnce(slot)
	if r.Status != StatusTorn {
		return r
	}
	return readOnce(slot)
}

// ReadSlotSpin retries until a consistent read is obtained, for dedicated
// spin-reader paths that watch a single slot. It never returns StatusTorn;
// it can return StatusNeverWritten immediately since that is not a torn
// state.
func ReadSlotSpin(slot []byte) Result {
	for {
		r := readOnce(slot)
		if r.Status != StatusTorn {
			return r
		}
	}
}
