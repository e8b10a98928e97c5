package seqlock

import (
	"math"
	"sync/atomic"
)

// WriteSlot performs the writer's claim/write/commit discipline for a
// single slot: store an odd sequence number, write the payload fields, then
// store the next even sequence number together with the slot's metadata
// bytes.
//
// word 0 holds the sequence number in its low 32 bits and msg_type/
// exchange_id/symbol_id in its high 32 bits, so the metadata is only ever
// visible to a reader bundled with the seq value that was live at the same
// instant — a reader that sees an odd seq already rejects the whole word,
// metadata included.
//
// WriteSlot is not safe for concurrent callers against the same slot; the
// region has exactly one writer process.
func WriteSlot(slot []byte, p Payload) {
	w0 := atomic.LoadUint64(word(slot, OffSeq))
	prevSeq := uint32(w0)

	// OR rather than +1: if the slot was left claimed (odd) by an
	// interrupted write, the new claim reuses that odd value instead of
	// accidentally committing it, and the final store below is what makes
	// the slot even again.
	claimSeq := prevSeq | 1
	atomic.StoreUint64(word(slot, OffSeq), uint64(claimSeq))

	atomic.StoreUint64(word(slot, OffTimestampNs), p.TimestampNs)
	atomic.StoreUint64(word(slot, OffBidPrice), math.Float64bits(p.BidPrice))
	atomic.StoreUint64(word(slot, OffBidSize), math.Float64bits(p.BidSize))
	atomic.StoreUint64(word(slot, OffAskPrice), math.Float64bits(p.AskPrice))
	atomic.StoreUint64(word(slot, OffAskSize), math.Float64bits(p.AskSize))

	commitSeq := claimSeq + 1
	w0Final := uint64(commitSeq) |
		uint64(p.MsgType)<<32 |
		uint64(p.ExchangeID)<<40 |
		uint64(p.SymbolID)<<48
	atomic.StoreUint64(word(slot, OffSeq), w0Final)
}
