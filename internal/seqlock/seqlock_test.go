package seqlock

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSlot_NeverWritten(t *testing.T) {
	slot := make([]byte, SlotSize)
	r := ReadSlot(slot)
	require.Equal(t, StatusNeverWritten, r.Status)
}

func TestWriteSlot_ThenReadSlot_RoundTrips(t *testing.T) {
	slot := make([]byte, SlotSize)
	want := Payload{
		MsgType:     MsgTypeBBO,
		ExchangeID:  3,
		SymbolID:    42,
		TimestampNs: 1690000000000000000,
		BidPrice:    101.5,
		BidSize:     2.25,
		AskPrice:    101.75,
		AskSize:     1.5,
	}
	WriteSlot(slot, want)

	r := ReadSlot(slot)
	require.Equal(t, StatusOK, r.Status)
	assert.Equal(t, want, r.Payload)
	assert.True(t, r.Payload.Valid())
}

func TestWriteSlot_AdvancesSeqByTwoAndStaysEven(t *testing.T) {
	slot := make([]byte, SlotSize)
	WriteSlot(slot, Payload{MsgType: MsgTypeBBO, BidPrice: 1, AskPrice: 2})
	seq1 := uint32(atomic.LoadUint64(word(slot, OffSeq)))
	WriteSlot(slot, Payload{MsgType: MsgTypeBBO, BidPrice: 1, AskPrice: 2})
	seq2 := uint32(atomic.LoadUint64(word(slot, OffSeq)))

	assert.Zero(t, seq1%2, "seq must be even after a commit")
	assert.Zero(t, seq2%2, "seq must be even after a commit")
	assert.Equal(t, seq1+2, seq2)
}

func TestWriteSlot_RecommitsOverInterruptedClaim(t *testing.T) {
	slot := make([]byte, SlotSize)
	WriteSlot(slot, Payload{MsgType: MsgTypeBBO, BidPrice: 1, AskPrice: 2})

	// Leave the slot claimed (odd), as an interrupted writer would.
	w0 := atomic.LoadUint64(word(slot, OffSeq))
	atomic.StoreUint64(word(slot, OffSeq), w0|1)
	require.Equal(t, StatusTorn, ReadSlot(slot).Status)

	// The next write must land the slot back on an even seq, not leave it
	// odd forever.
	WriteSlot(slot, Payload{MsgType: MsgTypeBBO, BidPrice: 3, AskPrice: 4})
	r := ReadSlot(slot)
	require.Equal(t, StatusOK, r.Status)
	assert.Equal(t, 3.0, r.Payload.BidPrice)
	assert.Zero(t, r.Seq%2)
}

func TestInvalidCrossedBook_IsRejectedByValid(t *testing.T) {
	p := Payload{BidPrice: 101, AskPrice: 100} // crossed: bid >= ask
	assert.False(t, p.Valid())

	p2 := Payload{BidPrice: 0, AskPrice: 100}
	assert.False(t, p2.Valid())
}

// TestConcurrentWriterReader exercises the seqlock under a busy writer and a
// spinning reader, the same stress shape the shared-memory design is meant
// to survive: a reader must never observe a torn payload, even though it
// never takes a lock.
func TestConcurrentWriterReader(t *testing.T) {
	slot := make([]byte, SlotSize)
	const iterations = 20000

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			bid := 100.0 + float64(i%50)
			WriteSlot(slot, Payload{
				MsgType:     MsgTypeBBO,
				ExchangeID:  1,
				SymbolID:    7,
				TimestampNs: uint64(i),
				BidPrice:    bid,
				BidSize:     1,
				AskPrice:    bid + 1,
				AskSize:     1,
			})
		}
	}()

	go func() {
		defer wg.Done()
		seen := 0
		for seen < iterations/2 {
			r := ReadSlotSpin(slot)
			if r.Status == StatusNeverWritten {
				continue
			}
			require.True(t, r.Payload.BidPrice < r.Payload.AskPrice, "torn or invalid read observed: %+v", r.Payload)
			seen++
		}
	}()

	wg.Wait()
}

func TestPayloadValid_RejectsNonFiniteSizes(t *testing.T) {
	p := Payload{BidPrice: 1, AskPrice: 2, BidSize: math.Inf(1), AskSize: 1}
	assert.False(t, p.Valid())
}
