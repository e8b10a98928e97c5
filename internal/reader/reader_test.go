package reader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/AlephTX/aleph-tx/internal/matrix"
	"github.com/AlephTX/aleph-tx/internal/seqlock"
	"github.com/stretchr/testify/require"
)

func newTestRegion(t *testing.T) (*matrix.WriterRegion, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "matrix.bin")
	w, err := matrix.Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close(); _ = os.Remove(path) })
	return w, path
}

func TestTryPoll_NoChangesReturnsFalse(t *testing.T) {
	_, path := newTestRegion(t)
	r, err := Open(path, 0)
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < matrix.SMax; i++ {
		_, ok := r.TryPoll()
		require.False(t, ok)
	}
}

func TestTryPoll_DetectsVersionAdvance(t *testing.T) {
	w, path := newTestRegion(t)
	r, err := Open(path, 0)
	require.NoError(t, err)
	defer r.Close()

	seqlock.WriteSlot(w.Slot(5, 1), seqlock.Payload{
		MsgType: seqlock.MsgTypeBBO, ExchangeID: 1, SymbolID: 5,
		BidPrice: 100, BidSize: 1, AskPrice: 101, AskSize: 1,
	})
	w.AdvanceVersion(5)

	found := false
	for i := 0; i < matrix.SMax; i++ {
		s, ok := r.TryPoll()
		if ok {
			require.Equal(t, 5, s)
			found = true
			break
		}
	}
	require.True(t, found, "expected TryPoll to surface symbol 5 once")

	// A second full sweep with no further writes must yield nothing new.
	for i := 0; i < matrix.SMax; i++ {
		_, ok := r.TryPoll()
		require.False(t, ok)
	}
}

func TestPollAll_RespectsMaxAndCollectsAll(t *testing.T) {
	w, path := newTestRegion(t)
	r, err := Open(path, 0)
	require.NoError(t, err)
	defer r.Close()

	symbols := []int{1, 2, 3}
	for _, s := range symbols {
		seqlock.WriteSlot(w.Slot(s, 2), seqlock.Payload{
			MsgType: seqlock.MsgTypeBBO, ExchangeID: 2, SymbolID: uint16(s),
			BidPrice: 10, BidSize: 1, AskPrice: 11, AskSize: 1,
		})
		w.AdvanceVersion(s)
	}

	changed := r.PollAll(2)
	require.Len(t, changed, 2)

	remaining := r.PollAll(matrix.SMax)
	require.Len(t, remaining, 1)
}

func TestPollAppend_DoesNotAllocateWithCapacity(t *testing.T) {
	_, path := newTestRegion(t)
	r, err := Open(path, 0)
	require.NoError(t, err)
	defer r.Close()

	buf := make([]int, 0, 64)
	allocs := testing.AllocsPerRun(100, func() {
		buf = r.PollAppend(buf[:0], 64)
	})
	require.Zero(t, allocs)
}

func TestReadAllExchanges_SkipsReservedIndexZero(t *testing.T) {
	w, path := newTestRegion(t)
	r, err := Open(path, 0)
	require.NoError(t, err)
	defer r.Close()

	seqlock.WriteSlot(w.Slot(9, 3), seqlock.Payload{
		MsgType: seqlock.MsgTypeBBO, ExchangeID: 3, SymbolID: 9,
		BidPrice: 50, BidSize: 2, AskPrice: 51, AskSize: 2,
	})
	w.AdvanceVersion(9)

	readings := r.ReadAllExchanges(9)
	require.Equal(t, seqlock.Result{}, readings[0].Result, "reserved slot 0 must not be populated")
	require.Equal(t, seqlock.StatusOK, readings[3].Result.Status)
	require.True(t, readings[3].Result.Payload.Valid())
}

func TestOpen_SMaxBoundsScan(t *testing.T) {
	w, path := newTestRegion(t)
	r, err := Open(path, 4)
	require.NoError(t, err)
	defer r.Close()

	// Symbol 10 is outside the [0, 4) scan range this Reader was opened
	// with, so it must never surface even though it changed.
	seqlock.WriteSlot(w.Slot(10, 1), seqlock.Payload{
		MsgType: seqlock.MsgTypeBBO, ExchangeID: 1, SymbolID: 10,
		BidPrice: 10, BidSize: 1, AskPrice: 11, AskSize: 1,
	})
	w.AdvanceVersion(10)

	for i := 0; i < 4; i++ {
		_, ok := r.TryPoll()
		require.False(t, ok, "symbol 10 is outside sMax and must not surface")
	}
}

func TestTryPoll_PanicsOnVersionRegression(t *testing.T) {
	_, path := newTestRegion(t)
	r, err := Open(path, 0)
	require.NoError(t, err)
	defer r.Close()

	r.localVersions[3] = 5

	require.Panics(t, func() {
		r.TryPoll()
	})
}

func TestReadBBO_PanicsOnSeqRegression(t *testing.T) {
	_, path := newTestRegion(t)
	r, err := Open(path, 0)
	require.NoError(t, err)
	defer r.Close()

	r.lastSeq[2][1] = 10

	require.Panics(t, func() {
		r.checkSeq(2, 1, seqlock.Result{Status: seqlock.StatusOK, Seq: 4})
	})
}

func TestStats_TracksPollsAndUpdates(t *testing.T) {
	w, path := newTestRegion(t)
	r, err := Open(path, 0)
	require.NoError(t, err)
	defer r.Close()

	seqlock.WriteSlot(w.Slot(0, 1), seqlock.Payload{
		MsgType: seqlock.MsgTypeBBO, ExchangeID: 1, SymbolID: 0,
		BidPrice: 1, BidSize: 1, AskPrice: 2, AskSize: 1,
	})
	w.AdvanceVersion(0)

	r.PollAll(matrix.SMax)
	stats := r.Stats()
	// One TryPoll call finds symbol 0 immediately; a second sweeps the full
	// vector and comes back empty, ending PollAll.
	require.Equal(t, uint64(2), stats.Polls)
	require.Equal(t, uint64(1), stats.Updates)
}
