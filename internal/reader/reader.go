// Package reader implements the version-polling reader core: it attaches to
// the shared-memory matrix and discovers which symbols changed by comparing
// a local last-seen copy of the version vector against the shared one,
// without ever touching a slot that did not change.
package reader

import (
	"fmt"

	"github.com/AlephTX/aleph-tx/internal/exchange"
	"github.com/AlephTX/aleph-tx/internal/matrix"
	"github.com/AlephTX/aleph-tx/internal/seqlock"
)

// InvariantViolation reports a slot seq or a shared version counter moving
// backward — states a healthy single-writer region can never produce, so
// the region must be treated as compromised and the process aborted. It is
// delivered as a panic rather than a returned error because every caller on
// the hot path (TryPoll, ReadAllExchanges, ReadBBO) has a narrow,
// allocation-free signature that a new error return would have to thread
// through every strategy; internal/strategy.Dispatcher recovers it, runs
// the best-effort cleanup phase, and re-panics so the hosting process can
// log and exit.
type InvariantViolation struct {
	Kind     string // "version" or "seq"
	SymbolID int
	// ExchangeID is -1 for a version-vector violation (which has no
	// exchange dimension).
	ExchangeID int
	Old, New   uint64
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("reader: invariant violation: %s moved backward for symbol %d exchange %d (%d -> %d)",
		e.Kind, e.SymbolID, e.ExchangeID, e.Old, e.New)
}

func init() {
	if matrix.EMax != exchange.EMax {
		panic(fmt.Sprintf("reader: matrix.EMax (%d) and exchange.EMax (%d) disagree", matrix.EMax, exchange.EMax))
	}
}

// ExchangeReading is one exchange's slot result for a symbol, returned by
// ReadAllExchanges.
type ExchangeReading struct {
	ExchangeID exchange.ID
	Result     seqlock.Result
}

// Stats reports the reader's running counters, for operator visibility.
type Stats struct {
	Polls   uint64
	Updates uint64
}

// Reader is a single poller attached to one shared-memory matrix. It is not
// safe for concurrent use by multiple goroutines; the dispatch loop owns
// exactly one Reader.
type Reader struct {
	region *matrix.Region

	// sMax is the scan upper bound chosen at attach. TryPoll never looks at
	// a symbol index >= sMax.
	sMax int

	localVersions []uint64
	cursor        int

	// lastSeq tracks the most recent committed seq observed per (symbol,
	// exchange), so ReadAllExchanges/ReadBBO can detect a slot's seq
	// regressing across reads — a check a single read of internal/seqlock
	// cannot make on its own, since it only ever observes one instant.
	lastSeq [matrix.SMax][matrix.EMax]uint32

	polls   uint64
	updates uint64
}

// Open attaches to the shared-memory region at path and initializes a fresh
// local version vector (all zero, matching "never polled" for every
// symbol). sMax bounds how many leading symbols TryPoll scans; sMax <= 0 or
// sMax > matrix.SMax both default to the full matrix.SMax.
func Open(path string, sMax int) (*Reader, error) {
	region, err := matrix.Open(path)
	if err != nil {
		return nil, err
	}
	if sMax <= 0 || sMax > matrix.SMax {
		sMax = matrix.SMax
	}
	return &Reader{
		region:        region,
		sMax:          sMax,
		localVersions: make([]uint64, matrix.SMax),
	}, nil
}

// Close detaches from the region.
func (r *Reader) Close() error {
	return r.region.Close()
}

// TryPoll sequentially scans the version vector starting from where the
// previous call left off, wrapping after sMax entries, and returns the
// first symbol whose version has advanced since this Reader last observed
// it. The second return is false when a full sweep found nothing new.
// Resuming from the last cursor position rather than restarting at 0 every
// call keeps the scan O(1) in the common case (the next change is usually
// close to the last one found) while still guaranteeing every symbol is
// visited at least once per full sweep, so no symbol starves.
func (r *Reader) TryPoll() (symbolID int, ok bool) {
	r.polls++
	for i := 0; i < r.sMax; i++ {
		s := r.cursor
		r.cursor = (r.cursor + 1) % r.sMax

		v := r.region.Version(s)
		if v < r.localVersions[s] {
			// A version counter only increases. A decrease means the region
			// is compromised (writer restarted over the same file without
			// recreating it, corrupted memory, etc.) — not a recoverable
			// condition.
			panic(&InvariantViolation{Kind: "version", SymbolID: s, ExchangeID: -1, Old: r.localVersions[s], New: v})
		}
		if v != r.localVersions[s] {
			r.localVersions[s] = v
			r.updates++
			return s, true
		}
	}
	return 0, false
}

// Cursor returns the symbol index the next TryPoll call will examine first.
// Exposed only for periodic observability sampling; it carries no meaning
// beyond "where the round-robin scan currently sits".
func (r *Reader) Cursor() int {
	return r.cursor
}

// VersionPair returns symbol s's local (last-seen-by-this-reader) and
// current shared version counters, for the observability stream.
func (r *Reader) VersionPair(s int) (local, shared uint64) {
	return r.localVersions[s], r.region.Version(s)
}

// checkSeq enforces that a slot's committed seq never regresses across
// reads. Only StatusOK results carry a trustworthy seq; never-written and
// torn reads are skipped since they either never committed (seq 0) or are
// mid-write (seq1/seq2 already disagreed, so there is nothing reliable to
// compare).
func (r *Reader) checkSeq(s, e int, result seqlock.Result) {
	if result.Status != seqlock.StatusOK {
		return
	}
	last := r.lastSeq[s][e]
	if result.Seq < last {
		panic(&InvariantViolation{Kind: "seq", SymbolID: s, ExchangeID: e, Old: uint64(last), New: uint64(result.Seq)})
	}
	r.lastSeq[s][e] = result.Seq
}

// PollAll drains up to max symbols whose version has advanced since this
// Reader last observed them. It stops as soon as a full sweep of the
// version vector finds nothing new, which TryPoll signals by returning
// false.
func (r *Reader) PollAll(max int) []int {
	if max <= 0 {
		return nil
	}
	return r.PollAppend(make([]int, 0, max), max)
}

// PollAppend is PollAll writing into a caller-owned buffer: up to max
// changed symbols are appended to dst, which is returned. When dst has
// capacity for max entries this performs no allocation, which is what keeps
// the dispatch loop's empty iterations heap-free.
func (r *Reader) PollAppend(dst []int, max int) []int {
	for n := 0; n < max; n++ {
		s, ok := r.TryPoll()
		if !ok {
			break
		}
		dst = append(dst, s)
	}
	return dst
}

// ReadAllExchanges reads every live exchange slot for symbol s. Index 0
// (exchange.Reserved) is never read, since it never carries live data.
func (r *Reader) ReadAllExchanges(s int) [matrix.EMax]ExchangeReading {
	var out [matrix.EMax]ExchangeReading
	for e := 1; e < matrix.EMax; e++ {
		result := seqlock.ReadSlot(r.region.Slot(s, e))
		r.checkSeq(s, e, result)
		out[e] = ExchangeReading{
			ExchangeID: exchange.ID(e),
			Result:     result,
		}
	}
	return out
}

// ReadBBO reads a single (symbol, exchange) slot.
func (r *Reader) ReadBBO(s, e int) seqlock.Result {
	result := seqlock.ReadSlot(r.region.Slot(s, e))
	r.checkSeq(s, e, result)
	return result
}

// Stats returns a snapshot of the reader's running counters.
func (r *Reader) Stats() Stats {
	return Stats{Polls: r.polls, Updates: r.updates}
}
