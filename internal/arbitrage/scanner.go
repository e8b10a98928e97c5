// Package arbitrage implements the global-best cross-exchange scanner: a
// strategy.Strategy that keeps the latest valid BBO per exchange for each
// symbol it has seen, and on every update re-scans that small per-symbol
// array in O(E) to find the best bid and best ask across exchanges. A
// crossed book on two different exchanges whose spread clears the
// configured basis-point threshold produces a Signal.
package arbitrage

import (
	"sync"

	"github.com/AlephTX/aleph-tx/internal/exchange"
	"github.com/AlephTX/aleph-tx/internal/seqlock"
)

// Signal is one detected arbitrage opportunity. Buy fills against the
// best-ask exchange, sell against the best-bid exchange; Size is the
// smaller of the two displayed sizes.
type Signal struct {
	SymbolID     int
	BuyExchange  exchange.ID
	SellExchange exchange.ID
	BuyPrice     float64
	SellPrice    float64
	Size         float64
	SpreadBps    float64
	TimestampNs  uint64
}

// Sink receives emitted signals. OnArbitrageSignal is called from the
// dispatch thread and must not block; a Sink that wants to do I/O must
// offload it itself.
type Sink interface {
	OnArbitrageSignal(Signal)
}

// Config holds the scanner's tunables.
type Config struct {
	// MinBps is the minimum basis-point spread required to fire a signal.
	MinBps float64
}

// Scanner is a strategy.Strategy implementing the global-best scan.
type Scanner struct {
	cfg  Config
	sink Sink

	mu     sync.Mutex
	ratio  float64
	latest map[int]*[exchange.EMax]seqlock.Payload
	seen   map[int]*[exchange.EMax]bool
}

// NewScanner builds a Scanner that emits to sink whenever the cross-exchange
// spread for a symbol exceeds cfg.MinBps.
func NewScanner(cfg Config, sink Sink) *Scanner {
	return &Scanner{
		cfg:    cfg,
		sink:   sink,
		ratio:  cfg.MinBps / 10000,
		latest: make(map[int]*[exchange.EMax]seqlock.Payload),
		seen:   make(map[int]*[exchange.EMax]bool),
	}
}

// OnBBOUpdate updates this symbol's per-exchange cache and re-scans for a
// crossed book. The dispatch loop already filtered out invalid slots.
func (s *Scanner) OnBBOUpdate(symbolID int, exchangeID exchange.ID, bbo seqlock.Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cache := s.latest[symbolID]
	seen := s.seen[symbolID]
	if cache == nil {
		cache = &[exchange.EMax]seqlock.Payload{}
		seen = &[exchange.EMax]bool{}
		s.latest[symbolID] = cache
		s.seen[symbolID] = seen
	}
	cache[exchangeID] = bbo
	seen[exchangeID] = true

	s.scan(symbolID, cache, seen)
}

// OnIdle does nothing: the scanner is purely update-driven.
func (s *Scanner) OnIdle() {}

// scan performs the O(E) global-best comparison and the fast multiply-compare
// trigger check, computing the exact basis-point spread only after the fast
// path trips.
func (s *Scanner) scan(symbolID int, cache *[exchange.EMax]seqlock.Payload, seen *[exchange.EMax]bool) {
	var bestBidExc, bestAskExc exchange.ID
	var bestBid, bestAsk float64
	haveBid, haveAsk := false, false

	for e := 1; e < exchange.EMax; e++ {
		if !seen[e] {
			continue
		}
		p := cache[e]
		if !p.Valid() {
			continue
		}
		if !haveBid || p.BidPrice > bestBid {
			bestBid, bestBidExc, haveBid = p.BidPrice, exchange.ID(e), true
		}
		if !haveAsk || p.AskPrice < bestAsk {
			bestAsk, bestAskExc, haveAsk = p.AskPrice, exchange.ID(e), true
		}
	}

	if !haveBid || !haveAsk || bestBidExc == bestAskExc {
		return
	}

	spread := bestBid - bestAsk
	if spread <= 0 {
		return
	}
	mid := (bestBid + bestAsk) / 2

	// Fast path: one multiply, one compare, no divide.
	if spread <= mid*s.ratio {
		return
	}

	// Cold path: exact bps, only computed after the fast path trips.
	bps := (spread / mid) * 10000
	if bps <= s.cfg.MinBps {
		return
	}

	bidBBO := cache[bestBidExc]
	askBBO := cache[bestAskExc]
	size := bidBBO.BidSize
	if askBBO.AskSize < size {
		size = askBBO.AskSize
	}
	ts := bidBBO.TimestampNs
	if askBBO.TimestampNs > ts {
		ts = askBBO.TimestampNs
	}

	s.sink.OnArbitrageSignal(Signal{
		SymbolID:     symbolID,
		BuyExchange:  bestAskExc,
		SellExchange: bestBidExc,
		BuyPrice:     bestAsk,
		SellPrice:    bestBid,
		Size:         size,
		SpreadBps:    bps,
		TimestampNs:  ts,
	})
}
