// Package marketmaker implements the per-exchange, per-symbol two-sided
// quoting strategy: a rolling mid-price window feeds a realized-volatility
// and momentum spread model, inventory skews the quoted mid, and requotes
// are rate-limited and routed through the pre-submission risk guard
// (internal/risk) before reaching an internal/venue.Client.
//
// Quoter implements internal/strategy.Strategy: OnBBOUpdate only tracks the
// mid-price FIFO (allocation-free, called on the hot dispatch path);
// everything else — account refresh, spread/skew computation, requoting,
// stop-loss — runs from OnIdle and hands its external calls to the async
// executor.
package marketmaker

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/AlephTX/aleph-tx/internal/decisionlog"
	"github.com/AlephTX/aleph-tx/internal/executor"
	"github.com/AlephTX/aleph-tx/internal/exchange"
	"github.com/AlephTX/aleph-tx/internal/risk"
	"github.com/AlephTX/aleph-tx/internal/seqlock"
	"github.com/AlephTX/aleph-tx/internal/venue"
)

// Config parameterizes one Quoter instance.
type Config struct {
	WindowSize int // mid-price FIFO capacity

	RequoteIntervalMs     int64   // minimum gap between requotes
	MaxRequoteSilenceSecs float64 // force a requote past this many seconds even if mid hasn't moved
	MidDeviationBps       float64 // requote once mid drifts this far from last_quoted_mid

	MinSpreadBps         float64 // floor on half-spread
	VolMultiplier        float64 // half_spread = max(MinSpreadBps, vol_bps * VolMultiplier)
	VolFloorBps          float64 // used when fewer than MinSamplesForVol returns are available
	MinSamplesForVol     int
	MomentumLookback     int // samples back for the short-horizon momentum
	MomentumThresholdBps float64
	MomentumSpreadMult   float64

	BaseSpreadBps float64 // used by the inventory-skew shift
	MaxPosition   float64
	BaseSize      float64

	StopLossThresholdBps float64 // unrealised PnL floor before forced close

	AccountRefreshInterval time.Duration
}

// DefaultConfig returns conservative defaults for a single (symbol,
// exchange) quoting target.
func DefaultConfig() Config {
	return Config{
		WindowSize:             64,
		RequoteIntervalMs:      250,
		MaxRequoteSilenceSecs:  5,
		MidDeviationBps:        5,
		MinSpreadBps:           2,
		VolMultiplier:          1.5,
		VolFloorBps:            1,
		MinSamplesForVol:       10,
		MomentumLookback:       4,
		MomentumThresholdBps:   8,
		MomentumSpreadMult:     1.5,
		BaseSpreadBps:          4,
		MaxPosition:            100,
		BaseSize:               1,
		StopLossThresholdBps:   150,
		AccountRefreshInterval: time.Second,
	}
}

// Quoter is a strategy.Strategy targeting exactly one (symbolID,
// exchangeID) pair.
type Quoter struct {
	symbolID   int
	exchangeID exchange.ID
	symbol     string // human-readable symbol, passed to the venue client

	client  venue.Client
	pool    *executor.Pool
	checker *risk.Checker
	log     *decisionlog.Logger
	cfg     Config

	mu                 sync.Mutex
	mids               []float64
	lastMid            float64
	lastQuotedMid      float64
	lastRequoteAt      time.Time
	lastAccountRefresh time.Time
	position           float64
	avgEntryPrice      float64
	hasEntryPrice      bool
	stopLossTriggered  bool
}

// NewQuoter builds a Quoter for one (symbolID, exchangeID, symbol) target.
func NewQuoter(symbolID int, exchangeID exchange.ID, symbol string, client venue.Client, pool *executor.Pool, checker *risk.Checker, log *decisionlog.Logger, cfg Config) *Quoter {
	return &Quoter{
		symbolID:      symbolID,
		exchangeID:    exchangeID,
		symbol:        symbol,
		client:        client,
		pool:          pool,
		checker:       checker,
		log:           log,
		cfg:           cfg,
		hasEntryPrice: client.HasEntryPrice(),
		mids:          make([]float64, 0, cfg.WindowSize),
	}
}

// OnBBOUpdate tracks the mid-price FIFO for this quoter's target. Updates
// for any other (symbol, exchange) are ignored.
func (q *Quoter) OnBBOUpdate(symbolID int, exchangeID exchange.ID, bbo seqlock.Payload) {
	if symbolID != q.symbolID || exchangeID != q.exchangeID {
		return
	}
	mid := (bbo.BidPrice + bbo.AskPrice) / 2

	q.mu.Lock()
	q.lastMid = mid
	if n := len(q.mids); n > 0 && n >= q.cfg.WindowSize {
		// Full window: shift in place so the backing array is reused.
		copy(q.mids, q.mids[1:])
		q.mids[n-1] = mid
	} else {
		q.mids = append(q.mids, mid)
	}
	q.mu.Unlock()
}

// OnIdle runs the slower decision path: account refresh, requote decision,
// stop-loss check, and (if triggered) order submission — all dispatched
// through the async executor so the dispatch thread never blocks on
// external I/O.
func (q *Quoter) OnIdle() {
	q.maybeRefreshAccount()

	q.mu.Lock()
	position := q.position
	hasEntryPrice := q.hasEntryPrice
	avgEntryPrice := q.avgEntryPrice
	mid := q.lastMid
	q.mu.Unlock()

	if mid <= 0 {
		return
	}

	if q.checkStopLoss(mid, position, hasEntryPrice, avgEntryPrice) {
		return
	}

	if !q.shouldRequote(mid) {
		return
	}
	q.requote(mid, position)
}

// Shutdown cancels resting orders for this quoter's target, satisfying
// internal/strategy.Shutdowner so the dispatcher's cleanup phase can reach
// it on process exit.
func (q *Quoter) Shutdown(ctx context.Context) error {
	return q.client.CancelAll(ctx, q.symbol)
}

// maybeRefreshAccount asks the venue for open positions at most once per
// AccountRefreshInterval, dispatched onto the executor pool. A failed call
// keeps the previous budget; the next idle tick retries.
func (q *Quoter) maybeRefreshAccount() {
	q.mu.Lock()
	due := time.Since(q.lastAccountRefresh) >= q.cfg.AccountRefreshInterval
	if due {
		q.lastAccountRefresh = time.Now()
	}
	q.mu.Unlock()
	if !due {
		return
	}

	_ = q.pool.Submit(executor.Task{
		Label: "account_refresh",
		Fn: func(ctx context.Context) {
			positions, err := q.client.GetOpenPositions(ctx)
			if err != nil {
				if q.log != nil {
					q.log.Log(decisionlog.Entry{
						Kind:     decisionlog.KindExternalError,
						SymbolID: q.symbolID,
						Exchange: q.client.Name(),
						Fields:   map[string]any{"call": "get_open_positions", "error": err.Error()},
					})
				}
				return
			}
			for _, p := range positions {
				if p.Symbol != q.symbol {
					continue
				}
				q.mu.Lock()
				q.position = p.Quantity
				q.avgEntryPrice = p.AvgEntryPrice
				q.hasEntryPrice = q.client.HasEntryPrice() && p.HasAvgEntryPrice
				q.mu.Unlock()
				return
			}
			// No open position reported: flat.
			q.mu.Lock()
			q.position = 0
			q.mu.Unlock()
		},
	})
}

// shouldRequote applies the two-level rate limit: never requote inside the
// minimum interval, and past it only when the quote has gone quiet for too
// long or the mid has drifted away from the last quoted mid.
func (q *Quoter) shouldRequote(mid float64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	sinceLast := time.Since(q.lastRequoteAt)
	if sinceLast.Milliseconds() < q.cfg.RequoteIntervalMs {
		return false
	}
	if q.lastRequoteAt.IsZero() {
		return true
	}
	if sinceLast.Seconds() > q.cfg.MaxRequoteSilenceSecs {
		return true
	}
	if q.lastQuotedMid > 0 {
		deviationBps := math.Abs(mid-q.lastQuotedMid) / q.lastQuotedMid * 10000
		if deviationBps > q.cfg.MidDeviationBps {
			return true
		}
	}
	return false
}

// volatilityAndMomentum computes the realized-vol/momentum pair: population
// stddev of per-sample bps returns over the window (floored when there are
// too few samples), and the bps change from MomentumLookback samples ago to
// the newest.
func (q *Quoter) volatilityAndMomentum() (volBps, momentumBps float64) {
	q.mu.Lock()
	mids := make([]float64, len(q.mids))
	copy(mids, q.mids)
	q.mu.Unlock()

	returns := make([]float64, 0, len(mids))
	for i := 1; i < len(mids); i++ {
		if mids[i-1] == 0 {
			continue
		}
		returns = append(returns, (mids[i]-mids[i-1])/mids[i-1]*10000)
	}

	if len(returns) < q.cfg.MinSamplesForVol {
		volBps = q.cfg.VolFloorBps
	} else {
		volBps = populationStdDev(returns)
	}

	if len(mids) > q.cfg.MomentumLookback {
		prev := mids[len(mids)-1-q.cfg.MomentumLookback]
		if prev != 0 {
			momentumBps = (mids[len(mids)-1] - prev) / prev * 10000
		}
	}
	return volBps, momentumBps
}

func populationStdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

// checkStopLoss returns true if a stop-loss close was triggered (and normal
// requoting for this tick should be skipped).
func (q *Quoter) checkStopLoss(mid, position float64, hasEntryPrice bool, avgEntryPrice float64) bool {
	triggered := false

	if hasEntryPrice && avgEntryPrice > 0 && position != 0 {
		sign := 1.0
		if position < 0 {
			sign = -1.0
		}
		pnlBps := sign * (mid - avgEntryPrice) / avgEntryPrice * 10000
		triggered = pnlBps < -q.cfg.StopLossThresholdBps
	} else {
		// No average-entry-price available: fall back to the over-exposure
		// guard.
		triggered = q.checker.OverExposed(position)
	}

	q.mu.Lock()
	wasTriggered := q.stopLossTriggered
	q.stopLossTriggered = triggered
	q.mu.Unlock()

	if !triggered {
		return false
	}
	if wasTriggered {
		// Already closing; don't resubmit every idle tick.
		return true
	}

	side := venue.SideSell
	if position < 0 {
		side = venue.SideBuy
	}
	qty := math.Abs(position)

	if q.log != nil {
		q.log.Log(decisionlog.Entry{
			Kind:     decisionlog.KindStopLoss,
			SymbolID: q.symbolID,
			Exchange: q.client.Name(),
			Fields:   map[string]any{"position": position, "mid": mid},
		})
	}

	_ = q.pool.Submit(executor.Task{
		Label: "stop_loss_close",
		Fn: func(ctx context.Context) {
			_ = q.client.CancelAll(ctx, q.symbol)
			if qty == 0 {
				return
			}
			// Cross the market for an immediate fill.
			crossPrice := mid * 1.05
			if side == venue.SideSell {
				crossPrice = mid * 0.95
			}
			_, _ = q.client.PlaceOrder(ctx, q.symbol, side, crossPrice, qty, false)
		},
	})
	return true
}

// requote computes spread, skew, and sizes for a fresh two-sided quote and
// dispatches cancel-then-submit, gated through the risk guard.
func (q *Quoter) requote(mid, position float64) {
	volBps, momentumBps := q.volatilityAndMomentum()

	bidHalfBps := math.Max(q.cfg.MinSpreadBps, volBps*q.cfg.VolMultiplier)
	askHalfBps := bidHalfBps

	if momentumBps > q.cfg.MomentumThresholdBps {
		bidHalfBps *= q.cfg.MomentumSpreadMult
	} else if momentumBps < -q.cfg.MomentumThresholdBps {
		askHalfBps *= q.cfg.MomentumSpreadMult
	}

	skewedMid := mid - mid*(position/q.cfg.MaxPosition)*(q.cfg.BaseSpreadBps/10000)*0.5

	bidPrice := skewedMid - skewedMid*(bidHalfBps/10000)
	askPrice := skewedMid + skewedMid*(askHalfBps/10000)

	sizeFactor := math.Max(0.01, 1-0.8*math.Abs(position)/q.cfg.MaxPosition)
	bidSize := q.cfg.BaseSize * sizeFactor
	askSize := q.cfg.BaseSize * sizeFactor

	// Freeze the side that would add to an already-maxed inventory.
	if position >= q.cfg.MaxPosition {
		bidSize = 0
	}
	if position <= -q.cfg.MaxPosition {
		askSize = 0
	}

	result := q.checker.Check(risk.Quote{
		SymbolID:     q.symbolID,
		BidPrice:     bidPrice,
		BidSize:      bidSize,
		AskPrice:     askPrice,
		AskSize:      askSize,
		ReferenceMid: mid,
		Position:     position,
	})
	if !result.Passed {
		if q.log != nil {
			q.log.Log(decisionlog.Entry{
				Kind:     decisionlog.KindQuoteRejected,
				SymbolID: q.symbolID,
				Exchange: q.client.Name(),
				Fields:   map[string]any{"reason": result.Reason, "checks_run": result.ChecksRun},
			})
		}
		return
	}

	q.mu.Lock()
	q.lastRequoteAt = time.Now()
	q.lastQuotedMid = mid
	q.mu.Unlock()

	if q.log != nil {
		q.log.Log(decisionlog.Entry{
			Kind:     decisionlog.KindQuoteSubmitted,
			SymbolID: q.symbolID,
			Exchange: q.client.Name(),
			Fields: map[string]any{
				"bid_price": bidPrice, "bid_size": bidSize,
				"ask_price": askPrice, "ask_size": askSize,
				"vol_bps": volBps, "momentum_bps": momentumBps,
			},
		})
	}

	symbol := q.symbol
	client := q.client
	_ = q.pool.Submit(executor.Task{
		Label: "cancel_and_submit",
		Fn: func(ctx context.Context) {
			_ = client.CancelAll(ctx, symbol)

			var wg sync.WaitGroup
			if bidSize > 0 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = client.PlaceOrder(ctx, symbol, venue.SideBuy, bidPrice, bidSize, true)
				}()
			}
			if askSize > 0 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = client.PlaceOrder(ctx, symbol, venue.SideSell, askPrice, askSize, true)
				}()
			}
			wg.Wait()
		},
	})
}
