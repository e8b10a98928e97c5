// Package strategy implements the process's single hot dispatch loop: one
// goroutine polls the reader core and fans out every BBO update to a fixed
// list of registered strategies, in registration order, with no
// per-iteration heap allocation. On an empty run the loop yields the CPU
// rather than spin unconditionally.
package strategy

import (
	"context"
	"runtime"
	"time"

	"github.com/AlephTX/aleph-tx/internal/decisionlog"
	"github.com/AlephTX/aleph-tx/internal/exchange"
	"github.com/AlephTX/aleph-tx/internal/reader"
	"github.com/AlephTX/aleph-tx/internal/seqlock"
)

// Strategy is the capability every registered consumer of BBO updates must
// implement.
type Strategy interface {
	// OnBBOUpdate is called once for every exchange slot of a changed symbol
	// whose BBO is valid. Strategies that need the whole cross-exchange
	// picture for a symbol (the arbitrage scanner) keep their own
	// per-symbol, per-exchange cache across calls.
	OnBBOUpdate(symbolID int, exchangeID exchange.ID, bbo seqlock.Payload)
	// OnIdle is called once per dispatch iteration that found no updates at
	// all, so strategies can do periodic housekeeping (requote timers,
	// stop-loss checks) without their own ticking goroutine.
	OnIdle()
}

// Shutdowner is an optional capability a Strategy may implement to cancel
// resting orders on process shutdown. Cleanup is best-effort; strategies
// that hold no external state (the arbitrage scanner) need not implement
// it.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdownGrace bounds how long the cleanup phase waits for all strategies'
// Shutdown calls combined.
const shutdownGrace = 5 * time.Second

// Config controls the dispatch loop's idle behavior.
type Config struct {
	// ScanCount bounds how many changed symbols one iteration will drain
	// before dispatching.
	ScanCount int
	// IdleYieldEvery yields the goroutine's time slice after this many
	// consecutive empty iterations, so the dispatch loop does not starve
	// executor tasks on the same core when the matrix is quiet.
	IdleYieldEvery int
	// StatsLogEvery samples the reader's poll counters and the version pair
	// at its cursor every this many idle iterations, emitting them as a
	// decisionlog.Entry. 0 disables sampling.
	StatsLogEvery int
}

// DefaultConfig returns defaults sized for a full-matrix scan.
func DefaultConfig() Config {
	return Config{ScanCount: 2048, IdleYieldEvery: 4096, StatsLogEvery: 4096}
}

// Dispatcher owns the reader and the registered strategies. Each iteration
// drains the changed symbols, reads all exchange slots for each, and
// dispatches every valid slot to the strategies in insertion order; an
// empty poll instead notifies every strategy it is idle.
type Dispatcher struct {
	r          *reader.Reader
	cfg        Config
	strategies []Strategy
	idleRun    int
	log        *decisionlog.Logger

	// changedBuf is reused across iterations so an empty poll never
	// allocates.
	changedBuf []int
}

// SetDecisionLog attaches a decision log for poll-stats samples and
// shutdown-cleanup failures. Optional; nil disables both.
func (d *Dispatcher) SetDecisionLog(log *decisionlog.Logger) {
	d.log = log
}

// NewDispatcher builds a Dispatcher over an already-open Reader.
func NewDispatcher(r *reader.Reader, cfg Config) *Dispatcher {
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = DefaultConfig().ScanCount
	}
	if cfg.IdleYieldEvery <= 0 {
		cfg.IdleYieldEvery = DefaultConfig().IdleYieldEvery
	}
	return &Dispatcher{r: r, cfg: cfg, changedBuf: make([]int, 0, cfg.ScanCount)}
}

// Register adds a strategy to the dispatch list. Strategies are notified in
// the order they were registered.
func (d *Dispatcher) Register(s Strategy) {
	d.strategies = append(d.strategies, s)
}

// Run drives the dispatch loop until ctx is canceled. It never returns an
// error: the loop's only failure mode is cancellation, except for a
// *reader.InvariantViolation, which Run lets through to its caller (after
// running the best-effort cleanup phase) so the hosting process can abort —
// a region whose counters move backward cannot be trusted again.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.recoverFatal()
	for {
		select {
		case <-ctx.Done():
			d.shutdownStrategies()
			return
		default:
		}

		changed := d.r.PollAppend(d.changedBuf[:0], d.cfg.ScanCount)
		if len(changed) == 0 {
			d.idleRun++
			for _, s := range d.strategies {
				s.OnIdle()
			}
			if d.cfg.StatsLogEvery > 0 && d.idleRun%d.cfg.StatsLogEvery == 0 {
				d.logStats()
			}
			if d.idleRun%d.cfg.IdleYieldEvery == 0 {
				runtime.Gosched()
			}
			continue
		}

		d.idleRun = 0
		for _, symbolID := range changed {
			readings := d.r.ReadAllExchanges(symbolID)
			for _, reading := range readings {
				if reading.Result.Status != seqlock.StatusOK || !reading.Result.Payload.Valid() {
					continue
				}
				for _, s := range d.strategies {
					s.OnBBOUpdate(symbolID, reading.ExchangeID, reading.Result.Payload)
				}
			}
		}
	}
}

// logStats samples the reader's running counters and the version pair at
// its current scan cursor, and emits them as a decisionlog.Entry. A no-op
// when no decision log is attached.
func (d *Dispatcher) logStats() {
	if d.log == nil {
		return
	}
	stats := d.r.Stats()
	s := d.r.Cursor()
	local, shared := d.r.VersionPair(s)
	d.log.Log(decisionlog.Entry{
		Kind:     decisionlog.KindPollStats,
		SymbolID: s,
		Fields: map[string]any{
			"polls":          stats.Polls,
			"updates":        stats.Updates,
			"local_version":  local,
			"shared_version": shared,
		},
	})
}

// recoverFatal lets an ordinary panic propagate unchanged, but when it is a
// *reader.InvariantViolation it first runs the same best-effort cleanup
// phase a context cancellation would — strategies get a bounded chance to
// cancel resting orders before the process goes down — logs the violation,
// and re-panics so the caller of Run can abort the process.
func (d *Dispatcher) recoverFatal() {
	r := recover()
	if r == nil {
		return
	}
	iv, ok := r.(*reader.InvariantViolation)
	if !ok {
		panic(r)
	}
	d.shutdownStrategies()
	if d.log != nil {
		d.log.Log(decisionlog.Entry{
			Kind:     decisionlog.KindInvariantViolation,
			SymbolID: iv.SymbolID,
			Fields: map[string]any{
				"invariant_kind": iv.Kind,
				"exchange_id":    iv.ExchangeID,
				"old":            iv.Old,
				"new":            iv.New,
			},
		})
		d.log.Shutdown()
	}
	panic(iv)
}

// shutdownStrategies asks every registered strategy that implements
// Shutdowner to cancel resting orders, with a bounded grace period. A
// failing strategy is logged (when a decision log is attached) and never
// blocks the others or prevents process exit.
func (d *Dispatcher) shutdownStrategies() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	for _, s := range d.strategies {
		sd, ok := s.(Shutdowner)
		if !ok {
			continue
		}
		if err := sd.Shutdown(ctx); err != nil && d.log != nil {
			d.log.Log(decisionlog.Entry{
				Kind:   decisionlog.KindExternalError,
				Fields: map[string]any{"call": "strategy_shutdown", "error": err.Error()},
			})
		}
	}
}
