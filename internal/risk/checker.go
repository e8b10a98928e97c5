// Package risk implements the pre-submission quote guard: before a computed
// bid/ask reaches the external place_order boundary, it passes a small set
// of checks run in order, stopping at the first failure, so a rejected
// quote is logged with which check failed rather than a bare "rejected".
//
// There is no order book or account ledger in this process: checks run
// against a computed quote (bid/ask/size pair) and the strategy's own view
// of position and reference price.
package risk

import (
	"fmt"
	"math"
	"sync"
)

// CheckResult contains the result of a risk check.
type CheckResult struct {
	Passed    bool
	Reason    string   // If failed, why
	ChecksRun []string // List of checks that were run
}

// Config configures the checker.
type Config struct {
	// MaxQuoteSize bounds bid_size/ask_size on a single quote.
	MaxQuoteSize float64
	// MaxPosition bounds |position| a quote may be submitted against.
	MaxPosition float64
	// PriceBandPercent bounds how far a quote's mid may sit from the last
	// known reference mid (0.1 = 10%).
	PriceBandPercent float64
	// OverExposureMultiple is the fallback stop-loss guard for exchanges
	// that do not report an average entry price: cancel all once |position|
	// exceeds this multiple of MaxPosition.
	OverExposureMultiple float64
}

// DefaultConfig returns reasonable defaults for a single-symbol quoter.
func DefaultConfig() Config {
	return Config{
		MaxQuoteSize:         10,
		MaxPosition:          100,
		PriceBandPercent:     0.10,
		OverExposureMultiple: 3,
	}
}

// Quote is the candidate bid/ask a market-maker strategy wants to submit.
type Quote struct {
	SymbolID     int
	BidPrice     float64
	BidSize      float64
	AskPrice     float64
	AskSize      float64
	ReferenceMid float64 // 0 means "no reference available yet"
	Position     float64
}

// Checker runs pre-submission checks. It is safe for concurrent use.
type Checker struct {
	mu     sync.RWMutex
	config Config
}

// NewChecker creates a new risk checker.
func NewChecker(config Config) *Checker {
	return &Checker{config: config}
}

// Check performs all applicable checks on a quote, in order, stopping at
// the first failure.
func (c *Checker) Check(q Quote) CheckResult {
	c.mu.RLock()
	cfg := c.config
	c.mu.RUnlock()

	result := CheckResult{
		Passed:    true,
		ChecksRun: make([]string, 0, 4),
	}

	// 1. Crossed-book sanity.
	result.ChecksRun = append(result.ChecksRun, "crossed_book")
	if !(q.BidPrice > 0 && q.AskPrice > 0 && q.BidPrice < q.AskPrice) {
		return CheckResult{
			Passed:    false,
			Reason:    "crossed or non-positive quote",
			ChecksRun: result.ChecksRun,
		}
	}

	// 2. Quote size check.
	result.ChecksRun = append(result.ChecksRun, "quote_size")
	if q.BidSize > cfg.MaxQuoteSize || q.AskSize > cfg.MaxQuoteSize {
		return CheckResult{
			Passed:    false,
			Reason:    fmt.Sprintf("quote size exceeds max %.4f", cfg.MaxQuoteSize),
			ChecksRun: result.ChecksRun,
		}
	}

	// 3. Price band check, relative to the strategy's own reference mid.
	if q.ReferenceMid > 0 {
		result.ChecksRun = append(result.ChecksRun, "price_band")
		if !c.checkPriceBand(q, cfg) {
			mid := (q.BidPrice + q.AskPrice) / 2
			return CheckResult{
				Passed: false,
				Reason: fmt.Sprintf("mid %.8f outside band (ref: %.8f, band: %.0f%%)",
					mid, q.ReferenceMid, cfg.PriceBandPercent*100),
				ChecksRun: result.ChecksRun,
			}
		}
	}

	// 4. Position limit check.
	result.ChecksRun = append(result.ChecksRun, "position_limit")
	if !c.checkPositionLimit(q, cfg) {
		return CheckResult{
			Passed:    false,
			Reason:    fmt.Sprintf("position %.4f exceeds max %.4f", q.Position, cfg.MaxPosition),
			ChecksRun: result.ChecksRun,
		}
	}

	return result
}

// checkPriceBand verifies the quote's mid is within acceptable range of the
// strategy's reference mid.
func (c *Checker) checkPriceBand(q Quote, cfg Config) bool {
	mid := (q.BidPrice + q.AskPrice) / 2
	band := q.ReferenceMid * cfg.PriceBandPercent
	return mid >= q.ReferenceMid-band && mid <= q.ReferenceMid+band
}

// checkPositionLimit verifies the quote's symbol position stays within
// MaxPosition.
func (c *Checker) checkPositionLimit(q Quote, cfg Config) bool {
	return math.Abs(q.Position) <= cfg.MaxPosition
}

// OverExposed is the fallback stop-loss for exchanges whose client does not
// report an average entry price, where no real unrealised-PnL check can be
// computed.
func (c *Checker) OverExposed(position float64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return math.Abs(position) > c.config.OverExposureMultiple*c.config.MaxPosition
}
