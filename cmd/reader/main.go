// Command reader is the strategy-host process: it attaches to the
// shared-memory matrix, drives the dispatch loop, and wires every registered
// strategy (arbitrage scanner, market-maker quoters) to the async execution
// fabric and decision log.
//
// Graceful shutdown listens for SIGINT/SIGTERM via signal.NotifyContext,
// cancels the dispatch loop's context, and gives the cleanup phase a bounded
// window to cancel resting orders. The executor pool shares that context
// and stops draining its ring as soon as it is canceled.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/AlephTX/aleph-tx/internal/arbitrage"
	"github.com/AlephTX/aleph-tx/internal/decisionlog"
	"github.com/AlephTX/aleph-tx/internal/exchange"
	"github.com/AlephTX/aleph-tx/internal/executor"
	"github.com/AlephTX/aleph-tx/internal/marketmaker"
	"github.com/AlephTX/aleph-tx/internal/reader"
	"github.com/AlephTX/aleph-tx/internal/risk"
	"github.com/AlephTX/aleph-tx/internal/strategy"
	"github.com/AlephTX/aleph-tx/internal/venue"
)

// Config holds the reader process's runtime configuration, sourced from
// flags and environment variables.
type Config struct {
	MatrixPath string
	// ScanCount is the scan upper bound reader.Open uses to bound its
	// per-iteration version-vector scan.
	ScanCount int
	LogLevel  string
	MinArbBps float64
}

// DefaultConfig returns the stock configuration for a full-matrix reader.
func DefaultConfig() Config {
	return Config{
		MatrixPath: "/dev/shm/aleph-matrix",
		ScanCount:  2048,
		LogLevel:   "info",
		MinArbBps:  5,
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	cfg := DefaultConfig()
	cfg.MatrixPath = envOrDefault("ALEPH_MATRIX_PATH", cfg.MatrixPath)
	cfg.LogLevel = envOrDefault("ALEPH_LOG_LEVEL", cfg.LogLevel)
	if n, err := strconv.Atoi(os.Getenv("ALEPH_SCAN_COUNT")); err == nil {
		cfg.ScanCount = n
	}

	matrixPath := flag.String("matrix-path", cfg.MatrixPath, "path to the shared-memory matrix")
	scanCount := flag.Int("scan-count", cfg.ScanCount, "how many leading symbols the reader's version-vector scan covers")
	logLevel := flag.String("log-level", cfg.LogLevel, "zerolog level filter")
	minArbBps := flag.Float64("min-arb-bps", cfg.MinArbBps, "minimum spread (bps) to emit an arbitrage signal")
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	// An *reader.InvariantViolation reaches here after strategy.Dispatcher's
	// own recover has already run the best-effort cleanup phase and
	// re-panicked it: the region is compromised and the process must not
	// keep reading it. log.Fatal logs at Fatal level and calls os.Exit(1).
	defer func() {
		if p := recover(); p != nil {
			if iv, ok := p.(*reader.InvariantViolation); ok {
				log.Fatal().
					Str("invariant_kind", iv.Kind).
					Int("symbol_id", iv.SymbolID).
					Int("exchange_id", iv.ExchangeID).
					Uint64("old", iv.Old).
					Uint64("new", iv.New).
					Msg("reader: invariant violation, aborting")
			}
			panic(p)
		}
	}()

	r, err := reader.Open(*matrixPath, *scanCount)
	if err != nil {
		log.Fatal().Err(err).Str("path", *matrixPath).Msg("failed to open shared-memory matrix")
	}
	defer r.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	decisions := decisionlog.NewLogger(log, decisionlog.DefaultConfig())
	decisions.Start()
	defer decisions.Shutdown()

	pool := executor.NewPool(executor.DefaultConfig())
	pool.Start(ctx)

	checker := risk.NewChecker(risk.DefaultConfig())

	dispatcher := strategy.NewDispatcher(r, strategy.DefaultConfig())
	dispatcher.SetDecisionLog(decisions)

	scanner := arbitrage.NewScanner(arbitrage.Config{MinBps: *minArbBps}, signalLogger{decisions})
	dispatcher.Register(scanner)

	clients := []venue.Client{venue.NewBinance(), venue.NewOKX(), venue.NewEdgeX(), venue.NewBackpack()}
	ids := []exchange.ID{exchange.Binance, exchange.OKX, exchange.EdgeX, exchange.Backpack}
	for i, client := range clients {
		quoter := marketmaker.NewQuoter(1001, ids[i], "BTC-USD", client, pool, checker, decisions, marketmaker.DefaultConfig())
		dispatcher.Register(quoter)
	}

	log.Info().
		Str("matrix_path", *matrixPath).
		Int("scan_count", *scanCount).
		Float64("min_arb_bps", *minArbBps).
		Msg("reader starting")

	dispatcher.Run(ctx)

	log.Info().Msg("reader shut down")
}

// signalLogger adapts internal/decisionlog.Logger to internal/arbitrage.Sink.
type signalLogger struct {
	log *decisionlog.Logger
}

func (s signalLogger) OnArbitrageSignal(sig arbitrage.Signal) {
	s.log.Log(decisionlog.Entry{
		Kind:     decisionlog.KindArbitrageSignal,
		SymbolID: sig.SymbolID,
		Fields: map[string]any{
			"buy_exchange":  sig.BuyExchange.String(),
			"sell_exchange": sig.SellExchange.String(),
			"buy_price":     sig.BuyPrice,
			"sell_price":    sig.SellPrice,
			"size":          sig.Size,
			"spread_bps":    sig.SpreadBps,
		},
	})
}
