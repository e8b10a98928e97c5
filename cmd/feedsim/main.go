// Command feedsim is a test/demo writer simulator: it creates (or reopens)
// the shared-memory matrix and writes synthetic BBO updates into it,
// following the feeder's publication discipline — claim seq odd, write
// payload, commit seq even, then release-store the symbol's version.
//
// It is not part of the production reader; the real exchange feeder is a
// separate process. feedsim exists so cmd/reader has something to read
// against in local runs and demos.
package main

import (
	"context"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/AlephTX/aleph-tx/internal/exchange"
	"github.com/AlephTX/aleph-tx/internal/matrix"
	"github.com/AlephTX/aleph-tx/internal/seqlock"
)

func main() {
	matrixPath := flag.String("matrix-path", "/dev/shm/aleph-matrix", "path to the shared-memory matrix to create")
	symbolID := flag.Int("symbol-id", 1001, "symbol index to publish into")
	tickMs := flag.Int("tick-ms", 50, "milliseconds between publishes")
	exchanges := flag.IntSlice("exchanges", []int{1, 2, 3, 4}, "exchange indices to simulate (1..4)")
	seedMid := flag.Float64("mid", 63000, "starting mid price")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	region, err := matrix.Create(*matrixPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *matrixPath).Msg("failed to create shared-memory matrix")
	}
	defer region.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rng := rand.New(rand.NewSource(1))
	mids := make(map[int]float64, len(*exchanges))
	for _, e := range *exchanges {
		mids[e] = *seedMid
	}

	ticker := time.NewTicker(time.Duration(*tickMs) * time.Millisecond)
	defer ticker.Stop()

	log.Info().Int("symbol_id", *symbolID).Ints("exchanges", *exchanges).Msg("feedsim starting")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("feedsim shut down")
			return
		case <-ticker.C:
			for _, e := range *exchanges {
				if !exchange.ID(e).Valid() {
					continue
				}
				mid := jitter(rng, mids[e])
				mids[e] = mid

				spread := mid * 0.0005
				payload := seqlock.Payload{
					MsgType:     seqlock.MsgTypeBBO,
					ExchangeID:  uint8(e),
					SymbolID:    uint16(*symbolID),
					TimestampNs: uint64(time.Now().UnixNano()),
					BidPrice:    mid - spread/2,
					BidSize:     1 + rng.Float64()*4,
					AskPrice:    mid + spread/2,
					AskSize:     1 + rng.Float64()*4,
				}
				seqlock.WriteSlot(region.Slot(*symbolID, e), payload)
			}
			region.AdvanceVersion(*symbolID)
		}
	}
}

// jitter applies a small random walk to a mid price, floored well above
// zero so the generated book never crosses or goes non-positive.
func jitter(rng *rand.Rand, mid float64) float64 {
	next := mid + mid*0.0002*(rng.Float64()*2-1)
	return math.Max(next, 1)
}
