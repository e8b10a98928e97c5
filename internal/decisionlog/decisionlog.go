// Package decisionlog implements the batched, non-blocking observability
// stream for the reader core: poll-rate samples, arbitrage signals, quoter
// decisions, and external-call failures.
//
// A bounded channel absorbs bursts from the dispatch thread, and a single
// goroutine flushes on a size/time double trigger. Nothing is persisted to
// disk — the matrix this process reads is itself ephemeral, and there is no
// reason for its decision trail to outlive the process — so flush writes
// structured zerolog events.
package decisionlog

import (
	"time"

	"github.com/rs/zerolog"
)

// Kind classifies a decision log entry.
type Kind string

const (
	KindArbitrageSignal Kind = "arbitrage_signal"
	KindQuoteSubmitted  Kind = "quote_submitted"
	KindQuoteRejected   Kind = "quote_rejected"
	KindStopLoss        Kind = "stop_loss"
	KindExternalError   Kind = "external_error"
	// KindPollStats carries the periodic reader sample: poll counters plus
	// a local/shared version pair.
	KindPollStats Kind = "poll_stats"
	// KindInvariantViolation records a reader.InvariantViolation just
	// before the process aborts. It is logged at Error level by flush since
	// the process is already on its way down by the time this entry is
	// queued; there is no later batch to escalate it into.
	KindInvariantViolation Kind = "invariant_violation"
)

// Entry is one decision record. Fields is a flat map so callers never need
// a dedicated struct per Kind; zerolog encodes it as structured key/value
// pairs rather than a formatted string.
type Entry struct {
	Kind     Kind
	At       time.Time
	SymbolID int
	Exchange string
	Fields   map[string]any
}

// Logger batches Entry values and flushes them to a zerolog.Logger on a
// double trigger: batch size or interval, whichever comes first.
type Logger struct {
	sink          zerolog.Logger
	queue         chan Entry
	batchSize     int
	flushInterval time.Duration
	shutdownCh    chan struct{}
	shutdownDone  chan struct{}
}

// Config controls batching behavior.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig sizes batches for decision volume, which is orders of
// magnitude lower than the tick volume feeding it.
func DefaultConfig() Config {
	return Config{BatchSize: 100, FlushInterval: 25 * time.Millisecond}
}

// NewLogger builds a Logger writing to sink.
func NewLogger(sink zerolog.Logger, cfg Config) *Logger {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	return &Logger{
		sink:          sink,
		queue:         make(chan Entry, cfg.BatchSize*2),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		shutdownCh:    make(chan struct{}),
		shutdownDone:  make(chan struct{}),
	}
}

// Start launches the batching goroutine.
func (l *Logger) Start() {
	go l.batchLoop()
}

// Log enqueues an entry. Non-blocking: if the queue is full the entry is
// dropped and a warning is emitted instead of stalling the dispatch thread.
func (l *Logger) Log(e Entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case l.queue <- e:
	default:
		l.sink.Warn().Str("kind", string(e.Kind)).Msg("decisionlog: queue full, dropping entry")
	}
}

func (l *Logger) batchLoop() {
	defer close(l.shutdownDone)

	batch := make([]Entry, 0, l.batchSize)
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case e := <-l.queue:
			batch = append(batch, e)
			if len(batch) >= l.batchSize {
				l.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = batch[:0]
			}
		case <-l.shutdownCh:
			if len(batch) > 0 {
				l.flush(batch)
			}
			for {
				select {
				case e := <-l.queue:
					l.flush([]Entry{e})
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) flush(batch []Entry) {
	for _, e := range batch {
		event := l.sink.Info()
		if e.Kind == KindInvariantViolation {
			event = l.sink.Error()
		}
		evt := event.
			Str("kind", string(e.Kind)).
			Time("at", e.At).
			Int("symbol_id", e.SymbolID)
		if e.Exchange != "" {
			evt = evt.Str("exchange", e.Exchange)
		}
		for k, v := range e.Fields {
			evt = evt.Interface(k, v)
		}
		evt.Msg("decision")
	}
}

// Shutdown flushes any queued entries and stops the batching goroutine.
// Calling it again after it has returned is a no-op.
func (l *Logger) Shutdown() {
	select {
	case <-l.shutdownCh:
	default:
		close(l.shutdownCh)
	}
	<-l.shutdownDone
}
