package decisionlog

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLogger_FlushesOnBatchSize(t *testing.T) {
	var buf bytes.Buffer
	sink := zerolog.New(&buf)
	l := NewLogger(sink, Config{BatchSize: 2, FlushInterval: time.Hour})
	l.Start()
	defer l.Shutdown()

	l.Log(Entry{Kind: KindArbitrageSignal, SymbolID: 1001})
	l.Log(Entry{Kind: KindQuoteSubmitted, SymbolID: 1001, Exchange: "binance"})

	require.Eventually(t, func() bool {
		return buf.Len() > 0
	}, time.Second, time.Millisecond)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &decoded))
	require.Equal(t, string(KindArbitrageSignal), decoded["kind"])
}

func TestLogger_FlushesOnInterval(t *testing.T) {
	var buf bytes.Buffer
	sink := zerolog.New(&buf)
	l := NewLogger(sink, Config{BatchSize: 1000, FlushInterval: 5 * time.Millisecond})
	l.Start()
	defer l.Shutdown()

	l.Log(Entry{Kind: KindStopLoss, SymbolID: 7})

	require.Eventually(t, func() bool {
		return buf.Len() > 0
	}, time.Second, time.Millisecond)
}

func TestLogger_InvariantViolationLogsAtErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	sink := zerolog.New(&buf)
	l := NewLogger(sink, Config{BatchSize: 1, FlushInterval: time.Hour})
	l.Start()
	defer l.Shutdown()

	l.Log(Entry{Kind: KindInvariantViolation, SymbolID: 9, Fields: map[string]any{"invariant_kind": "version"}})

	require.Eventually(t, func() bool {
		return buf.Len() > 0
	}, time.Second, time.Millisecond)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded))
	require.Equal(t, zerolog.LevelErrorValue, decoded[zerolog.LevelFieldName])
}

func TestLogger_ShutdownFlushesRemaining(t *testing.T) {
	var buf bytes.Buffer
	sink := zerolog.New(&buf)
	l := NewLogger(sink, Config{BatchSize: 1000, FlushInterval: time.Hour})
	l.Start()

	l.Log(Entry{Kind: KindExternalError, SymbolID: 3})
	l.Shutdown()

	require.NotZero(t, buf.Len())
}
