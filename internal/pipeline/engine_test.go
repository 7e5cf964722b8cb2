package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusionalpha/fusion-engine/internal/config"
	"github.com/fusionalpha/fusion-engine/internal/contradiction"
	"github.com/fusionalpha/fusion-engine/internal/memory"
	"github.com/fusionalpha/fusion-engine/internal/outbox"
	"github.com/fusionalpha/fusion-engine/internal/portfolio"
	"github.com/fusionalpha/fusion-engine/internal/position"
)

func testEngineConfig(t *testing.T) config.Root {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Simulator.Seed = 42
	cfg.Simulator.TimeoutMs = 5000
	cfg.Pipeline.Shards = 2
	cfg.Pipeline.QueueDepth = 8
	return cfg
}

func newTestEngine(t *testing.T, cfg config.Root, outboxPath string) *Engine {
	t.Helper()
	store, err := memory.NewStore(memory.Config{
		Dim:            cfg.Memory.Dim,
		Decay:          cfg.Memory.Decay,
		Capacity:       cfg.Memory.Capacity,
		InputDim:       MemoryInputDim,
		ProjectionSeed: cfg.Memory.ProjectionSeed,
	})
	require.NoError(t, err)

	ob, err := outbox.New(outboxPath, 90)
	require.NoError(t, err)

	budget := portfolio.NewBudget(cfg.Portfolio.ExposureBudget, "")
	engine, err := New(cfg, store, budget, position.NewEmitter(ob))
	require.NoError(t, err)
	return engine
}

func testObservations() []contradiction.Observation {
	base := time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)
	return []contradiction.Observation{
		{ // underhype: negative sentiment, rising price
			Ticker:         "AAPL",
			Timestamp:      base,
			PriceWindow:    []float64{100, 100.4, 100.9, 101.5, 102.1, 102.8, 103.4, 104.0, 104.6, 105.0},
			SentimentScore: -0.8,
		},
		{ // overhype: positive sentiment, falling price
			Ticker:         "TSLA",
			Timestamp:      base,
			PriceWindow:    []float64{250, 248.5, 247, 245.2, 243.8, 242.1, 240.5, 239, 237.6, 236},
			SentimentScore: 0.9,
		},
		{ // aligned: weak agreement, stays inside the threshold
			Ticker:         "AMZN",
			Timestamp:      base,
			PriceWindow:    []float64{140, 140.1, 140.05, 140.2, 140.15, 140.3, 140.25, 140.4, 140.35, 140.5},
			SentimentScore: 0.1,
		},
		{ // unusable: sentiment missing, must produce no signal
			Ticker:           "NVDA",
			Timestamp:        base,
			PriceWindow:      []float64{500, 502.5, 505.1},
			SentimentMissing: true,
		},
	}
}

func readSignals(t *testing.T, path string) []position.Signal {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var signals []position.Signal
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry outbox.Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		var sig position.Signal
		require.NoError(t, json.Unmarshal(entry.Data, &sig))
		signals = append(signals, sig)
	}
	require.NoError(t, scanner.Err())
	return signals
}

func TestEngine_EndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.jsonl")
	engine := newTestEngine(t, testEngineConfig(t), path)

	ctx := context.Background()
	for _, obs := range testObservations() {
		require.NoError(t, engine.Submit(ctx, obs))
	}
	require.NoError(t, engine.Close())

	signals := readSignals(t, path)
	require.Len(t, signals, 3, "skipped observation must not emit")

	byTicker := map[string]position.Signal{}
	for _, s := range signals {
		byTicker[s.Ticker] = s
	}

	aapl := byTicker["AAPL"]
	assert.Equal(t, contradiction.Underhype, aapl.Audit.Event.Classification)
	assert.Greater(t, aapl.FinalSize, 0.0)
	assert.GreaterOrEqual(t, aapl.LeverageMult, 0.0)
	assert.NotEmpty(t, aapl.ID)
	assert.NotZero(t, aapl.Audit.PathSeed)

	tsla := byTicker["TSLA"]
	assert.Equal(t, contradiction.Overhype, tsla.Audit.Event.Classification)

	// Aligned observations still emit; direction may be flat.
	amzn, ok := byTicker["AMZN"]
	require.True(t, ok)
	assert.Equal(t, contradiction.Aligned, amzn.Audit.Event.Classification)

	_, ok = byTicker["NVDA"]
	assert.False(t, ok)
}

func TestEngine_ReplayIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.jsonl")
	ctx := context.Background()

	run := func() {
		engine := newTestEngine(t, testEngineConfig(t), path)
		for _, obs := range testObservations() {
			require.NoError(t, engine.Submit(ctx, obs))
		}
		require.NoError(t, engine.Close())
	}

	run()
	first := readSignals(t, path)

	// Same inputs, same seed, fresh state: every signal ID repeats, so the
	// outbox dedupe leaves the file untouched.
	run()
	second := readSignals(t, path)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].FinalSize, second[i].FinalSize)
	}
}

func TestEngine_SubmitAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.jsonl")
	engine := newTestEngine(t, testEngineConfig(t), path)
	require.NoError(t, engine.Close())

	err := engine.Submit(context.Background(), testObservations()[0])
	assert.Error(t, err)

	// Closing twice is safe.
	assert.NoError(t, engine.Close())
}

func TestEngine_ReconfigureValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.jsonl")
	engine := newTestEngine(t, testEngineConfig(t), path)
	defer engine.Close()

	bad := testEngineConfig(t)
	bad.Risk.QuietVol = 0.5 // above volatile_vol
	assert.Error(t, engine.Reconfigure(bad))

	good := testEngineConfig(t)
	good.Fusion.ConfidenceThreshold = 0.5
	assert.NoError(t, engine.Reconfigure(good))
}

func TestShardIndex_StablePerTicker(t *testing.T) {
	for _, ticker := range []string{"AAPL", "MSFT", "TSLA"} {
		a := shardIndex(ticker, 4)
		b := shardIndex(ticker, 4)
		assert.Equal(t, a, b)
		assert.GreaterOrEqual(t, a, 0)
		assert.Less(t, a, 4)
	}
}
