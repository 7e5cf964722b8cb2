package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"time"

	"github.com/fusionalpha/fusion-engine/internal/contradiction"
	"github.com/fusionalpha/fusion-engine/internal/fusion"
	"github.com/fusionalpha/fusion-engine/internal/observ"
	"github.com/fusionalpha/fusion-engine/internal/position"
	"github.com/fusionalpha/fusion-engine/internal/simulator"
)

// process runs one observation through the full stage chain. Any stage
// failure after detection aborts the observation before the memory commit,
// so memory only ever reflects observations that produced a signal.
func (e *Engine) process(sh *shard, obs contradiction.Observation) {
	start := time.Now()
	defer func() {
		observ.RecordDuration("pipeline_process", time.Since(start), map[string]string{"ticker": obs.Ticker})
	}()

	cfg := e.cfg.Load()

	ev, err := sh.det.Evaluate(obs)
	if err != nil {
		if errors.Is(err, contradiction.ErrMissingInput) {
			observ.IncCounter("observations_skipped_total", map[string]string{"ticker": obs.Ticker})
			return
		}
		observ.Error("detect", err, map[string]any{"ticker": obs.Ticker})
		return
	}
	observ.IncCounter("events_total", map[string]string{
		"ticker":         ev.Ticker,
		"classification": string(ev.Classification),
	})

	lastPrice := obs.PriceWindow[len(obs.PriceWindow)-1]
	drift, vol := simulator.EstimateMoments(obs.PriceWindow)

	var seedPtr *uint64
	if cfg.Simulator.Seed != 0 {
		seed := deriveSeed(cfg.Simulator.Seed, obs.Ticker, obs.Timestamp)
		seedPtr = &seed
	}

	simCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Simulator.TimeoutMs)*time.Millisecond)
	batch, err := simulator.Simulate(simCtx, simulator.Params{
		Ticker:      obs.Ticker,
		Timestamp:   obs.Timestamp,
		Price:       lastPrice,
		Drift:       drift,
		Volatility:  vol,
		PathCount:   cfg.Simulator.Paths,
		StepCount:   cfg.Simulator.Steps,
		Dt:          cfg.Simulator.TimeIncrement,
		Seed:        seedPtr,
		Parallelism: cfg.Simulator.Parallelism,
	})
	cancel()
	if err != nil {
		observ.Error("simulate", err, map[string]any{"ticker": obs.Ticker})
		observ.IncCounter("simulation_aborts_total", map[string]string{"ticker": obs.Ticker})
		return
	}
	path := simulator.Reduce(batch, lastPrice)

	memVec, err := e.store.Update(obs.Ticker, memoryFeatures(ev, path), obs.Timestamp)
	if err != nil {
		observ.Error("memory_update", err, map[string]any{"ticker": obs.Ticker})
		return
	}

	dec := fusion.Evaluate(fusion.Inputs{
		Event:     ev,
		Path:      path,
		Memory:    memVec,
		Sentiment: obs.SentimentScore,
		Technical: obs.TechnicalFeatures,
	}, fusion.Config{ConfidenceFloor: cfg.Fusion.ConfidenceThreshold})

	// Per-step volatility annualized for regime comparison.
	annualizedVol := 0.0
	if cfg.Simulator.TimeIncrement > 0 {
		annualizedVol = vol / math.Sqrt(cfg.Simulator.TimeIncrement)
	}
	leverage, regime := sh.dial.Leverage(obs.Ticker, ev.Confidence, annualizedVol)

	finalSize, effLeverage, scale := position.Size(dec, leverage, position.SizerConfig{
		MaxTickerFraction: cfg.Portfolio.MaxTickerFraction,
	}, e.budget)
	if effLeverage != leverage {
		// The hysteresis anchor tracks what was actually emitted.
		sh.dial.Rebase(obs.Ticker, effLeverage)
	}

	sig := position.Signal{
		ID:           position.IdempotencyKey(obs.Ticker, obs.Timestamp, batch.Seed, dec.Direction, finalSize),
		Ticker:       obs.Ticker,
		Timestamp:    obs.Timestamp,
		Direction:    dec.Direction,
		FinalSize:    finalSize,
		LeverageMult: effLeverage,
		Audit: position.Audit{
			PriceLast:      lastPrice,
			Sentiment:      obs.SentimentScore,
			Event:          ev,
			PathState:      path,
			PathSeed:       batch.Seed,
			Drift:          drift,
			Volatility:     vol,
			MemoryVector:   memVec,
			Decision:       dec,
			LeverageDialed: leverage,
			Regime:         regime,
			BudgetScale:    scale,
			Technical:      obs.TechnicalFeatures,
		},
	}
	if err := e.emitter.Emit(sig); err != nil {
		observ.Error("emit", err, map[string]any{"ticker": obs.Ticker, "id": sig.ID})
	}
}

// memoryFeatures is the event and path-state block folded into ticker
// memory. Its layout mirrors the prefix of fusion.BuildVector.
func memoryFeatures(ev contradiction.Event, path simulator.PathState) []float64 {
	f := make([]float64, 0, MemoryInputDim)
	f = append(f,
		ev.DivergenceScore,
		ev.Confidence,
		boolFloat(ev.Classification == contradiction.Underhype),
		boolFloat(ev.Classification == contradiction.Overhype),
		boolFloat(ev.Classification == contradiction.Aligned),
		ev.PriceReturn,
		path.ProbUp,
		path.MeanLogReturn,
		path.Q10,
		path.Q50,
		path.Q90,
		ev.SentimentScore,
	)
	return f
}

// deriveSeed folds the base seed with the observation identity so each
// (ticker, timestamp) gets its own reproducible stream.
func deriveSeed(base uint64, ticker string, ts time.Time) uint64 {
	h := fnv.New64a()
	h.Write([]byte(ticker))
	var buf [8]byte
	nanos := uint64(ts.UnixNano())
	for i := 0; i < 8; i++ {
		buf[i] = byte(nanos >> (8 * i))
	}
	h.Write(buf[:])
	return base ^ h.Sum64()
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
