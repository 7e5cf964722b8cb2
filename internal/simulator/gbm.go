package simulator

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"
)

// Params describes one simulation request. Seed is optional: nil draws a
// fresh seed (recorded in the batch), a value makes the batch
// bit-reproducible for identical inputs regardless of parallelism.
type Params struct {
	Ticker      string
	Timestamp   time.Time
	Price       float64
	Drift       float64 // μ, per step of Dt
	Volatility  float64 // σ, per step of Dt
	PathCount   int
	StepCount   int
	Dt          float64
	Seed        *uint64
	Parallelism int // 0 = GOMAXPROCS
}

// Batch holds the simulated forward paths. It is owned by the caller of
// Simulate and is meant to be reduced once and discarded.
type Batch struct {
	Ticker     string
	Timestamp  time.Time
	Drift      float64
	Volatility float64
	StepCount  int
	PathCount  int
	Seed       uint64
	Paths      [][]float64 // PathCount trajectories of StepCount prices
}

// PathState is the scalar summary handed downstream: the fraction of paths
// ending above the start price, the mean terminal log-return, and terminal
// log-return quantiles.
type PathState struct {
	ProbUp        float64 `json:"prob_up"`
	MeanLogReturn float64 `json:"mean_log_return"`
	Q10           float64 `json:"q10"`
	Q50           float64 `json:"q50"`
	Q90           float64 `json:"q90"`
}

// Simulate generates PathCount discretized geometric Brownian motion paths
// of StepCount steps. Each path draws from its own PCG stream seeded by
// (Seed, path index), so the batch content does not depend on how the work
// is spread across workers. Non-positive volatility degrades to the
// deterministic drift-only path instead of failing.
func Simulate(ctx context.Context, p Params) (*Batch, error) {
	if p.Price <= 0 {
		return nil, fmt.Errorf("non-positive start price %.6f", p.Price)
	}
	if p.PathCount < 1 || p.StepCount < 1 || p.Dt <= 0 {
		return nil, fmt.Errorf("invalid dimensions: paths=%d steps=%d dt=%f", p.PathCount, p.StepCount, p.Dt)
	}

	seed := rand.Uint64()
	if p.Seed != nil {
		seed = *p.Seed
	}

	batch := &Batch{
		Ticker:     p.Ticker,
		Timestamp:  p.Timestamp,
		Drift:      p.Drift,
		Volatility: p.Volatility,
		StepCount:  p.StepCount,
		PathCount:  p.PathCount,
		Seed:       seed,
		Paths:      make([][]float64, p.PathCount),
	}

	workers := p.Parallelism
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > p.PathCount {
		workers = p.PathCount
	}

	var wg sync.WaitGroup
	next := make(chan int)
	go func() {
		defer close(next)
		for i := 0; i < p.PathCount; i++ {
			select {
			case next <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				batch.Paths[i] = simulatePath(p, seed, i)
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		// Partial batches are never handed downstream.
		return nil, fmt.Errorf("simulation aborted: %w", err)
	}
	return batch, nil
}

func simulatePath(p Params, seed uint64, index int) []float64 {
	path := make([]float64, p.StepCount)
	s := p.Price

	if p.Volatility <= 0 {
		// Degenerate volatility: deterministic drift-only path.
		growth := math.Exp(p.Drift * p.Dt)
		for t := 0; t < p.StepCount; t++ {
			s *= growth
			path[t] = s
		}
		return path
	}

	rng := rand.New(rand.NewPCG(seed, uint64(index)+1))
	driftTerm := (p.Drift - 0.5*p.Volatility*p.Volatility) * p.Dt
	diffusion := p.Volatility * math.Sqrt(p.Dt)
	for t := 0; t < p.StepCount; t++ {
		s *= math.Exp(driftTerm + diffusion*rng.NormFloat64())
		path[t] = s
	}
	return path
}

// EstimateMoments estimates per-step drift and volatility from the log
// returns of a price window (most-recent-last). Returns zeros when the
// window is too short.
func EstimateMoments(prices []float64) (drift, vol float64) {
	if len(prices) < 2 {
		return 0, 0
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(prices[i]/prices[i-1]))
	}
	if len(returns) == 0 {
		return 0, 0
	}
	mean, std := welford(returns)
	return mean, std
}
