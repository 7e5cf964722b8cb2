package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/fusionalpha/fusion-engine/internal/config"
	"github.com/fusionalpha/fusion-engine/internal/contradiction"
	"github.com/fusionalpha/fusion-engine/internal/feed"
	"github.com/fusionalpha/fusion-engine/internal/memory"
	"github.com/fusionalpha/fusion-engine/internal/observ"
	"github.com/fusionalpha/fusion-engine/internal/portfolio"
	"github.com/fusionalpha/fusion-engine/internal/position"
	"github.com/fusionalpha/fusion-engine/internal/risk"
)

// MemoryInputDim is the length of the feature block folded into ticker
// memory: the event and path-state prefix of the fused vector.
const MemoryInputDim = 12

// Engine wires the full path from observation to emitted signal. Work is
// sharded by ticker hash so each ticker is processed strictly in arrival
// order by exactly one goroutine; detector and dial state live inside
// their shard and need no locks. Memory and the exposure budget are
// shared across shards and synchronize internally.
type Engine struct {
	cfg     atomic.Pointer[config.Root]
	shards  []*shard
	store   *memory.Store
	budget  *portfolio.Budget
	emitter *position.Emitter
	limiter *rate.Limiter

	wg     sync.WaitGroup
	closed atomic.Bool
}

type shard struct {
	queue chan contradiction.Observation
	det   *contradiction.Detector
	dial  *risk.Dial
}

func New(cfg config.Root, store *memory.Store, budget *portfolio.Budget, emitter *position.Emitter) (*Engine, error) {
	if store.Dim() < 1 {
		return nil, fmt.Errorf("memory store not initialized")
	}

	e := &Engine{
		store:   store,
		budget:  budget,
		emitter: emitter,
	}
	e.cfg.Store(&cfg)

	if cfg.Pipeline.IntakeRate > 0 {
		burst := cfg.Pipeline.IntakeBurst
		if burst <= 0 {
			burst = cfg.Pipeline.Shards
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.Pipeline.IntakeRate), burst)
	}

	overrides := make(map[string]contradiction.Override, len(cfg.Detector.TickerOverrides))
	for k, v := range cfg.Detector.TickerOverrides {
		overrides[k] = contradiction.Override{MinSentiment: v.MinSentiment, MinReturn: v.MinReturn}
	}

	e.shards = make([]*shard, cfg.Pipeline.Shards)
	for i := range e.shards {
		sh := &shard{
			queue: make(chan contradiction.Observation, cfg.Pipeline.QueueDepth),
			det: contradiction.NewDetector(contradiction.Config{
				Window:            cfg.Detector.Window,
				AdaptiveK:         cfg.Detector.AdaptiveK,
				MinHistory:        cfg.Detector.MinHistory,
				FallbackThreshold: cfg.Detector.FallbackThreshold,
				Overrides:         overrides,
			}),
			dial: risk.NewDial(risk.Config{
				BaseLeverage:    cfg.Risk.BaseLeverage,
				MinLeverage:     cfg.Risk.MinLeverage,
				MaxLeverage:     cfg.Risk.MaxLeverage,
				MaxLeverageStep: cfg.Risk.MaxLeverageStep,
				QuietVol:        cfg.Risk.QuietVol,
				VolatileVol:     cfg.Risk.VolatileVol,
			}),
		}
		e.shards[i] = sh
		e.wg.Add(1)
		go e.runShard(sh)
	}
	return e, nil
}

func (e *Engine) runShard(sh *shard) {
	defer e.wg.Done()
	for obs := range sh.queue {
		e.process(sh, obs)
	}
}

// Submit routes one observation to its ticker's shard. With block
// backpressure a full queue makes Submit wait; with drop_oldest the
// oldest queued observation for the shard is discarded to make room.
func (e *Engine) Submit(ctx context.Context, obs contradiction.Observation) error {
	if e.closed.Load() {
		return fmt.Errorf("engine closed")
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	cfg := e.cfg.Load()
	sh := e.shards[shardIndex(obs.Ticker, len(e.shards))]

	if cfg.Pipeline.Backpressure == "drop_oldest" {
		for {
			select {
			case sh.queue <- obs:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			select {
			case dropped := <-sh.queue:
				observ.IncCounter("pipeline_dropped_total", map[string]string{"ticker": dropped.Ticker})
			default:
			}
		}
	}

	select {
	case sh.queue <- obs:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes a feed until the source is exhausted or the context ends.
func (e *Engine) Run(ctx context.Context, client feed.Client) error {
	observations, err := client.Start(ctx)
	if err != nil {
		return fmt.Errorf("start feed: %w", err)
	}
	for obs := range observations {
		if err := e.Submit(ctx, obs); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	return nil
}

// Reconfigure swaps the tunable config atomically. In-flight observations
// finish under the config they started with; state carried across the
// swap (detector history, memory, budget) is untouched.
func (e *Engine) Reconfigure(cfg config.Root) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg.Store(&cfg)
	observ.Log("pipeline_reconfigured", nil)
	return nil
}

// Close stops intake, drains the shard queues, and snapshots the budget.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, sh := range e.shards {
		close(sh.queue)
	}
	e.wg.Wait()
	return e.budget.Save()
}

func shardIndex(ticker string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(ticker))
	return int(h.Sum32() % uint32(n))
}
