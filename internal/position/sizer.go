package position

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fusionalpha/fusion-engine/internal/contradiction"
	"github.com/fusionalpha/fusion-engine/internal/fusion"
	"github.com/fusionalpha/fusion-engine/internal/portfolio"
	"github.com/fusionalpha/fusion-engine/internal/risk"
	"github.com/fusionalpha/fusion-engine/internal/simulator"
)

// Audit is the full snapshot of upstream intermediate values carried on
// every signal so a decision can be replayed and validated downstream.
type Audit struct {
	PriceLast      float64             `json:"price_last"`
	Sentiment      float64             `json:"sentiment"`
	Event          contradiction.Event `json:"event"`
	PathState      simulator.PathState `json:"path_state"`
	PathSeed       uint64              `json:"path_seed"`
	Drift          float64             `json:"drift"`
	Volatility     float64             `json:"volatility"`
	MemoryVector   []float64           `json:"memory_vector"`
	Decision       fusion.Decision     `json:"decision"`
	LeverageDialed float64             `json:"leverage_dialed"` // before budget scaling
	Regime         risk.Regime         `json:"regime"`
	BudgetScale    float64             `json:"budget_scale"`
	Technical      map[string]float64  `json:"technical,omitempty"`
}

// Signal is the final, immutable output handed to the external execution
// layer. Direction "flat" means no action.
type Signal struct {
	ID           string           `json:"id"`
	Ticker       string           `json:"ticker"`
	Timestamp    time.Time        `json:"timestamp"`
	Direction    fusion.Direction `json:"direction"`
	FinalSize    float64          `json:"final_size"`
	LeverageMult float64          `json:"leverage_mult"`
	Audit        Audit            `json:"audit"`
}

type SizerConfig struct {
	MaxTickerFraction float64
}

// Size converts an expert decision and dialed leverage into a final
// position size. The per-ticker cap is applied by reducing leverage, so
// final_size stays monotonically non-decreasing in raw_size; budget
// shortfall scales leverage down proportionally.
func Size(dec fusion.Decision, leverage float64, cfg SizerConfig, budget *portfolio.Budget) (finalSize, effLeverage, scale float64) {
	effLeverage = leverage
	scale = 1

	if dec.Direction == fusion.Flat || dec.RawSize <= 0 {
		return 0, effLeverage, scale
	}

	finalSize = dec.RawSize * effLeverage
	if cfg.MaxTickerFraction > 0 && finalSize > cfg.MaxTickerFraction {
		effLeverage = cfg.MaxTickerFraction / dec.RawSize
		finalSize = cfg.MaxTickerFraction
	}

	// Exposure contribution is final_size × leverage_mult; when the
	// remaining budget cannot cover it the leverage is scaled down and
	// the size recomputed, so the reserved amount never overshoots.
	exposure := finalSize * effLeverage
	_, scale = budget.Reserve(dec.Ticker, exposure)
	if scale < 1 {
		effLeverage *= scale
		finalSize = dec.RawSize * effLeverage
	}
	return finalSize, effLeverage, scale
}

// IdempotencyKey derives a deterministic signal ID from the inputs that
// define the signal. Re-running the pipeline over identical inputs with
// the same seed and prior state reproduces the same key.
func IdempotencyKey(ticker string, ts time.Time, seed uint64, direction fusion.Direction, finalSize float64) string {
	raw := fmt.Sprintf("%s|%d|%d|%s|%.12f", ticker, ts.UnixNano(), seed, direction, finalSize)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(raw)).String()
}
