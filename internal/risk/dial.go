package risk

import (
	"math"

	"github.com/fusionalpha/fusion-engine/internal/observ"
)

// Regime buckets annualized realized volatility.
type Regime string

const (
	Quiet    Regime = "quiet"
	Normal   Regime = "normal"
	Volatile Regime = "volatile"
)

type Config struct {
	BaseLeverage    float64
	MinLeverage     float64
	MaxLeverage     float64
	MaxLeverageStep float64 // max change between consecutive signals per ticker
	QuietVol        float64 // annualized vol below this = quiet
	VolatileVol     float64 // annualized vol above this = volatile
}

// Dial maps (confidence, volatility regime) to a bounded leverage
// multiplier with per-ticker hysteresis. Like the detector it is
// single-owner state: one Dial per pipeline shard.
type Dial struct {
	cfg  Config
	last map[string]float64
}

func NewDial(cfg Config) *Dial {
	return &Dial{cfg: cfg, last: make(map[string]float64)}
}

// Leverage computes the multiplier for the next signal. The raw dial rises
// with confidence and falls with realized volatility; the result is
// rate-limited against the ticker's previous value and always clamped to
// [MinLeverage, MaxLeverage].
func (d *Dial) Leverage(ticker string, confidence, annualizedVol float64) (float64, Regime) {
	regime := d.regime(annualizedVol)

	factor := 0.5 + clamp01(confidence) // [0.5, 1.5]
	switch regime {
	case Quiet:
		factor *= 1.2
	case Volatile:
		factor *= 0.6
	}

	lev := clamp(d.cfg.BaseLeverage*factor, d.cfg.MinLeverage, d.cfg.MaxLeverage)

	if prev, ok := d.last[ticker]; ok && d.cfg.MaxLeverageStep > 0 {
		step := lev - prev
		if step > d.cfg.MaxLeverageStep {
			lev = prev + d.cfg.MaxLeverageStep
		} else if step < -d.cfg.MaxLeverageStep {
			lev = prev - d.cfg.MaxLeverageStep
		}
		lev = clamp(lev, d.cfg.MinLeverage, d.cfg.MaxLeverage)
	}
	d.last[ticker] = lev

	observ.SetGauge("risk_leverage_mult", lev, map[string]string{"ticker": ticker})
	return lev, regime
}

// Rebase overwrites the hysteresis anchor, e.g. when a scaled-down
// leverage was actually emitted for the ticker.
func (d *Dial) Rebase(ticker string, leverage float64) {
	d.last[ticker] = clamp(leverage, d.cfg.MinLeverage, d.cfg.MaxLeverage)
}

func (d *Dial) regime(vol float64) Regime {
	switch {
	case vol <= 0:
		return Normal // no volatility data yet
	case vol < d.cfg.QuietVol:
		return Quiet
	case vol > d.cfg.VolatileVol:
		return Volatile
	default:
		return Normal
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }
