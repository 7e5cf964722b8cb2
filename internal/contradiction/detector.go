package contradiction

import (
	"errors"
	"math"
	"time"
)

// Classification labels an observation's sentiment/price relationship.
type Classification string

const (
	Overhype  Classification = "overhype"  // positive sentiment, falling price
	Underhype Classification = "underhype" // negative sentiment, rising price
	Aligned   Classification = "aligned"
)

// Observation is one unit of input from the feature producers: a recent
// price window (most-recent-last), a sentiment score in [-1,1], and named
// technical features. Immutable once created.
type Observation struct {
	Ticker            string
	Timestamp         time.Time
	PriceWindow       []float64
	SentimentScore    float64
	SentimentMissing  bool
	TechnicalFeatures map[string]float64
}

// Event is the classified divergence derived from exactly one Observation.
type Event struct {
	Ticker          string         `json:"ticker"`
	Timestamp       time.Time      `json:"timestamp"`
	DivergenceScore float64        `json:"divergence_score"`
	Classification  Classification `json:"classification"`
	Confidence      float64        `json:"confidence"`
	Strength        string         `json:"strength"` // high | medium | low
	SentimentScore  float64        `json:"sentiment_score"`
	PriceReturn     float64        `json:"price_return"`
	Threshold       float64        `json:"threshold"` // threshold in effect when classified
	Adaptive        bool           `json:"adaptive"`  // false while on the static fallback
}

// Override sets per-ticker minimums a divergence must clear before the
// adaptive test applies. MinSentiment is a magnitude.
type Override struct {
	MinSentiment float64
	MinReturn    float64
}

type Config struct {
	Window            int
	AdaptiveK         float64
	MinHistory        int
	FallbackThreshold float64
	Overrides         map[string]Override
}

// ErrMissingInput marks an observation that cannot be classified: missing
// or NaN sentiment, or a price window too short to compute a return. The
// caller skips the observation; no event is produced and no state changes.
var ErrMissingInput = errors.New("observation missing sentiment or price data")

const epsilon = 1e-9

// Detector classifies observations against a per-ticker adaptive threshold.
// It is single-owner state: the pipeline shards by ticker so each Detector
// instance is only ever touched by one goroutine.
type Detector struct {
	cfg   Config
	stats map[string]*rollingWindow
}

func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg, stats: make(map[string]*rollingWindow)}
}

// Evaluate classifies one observation and updates the ticker's rolling
// statistics. The threshold used for classification is the one in effect
// before this observation's metric is folded in.
func (d *Detector) Evaluate(obs Observation) (Event, error) {
	if obs.SentimentMissing || math.IsNaN(obs.SentimentScore) {
		return Event{}, ErrMissingInput
	}
	if len(obs.PriceWindow) < 2 || obs.PriceWindow[0] <= 0 {
		return Event{}, ErrMissingInput
	}

	first := obs.PriceWindow[0]
	last := obs.PriceWindow[len(obs.PriceWindow)-1]
	priceReturn := (last - first) / first

	// Alignment metric: sign product weighted by magnitude. Negative m
	// means sentiment and price disagree.
	m := obs.SentimentScore * priceReturn

	w, ok := d.stats[obs.Ticker]
	if !ok {
		w = newRollingWindow(d.cfg.Window)
		d.stats[obs.Ticker] = w
	}

	tau := d.cfg.FallbackThreshold
	adaptive := false
	if w.count() >= d.cfg.MinHistory {
		mean, std := w.meanStd()
		tau = mean + d.cfg.AdaptiveK*std
		adaptive = true
	}

	ev := Event{
		Ticker:          obs.Ticker,
		Timestamp:       obs.Timestamp,
		DivergenceScore: math.Abs(m),
		SentimentScore:  obs.SentimentScore,
		PriceReturn:     priceReturn,
		Threshold:       tau,
		Adaptive:        adaptive,
	}

	ov := d.override(obs.Ticker)
	switch {
	case obs.SentimentScore < 0 && priceReturn > 0 &&
		math.Abs(m) > tau &&
		math.Abs(obs.SentimentScore) >= ov.MinSentiment && priceReturn >= ov.MinReturn:
		ev.Classification = Underhype
		ev.Confidence = clamp01((math.Abs(m) - tau) / (math.Abs(m) + epsilon))
	case obs.SentimentScore > 0 && priceReturn < 0 &&
		math.Abs(m) > tau &&
		obs.SentimentScore >= ov.MinSentiment && -priceReturn >= ov.MinReturn:
		ev.Classification = Overhype
		ev.Confidence = clamp01((math.Abs(m) - tau) / (math.Abs(m) + epsilon))
	default:
		// Agreement confidence: distance inside the threshold.
		ev.Classification = Aligned
		ev.Confidence = clamp01((tau - math.Abs(m)) / (tau + epsilon))
	}
	ev.Strength = strength(ev.Confidence)

	w.push(m)
	return ev, nil
}

// HistoryLen reports how many metric points are held for a ticker.
func (d *Detector) HistoryLen(ticker string) int {
	if w, ok := d.stats[ticker]; ok {
		return w.count()
	}
	return 0
}

func (d *Detector) override(ticker string) Override {
	if ov, ok := d.cfg.Overrides[ticker]; ok {
		return ov
	}
	if ov, ok := d.cfg.Overrides["DEFAULT"]; ok {
		return ov
	}
	return Override{}
}

func strength(confidence float64) string {
	switch {
	case confidence >= 0.75:
		return "high"
	case confidence >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
