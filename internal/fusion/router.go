package fusion

import (
	"sort"
	"time"

	"github.com/fusionalpha/fusion-engine/internal/contradiction"
	"github.com/fusionalpha/fusion-engine/internal/observ"
	"github.com/fusionalpha/fusion-engine/internal/simulator"
)

type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
	Flat  Direction = "flat"
)

// Decision is one expert's verdict on a fused feature vector.
type Decision struct {
	Ticker     string    `json:"ticker"`
	Timestamp  time.Time `json:"timestamp"`
	Direction  Direction `json:"direction"`
	RawSize    float64   `json:"raw_size"`   // [0,1]
	Confidence float64   `json:"confidence"` // [0,1]
	ExpertUsed string    `json:"expert_used"`
}

// Inputs carries everything the router fuses for one observation.
type Inputs struct {
	Event     contradiction.Event
	Path      simulator.PathState
	Memory    []float64
	Sentiment float64
	Technical map[string]float64
}

type Config struct {
	// Events with confidence below this floor are forced to flat/0
	// regardless of expert output.
	ConfidenceFloor float64
}

// BuildVector concatenates all feature blocks into one deterministic
// layout: event block, path-state block, memory vector, raw sentiment,
// then technical features in name order.
func BuildVector(in Inputs) []float64 {
	vec := make([]float64, 0, prefixLen+len(in.Memory)+len(in.Technical))
	vec = append(vec,
		in.Event.DivergenceScore,
		in.Event.Confidence,
		oneHot(in.Event.Classification, contradiction.Underhype),
		oneHot(in.Event.Classification, contradiction.Overhype),
		oneHot(in.Event.Classification, contradiction.Aligned),
		in.Event.PriceReturn,
		in.Path.ProbUp,
		in.Path.MeanLogReturn,
		in.Path.Q10,
		in.Path.Q50,
		in.Path.Q90,
		in.Sentiment,
	)
	vec = append(vec, in.Memory...)

	names := make([]string, 0, len(in.Technical))
	for name := range in.Technical {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		vec = append(vec, in.Technical[name])
	}
	return vec
}

// Evaluate fuses the inputs into one vector, routes it to exactly one
// expert by classification, and applies the confidence gate. Experts are
// pure functions over the fused vector; no blending.
func Evaluate(in Inputs, cfg Config) Decision {
	raw := BuildVector(in)
	v := view{
		all:  raw,
		mem:  raw[prefixLen : prefixLen+len(in.Memory)],
		tech: raw[prefixLen+len(in.Memory):],
	}

	var dec Decision
	switch in.Event.Classification {
	case contradiction.Underhype:
		dec = underhypeExpert(v)
	case contradiction.Overhype:
		dec = overhypeExpert(v)
	default:
		dec = normalExpert(v)
	}
	dec.Ticker = in.Event.Ticker
	dec.Timestamp = in.Event.Timestamp

	// An expert emitting a direction outside the closed set fails safe.
	if dec.Direction != Long && dec.Direction != Short && dec.Direction != Flat {
		observ.Warn("expert_direction_violation", map[string]any{
			"ticker": dec.Ticker, "expert": dec.ExpertUsed, "direction": string(dec.Direction),
		})
		observ.IncCounter("expert_violations_total", map[string]string{"expert": dec.ExpertUsed})
		dec.Direction = Flat
		dec.RawSize = 0
	}

	if in.Event.Confidence < cfg.ConfidenceFloor {
		observ.IncCounter("confidence_gate_total", map[string]string{"ticker": dec.Ticker})
		dec.Direction = Flat
		dec.RawSize = 0
	}

	dec.RawSize = clamp01(dec.RawSize)
	dec.Confidence = clamp01(dec.Confidence)
	return dec
}
