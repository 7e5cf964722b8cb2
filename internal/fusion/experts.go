package fusion

import (
	"math"

	"github.com/fusionalpha/fusion-engine/internal/contradiction"
)

// Offsets into the fused feature vector. BuildVector owns this layout;
// experts address the vector through these indices only.
const (
	idxDivergence = iota
	idxConfidence
	idxUnderhype
	idxOverhype
	idxAligned
	idxPriceReturn
	idxProbUp
	idxMeanLogReturn
	idxQ10
	idxQ50
	idxQ90
	idxSentiment
	prefixLen
)

// driftEps is the minimum simulated mean log-return the normal expert
// treats as a tradable drift.
const driftEps = 1e-4

// view slices the fused vector into its blocks so experts can address
// the memory and technical segments without re-deriving the layout.
type view struct {
	all  []float64
	mem  []float64
	tech []float64
}

// underhypeExpert buys underreactions to negative news: the market kept
// rising through negative sentiment, and the path distribution confirms
// upside.
func underhypeExpert(v view) Decision {
	conf := v.all[idxConfidence]
	probUp := v.all[idxProbUp]
	size := conf * (0.5 + 0.5*probUp) * memoryTilt(v.mem) * technicalTilt(v.tech)
	return Decision{
		Direction:  Long,
		RawSize:    size,
		Confidence: 0.5 * (conf + probUp),
		ExpertUsed: "underhype_expert",
	}
}

// overhypeExpert shorts overreactions to positive news, sized by the
// simulated downside mass.
func overhypeExpert(v view) Decision {
	conf := v.all[idxConfidence]
	downside := 1 - v.all[idxProbUp]
	size := conf * (0.5 + 0.5*downside) * memoryTilt(v.mem) * technicalTilt(v.tech)
	return Decision{
		Direction:  Short,
		RawSize:    size,
		Confidence: 0.5 * (conf + downside),
		ExpertUsed: "overhype_expert",
	}
}

// normalExpert handles aligned observations: follow the simulated drift
// with reduced size, or stay flat when the distribution is indecisive.
func normalExpert(v view) Decision {
	dec := Decision{Direction: Flat, ExpertUsed: "normal_expert"}
	conf := v.all[idxConfidence]
	probUp := v.all[idxProbUp]
	switch drift := v.all[idxMeanLogReturn]; {
	case drift > driftEps:
		dec.Direction = Long
		dec.RawSize = 0.5 * conf * probUp * technicalTilt(v.tech)
		dec.Confidence = 0.5 * (conf + probUp)
	case drift < -driftEps:
		dec.Direction = Short
		dec.RawSize = 0.5 * conf * (1 - probUp) * technicalTilt(v.tech)
		dec.Confidence = 0.5 * (conf + (1 - probUp))
	default:
		dec.Confidence = conf
	}
	return dec
}

// memoryTilt maps the mean of the latent block into a mild size
// multiplier in [0.9, 1.1]: persistent recent divergence evidence nudges
// size up, persistent disagreement nudges it down.
func memoryTilt(mem []float64) float64 {
	return 1 + 0.1*math.Tanh(blockMean(mem))
}

// technicalTilt maps the mean of the technical block into a multiplier
// in [0.95, 1.05], kept weaker than the memory tilt.
func technicalTilt(tech []float64) float64 {
	return 1 + 0.05*math.Tanh(blockMean(tech))
}

func blockMean(block []float64) float64 {
	if len(block) == 0 {
		return 0
	}
	var sum float64
	for _, v := range block {
		sum += v
	}
	return sum / float64(len(block))
}

func oneHot(got, want contradiction.Classification) float64 {
	if got == want {
		return 1
	}
	return 0
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
