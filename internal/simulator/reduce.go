package simulator

import (
	"math"
	"sort"
)

// Reduce collapses a batch into its PathState summary. The reduction walks
// terminal values in path-index order with a Welford accumulator and sorts
// for quantiles, so the result is identical no matter how the paths were
// computed.
func Reduce(b *Batch, startPrice float64) PathState {
	if b == nil || b.PathCount == 0 || startPrice <= 0 {
		return PathState{}
	}

	terminal := make([]float64, 0, b.PathCount)
	above := 0
	for _, path := range b.Paths {
		if len(path) == 0 {
			continue
		}
		end := path[len(path)-1]
		if end > startPrice {
			above++
		}
		terminal = append(terminal, math.Log(end/startPrice))
	}
	if len(terminal) == 0 {
		return PathState{}
	}

	mean, _ := welford(terminal)
	sorted := append([]float64(nil), terminal...)
	sort.Float64s(sorted)

	return PathState{
		ProbUp:        float64(above) / float64(len(terminal)),
		MeanLogReturn: mean,
		Q10:           quantile(sorted, 0.10),
		Q50:           quantile(sorted, 0.50),
		Q90:           quantile(sorted, 0.90),
	}
}

// welford computes mean and sample standard deviation in one numerically
// stable pass.
func welford(values []float64) (mean, std float64) {
	var m2 float64
	for i, v := range values {
		delta := v - mean
		mean += delta / float64(i+1)
		m2 += delta * (v - mean)
	}
	if len(values) < 2 {
		return mean, 0
	}
	return mean, math.Sqrt(m2 / float64(len(values)-1))
}

// quantile interpolates linearly on a sorted slice.
func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
