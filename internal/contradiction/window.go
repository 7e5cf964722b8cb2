package contradiction

import "math"

// rollingWindow is a fixed-capacity ring buffer of alignment metrics.
// Mean and standard deviation are recomputed two-pass over the live
// window, which keeps the statistics stable regardless of insertion and
// eviction order.
type rollingWindow struct {
	buf []float64
	idx int
	n   int
}

func newRollingWindow(capacity int) *rollingWindow {
	if capacity < 2 {
		capacity = 2
	}
	return &rollingWindow{buf: make([]float64, capacity)}
}

func (w *rollingWindow) push(v float64) {
	w.buf[w.idx] = v
	w.idx = (w.idx + 1) % len(w.buf)
	if w.n < len(w.buf) {
		w.n++
	}
}

func (w *rollingWindow) count() int { return w.n }

func (w *rollingWindow) meanStd() (mean, std float64) {
	if w.n == 0 {
		return 0, 0
	}
	for i := 0; i < w.n; i++ {
		mean += w.buf[i]
	}
	mean /= float64(w.n)
	if w.n < 2 {
		return mean, 0
	}
	var variance float64
	for i := 0; i < w.n; i++ {
		diff := w.buf[i] - mean
		variance += diff * diff
	}
	variance /= float64(w.n - 1)
	return mean, math.Sqrt(variance)
}
