package feed

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fusionalpha/fusion-engine/internal/contradiction"
)

// Client delivers observations to the pipeline. Start returns a channel
// that is closed when the source is exhausted or the context is canceled.
type Client interface {
	Start(ctx context.Context) (<-chan contradiction.Observation, error)
	Close() error
}

// wireObservation is the JSON shape shared by the replay file and the
// HTTP feed. Sentiment is a pointer so "absent" survives the trip.
type wireObservation struct {
	Ticker    string             `json:"ticker"`
	Timestamp time.Time          `json:"timestamp"`
	Prices    []float64          `json:"prices"`
	Sentiment *float64           `json:"sentiment"`
	Technical map[string]float64 `json:"technical,omitempty"`
}

// decode validates the wire record against the input contract and maps it
// to the internal observation. A nil or NaN sentiment is preserved as
// missing rather than rejected; the detector decides what to skip.
func (w wireObservation) decode() (contradiction.Observation, error) {
	if w.Ticker == "" {
		return contradiction.Observation{}, fmt.Errorf("observation missing ticker")
	}
	if len(w.Prices) == 0 {
		return contradiction.Observation{}, fmt.Errorf("observation for %s has empty price window", w.Ticker)
	}
	for i, p := range w.Prices {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return contradiction.Observation{}, fmt.Errorf("observation for %s has invalid price at index %d", w.Ticker, i)
		}
	}

	obs := contradiction.Observation{
		Ticker:            w.Ticker,
		Timestamp:         w.Timestamp,
		PriceWindow:       w.Prices,
		SentimentMissing:  true,
		TechnicalFeatures: w.Technical,
	}
	if w.Sentiment != nil && !math.IsNaN(*w.Sentiment) {
		if *w.Sentiment < -1 || *w.Sentiment > 1 {
			return contradiction.Observation{}, fmt.Errorf("observation for %s has sentiment %.4f outside [-1,1]", w.Ticker, *w.Sentiment)
		}
		obs.SentimentScore = *w.Sentiment
		obs.SentimentMissing = false
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now().UTC()
	}
	return obs, nil
}
