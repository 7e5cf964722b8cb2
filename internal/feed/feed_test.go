package feed

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusionalpha/fusion-engine/internal/contradiction"
)

func ptr(v float64) *float64 { return &v }

func TestDecode_ValidRecord(t *testing.T) {
	wire := wireObservation{
		Ticker:    "AAPL",
		Timestamp: time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC),
		Prices:    []float64{100, 101, 102},
		Sentiment: ptr(-0.8),
		Technical: map[string]float64{"rsi": 62.5},
	}

	obs, err := wire.decode()
	require.NoError(t, err)
	assert.Equal(t, "AAPL", obs.Ticker)
	assert.Equal(t, -0.8, obs.SentimentScore)
	assert.False(t, obs.SentimentMissing)
	assert.Equal(t, []float64{100, 101, 102}, obs.PriceWindow)
}

func TestDecode_NilSentimentIsMissing(t *testing.T) {
	wire := wireObservation{Ticker: "NVDA", Prices: []float64{500, 501}}

	obs, err := wire.decode()
	require.NoError(t, err)
	assert.True(t, obs.SentimentMissing)
	assert.False(t, obs.Timestamp.IsZero(), "zero timestamp gets a default")
}

func TestDecode_RejectsContractViolations(t *testing.T) {
	cases := []wireObservation{
		{Ticker: "", Prices: []float64{100}},
		{Ticker: "AAPL", Prices: nil},
		{Ticker: "AAPL", Prices: []float64{100, math.NaN()}},
		{Ticker: "AAPL", Prices: []float64{100, math.Inf(1)}},
		{Ticker: "AAPL", Prices: []float64{100, 101}, Sentiment: ptr(1.5)},
		{Ticker: "AAPL", Prices: []float64{100, 101}, Sentiment: ptr(-1.5)},
	}
	for i, c := range cases {
		_, err := c.decode()
		assert.Error(t, err, "case %d", i)
	}
}

func TestDecode_NaNSentimentIsMissingNotRejected(t *testing.T) {
	wire := wireObservation{Ticker: "AAPL", Prices: []float64{100, 101}, Sentiment: ptr(math.NaN())}
	obs, err := wire.decode()
	require.NoError(t, err)
	assert.True(t, obs.SentimentMissing)
}

func TestReplayClient_StreamsValidRecordsOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obs.jsonl")
	lines := `{"ticker":"AAPL","timestamp":"2026-01-05T14:30:00Z","prices":[100,105],"sentiment":-0.8}
not json at all
{"ticker":"","prices":[100,105],"sentiment":0.5}
{"ticker":"MSFT","timestamp":"2026-01-05T14:30:00Z","prices":[310,311],"sentiment":null}
`
	require.NoError(t, os.WriteFile(path, []byte(lines), 0644))

	client := NewReplayClient(path)
	out, err := client.Start(context.Background())
	require.NoError(t, err)

	var got []contradiction.Observation
	for obs := range out {
		got = append(got, obs)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "AAPL", got[0].Ticker)
	assert.Equal(t, "MSFT", got[1].Ticker)
	assert.True(t, got[1].SentimentMissing)
	assert.NoError(t, client.Close())
}

func TestReplayClient_MissingFile(t *testing.T) {
	client := NewReplayClient(filepath.Join(t.TempDir(), "missing.jsonl"))
	_, err := client.Start(context.Background())
	assert.Error(t, err)
}

func TestReplayClient_CancelStopsStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obs.jsonl")
	var lines []byte
	for i := 0; i < 1000; i++ {
		lines = append(lines, []byte(`{"ticker":"AAPL","prices":[100,105],"sentiment":-0.8}`+"\n")...)
	}
	require.NoError(t, os.WriteFile(path, lines, 0644))

	ctx, cancel := context.WithCancel(context.Background())
	client := NewReplayClient(path)
	out, err := client.Start(ctx)
	require.NoError(t, err)

	<-out
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-out:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after cancel")
		}
	}
}
