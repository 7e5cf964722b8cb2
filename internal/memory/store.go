package memory

import (
	"container/list"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/fusionalpha/fusion-engine/internal/observ"
)

// TickerMemory is the decaying latent state for one ticker. The vector
// dimensionality is fixed at store construction and never changes.
type TickerMemory struct {
	Ticker     string
	Latent     []float64
	LastUpdate time.Time
	Decay      float64
}

type Config struct {
	Dim            int
	Decay          float64 // in (0,1); closer to 1 retains longer memory
	Capacity       int     // max tracked tickers before LRU eviction
	InputDim       int     // length of the projected feature block
	ProjectionSeed uint64
}

// Store owns all TickerMemory instances. Updates project the event feature
// block through a fixed random matrix and fold it into the latent vector:
//
//	mem = decay*mem + (1-decay)*proj(features)
//
// Reads return copies and never touch recency order; only Update mutates.
type Store struct {
	mu    sync.Mutex
	cfg   Config
	proj  [][]float64 // Dim x InputDim, fixed at construction
	items map[string]*list.Element
	order *list.List // front = most recently updated
}

func NewStore(cfg Config) (*Store, error) {
	if cfg.Dim < 1 || cfg.InputDim < 1 {
		return nil, fmt.Errorf("invalid dimensions: dim=%d input=%d", cfg.Dim, cfg.InputDim)
	}
	if cfg.Decay <= 0 || cfg.Decay >= 1 {
		return nil, fmt.Errorf("decay %.4f outside (0,1)", cfg.Decay)
	}
	if cfg.Capacity < 1 {
		return nil, fmt.Errorf("capacity %d must be positive", cfg.Capacity)
	}

	// Fixed random projection, deterministic for a given seed so repeated
	// runs fold features identically.
	rng := rand.New(rand.NewPCG(cfg.ProjectionSeed, 0x9e3779b97f4a7c15))
	scale := 1.0 / math.Sqrt(float64(cfg.InputDim))
	proj := make([][]float64, cfg.Dim)
	for i := range proj {
		row := make([]float64, cfg.InputDim)
		for j := range row {
			row[j] = rng.NormFloat64() * scale
		}
		proj[i] = row
	}

	return &Store{
		cfg:   cfg,
		proj:  proj,
		items: make(map[string]*list.Element),
		order: list.New(),
	}, nil
}

// Update folds one feature block into the ticker's latent vector and
// returns a copy of the post-update state. A ticker seen for the first
// time starts from the zero vector; if the store is at capacity the least
// recently updated ticker is evicted first.
func (s *Store) Update(ticker string, features []float64, ts time.Time) ([]float64, error) {
	if len(features) != s.cfg.InputDim {
		return nil, fmt.Errorf("feature block has %d values, store expects %d", len(features), s.cfg.InputDim)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[ticker]
	if !ok {
		if s.order.Len() >= s.cfg.Capacity {
			s.evictOldest()
		}
		elem = s.order.PushFront(&TickerMemory{
			Ticker: ticker,
			Latent: make([]float64, s.cfg.Dim),
			Decay:  s.cfg.Decay,
		})
		s.items[ticker] = elem
	} else {
		s.order.MoveToFront(elem)
	}

	mem := elem.Value.(*TickerMemory)
	projected := s.project(features)
	for i := range mem.Latent {
		mem.Latent[i] = s.cfg.Decay*mem.Latent[i] + (1-s.cfg.Decay)*projected[i]
	}
	mem.LastUpdate = ts

	out := make([]float64, s.cfg.Dim)
	copy(out, mem.Latent)
	return out, nil
}

// Snapshot returns a copy of the ticker's latent vector without mutating
// anything, recency order included.
func (s *Store) Snapshot(ticker string) ([]float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[ticker]
	if !ok {
		return nil, false
	}
	mem := elem.Value.(*TickerMemory)
	out := make([]float64, len(mem.Latent))
	copy(out, mem.Latent)
	return out, true
}

// Len reports the number of tracked tickers.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Dim reports the fixed latent dimensionality.
func (s *Store) Dim() int { return s.cfg.Dim }

func (s *Store) evictOldest() {
	back := s.order.Back()
	if back == nil {
		return
	}
	mem := back.Value.(*TickerMemory)
	s.order.Remove(back)
	delete(s.items, mem.Ticker)
	observ.IncCounter("memory_evictions_total", map[string]string{"ticker": mem.Ticker})
}

func (s *Store) project(features []float64) []float64 {
	out := make([]float64, s.cfg.Dim)
	for i, row := range s.proj {
		var sum float64
		for j, w := range row {
			sum += w * features[j]
		}
		out[i] = sum
	}
	return out
}
