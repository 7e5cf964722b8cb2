package portfolio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fusionalpha/fusion-engine/internal/observ"
)

// Budget tracks the running sum of exposure (final_size × leverage_mult)
// across all tickers against a fixed portfolio budget. When the remaining
// budget cannot cover a new reservation the caller gets the remainder and
// a scale factor instead of a rejection; signals already emitted are never
// altered retroactively.
type Budget struct {
	mu        sync.Mutex
	budget    float64
	used      float64
	byTicker  map[string]float64
	statePath string // optional snapshot location; empty disables persistence
}

type snapshot struct {
	Version   int64              `json:"version"`
	UpdatedAt string             `json:"updated_at"`
	Budget    float64            `json:"budget"`
	Used      float64            `json:"used"`
	ByTicker  map[string]float64 `json:"by_ticker"`
}

func NewBudget(budget float64, statePath string) *Budget {
	return &Budget{
		budget:    budget,
		byTicker:  make(map[string]float64),
		statePath: statePath,
	}
}

// Reserve claims exposure for a ticker. Returns the granted amount and the
// scale factor granted/requested (1 when the full request fits, 0 when the
// budget is exhausted).
func (b *Budget) Reserve(ticker string, exposure float64) (granted, scale float64) {
	if exposure <= 0 {
		return 0, 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.budget - b.used
	if remaining <= 0 {
		observ.IncCounter("budget_exhausted_total", map[string]string{"ticker": ticker})
		return 0, 0
	}

	granted = exposure
	scale = 1
	if exposure > remaining {
		granted = remaining
		scale = remaining / exposure
		observ.IncCounter("budget_scaledown_total", map[string]string{"ticker": ticker})
	}

	b.used += granted
	b.byTicker[ticker] += granted
	observ.SetGauge("budget_used", b.used, nil)
	return granted, scale
}

// Release returns exposure to the pool, e.g. when the external execution
// layer reports a position closed.
func (b *Budget) Release(ticker string, exposure float64) {
	if exposure <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if exposure > b.byTicker[ticker] {
		exposure = b.byTicker[ticker]
	}
	b.byTicker[ticker] -= exposure
	if b.byTicker[ticker] <= 0 {
		delete(b.byTicker, ticker)
	}
	b.used -= exposure
	if b.used < 0 {
		b.used = 0
	}
	observ.SetGauge("budget_used", b.used, nil)
}

func (b *Budget) Used() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

func (b *Budget) Remaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.budget - b.used
}

// Save writes an atomic snapshot (temp file + rename). No-op without a
// configured state path.
func (b *Budget) Save() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.statePath == "" {
		return nil
	}

	byTicker := make(map[string]float64, len(b.byTicker))
	for k, v := range b.byTicker {
		byTicker[k] = v
	}
	data, err := json.MarshalIndent(snapshot{
		Version:   time.Now().UnixNano(),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		Budget:    b.budget,
		Used:      b.used,
		ByTicker:  byTicker,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal budget snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(b.statePath), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tempPath := b.statePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write budget snapshot: %w", err)
	}
	if err := os.Rename(tempPath, b.statePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename budget snapshot: %w", err)
	}
	return nil
}

// Load restores a snapshot if one exists; a missing file is not an error.
func (b *Budget) Load() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.statePath == "" {
		return nil
	}

	data, err := os.ReadFile(b.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read budget snapshot: %w", err)
	}
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("unmarshal budget snapshot: %w", err)
	}
	b.used = s.Used
	b.byTicker = s.ByTicker
	if b.byTicker == nil {
		b.byTicker = make(map[string]float64)
	}
	return nil
}
