package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fusionalpha/fusion-engine/internal/contradiction"
	"github.com/fusionalpha/fusion-engine/internal/observ"
)

// ReplayClient streams observations from a JSONL fixture file, one record
// per line. Used for backtests and deterministic end-to-end runs.
type ReplayClient struct {
	path string
}

func NewReplayClient(path string) *ReplayClient {
	return &ReplayClient{path: path}
}

func (c *ReplayClient) Start(ctx context.Context) (<-chan contradiction.Observation, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}

	out := make(chan contradiction.Observation)
	go func() {
		defer close(out)
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			raw := scanner.Bytes()
			if len(raw) == 0 {
				continue
			}
			var wire wireObservation
			if err := json.Unmarshal(raw, &wire); err != nil {
				observ.Warn("replay_bad_record", map[string]any{"line": line, "error": err.Error()})
				observ.IncCounter("feed_rejected_total", map[string]string{"reason": "unmarshal"})
				continue
			}
			obs, err := wire.decode()
			if err != nil {
				observ.Warn("replay_bad_record", map[string]any{"line": line, "error": err.Error()})
				observ.IncCounter("feed_rejected_total", map[string]string{"reason": "contract"})
				continue
			}
			select {
			case out <- obs:
				observ.IncCounter("feed_observations_total", map[string]string{"mode": "replay"})
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			observ.Error("replay_scan", err, map[string]any{"path": c.path})
		}
	}()
	return out, nil
}

func (c *ReplayClient) Close() error { return nil }
