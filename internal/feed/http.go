package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fusionalpha/fusion-engine/internal/contradiction"
	"github.com/fusionalpha/fusion-engine/internal/observ"
)

// HTTPClient polls an upstream feature producer for new observations.
// The producer exposes GET /observations?cursor=N returning a page of
// records and the next cursor; the client owns retry and backoff.
type HTTPClient struct {
	baseURL      string
	pollInterval time.Duration
	maxRetries   int
	backoffBase  time.Duration
	backoffMax   time.Duration
	httpClient   *http.Client
	cursor       int64
}

type HTTPConfig struct {
	BaseURL        string
	PollIntervalMs int
	TimeoutMs      int
	MaxRetries     int
	BackoffBaseMs  int
	BackoffMaxMs   int
}

type observationPage struct {
	Observations []wireObservation `json:"observations"`
	NextCursor   int64             `json:"next_cursor"`
}

func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	return &HTTPClient{
		baseURL:      cfg.BaseURL,
		pollInterval: time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		maxRetries:   cfg.MaxRetries,
		backoffBase:  time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
		backoffMax:   time.Duration(cfg.BackoffMaxMs) * time.Millisecond,
		httpClient:   &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
	}
}

func (c *HTTPClient) Start(ctx context.Context) (<-chan contradiction.Observation, error) {
	if _, err := url.Parse(c.baseURL); err != nil || c.baseURL == "" {
		return nil, fmt.Errorf("invalid feed base URL %q", c.baseURL)
	}

	out := make(chan contradiction.Observation)
	go func() {
		defer close(out)
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			page, err := c.fetchPage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				observ.Error("feed_poll", err, map[string]any{"cursor": c.cursor})
				observ.IncCounter("feed_poll_errors_total", nil)
			} else {
				for _, wire := range page.Observations {
					obs, err := wire.decode()
					if err != nil {
						observ.Warn("feed_bad_record", map[string]any{"error": err.Error()})
						observ.IncCounter("feed_rejected_total", map[string]string{"reason": "contract"})
						continue
					}
					select {
					case out <- obs:
						observ.IncCounter("feed_observations_total", map[string]string{"mode": "http"})
					case <-ctx.Done():
						return
					}
				}
				c.cursor = page.NextCursor
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *HTTPClient) fetchPage(ctx context.Context) (*observationPage, error) {
	endpoint := fmt.Sprintf("%s/observations?cursor=%d", c.baseURL, c.cursor)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.backoffBase * time.Duration(1<<(attempt-1))
			if backoff > c.backoffMax {
				backoff = c.backoffMax
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("feed returned status %d", resp.StatusCode)
			// 4xx will not heal on retry.
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, lastErr
			}
			continue
		}

		var page observationPage
		if err := json.Unmarshal(body, &page); err != nil {
			lastErr = fmt.Errorf("decode feed page: %w", err)
			continue
		}
		return &page, nil
	}
	return nil, fmt.Errorf("feed fetch failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
