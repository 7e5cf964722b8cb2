package config

import (
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Detector struct {
	Window            int     `yaml:"window" default:"50" validate:"gte=2"`
	AdaptiveK         float64 `yaml:"adaptive_threshold_k" default:"1.5" validate:"gte=0"`
	MinHistory        int     `yaml:"min_history" default:"8" validate:"gte=1"`
	FallbackThreshold float64 `yaml:"fallback_threshold" default:"0.02" validate:"gt=0"`
	// Per-ticker divergence minimums; the DEFAULT entry applies to
	// tickers without a specific override.
	TickerOverrides map[string]Override `yaml:"ticker_overrides"`
}

type Override struct {
	MinSentiment float64 `yaml:"min_sentiment"`
	MinReturn    float64 `yaml:"min_return"`
}

type Simulator struct {
	Paths         int     `yaml:"n_paths" default:"100" validate:"gte=1"`
	Steps         int     `yaml:"n_steps" default:"50" validate:"gte=1"`
	TimeIncrement float64 `yaml:"time_increment" default:"0.003968254" validate:"gt=0"` // 1/252
	TimeoutMs     int     `yaml:"timeout_ms" default:"50" validate:"gte=1"`
	Parallelism   int     `yaml:"parallelism"` // 0 = GOMAXPROCS
	// Base seed for reproducible runs; 0 means draw a fresh seed per
	// observation (non-deterministic).
	Seed uint64 `yaml:"seed"`
}

type Memory struct {
	Decay          float64 `yaml:"memory_decay" default:"0.9" validate:"gt=0,lt=1"`
	Dim            int     `yaml:"memory_dim" default:"16" validate:"gte=1"`
	Capacity       int     `yaml:"memory_capacity" default:"256" validate:"gte=1"`
	ProjectionSeed uint64  `yaml:"projection_seed" default:"42"`
}

type Fusion struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" default:"0.3" validate:"gte=0,lte=1"`
}

type Risk struct {
	BaseLeverage    float64 `yaml:"base_leverage" default:"1.0" validate:"gt=0"`
	MinLeverage     float64 `yaml:"min_leverage" default:"0.25" validate:"gt=0"`
	MaxLeverage     float64 `yaml:"max_leverage" default:"3.0" validate:"gt=0"`
	MaxLeverageStep float64 `yaml:"max_leverage_step" default:"0.5" validate:"gt=0"`
	QuietVol        float64 `yaml:"quiet_vol" default:"0.10" validate:"gt=0"`
	VolatileVol     float64 `yaml:"volatile_vol" default:"0.30" validate:"gt=0"`
}

type Portfolio struct {
	ExposureBudget    float64 `yaml:"portfolio_exposure_budget" default:"2.0" validate:"gt=0"`
	MaxTickerFraction float64 `yaml:"max_ticker_fraction" default:"0.10" validate:"gt=0,lte=1"`
	StatePath         string  `yaml:"state_path"` // optional snapshot; empty disables persistence
}

type Pipeline struct {
	Shards       int     `yaml:"shards" default:"4" validate:"gte=1"`
	QueueDepth   int     `yaml:"queue_depth" default:"64" validate:"gte=1"`
	Backpressure string  `yaml:"backpressure" default:"block" validate:"oneof=block drop_oldest"`
	IntakeRate   float64 `yaml:"intake_rate"`  // observations/sec, 0 = unlimited
	IntakeBurst  int     `yaml:"intake_burst"` // defaults to shard count when 0
}

type Feed struct {
	Mode           string `yaml:"mode" default:"replay" validate:"oneof=replay http"`
	Path           string `yaml:"path" default:"fixtures/observations.jsonl"`
	BaseURL        string `yaml:"base_url" default:"http://localhost:8091"`
	PollIntervalMs int    `yaml:"poll_interval_ms" default:"1000" validate:"gte=1"`
	TimeoutMs      int    `yaml:"timeout_ms" default:"5000" validate:"gte=1"`
	MaxRetries     int    `yaml:"max_retries" default:"3" validate:"gte=0"`
	BackoffBaseMs  int    `yaml:"backoff_base_ms" default:"100" validate:"gte=1"`
	BackoffMaxMs   int    `yaml:"backoff_max_ms" default:"5000" validate:"gte=1"`
}

type Outbox struct {
	Path string `yaml:"path" default:"data/signals.jsonl"`
	// Pointer so an explicit zero in the file (dedupe disabled) survives
	// the defaults pass instead of being rewritten to 90.
	DedupeWindowSecs *int `yaml:"dedupe_window_seconds" default:"90" validate:"required,gte=0"`
}

type Logging struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
}

type Metrics struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr" default:"127.0.0.1:9090"`
}

type Root struct {
	Detector  Detector  `yaml:"detector"`
	Simulator Simulator `yaml:"simulator"`
	Memory    Memory    `yaml:"memory"`
	Fusion    Fusion    `yaml:"fusion"`
	Risk      Risk      `yaml:"risk"`
	Portfolio Portfolio `yaml:"portfolio"`
	Pipeline  Pipeline  `yaml:"pipeline"`
	Feed      Feed      `yaml:"feed"`
	Outbox    Outbox    `yaml:"outbox"`
	Logging   Logging   `yaml:"logging"`
	Metrics   Metrics   `yaml:"metrics"`
}

var validate = validator.New()

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return c, fmt.Errorf("apply defaults: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Default returns a config with all defaults applied and no file loaded.
func Default() (Root, error) {
	var c Root
	if err := defaults.Set(&c); err != nil {
		return c, err
	}
	return c, c.Validate()
}

// Validate runs struct-tag validation plus cross-field checks the tags
// cannot express.
func (c *Root) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Risk.MinLeverage > c.Risk.MaxLeverage {
		return fmt.Errorf("min_leverage %.3f exceeds max_leverage %.3f", c.Risk.MinLeverage, c.Risk.MaxLeverage)
	}
	if c.Risk.BaseLeverage < c.Risk.MinLeverage || c.Risk.BaseLeverage > c.Risk.MaxLeverage {
		return fmt.Errorf("base_leverage %.3f outside [%.3f, %.3f]", c.Risk.BaseLeverage, c.Risk.MinLeverage, c.Risk.MaxLeverage)
	}
	if c.Risk.QuietVol >= c.Risk.VolatileVol {
		return fmt.Errorf("quiet_vol %.3f must be below volatile_vol %.3f", c.Risk.QuietVol, c.Risk.VolatileVol)
	}
	return nil
}

// ApplyEnv applies environment variable overrides for a small set of knobs.
func (c *Root) ApplyEnv() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FEED_MODE"); v != "" {
		c.Feed.Mode = v
	}
	if v := os.Getenv("FEED_BASE_URL"); v != "" {
		c.Feed.BaseURL = v
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		c.Metrics.Enabled = v == "true"
	}
}
