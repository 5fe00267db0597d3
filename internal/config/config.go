// Package config loads optionrun configuration from a YAML file with
// environment-variable overrides for secrets and operational knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Providers ProvidersConfig `yaml:"providers"`
	Limits    LimitsConfig    `yaml:"limits"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
}

// ProvidersConfig carries API credentials and endpoints. Keys are required
// for live data; tests and dry runs substitute a stub gateway.
type ProvidersConfig struct {
	MarketDataKey    string `yaml:"market_data_key"`    // quotes, chains, fundamentals, technicals
	NewsSearchKey    string `yaml:"news_search_key"`    // general news search
	MacroKey         string `yaml:"macro_key"`          // macro series
	ReasoningKey     string `yaml:"reasoning_key"`      // LLM
	ReasoningModel   string `yaml:"reasoning_model"`
	MarketDataURL    string `yaml:"market_data_url"`
	NewsSearchURL    string `yaml:"news_search_url"`
	MacroURL         string `yaml:"macro_url"`
	ReasoningURL     string `yaml:"reasoning_url"`
	VectorStoreURL   string `yaml:"vector_store_url"`
	VectorStoreKey   string `yaml:"vector_store_key"`
}

// LimitsConfig bounds outbound I/O.
type LimitsConfig struct {
	ConcurrencyCap   int           `yaml:"concurrency_cap"`    // max in-flight requests per provider
	RatePerSecond    float64       `yaml:"rate_per_second"`    // token bucket refill
	CallBudget       int           `yaml:"call_budget"`        // per-run provider call budget
	BudgetCooldown   time.Duration `yaml:"budget_cooldown"`    // block window on budget exhaustion
	ProviderTimeout  time.Duration `yaml:"provider_timeout"`   // per data call
	ReasoningTimeout time.Duration `yaml:"reasoning_timeout"`  // per LLM call
	MaxRetries       int           `yaml:"max_retries"`
}

// ScoringConfig carries tier thresholds, diversification caps, and the
// normalized-weight boundary between high- and low-weight factors.
type ScoringConfig struct {
	VectorK          int     `yaml:"vector_k"`
	TierElite        float64 `yaml:"tier_elite"`
	TierQuality      float64 `yaml:"tier_quality"`
	TierSpeculative  float64 `yaml:"tier_speculative"`
	MaxPerSector     int     `yaml:"max_per_sector"`
	MaxPerSymbol     int     `yaml:"max_per_symbol"`
	MaxPerStrategy   int     `yaml:"max_per_strategy"`
	HighWeightCutoff float64 `yaml:"high_weight_cutoff"`
}

// RedisConfig enables the optional read-through cache for slow-moving
// provider responses. Empty Addr disables caching.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig points at the postgres persistence layer. Empty DSN selects
// the in-memory repository.
type DatabaseConfig struct {
	DSN          string        `yaml:"dsn"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// ArtifactsConfig controls JSON result snapshots.
type ArtifactsConfig struct {
	Dir     string `yaml:"dir"`
	Enabled bool   `yaml:"enabled"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Limits: LimitsConfig{
			ConcurrencyCap:   2,
			RatePerSecond:    2,
			CallBudget:       500,
			BudgetCooldown:   60 * time.Second,
			ProviderTimeout:  30 * time.Second,
			ReasoningTimeout: 120 * time.Second,
			MaxRetries:       3,
		},
		Scoring: ScoringConfig{
			VectorK:          10,
			TierElite:        90,
			TierQuality:      75,
			TierSpeculative:  60,
			MaxPerSector:     3,
			MaxPerSymbol:     2,
			MaxPerStrategy:   10,
			HighWeightCutoff: 0.055,
		},
		Database: DatabaseConfig{
			QueryTimeout: 10 * time.Second,
		},
		Artifacts: ArtifactsConfig{
			Dir:     "artifacts/runs",
			Enabled: true,
		},
	}
}

// Load reads the YAML file at path (when non-empty) over the defaults, then
// applies environment overrides. Missing file with empty path is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setStr(&c.Providers.MarketDataKey, "OPTIONRUN_MARKET_DATA_KEY")
	setStr(&c.Providers.NewsSearchKey, "OPTIONRUN_NEWS_SEARCH_KEY")
	setStr(&c.Providers.MacroKey, "OPTIONRUN_MACRO_KEY")
	setStr(&c.Providers.ReasoningKey, "OPTIONRUN_REASONING_KEY")
	setStr(&c.Providers.VectorStoreKey, "OPTIONRUN_VECTOR_STORE_KEY")
	setStr(&c.Database.DSN, "OPTIONRUN_DATABASE_DSN")
	setStr(&c.Redis.Addr, "OPTIONRUN_REDIS_ADDR")
	setInt(&c.Limits.CallBudget, "OPTIONRUN_CALL_BUDGET")
	setInt(&c.Limits.ConcurrencyCap, "OPTIONRUN_CONCURRENCY_CAP")
	setFloat(&c.Limits.RatePerSecond, "OPTIONRUN_RATE_PER_SECOND")
}

func (c *Config) validate() error {
	if c.Limits.ConcurrencyCap <= 0 {
		return fmt.Errorf("limits.concurrency_cap must be positive, got %d", c.Limits.ConcurrencyCap)
	}
	if c.Limits.RatePerSecond <= 0 {
		return fmt.Errorf("limits.rate_per_second must be positive, got %f", c.Limits.RatePerSecond)
	}
	if c.Limits.CallBudget <= 0 {
		return fmt.Errorf("limits.call_budget must be positive, got %d", c.Limits.CallBudget)
	}
	if c.Scoring.HighWeightCutoff <= 0 || c.Scoring.HighWeightCutoff >= 1 {
		return fmt.Errorf("scoring.high_weight_cutoff must be in (0,1), got %f", c.Scoring.HighWeightCutoff)
	}
	return nil
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
