// Package ips models the user's Investment Policy Statement and maps each
// recognized factor key onto a value extractor and comparison rule.
package ips

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tradescout/optionrun/internal/domain"
)

// Scope says whether a factor is evaluable from symbol-level data alone
// (general) or requires a specific contract leg or chain (chain).
type Scope string

const (
	ScopeGeneral Scope = "general"
	ScopeChain   Scope = "chain"
)

// Direction is the comparison operator of a factor rule.
type Direction string

const (
	LT      Direction = "lt"
	LTE     Direction = "lte"
	GT      Direction = "gt"
	GTE     Direction = "gte"
	EQ      Direction = "eq"
	NEQ     Direction = "neq"
	Between Direction = "between"
)

// Factor is one rule in an IPS. Weight is the normalized share after loading.
type Factor struct {
	Key          string    `json:"key" yaml:"key"`
	DisplayName  string    `json:"display_name" yaml:"display_name"`
	Scope        Scope     `json:"scope" yaml:"scope"`
	Weight       float64   `json:"weight" yaml:"weight"`
	Direction    Direction `json:"direction" yaml:"direction"`
	Threshold    float64   `json:"threshold" yaml:"threshold"`
	ThresholdMax *float64  `json:"threshold_max,omitempty" yaml:"threshold_max,omitempty"`
	Enabled      bool      `json:"enabled" yaml:"enabled"`
}

// Config is a loaded policy. Immutable for the duration of one run.
type Config struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	Factors        []Factor `json:"factors" yaml:"factors"`
	Strategies     []string `json:"strategies,omitempty" yaml:"strategies,omitempty"`
	ExitStrategies []string `json:"exit_strategies,omitempty" yaml:"exit_strategies,omitempty"`
}

// Store loads raw policies from wherever the IPS builder persisted them.
type Store interface {
	GetIPS(ctx context.Context, id string) (*Config, error)
}

// Load fetches the policy, normalizes factor weights so enabled weights sum
// to 1, and validates every key against the registry. Unknown keys and
// degenerate weights are IPSSchemaError and fail the run before S1.
func Load(ctx context.Context, store Store, reg *Registry, id string) (*Config, error) {
	cfg, err := store.GetIPS(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load ips %s: %w", id, err)
	}
	if err := Normalize(cfg, reg); err != nil {
		return nil, err
	}
	log.Info().Str("ips_id", cfg.ID).Str("name", cfg.Name).
		Int("factors", len(cfg.Factors)).Msg("IPS loaded and normalized")
	return cfg, nil
}

// Normalize rewrites factor weights in place so Σ(enabled weights) = 1 and
// resolves every factor against the registry, canonicalizing aliased keys.
func Normalize(cfg *Config, reg *Registry) error {
	var sum float64
	for i := range cfg.Factors {
		f := &cfg.Factors[i]
		entry, ok := reg.Resolve(f.Key)
		if !ok && f.DisplayName != "" {
			entry, ok = reg.Resolve(f.DisplayName)
		}
		if !ok {
			return fmt.Errorf("%w: unknown factor key %q", domain.ErrIPSSchema, f.Key)
		}
		f.Key = entry.Key
		f.Scope = entry.Scope
		if f.DisplayName == "" {
			f.DisplayName = entry.Display
		}
		if f.Direction == Between {
			if f.ThresholdMax == nil {
				return fmt.Errorf("%w: factor %q direction=between requires threshold_max", domain.ErrIPSSchema, f.Key)
			}
			if f.Threshold > *f.ThresholdMax {
				return fmt.Errorf("%w: factor %q threshold %.4f > threshold_max %.4f",
					domain.ErrIPSSchema, f.Key, f.Threshold, *f.ThresholdMax)
			}
		}
		if f.Weight < 0 {
			return fmt.Errorf("%w: factor %q has negative weight %.4f", domain.ErrIPSSchema, f.Key, f.Weight)
		}
		if f.Enabled {
			sum += f.Weight
		}
	}
	if sum <= 0 {
		return fmt.Errorf("%w: total enabled factor weight must be positive", domain.ErrIPSSchema)
	}
	for i := range cfg.Factors {
		if cfg.Factors[i].Enabled {
			cfg.Factors[i].Weight /= sum
		} else {
			cfg.Factors[i].Weight = 0
		}
	}
	return nil
}

// FactorsBy returns enabled factors matching scope and the weight predicate.
func (c *Config) FactorsBy(scope Scope, pred func(weight float64) bool) []Factor {
	var out []Factor
	for _, f := range c.Factors {
		if f.Enabled && f.Scope == scope && pred(f.Weight) {
			out = append(out, f)
		}
	}
	return out
}
