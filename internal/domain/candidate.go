package domain

import (
	"fmt"
	"time"
)

// Strategy names the spread shape a candidate implements.
type Strategy string

const (
	PutCreditSpread Strategy = "put_credit_spread"
)

// Tier classifies a candidate by its IPS score.
type Tier string

const (
	TierElite       Tier = "elite"
	TierQuality     Tier = "quality"
	TierSpeculative Tier = "speculative"
	TierNone        Tier = ""
)

// LegRole marks which side of the spread a leg is.
type LegRole string

const (
	ShortLeg LegRole = "short"
	LongLeg  LegRole = "long"
)

// SpreadLeg snapshots one contract at candidate creation time.
type SpreadLeg struct {
	Role     LegRole        `json:"role"`
	Contract OptionContract `json:"contract"`
}

// FactorScore is the evaluation of one IPS factor against a candidate or
// symbol context: the extracted value, a printable target, and the verdict.
type FactorScore struct {
	Key    string   `json:"key"`
	Name   string   `json:"display_name"`
	Value  *float64 `json:"value"` // nil when the input was missing
	Target string   `json:"target"`
	Weight float64  `json:"weight"`
	Passed bool     `json:"passed"`
}

// HistoricalAnalysis is the RAG result attached per candidate. When HasData
// is false every numeric field is zero and Confidence is "low".
type HistoricalAnalysis struct {
	HasData    bool    `json:"has_data"`
	TradeCount int     `json:"trade_count"`
	WinRate    float64 `json:"win_rate"`
	AvgROI     float64 `json:"avg_roi"`
	Confidence string  `json:"confidence"` // low, med, high
}

// Rationale is the generated explanation attached to a selected candidate.
type Rationale struct {
	Text                  string `json:"rationale"`
	NewsSummary           string `json:"news_summary,omitempty"`
	MacroContext          string `json:"macro_context,omitempty"`
	OutOfIPSJustification string `json:"out_of_ips_justification,omitempty"`
	Fallback              bool   `json:"fallback"` // true when templated, not model-generated
}

// Candidate is a proposed spread. It is created by the generator and
// enriched in place by each downstream stage.
type Candidate struct {
	ID       string    `json:"id"`
	RunID    string    `json:"run_id"`
	Symbol   string    `json:"symbol"`
	Sector   string    `json:"sector"`
	Strategy Strategy  `json:"strategy"`
	Legs     []SpreadLeg `json:"legs"`

	// Economics, computed at creation.
	EntryMid  float64 `json:"entry_mid"`
	Width     float64 `json:"width"`
	MaxProfit float64 `json:"max_profit"`
	MaxLoss   float64 `json:"max_loss"`
	Breakeven float64 `json:"breakeven"`
	EstPOP    float64 `json:"est_pop"`

	// Filter and scoring fields, attached by downstream stages.
	FactorScores   []FactorScore       `json:"factor_scores,omitempty"`
	Violations     []string            `json:"violations,omitempty"`
	ViolationCount int                 `json:"violation_count"`
	YieldScore     float64             `json:"yield_score"`
	IPSScore       float64             `json:"ips_score"`
	CompositeScore float64             `json:"composite_score"`
	Tier           Tier                `json:"tier"`
	DiversityScore float64             `json:"diversity_score"`
	Historical     *HistoricalAnalysis `json:"historical,omitempty"`
	Rationale      *Rationale          `json:"rationale,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ShortLeg returns the short leg, or nil if absent.
func (c *Candidate) Short() *SpreadLeg {
	for i := range c.Legs {
		if c.Legs[i].Role == ShortLeg {
			return &c.Legs[i]
		}
	}
	return nil
}

// LongLeg returns the long leg, or nil if absent.
func (c *Candidate) Long() *SpreadLeg {
	for i := range c.Legs {
		if c.Legs[i].Role == LongLeg {
			return &c.Legs[i]
		}
	}
	return nil
}

// DTE is the short leg's days-to-expiry relative to now.
func (c *Candidate) DTE(now time.Time) int {
	s := c.Short()
	if s == nil {
		return 0
	}
	return int(s.Contract.Expiry.Sub(now).Hours() / 24)
}

// CheckInvariants validates the credit-spread identities. A violation here is
// an InternalInvariantViolation and fails the run.
func (c *Candidate) CheckInvariants() error {
	if c.EntryMid <= 0 {
		return fmt.Errorf("%w: entry_mid %.4f <= 0", ErrInternalInvariant, c.EntryMid)
	}
	if c.MaxLoss <= 0 {
		return fmt.Errorf("%w: max_loss %.4f <= 0", ErrInternalInvariant, c.MaxLoss)
	}
	if diff := c.MaxProfit + c.MaxLoss - c.Width; diff > 0.005 || diff < -0.005 {
		return fmt.Errorf("%w: max_profit+max_loss %.4f != width %.4f",
			ErrInternalInvariant, c.MaxProfit+c.MaxLoss, c.Width)
	}
	if c.MaxProfit > c.Width {
		return fmt.Errorf("%w: max_profit %.4f > width %.4f", ErrInternalInvariant, c.MaxProfit, c.Width)
	}
	return nil
}
