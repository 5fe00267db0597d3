package ips

import (
	"strconv"
	"time"

	"github.com/tradescout/optionrun/internal/domain"
	"github.com/tradescout/optionrun/internal/market"
)

// Context is the bundle a factor extractor reads from. General-scope
// extractors use the symbol-level fields; chain-scope extractors also read
// the short/long legs and chain aggregates. Absent inputs stay nil.
type Context struct {
	Symbol string
	Now    time.Time

	Quote    *domain.Quote
	Overview domain.CompanyOverview

	SMA50    *domain.SMAPoint
	SMA200   *domain.SMAPoint
	Momentum *float64 // MOM(10) on daily closes

	Technicals *market.Technicals
	IVHistory  []domain.IVPoint
	IVStats    *market.IVStats

	Macro map[string]float64 // keyed by canonical series name

	NewsSentiment   *domain.NewsSentiment
	NewsVolume      *float64
	SocialSentiment *float64

	DaysToEarnings *int

	ChainMetrics *market.ChainMetrics
	Short        *domain.OptionContract
	Long         *domain.OptionContract
	Candidate    *domain.Candidate

	// FailedInputs marks inputs whose fetch errored for this symbol. A nil
	// value on a failed input means "could not know", not "known absent",
	// and does not block the symbol.
	FailedInputs map[string]bool
}

// Input names for fetch-failure tracking.
const (
	InputQuote    = "quote"
	InputOverview = "overview"
	InputSMA50    = "sma50"
	InputSMA200   = "sma200"
	InputMomentum = "momentum"
	InputDaily    = "daily"
	InputIV       = "iv"
	InputNews     = "news"
	InputMacro    = "macro"
)

// MarkInputFailed records a failed fetch for one input.
func (c *Context) MarkInputFailed(input string) {
	if c.FailedInputs == nil {
		c.FailedInputs = make(map[string]bool)
	}
	c.FailedInputs[input] = true
}

// InputFailed reports whether any of the named inputs failed to fetch.
func (c *Context) InputFailed(inputs ...string) bool {
	for _, in := range inputs {
		if c.FailedInputs[in] {
			return true
		}
	}
	return false
}

// Canonical macro series keys for Context.Macro.
const (
	MacroCPI          = "cpi"
	MacroUnemployment = "unemployment"
	MacroFedFunds     = "fed_funds"
	Macro10YYield     = "treasury_10y"
)

// overviewFloat parses a numeric fundamentals field. The payload mirrors the
// provider's stringly-typed shape, so "None" and absent both read as missing.
func (c *Context) overviewFloat(field string) *float64 {
	if c.Overview == nil {
		return nil
	}
	raw, ok := c.Overview[field]
	if !ok || raw == "" || raw == "None" || raw == "-" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

// Sector reads the overview sector field, empty when absent.
func (c *Context) SectorName() string {
	if c.Overview == nil {
		return ""
	}
	return c.Overview["Sector"]
}

func ptr(v float64) *float64 { return &v }

func boolVal(b bool) *float64 {
	if b {
		return ptr(1)
	}
	return ptr(0)
}
