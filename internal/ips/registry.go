package ips

import (
	"math"
	"strings"

	"github.com/tradescout/optionrun/internal/domain"
)

// Tolerances calibrated to avoid rejecting candidates on quantization noise.
// Part of the comparison contract, not tunable per IPS.
const (
	deltaTolerance  = 0.01
	spreadTolerance = 0.02
)

// Entry binds one canonical factor key to its extractor and comparison
// behavior. NonBlocking entries pass when their input series is too thin to
// judge (historical-IV factors on < MinIVSamples points). Inputs names the
// fetches the extractor reads; when one of them failed for a symbol, a nil
// value passes instead of failing (fetch errors are fail-open, fetched but
// absent data is not).
type Entry struct {
	Key         string
	Display     string
	Scope       Scope
	Tolerance   float64
	NonBlocking bool
	Inputs      []string
	Extract     func(*Context) *float64
}

// Registry resolves factor keys and alias display names to entries. Users
// historically entered free-form names, so both spellings resolve.
type Registry struct {
	entries map[string]*Entry
	aliases map[string]string // normalized alias -> canonical key
}

// Resolve looks up an entry by canonical key or alias, case-insensitively.
func (r *Registry) Resolve(keyOrName string) (*Entry, bool) {
	norm := normalizeKey(keyOrName)
	if e, ok := r.entries[norm]; ok {
		return e, true
	}
	if canonical, ok := r.aliases[norm]; ok {
		return r.entries[canonical], true
	}
	return nil, false
}

// Evaluate extracts the factor's value from the context and applies the rule.
// A missing value fails the factor unless the entry is non-blocking.
func (r *Registry) Evaluate(f Factor, ctx *Context) domain.FactorScore {
	score := domain.FactorScore{
		Key:    f.Key,
		Name:   f.DisplayName,
		Target: TargetString(f.Direction, f.Threshold, f.ThresholdMax),
		Weight: f.Weight,
	}
	entry, ok := r.Resolve(f.Key)
	if !ok {
		return score // unknown keys are rejected at load time; fail defensively
	}
	value := entry.Extract(ctx)
	score.Value = value
	if value == nil {
		score.Passed = entry.NonBlocking || ctx.InputFailed(entry.Inputs...)
		return score
	}
	score.Passed = Compare(*value, f.Direction, f.Threshold, f.ThresholdMax, entry.Tolerance)
	return score
}

func (r *Registry) register(e *Entry, aliases ...string) {
	r.entries[e.Key] = e
	for _, a := range aliases {
		r.aliases[normalizeKey(a)] = e.Key
	}
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NewRegistry builds the full dispatch table.
func NewRegistry() *Registry {
	r := &Registry{
		entries: make(map[string]*Entry),
		aliases: make(map[string]string),
	}

	// Contract greeks (short leg).
	r.register(&Entry{
		Key: "opt-delta", Display: "Delta", Scope: ScopeChain, Tolerance: deltaTolerance,
		Extract: func(ctx *Context) *float64 {
			if ctx.Short == nil || ctx.Short.Delta == nil {
				return nil
			}
			return ptr(math.Abs(*ctx.Short.Delta))
		},
	}, "Delta", "Short Delta", "Abs Delta")
	r.register(&Entry{
		Key: "opt-gamma", Display: "Gamma", Scope: ScopeChain,
		Extract: func(ctx *Context) *float64 {
			if ctx.Short == nil {
				return nil
			}
			return ctx.Short.Gamma
		},
	}, "Gamma")
	r.register(&Entry{
		Key: "opt-theta", Display: "Theta", Scope: ScopeChain,
		Extract: func(ctx *Context) *float64 {
			if ctx.Short == nil {
				return nil
			}
			return ctx.Short.Theta
		},
	}, "Theta")
	r.register(&Entry{
		Key: "opt-vega", Display: "Vega", Scope: ScopeChain,
		Extract: func(ctx *Context) *float64 {
			if ctx.Short == nil {
				return nil
			}
			return ctx.Short.Vega
		},
	}, "Vega")
	r.register(&Entry{
		Key: "opt-iv", Display: "Implied Volatility", Scope: ScopeChain,
		Extract: func(ctx *Context) *float64 {
			if ctx.Short == nil {
				return nil
			}
			return ctx.Short.IV
		},
	}, "IV", "Implied Volatility")

	// Contract microstructure.
	r.register(&Entry{
		Key: "opt-open-interest", Display: "Open Interest", Scope: ScopeChain,
		Extract: func(ctx *Context) *float64 {
			if ctx.Short == nil || ctx.Short.OpenInterest == nil {
				return nil
			}
			return ptr(float64(*ctx.Short.OpenInterest))
		},
	}, "Open Interest", "OI")
	r.register(&Entry{
		Key: "opt-bid-ask-spread", Display: "Bid-Ask Spread", Scope: ScopeChain, Tolerance: spreadTolerance,
		Extract: func(ctx *Context) *float64 {
			if ctx.Short == nil || !ctx.Short.HasQuote() {
				return nil
			}
			return ptr(*ctx.Short.Ask - *ctx.Short.Bid)
		},
	}, "Bid-Ask Spread", "Bid Ask Spread", "Spread")
	r.register(&Entry{
		Key: "opt-last-trade-age", Display: "Last Trade Age (days)", Scope: ScopeChain,
		Extract: func(ctx *Context) *float64 {
			if ctx.Short == nil || ctx.Short.LastTradeAt == nil {
				return nil
			}
			return ptr(ctx.Now.Sub(*ctx.Short.LastTradeAt).Hours() / 24)
		},
	}, "Last Trade Age")

	// Chain aggregates.
	r.register(&Entry{
		Key: "put-call-volume-ratio", Display: "Put/Call Volume Ratio", Scope: ScopeChain,
		Extract: func(ctx *Context) *float64 {
			if ctx.ChainMetrics == nil {
				return nil
			}
			return ctx.ChainMetrics.PutCallVolumeRatio
		},
	}, "Put/Call Volume Ratio", "PCR Volume")
	r.register(&Entry{
		Key: "put-call-oi-ratio", Display: "Put/Call OI Ratio", Scope: ScopeChain,
		Extract: func(ctx *Context) *float64 {
			if ctx.ChainMetrics == nil {
				return nil
			}
			return ctx.ChainMetrics.PutCallOIRatio
		},
	}, "Put/Call OI Ratio", "PCR OI")

	// Historical-IV factors pass on thin histories rather than blocking.
	r.register(&Entry{
		Key: "iv-rank", Display: "IV Rank", Scope: ScopeGeneral, NonBlocking: true, Inputs: []string{InputIV},
		Extract: func(ctx *Context) *float64 {
			if ctx.IVStats == nil {
				return nil
			}
			return ptr(ctx.IVStats.Rank)
		},
	}, "IV Rank", "IVR")
	r.register(&Entry{
		Key: "iv-percentile", Display: "IV Percentile", Scope: ScopeGeneral, NonBlocking: true, Inputs: []string{InputIV},
		Extract: func(ctx *Context) *float64 {
			if ctx.IVStats == nil {
				return nil
			}
			return ptr(ctx.IVStats.Percentile)
		},
	}, "IV Percentile", "IVP")

	// Fundamentals from the company overview payload.
	overview := func(key, display, field string, aliases ...string) {
		r.register(&Entry{
			Key: key, Display: display, Scope: ScopeGeneral, Inputs: []string{InputOverview},
			Extract: func(ctx *Context) *float64 { return ctx.overviewFloat(field) },
		}, aliases...)
	}
	overview("market-cap", "Market Cap", "MarketCapitalization", "Market Cap", "Market Capitalization")
	overview("pe-ratio", "P/E Ratio", "PERatio", "P/E Ratio", "PE Ratio", "P/E")
	overview("pb-ratio", "P/B Ratio", "PriceToBookRatio", "P/B Ratio", "PB Ratio", "Price to Book")
	overview("ev-ebitda", "EV/EBITDA", "EVToEBITDA", "EV/EBITDA")
	overview("roe", "Return on Equity", "ReturnOnEquityTTM", "ROE", "Return on Equity")
	overview("roa", "Return on Assets", "ReturnOnAssetsTTM", "ROA", "Return on Assets")
	overview("profit-margin", "Profit Margin", "ProfitMargin", "Profit Margin")
	overview("revenue-growth-yoy", "Revenue Growth YoY", "QuarterlyRevenueGrowthYOY", "Revenue Growth", "Revenue Growth YoY")
	overview("eps-growth-yoy", "EPS Growth YoY", "QuarterlyEarningsGrowthYOY", "EPS Growth", "EPS Growth YoY")
	overview("dividend-yield", "Dividend Yield", "DividendYield", "Dividend Yield")

	// Price position.
	r.register(&Entry{
		Key: "dist-52w-high", Display: "Distance from 52w High", Scope: ScopeGeneral,
		Inputs: []string{InputOverview, InputQuote},
		Extract: func(ctx *Context) *float64 {
			high := ctx.overviewFloat("52WeekHigh")
			if high == nil || *high <= 0 || ctx.Quote == nil {
				return nil
			}
			return ptr((*high - ctx.Quote.Price) / *high)
		},
	}, "Distance from 52 Week High", "52w High Distance")
	r.register(&Entry{
		Key: "dist-52w-low", Display: "Distance from 52w Low", Scope: ScopeGeneral,
		Inputs: []string{InputOverview, InputQuote},
		Extract: func(ctx *Context) *float64 {
			low := ctx.overviewFloat("52WeekLow")
			if low == nil || *low <= 0 || ctx.Quote == nil {
				return nil
			}
			return ptr((ctx.Quote.Price - *low) / *low)
		},
	}, "Distance from 52 Week Low", "52w Low Distance")
	r.register(&Entry{
		Key: "analyst-target-dist", Display: "Analyst Target Distance", Scope: ScopeGeneral,
		Inputs: []string{InputOverview, InputQuote},
		Extract: func(ctx *Context) *float64 {
			target := ctx.overviewFloat("AnalystTargetPrice")
			if target == nil || ctx.Quote == nil || ctx.Quote.Price <= 0 {
				return nil
			}
			return ptr((*target - ctx.Quote.Price) / ctx.Quote.Price)
		},
	}, "Analyst Target Distance", "Target Upside")
	r.register(&Entry{
		Key: "price-sma50", Display: "Price / SMA50", Scope: ScopeGeneral,
		Inputs: []string{InputQuote, InputSMA50},
		Extract: func(ctx *Context) *float64 {
			if ctx.Quote == nil || ctx.SMA50 == nil || ctx.SMA50.Value <= 0 {
				return nil
			}
			return ptr(ctx.Quote.Price / ctx.SMA50.Value)
		},
	}, "Price vs SMA50", "Price/SMA50")
	r.register(&Entry{
		Key: "price-sma200", Display: "Price / SMA200", Scope: ScopeGeneral,
		Inputs: []string{InputQuote, InputSMA200},
		Extract: func(ctx *Context) *float64 {
			if ctx.Quote == nil || ctx.SMA200 == nil || ctx.SMA200.Value <= 0 {
				return nil
			}
			return ptr(ctx.Quote.Price / ctx.SMA200.Value)
		},
	}, "Price vs SMA200", "Price/SMA200")

	// Momentum and technicals.
	r.register(&Entry{
		Key: "mom-10", Display: "Momentum (10)", Scope: ScopeGeneral,
		Inputs: []string{InputMomentum, InputDaily},
		Extract: func(ctx *Context) *float64 { return ctx.Momentum },
	}, "Momentum", "MOM 10")
	r.register(&Entry{
		Key: "rsi-14", Display: "RSI (14)", Scope: ScopeGeneral, Inputs: []string{InputDaily},
		Extract: func(ctx *Context) *float64 {
			if ctx.Technicals == nil {
				return nil
			}
			return ctx.Technicals.RSI14
		},
	}, "RSI", "RSI 14")
	r.register(&Entry{
		Key: "macd", Display: "MACD", Scope: ScopeGeneral, Inputs: []string{InputDaily},
		Extract: func(ctx *Context) *float64 {
			if ctx.Technicals == nil {
				return nil
			}
			return ctx.Technicals.MACD
		},
	}, "MACD")
	r.register(&Entry{
		Key: "golden-cross", Display: "Golden Cross", Scope: ScopeGeneral, Inputs: []string{InputDaily},
		Extract: func(ctx *Context) *float64 {
			if ctx.Technicals == nil || ctx.Technicals.GoldenCross == nil {
				return nil
			}
			return boolVal(*ctx.Technicals.GoldenCross)
		},
	}, "Golden Cross")

	// Macro series.
	macro := func(key, display, series string, aliases ...string) {
		r.register(&Entry{
			Key: key, Display: display, Scope: ScopeGeneral, Inputs: []string{InputMacro},
			Extract: func(ctx *Context) *float64 {
				if ctx.Macro == nil {
					return nil
				}
				if v, ok := ctx.Macro[series]; ok {
					return ptr(v)
				}
				return nil
			},
		}, aliases...)
	}
	macro("macro-cpi", "CPI", MacroCPI, "CPI")
	macro("macro-unemployment", "Unemployment Rate", MacroUnemployment, "Unemployment Rate", "Unemployment")
	macro("macro-fed-funds", "Fed Funds Rate", MacroFedFunds, "Fed Funds Rate", "Fed Funds")
	macro("macro-10y-yield", "10Y Treasury Yield", Macro10YYield, "10Y Treasury Yield", "10 Year Treasury")

	// News and sentiment.
	r.register(&Entry{
		Key: "news-sentiment", Display: "News Sentiment", Scope: ScopeGeneral, Inputs: []string{InputNews},
		Extract: func(ctx *Context) *float64 {
			if ctx.NewsSentiment == nil {
				return nil
			}
			return ptr(ctx.NewsSentiment.AverageScore)
		},
	}, "News Sentiment", "News Sentiment Score")
	r.register(&Entry{
		Key: "news-volume", Display: "News Volume", Scope: ScopeGeneral, Inputs: []string{InputNews},
		Extract: func(ctx *Context) *float64 { return ctx.NewsVolume },
	}, "News Volume")
	r.register(&Entry{
		Key: "social-sentiment", Display: "Social Sentiment", Scope: ScopeGeneral,
		Extract: func(ctx *Context) *float64 { return ctx.SocialSentiment },
	}, "Social Sentiment")

	// Event.
	r.register(&Entry{
		Key: "earnings-within-14-days", Display: "Earnings Within 14 Days", Scope: ScopeGeneral,
		Inputs: []string{InputOverview},
		Extract: func(ctx *Context) *float64 {
			if ctx.DaysToEarnings == nil {
				return nil
			}
			return boolVal(*ctx.DaysToEarnings >= 0 && *ctx.DaysToEarnings <= 14)
		},
	}, "Earnings Within 14 Days", "Earnings Soon")

	return r
}
