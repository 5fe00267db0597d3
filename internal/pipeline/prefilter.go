package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradescout/optionrun/internal/domain"
	"github.com/tradescout/optionrun/internal/ips"
	"github.com/tradescout/optionrun/internal/market"
)

const (
	prefilterWorkers = 4
	dailyLookback    = 260 // enough closes for SMA200 and the golden cross
	ivLookback       = 252
	newsDays         = 7
	newsMax          = 5
	sentimentLimit   = 50
	momPeriod        = 10
)

// FRED series ids behind the canonical macro keys.
var macroSeries = map[string]string{
	ips.MacroCPI:          "CPIAUCSL",
	ips.MacroUnemployment: "UNRATE",
	ips.MacroFedFunds:     "FEDFUNDS",
	ips.Macro10YYield:     "DGS10",
}

// prefilter is stage S1: fan out per symbol, assemble the general evaluation
// context, and keep only symbols passing every high-weight general factor.
// Fetch errors fail open; SymbolUnknown drops the symbol.
func (p *Pipeline) prefilter(ctx context.Context, st *State) error {
	symbols := dedupeSymbols(st.Run.InitialSymbols)

	if policyUsesMacro(st.Policy) {
		st.Macro = p.fetchMacro(ctx, st)
	}

	highGeneral := st.Policy.FactorsBy(ips.ScopeGeneral, func(w float64) bool {
		return w >= p.cfg.HighWeightCutoff
	})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		survivors []string
	)
	sem := make(chan struct{}, prefilterWorkers)

	for _, sym := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			sctx, headlines, dropped := p.fetchSymbolContext(ctx, st, sym)

			mu.Lock()
			defer mu.Unlock()
			if dropped {
				return
			}
			st.Contexts[sym] = sctx
			st.News[sym] = headlines

			var failed []string
			for _, f := range highGeneral {
				score := p.registry.Evaluate(f, sctx)
				if !score.Passed {
					failed = append(failed, describeViolation(score))
				}
			}
			if len(failed) == 0 {
				survivors = append(survivors, sym)
			} else {
				st.Failures[sym] = failed
			}
		}(sym)
	}
	wg.Wait()

	sort.Strings(survivors)
	st.Symbols = survivors
	log.Info().Str("run_id", st.Run.ID).Int("watchlist", len(symbols)).
		Int("survivors", len(survivors)).Msg("General pre-filter complete")
	return cancelled(ctx)
}

// fetchSymbolContext pulls every general-scope input for one symbol. Each
// failed fetch is recorded and its field stays nil; the factor evaluation
// decides what that means.
func (p *Pipeline) fetchSymbolContext(ctx context.Context, st *State, sym string) (*ips.Context, []string, bool) {
	now := p.now()
	sctx := &ips.Context{Symbol: sym, Now: now, Macro: st.Macro}

	if st.MacroFailed {
		sctx.MarkInputFailed(ips.InputMacro)
	}

	// A failed fetch leaves the field nil and marks the input, so factors
	// reading it fail open for this symbol instead of blocking it.
	record := func(input string, err error) bool {
		if err == nil {
			return false
		}
		sctx.MarkInputFailed(input)
		st.addError(domain.StepPrefilter, sym, err, now)
		return true
	}

	quote, err := p.provider.Quote(ctx, sym)
	if errors.Is(err, domain.ErrSymbolUnknown) {
		record(ips.InputQuote, err)
		return nil, nil, true
	}
	if !record(ips.InputQuote, err) {
		sctx.Quote = quote
	}

	if overview, err := p.provider.CompanyOverview(ctx, sym); !record(ips.InputOverview, err) {
		sctx.Overview = overview
		sctx.DaysToEarnings = daysToEarnings(overview, now)
	}
	if sma, err := p.provider.SMA(ctx, sym, 50, "daily", "close"); !record(ips.InputSMA50, err) {
		sctx.SMA50 = sma
	}
	if sma, err := p.provider.SMA(ctx, sym, 200, "daily", "close"); !record(ips.InputSMA200, err) {
		sctx.SMA200 = sma
	}
	if mom, err := p.provider.MOM(ctx, sym, "daily", momPeriod, "close"); !record(ips.InputMomentum, err) {
		sctx.Momentum = mom
	}
	if series, err := p.provider.DailySeries(ctx, sym, dailyLookback); !record(ips.InputDaily, err) {
		t := market.ComputeTechnicals(series)
		sctx.Technicals = &t
		if sctx.Momentum == nil {
			sctx.Momentum = market.Momentum(series, momPeriod)
		}
	}
	if ivHist, err := p.provider.HistoricalIVSeries(ctx, sym, ivLookback); !record(ips.InputIV, err) {
		sctx.IVHistory = ivHist
		sctx.IVStats = market.ComputeIVStats(ivHist)
	}

	var headlines []string
	if sentiment, err := p.provider.NewsSentiment(ctx, sym, sentimentLimit); !record(ips.InputNews, err) && sentiment != nil {
		sctx.NewsSentiment = sentiment
		vol := float64(sentiment.Count)
		sctx.NewsVolume = &vol
	}
	if articles, err := p.provider.News(ctx, sym, "finance", newsDays, newsMax); !record(ips.InputNews, err) {
		for _, a := range articles {
			headlines = append(headlines, a.Title)
		}
	}

	return sctx, headlines, false
}

// fetchMacro pulls each macro series once per run. A failed series is
// recorded and simply absent from the map.
func (p *Pipeline) fetchMacro(ctx context.Context, st *State) map[string]float64 {
	out := make(map[string]float64, len(macroSeries))
	for key, seriesID := range macroSeries {
		point, err := p.provider.MacroSeries(ctx, seriesID)
		if err != nil {
			st.MacroFailed = true
			st.addError(domain.StepPrefilter, "", fmt.Errorf("macro %s: %w", seriesID, err), p.now())
			continue
		}
		out[key] = point.Value
	}
	return out
}

func policyUsesMacro(policy *ips.Config) bool {
	for _, f := range policy.Factors {
		if f.Enabled && strings.HasPrefix(f.Key, "macro-") {
			return true
		}
	}
	return false
}

// daysToEarnings reads the next earnings date out of the overview payload
// when the provider includes one.
func daysToEarnings(overview domain.CompanyOverview, now time.Time) *int {
	for _, field := range []string{"NextEarningsDate", "EarningsDate"} {
		raw, ok := overview[field]
		if !ok || raw == "" || raw == "None" {
			continue
		}
		when, err := time.Parse("2006-01-02", raw)
		if err != nil {
			continue
		}
		days := int(when.Sub(now).Hours() / 24)
		return &days
	}
	return nil
}

func dedupeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func describeViolation(score domain.FactorScore) string {
	if score.Value == nil {
		return fmt.Sprintf("%s: no data, want %s", score.Name, score.Target)
	}
	return fmt.Sprintf("%s: got %.4g, want %s", score.Name, *score.Value, score.Target)
}
