package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/tradescout/optionrun/internal/config"
	"github.com/tradescout/optionrun/internal/domain"
)

// Gateway enforces the outbound I/O policies around a Backend. Limiters,
// breakers, the call budget, and the tool log are process-wide; ForRun binds
// a run id for tool-log attribution.
type Gateway struct {
	backend  Backend
	limiters map[string]*limiter
	breakers map[string]*gobreaker.CircuitBreaker
	budget   *CallBudget
	logger   ToolLogger
	cache    *Cache
	limits   config.LimitsConfig
}

// New builds a gateway. cache and logger may be nil.
func New(backend Backend, limits config.LimitsConfig, budget *CallBudget, logger ToolLogger, cache *Cache) *Gateway {
	if logger == nil {
		logger = NopToolLogger{}
	}
	g := &Gateway{
		backend:  backend,
		limiters: make(map[string]*limiter),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		budget:   budget,
		logger:   logger,
		cache:    cache,
		limits:   limits,
	}
	for _, group := range []string{groupMarket, groupNews, groupMacro, groupVector, groupLLM} {
		g.limiters[group] = newLimiter(limits.ConcurrencyCap, limits.RatePerSecond, limits.ConcurrencyCap)
		grp := group
		g.breakers[group] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    grp,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("group", name).Str("from", from.String()).
					Str("to", to.String()).Msg("Provider circuit breaker state change")
				if to == gobreaker.StateOpen {
					breakerOpen.WithLabelValues(name).Inc()
				}
			},
		})
	}
	return g
}

// ForRun returns a Provider whose tool-log entries carry runID.
func (g *Gateway) ForRun(runID string) Provider {
	return &runView{g: g, runID: runID}
}

type runView struct {
	g     *Gateway
	runID string
}

// call wraps one outbound operation in the full policy stack.
func (v *runView) call(ctx context.Context, group, tool, target string, budgeted bool, timeout time.Duration, fn func(context.Context) error) error {
	g := v.g

	lim := g.limiters[group]
	if err := lim.acquire(ctx); err != nil {
		return fmt.Errorf("%w: %s rate wait: %v", domain.ErrCancelled, tool, err)
	}
	defer lim.release()

	if budgeted && g.budget != nil {
		before := g.budget.Used()
		if err := g.budget.Acquire(ctx); err != nil {
			return err
		}
		if g.budget.Used() <= before {
			budgetBlocks.Inc()
		}
	}

	start := time.Now()
	breaker := g.breakers[group]
	err := withRetry(ctx, g.limits.MaxRetries, 500*time.Millisecond, tool, func() error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		_, berr := breaker.Execute(func() (any, error) {
			return nil, fn(callCtx)
		})
		if errors.Is(berr, gobreaker.ErrOpenState) || errors.Is(berr, gobreaker.ErrTooManyRequests) {
			return domain.Providerf("%s: circuit open", group)
		}
		return berr
	})
	latency := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	callsTotal.WithLabelValues(group, tool, outcome).Inc()
	callLatency.WithLabelValues(group, tool).Observe(latency.Seconds())
	g.logger.LogTool(ctx, v.runID, tool, target, latency, err)

	return err
}

func (v *runView) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	var out *domain.Quote
	err := v.call(ctx, groupMarket, "quote", symbol, true, v.g.limits.ProviderTimeout, func(ctx context.Context) error {
		var err error
		out, err = v.g.backend.Quote(ctx, symbol)
		return err
	})
	return out, err
}

func (v *runView) OptionsChain(ctx context.Context, symbol string) (*domain.OptionsChain, error) {
	var out *domain.OptionsChain
	err := v.call(ctx, groupMarket, "options_chain", symbol, true, v.g.limits.ProviderTimeout, func(ctx context.Context) error {
		var err error
		out, err = v.g.backend.OptionsChain(ctx, symbol)
		return err
	})
	return out, err
}

func (v *runView) CompanyOverview(ctx context.Context, symbol string) (domain.CompanyOverview, error) {
	key := cacheKey("overview", symbol)
	if v.g.cache != nil {
		var cached domain.CompanyOverview
		if ok := v.g.cache.Get(ctx, key, &cached); ok {
			return cached, nil
		}
	}
	var out domain.CompanyOverview
	err := v.call(ctx, groupMarket, "company_overview", symbol, true, v.g.limits.ProviderTimeout, func(ctx context.Context) error {
		var err error
		out, err = v.g.backend.CompanyOverview(ctx, symbol)
		return err
	})
	if err == nil && v.g.cache != nil {
		v.g.cache.Set(ctx, key, out, 24*time.Hour)
	}
	return out, err
}

func (v *runView) SMA(ctx context.Context, symbol string, window int, interval, series string) (*domain.SMAPoint, error) {
	key := cacheKey("sma", fmt.Sprintf("%s:%d:%s:%s", symbol, window, interval, series))
	if v.g.cache != nil {
		var cached domain.SMAPoint
		if ok := v.g.cache.Get(ctx, key, &cached); ok {
			return &cached, nil
		}
	}
	var out *domain.SMAPoint
	err := v.call(ctx, groupMarket, "sma", symbol, true, v.g.limits.ProviderTimeout, func(ctx context.Context) error {
		var err error
		out, err = v.g.backend.SMA(ctx, symbol, window, interval, series)
		return err
	})
	if err == nil && out != nil && v.g.cache != nil {
		v.g.cache.Set(ctx, key, out, time.Hour)
	}
	return out, err
}

func (v *runView) MOM(ctx context.Context, symbol, interval string, period int, series string) (*float64, error) {
	var out *float64
	err := v.call(ctx, groupMarket, "mom", symbol, true, v.g.limits.ProviderTimeout, func(ctx context.Context) error {
		var err error
		out, err = v.g.backend.MOM(ctx, symbol, interval, period, series)
		return err
	})
	return out, err
}

func (v *runView) DailySeries(ctx context.Context, symbol string, lookbackDays int) ([]domain.PricePoint, error) {
	var out []domain.PricePoint
	err := v.call(ctx, groupMarket, "daily_series", symbol, true, v.g.limits.ProviderTimeout, func(ctx context.Context) error {
		var err error
		out, err = v.g.backend.DailySeries(ctx, symbol, lookbackDays)
		return err
	})
	return out, err
}

func (v *runView) NewsSentiment(ctx context.Context, symbol string, limit int) (*domain.NewsSentiment, error) {
	var out *domain.NewsSentiment
	err := v.call(ctx, groupNews, "news_sentiment", symbol, false, v.g.limits.ProviderTimeout, func(ctx context.Context) error {
		var err error
		out, err = v.g.backend.NewsSentiment(ctx, symbol, limit)
		return err
	})
	return out, err
}

func (v *runView) News(ctx context.Context, query, topic string, days, maxResults int) ([]domain.NewsArticle, error) {
	var out []domain.NewsArticle
	err := v.call(ctx, groupNews, "news", query, false, v.g.limits.ProviderTimeout, func(ctx context.Context) error {
		var err error
		out, err = v.g.backend.News(ctx, query, topic, days, maxResults)
		return err
	})
	return out, err
}

func (v *runView) MacroSeries(ctx context.Context, seriesID string) (*domain.MacroPoint, error) {
	key := cacheKey("macro", seriesID)
	if v.g.cache != nil {
		var cached domain.MacroPoint
		if ok := v.g.cache.Get(ctx, key, &cached); ok {
			return &cached, nil
		}
	}
	var out *domain.MacroPoint
	err := v.call(ctx, groupMacro, "macro_series", seriesID, false, v.g.limits.ProviderTimeout, func(ctx context.Context) error {
		var err error
		out, err = v.g.backend.MacroSeries(ctx, seriesID)
		return err
	})
	if err == nil && out != nil && v.g.cache != nil {
		v.g.cache.Set(ctx, key, out, time.Hour)
	}
	return out, err
}

func (v *runView) HistoricalIVSeries(ctx context.Context, symbol string, lookbackDays int) ([]domain.IVPoint, error) {
	var out []domain.IVPoint
	err := v.call(ctx, groupMarket, "historical_iv", symbol, true, v.g.limits.ProviderTimeout, func(ctx context.Context) error {
		var err error
		out, err = v.g.backend.HistoricalIVSeries(ctx, symbol, lookbackDays)
		return err
	})
	return out, err
}

func (v *runView) Embed(ctx context.Context, text string) ([]float64, error) {
	var out []float64
	err := v.call(ctx, groupVector, "embed", "", false, v.g.limits.ProviderTimeout, func(ctx context.Context) error {
		var err error
		out, err = v.g.backend.Embed(ctx, text)
		return err
	})
	return out, err
}

func (v *runView) VectorSearch(ctx context.Context, embedding []float64, k int, filter map[string]string) ([]domain.VectorMatch, error) {
	var out []domain.VectorMatch
	err := v.call(ctx, groupVector, "vector_search", "", false, v.g.limits.ProviderTimeout, func(ctx context.Context) error {
		var err error
		out, err = v.g.backend.VectorSearch(ctx, embedding, k, filter)
		return err
	})
	return out, err
}

func (v *runView) Reason(ctx context.Context, prompt string) (string, error) {
	var out string
	err := v.call(ctx, groupLLM, "reason", "", false, v.g.limits.ReasoningTimeout, func(ctx context.Context) error {
		var err error
		out, err = v.g.backend.Reason(ctx, prompt)
		return err
	})
	return out, err
}
