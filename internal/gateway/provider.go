// Package gateway is the single funnel for all outbound I/O: every provider
// call passes through a per-provider token bucket, the run call budget, a
// retry policy, and a circuit breaker, and is appended to the tool log.
package gateway

import (
	"context"
	"time"

	"github.com/tradescout/optionrun/internal/domain"
)

// Provider is the normalized surface the pipeline consumes. Implementations
// must honor ctx deadlines on every call. Tests substitute a stub.
type Provider interface {
	Quote(ctx context.Context, symbol string) (*domain.Quote, error)
	OptionsChain(ctx context.Context, symbol string) (*domain.OptionsChain, error)
	CompanyOverview(ctx context.Context, symbol string) (domain.CompanyOverview, error)
	SMA(ctx context.Context, symbol string, window int, interval, series string) (*domain.SMAPoint, error)
	MOM(ctx context.Context, symbol, interval string, period int, series string) (*float64, error)
	DailySeries(ctx context.Context, symbol string, lookbackDays int) ([]domain.PricePoint, error)
	NewsSentiment(ctx context.Context, symbol string, limit int) (*domain.NewsSentiment, error)
	News(ctx context.Context, query, topic string, days, maxResults int) ([]domain.NewsArticle, error)
	MacroSeries(ctx context.Context, seriesID string) (*domain.MacroPoint, error)
	HistoricalIVSeries(ctx context.Context, symbol string, lookbackDays int) ([]domain.IVPoint, error)

	Embed(ctx context.Context, text string) ([]float64, error)
	VectorSearch(ctx context.Context, embedding []float64, k int, filter map[string]string) ([]domain.VectorMatch, error)

	Reason(ctx context.Context, prompt string) (string, error)
}

// Backend is the raw, policy-free provider surface the gateway wraps. It has
// the same shape as Provider; the gateway adds rate limiting, budget, retry,
// breaker, logging, and metrics around it.
type Backend = Provider

// ToolLogger records one entry per outbound call for the owning run.
type ToolLogger interface {
	LogTool(ctx context.Context, runID, tool, target string, latency time.Duration, callErr error)
}

// NopToolLogger discards tool log entries.
type NopToolLogger struct{}

func (NopToolLogger) LogTool(context.Context, string, string, string, time.Duration, error) {}

// Provider group names used for rate limiting and metrics labels.
const (
	groupMarket = "market"
	groupNews   = "news"
	groupMacro  = "macro"
	groupVector = "vector"
	groupLLM    = "llm"
)
