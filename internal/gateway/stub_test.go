package gateway

import (
	"context"
	"time"

	"github.com/tradescout/optionrun/internal/config"
	"github.com/tradescout/optionrun/internal/domain"
)

func testLimits() config.LimitsConfig {
	return config.LimitsConfig{
		ConcurrencyCap:   2,
		RatePerSecond:    1000,
		CallBudget:       10,
		BudgetCooldown:   time.Second,
		ProviderTimeout:  time.Second,
		ReasoningTimeout: time.Second,
		MaxRetries:       3,
	}
}

// scriptedBackend lets each test script just the operations it exercises;
// everything else reports the provider as unavailable.
type scriptedBackend struct {
	quote  func(symbol string) (*domain.Quote, error)
	chain  func(symbol string) (*domain.OptionsChain, error)
	reason func(prompt string) (string, error)
}

func (b *scriptedBackend) Quote(_ context.Context, symbol string) (*domain.Quote, error) {
	if b.quote == nil {
		return nil, domain.Providerf("quote not scripted")
	}
	return b.quote(symbol)
}

func (b *scriptedBackend) OptionsChain(_ context.Context, symbol string) (*domain.OptionsChain, error) {
	if b.chain == nil {
		return nil, domain.Providerf("chain not scripted")
	}
	return b.chain(symbol)
}

func (b *scriptedBackend) CompanyOverview(context.Context, string) (domain.CompanyOverview, error) {
	return nil, domain.Providerf("overview not scripted")
}

func (b *scriptedBackend) SMA(context.Context, string, int, string, string) (*domain.SMAPoint, error) {
	return nil, domain.Providerf("sma not scripted")
}

func (b *scriptedBackend) MOM(context.Context, string, string, int, string) (*float64, error) {
	return nil, domain.Providerf("mom not scripted")
}

func (b *scriptedBackend) DailySeries(context.Context, string, int) ([]domain.PricePoint, error) {
	return nil, domain.Providerf("daily series not scripted")
}

func (b *scriptedBackend) NewsSentiment(context.Context, string, int) (*domain.NewsSentiment, error) {
	return nil, domain.Providerf("news sentiment not scripted")
}

func (b *scriptedBackend) News(context.Context, string, string, int, int) ([]domain.NewsArticle, error) {
	return nil, domain.Providerf("news not scripted")
}

func (b *scriptedBackend) MacroSeries(context.Context, string) (*domain.MacroPoint, error) {
	return nil, domain.Providerf("macro not scripted")
}

func (b *scriptedBackend) HistoricalIVSeries(context.Context, string, int) ([]domain.IVPoint, error) {
	return nil, domain.Providerf("historical iv not scripted")
}

func (b *scriptedBackend) Embed(context.Context, string) ([]float64, error) {
	return nil, domain.Providerf("embed not scripted")
}

func (b *scriptedBackend) VectorSearch(context.Context, []float64, int, map[string]string) ([]domain.VectorMatch, error) {
	return nil, domain.Providerf("vector search not scripted")
}

func (b *scriptedBackend) Reason(_ context.Context, prompt string) (string, error) {
	if b.reason == nil {
		return "", domain.Providerf("reason not scripted")
	}
	return b.reason(prompt)
}
