package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/tradescout/optionrun/internal/domain"
)

var testNow = time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

// stubProvider scripts the provider surface per test. Unscripted data
// operations report the provider unavailable, which the cascade treats as
// fail-open at S1 and symbol-dropping at S2.
type stubProvider struct {
	mu        sync.Mutex
	quotes    map[string]float64
	chains    map[string]*domain.OptionsChain
	overviews map[string]domain.CompanyOverview
	vector    []domain.VectorMatch

	reasonFn    func(call int, prompt string) (string, error)
	reasonCalls int
	prompts     []string
}

func (s *stubProvider) Quote(_ context.Context, symbol string) (*domain.Quote, error) {
	if price, ok := s.quotes[symbol]; ok {
		return &domain.Quote{Symbol: symbol, Price: price, Timestamp: testNow}, nil
	}
	return nil, domain.Providerf("quote %s not scripted", symbol)
}

func (s *stubProvider) OptionsChain(_ context.Context, symbol string) (*domain.OptionsChain, error) {
	if chain, ok := s.chains[symbol]; ok {
		return chain, nil
	}
	return nil, domain.Providerf("chain %s not scripted", symbol)
}

func (s *stubProvider) CompanyOverview(_ context.Context, symbol string) (domain.CompanyOverview, error) {
	if ov, ok := s.overviews[symbol]; ok {
		return ov, nil
	}
	return nil, domain.Providerf("overview %s not scripted", symbol)
}

func (s *stubProvider) SMA(context.Context, string, int, string, string) (*domain.SMAPoint, error) {
	return nil, domain.Providerf("sma not scripted")
}

func (s *stubProvider) MOM(context.Context, string, string, int, string) (*float64, error) {
	return nil, domain.Providerf("mom not scripted")
}

func (s *stubProvider) DailySeries(context.Context, string, int) ([]domain.PricePoint, error) {
	return nil, domain.Providerf("daily series not scripted")
}

func (s *stubProvider) NewsSentiment(context.Context, string, int) (*domain.NewsSentiment, error) {
	return nil, domain.Providerf("news sentiment not scripted")
}

func (s *stubProvider) News(context.Context, string, string, int, int) ([]domain.NewsArticle, error) {
	return nil, domain.Providerf("news not scripted")
}

func (s *stubProvider) MacroSeries(context.Context, string) (*domain.MacroPoint, error) {
	return nil, domain.Providerf("macro not scripted")
}

func (s *stubProvider) HistoricalIVSeries(context.Context, string, int) ([]domain.IVPoint, error) {
	return nil, domain.Providerf("historical iv not scripted")
}

func (s *stubProvider) Embed(context.Context, string) ([]float64, error) {
	return []float64{0.1, 0.2, 0.3}, nil
}

func (s *stubProvider) VectorSearch(context.Context, []float64, int, map[string]string) ([]domain.VectorMatch, error) {
	return s.vector, nil
}

func (s *stubProvider) Reason(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.reasonCalls++
	call := s.reasonCalls
	s.prompts = append(s.prompts, prompt)
	fn := s.reasonFn
	s.mu.Unlock()
	if fn == nil {
		return "", domain.Providerf("reasoning not scripted")
	}
	return fn(call, prompt)
}

// testChain builds a two-strike put chain that yields one spread:
// short 95 / long 90 against a 100 underlying.
func testChain(symbol string, shortDelta float64) *domain.OptionsChain {
	expiry := testNow.AddDate(0, 0, 30)
	return &domain.OptionsChain{
		Symbol: symbol,
		AsOf:   testNow,
		Contracts: []domain.OptionContract{
			{
				Symbol: symbol, Type: domain.Put, Strike: 95, Expiry: expiry,
				Delta: f64(shortDelta), Bid: f64(1.05), Ask: f64(1.07),
				OpenInterest: i64(250), Volume: i64(40), AsOf: testNow,
			},
			{
				Symbol: symbol, Type: domain.Put, Strike: 90, Expiry: expiry,
				Delta: f64(-0.08), Bid: f64(0.35), Ask: f64(0.37),
				OpenInterest: i64(200), Volume: i64(25), AsOf: testNow,
			},
		},
	}
}
