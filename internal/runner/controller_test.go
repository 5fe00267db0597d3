package runner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradescout/optionrun/internal/config"
	"github.com/tradescout/optionrun/internal/domain"
	"github.com/tradescout/optionrun/internal/gateway"
	"github.com/tradescout/optionrun/internal/ips"
	"github.com/tradescout/optionrun/internal/persistence"
)

var testNow = time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

// stubProvider scripts quote and chain lookups; every other operation
// reports the provider unavailable, which the cascade tolerates. A non-nil
// block channel makes Quote hang until the run context is cancelled.
type stubProvider struct {
	quotes map[string]float64
	chains map[string]*domain.OptionsChain
	block  chan struct{}
}

func (s *stubProvider) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
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

func (s *stubProvider) CompanyOverview(context.Context, string) (domain.CompanyOverview, error) {
	return nil, domain.Providerf("overview not scripted")
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
	return nil, nil
}

func (s *stubProvider) Reason(context.Context, string) (string, error) {
	return "", domain.Providerf("reasoning not scripted")
}

// stubFactory hands the same provider to every run.
type stubFactory struct{ p gateway.Provider }

func (f stubFactory) ForRun(string) gateway.Provider { return f.p }

func testChain(symbol string) *domain.OptionsChain {
	expiry := testNow.AddDate(0, 0, 30)
	return &domain.OptionsChain{
		Symbol: symbol,
		AsOf:   testNow,
		Contracts: []domain.OptionContract{
			{
				Symbol: symbol, Type: domain.Put, Strike: 95, Expiry: expiry,
				Delta: f64(-0.18), Bid: f64(1.05), Ask: f64(1.07),
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

func testStore() ips.StaticStore {
	return ips.StaticStore{
		"ips-test": &ips.Config{
			ID: "ips-test", Name: "Chain Only",
			Factors: []ips.Factor{
				{Key: "opt-delta", Weight: 50, Direction: ips.LTE, Threshold: 0.20, Enabled: true},
				{Key: "opt-open-interest", Weight: 50, Direction: ips.GTE, Threshold: 100, Enabled: true},
			},
		},
	}
}

func newTestController(p gateway.Provider, repo persistence.Repository) *Controller {
	return New(stubFactory{p: p}, ips.NewRegistry(), testStore(), repo,
		config.Default().Scoring, nil, func() time.Time { return testNow })
}

func TestRunCompletesEndToEnd(t *testing.T) {
	stub := &stubProvider{
		quotes: map[string]float64{"AAPL": 100},
		chains: map[string]*domain.OptionsChain{"AAPL": testChain("AAPL")},
	}
	repo := persistence.NewMemoryRepository()
	ctrl := newTestController(stub, repo)

	runID, err := ctrl.StartRun(context.Background(), []string{"AAPL"}, domain.ModePaper, "ips-test", "user-1")
	require.NoError(t, err)

	ch := ctrl.Subscribe(runID)

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ctrl.Wait(waitCtx, runID))

	// The channel is buffered for every step boundary and closed at finish.
	var last domain.JobProgress
	for p := range ch {
		last = p
	}

	view, err := ctrl.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, view.Run.Status)
	require.NotNil(t, view.Run.FinishedAt)
	require.Len(t, view.Run.Selected, 1)
	assert.Equal(t, "AAPL", view.Run.Selected[0].Symbol)
	assert.Equal(t, domain.TierElite, view.Run.Selected[0].Tier)
	assert.Len(t, view.Run.Decisions, 3)

	assert.Equal(t, domain.StepComplete, last.CurrentStep)
	assert.Equal(t, domain.TotalRunSteps, last.CompletedSteps)
}

func TestEmptyWatchlistCompletesEmpty(t *testing.T) {
	stub := &stubProvider{}
	repo := persistence.NewMemoryRepository()
	ctrl := newTestController(stub, repo)

	runID, err := ctrl.StartRun(context.Background(), nil, domain.ModePaper, "ips-test", "user-1")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ctrl.Wait(waitCtx, runID))

	view, err := ctrl.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, view.Run.Status)
	assert.Empty(t, view.Run.Selected)

	require.Len(t, view.Run.Decisions, 1)
	d := view.Run.Decisions[0]
	assert.Equal(t, domain.CheckpointC1, d.Checkpoint)
	assert.Equal(t, domain.VerdictReject, d.Decision)
	assert.Contains(t, d.Reasoning, "0 symbols passed")
}

func TestUnknownIPSFailsRun(t *testing.T) {
	stub := &stubProvider{}
	repo := persistence.NewMemoryRepository()
	ctrl := newTestController(stub, repo)

	runID, err := ctrl.StartRun(context.Background(), []string{"AAPL"}, domain.ModePaper, "ips-missing", "user-1")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ctrl.Wait(waitCtx, runID))

	view, err := ctrl.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, view.Run.Status)
	assert.Equal(t, "IPSSchemaError", view.Run.ErrorKind)
	assert.Contains(t, view.Run.ErrorMessage, "ips-missing")
}

func TestCancelRunMarksFailed(t *testing.T) {
	stub := &stubProvider{
		quotes: map[string]float64{"AAPL": 100},
		chains: map[string]*domain.OptionsChain{"AAPL": testChain("AAPL")},
		block:  make(chan struct{}),
	}
	repo := persistence.NewMemoryRepository()
	ctrl := newTestController(stub, repo)

	runID, err := ctrl.StartRun(context.Background(), []string{"AAPL"}, domain.ModePaper, "ips-test", "user-1")
	require.NoError(t, err)

	// Let the run reach the blocked provider call, then cancel it.
	require.Eventually(t, func() bool {
		return ctrl.CancelRun(runID) == nil
	}, time.Second, 10*time.Millisecond)

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ctrl.Wait(waitCtx, runID))

	view, err := ctrl.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, view.Run.Status)
	assert.Equal(t, "Cancelled", view.Run.ErrorKind)
}

func TestCancelUnknownRunErrors(t *testing.T) {
	ctrl := newTestController(&stubProvider{}, persistence.NewMemoryRepository())
	err := ctrl.CancelRun("no-such-run")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not active"))
}

func TestSubscribeUnknownRunClosed(t *testing.T) {
	ctrl := newTestController(&stubProvider{}, persistence.NewMemoryRepository())
	ch := ctrl.Subscribe("no-such-run")
	_, open := <-ch
	assert.False(t, open)
}
