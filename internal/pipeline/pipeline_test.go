package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradescout/optionrun/internal/config"
	"github.com/tradescout/optionrun/internal/domain"
	"github.com/tradescout/optionrun/internal/ips"
	"github.com/tradescout/optionrun/internal/persistence"
)

// chainOnlyPolicy is the two-factor IPS of the reference scenario: short
// delta at most 0.20 and open interest at least 100, equally weighted.
func chainOnlyPolicy(t *testing.T, reg *ips.Registry) *ips.Config {
	t.Helper()
	cfg := &ips.Config{
		ID: "ips-test", Name: "Chain Only",
		Factors: []ips.Factor{
			{Key: "opt-delta", Weight: 50, Direction: ips.LTE, Threshold: 0.20, Enabled: true},
			{Key: "opt-open-interest", Weight: 50, Direction: ips.GTE, Threshold: 100, Enabled: true},
		},
	}
	require.NoError(t, ips.Normalize(cfg, reg))
	return cfg
}

func newTestPipeline(t *testing.T, stub *stubProvider) (*Pipeline, *ips.Registry, *persistence.MemoryRepository) {
	t.Helper()
	reg := ips.NewRegistry()
	repo := persistence.NewMemoryRepository()
	pipe := New(stub, reg, repo, config.Default().Scoring, func() time.Time { return testNow })
	return pipe, reg, repo
}

func openRun(t *testing.T, repo *persistence.MemoryRepository, symbols ...string) *domain.Run {
	t.Helper()
	run := &domain.Run{
		ID: "run-1", Mode: domain.ModePaper, InitialSymbols: symbols,
		IPSID: "ips-test", UserID: "user-1", StartedAt: testNow, Status: domain.StatusRunning,
	}
	require.NoError(t, repo.OpenRun(context.Background(), run))
	return run
}

func decisionByCheckpoint(run *domain.Run, cp domain.Checkpoint) *domain.ReasoningDecision {
	for i := range run.Decisions {
		if run.Decisions[i].Checkpoint == cp {
			return &run.Decisions[i]
		}
	}
	return nil
}

func TestSinglePassingCandidate(t *testing.T) {
	stub := &stubProvider{
		quotes: map[string]float64{"AAPL": 100},
		chains: map[string]*domain.OptionsChain{"AAPL": testChain("AAPL", -0.18)},
	}
	pipe, reg, repo := newTestPipeline(t, stub)
	run := openRun(t, repo, "AAPL")

	st, err := pipe.Execute(context.Background(), run, chainOnlyPolicy(t, reg), nil)
	require.NoError(t, err)
	require.Len(t, st.Selected, 1)

	c := st.Selected[0]
	assert.InDelta(t, 0.70, c.MaxProfit, 1e-9)
	assert.InDelta(t, 4.30, c.MaxLoss, 1e-9)
	assert.InDelta(t, 100.0, c.IPSScore, 1e-9)
	assert.Equal(t, domain.TierElite, c.Tier)
	assert.GreaterOrEqual(t, c.CompositeScore, 40.0)
	assert.LessOrEqual(t, c.CompositeScore, 50.0)

	// No historical trades in the vector store: composite used the
	// yield/IPS blend and the analysis reports no data.
	require.NotNil(t, c.Historical)
	assert.False(t, c.Historical.HasData)
	assert.Equal(t, "low", c.Historical.Confidence)
	assert.Zero(t, c.Historical.WinRate)
	assert.Zero(t, c.Historical.AvgROI)

	// Rationale fell back to the template since reasoning is unscripted.
	require.NotNil(t, c.Rationale)
	assert.True(t, c.Rationale.Fallback)
	assert.NotEmpty(t, c.Rationale.Text)

	// All three checkpoints recorded, in order, all PROCEED.
	require.Len(t, run.Decisions, 3)
	assert.Equal(t, domain.CheckpointC1, run.Decisions[0].Checkpoint)
	assert.Equal(t, domain.CheckpointC2, run.Decisions[1].Checkpoint)
	assert.Equal(t, domain.CheckpointC3, run.Decisions[2].Checkpoint)
	for _, d := range run.Decisions {
		assert.Equal(t, domain.VerdictProceed, d.Decision)
	}

	// Raw chain snapshot persisted under the run.
	require.Len(t, repo.SnapshotsFor(run.ID), 1)
	assert.Equal(t, "AAPL", repo.SnapshotsFor(run.ID)[0].Symbol)
}

func TestDeltaWithinToleranceStillPasses(t *testing.T) {
	stub := &stubProvider{
		quotes: map[string]float64{"AAPL": 100},
		chains: map[string]*domain.OptionsChain{"AAPL": testChain("AAPL", -0.21)},
	}
	pipe, reg, repo := newTestPipeline(t, stub)
	run := openRun(t, repo, "AAPL")

	st, err := pipe.Execute(context.Background(), run, chainOnlyPolicy(t, reg), nil)
	require.NoError(t, err)
	require.Len(t, st.Selected, 1, "0.21 sits inside the 0.01 delta tolerance")
	assert.Equal(t, domain.TierElite, st.Selected[0].Tier)
}

func TestDeltaBeyondToleranceTakesNearMissPath(t *testing.T) {
	stub := &stubProvider{
		quotes: map[string]float64{"AAPL": 100},
		chains: map[string]*domain.OptionsChain{"AAPL": testChain("AAPL", -0.211)},
		reasonFn: func(call int, prompt string) (string, error) {
			// C2 reviews the empty pass set and lets the run continue.
			return `{"decision": "PROCEED", "reasoning": "near misses are close"}`, nil
		},
	}
	pipe, reg, repo := newTestPipeline(t, stub)
	run := openRun(t, repo, "AAPL")

	st, err := pipe.Execute(context.Background(), run, chainOnlyPolicy(t, reg), nil)
	require.NoError(t, err)

	require.Len(t, st.Selected, 1, "the near-miss is surfaced")
	c := st.Selected[0]
	assert.Equal(t, 1, c.ViolationCount)
	require.Len(t, c.Violations, 1)
	assert.Contains(t, c.Violations[0], "Delta")
	assert.InDelta(t, 75.0, c.IPSScore, 1e-9, "one factor failed at half credit")
	assert.Equal(t, domain.TierQuality, c.Tier)

	c3 := decisionByCheckpoint(run, domain.CheckpointC3)
	require.NotNil(t, c3)
	assert.Equal(t, domain.VerdictReject, c3.Decision)
	assert.Contains(t, c3.Reasoning, "near-miss")
}

func TestC2RelaxationRerunsHighWeightFilter(t *testing.T) {
	stub := &stubProvider{
		quotes: map[string]float64{"AAPL": 100},
		chains: map[string]*domain.OptionsChain{"AAPL": testChain("AAPL", -0.24)},
		reasonFn: func(call int, prompt string) (string, error) {
			return `{"decision": "PROCEED_WITH_CAUTION",
				"threshold_adjustments": [{"factor": "opt-delta", "old_threshold": 0.20, "new_threshold": 0.25}],
				"reasoning": "delta threshold slightly tight"}`, nil
		},
	}
	pipe, reg, repo := newTestPipeline(t, stub)
	run := openRun(t, repo, "AAPL")

	st, err := pipe.Execute(context.Background(), run, chainOnlyPolicy(t, reg), nil)
	require.NoError(t, err)

	require.Len(t, st.Selected, 1, "relaxed threshold admits the candidate")
	c2 := decisionByCheckpoint(run, domain.CheckpointC2)
	require.NotNil(t, c2)
	assert.Equal(t, domain.VerdictCaution, c2.Decision)
	require.Len(t, c2.Adjustments, 1)
	assert.Equal(t, 0.25, c2.Adjustments[0].NewThreshold)
}

func TestC1OverrideAddsSymbols(t *testing.T) {
	// Three symbols all fail the high-weight market-cap gate; the model
	// re-routes the run onto AAA.
	policy := &ips.Config{
		ID: "ips-test", Name: "With Fundamentals",
		Factors: []ips.Factor{
			{Key: "market-cap", Weight: 50, Direction: ips.GTE, Threshold: 1e12, Enabled: true},
			{Key: "opt-delta", Weight: 50, Direction: ips.LTE, Threshold: 0.25, Enabled: true},
		},
	}
	reg := ips.NewRegistry()
	require.NoError(t, ips.Normalize(policy, reg))

	small := domain.CompanyOverview{"MarketCapitalization": "1000000", "Sector": "Technology"}
	stub := &stubProvider{
		quotes: map[string]float64{"X1": 50, "X2": 60, "X3": 70, "AAA": 100},
		chains: map[string]*domain.OptionsChain{"AAA": testChain("AAA", -0.18)},
		overviews: map[string]domain.CompanyOverview{
			"X1": small, "X2": small, "X3": small,
		},
		reasonFn: func(call int, prompt string) (string, error) {
			return `{"decision": "PROCEED", "symbols_to_add": ["AAA"], "reasoning": "near-miss"}`, nil
		},
	}
	repo := persistence.NewMemoryRepository()
	pipe := New(stub, reg, repo, config.Default().Scoring, func() time.Time { return testNow })
	run := openRun(t, repo, "X1", "X2", "X3")

	st, err := pipe.Execute(context.Background(), run, policy, nil)
	require.NoError(t, err)

	c1 := decisionByCheckpoint(run, domain.CheckpointC1)
	require.NotNil(t, c1)
	assert.Equal(t, domain.VerdictProceed, c1.Decision)
	assert.Equal(t, "near-miss", c1.Reasoning, "model reasoning recorded verbatim")
	assert.Equal(t, []string{"AAA"}, c1.SymbolsToAdd)

	require.Contains(t, st.Chains, "AAA", "chain fetch ran on the added symbol")
	require.Len(t, st.Selected, 1)
	assert.Equal(t, "AAA", st.Selected[0].Symbol)
}

func TestGarbageReasoningAtC3Rejects(t *testing.T) {
	// The chain holds no usable spreads, so S3 yields neither candidates
	// nor near-misses; C2 proceeds and C3's model output is garbage.
	stub := &stubProvider{
		quotes: map[string]float64{"AAPL": 100},
		chains: map[string]*domain.OptionsChain{"AAPL": {Symbol: "AAPL", AsOf: testNow}},
		reasonFn: func(call int, prompt string) (string, error) {
			if call == 1 {
				return `{"decision": "PROCEED", "reasoning": "keep going"}`, nil
			}
			return "sure thing!", nil
		},
	}
	pipe, reg, repo := newTestPipeline(t, stub)
	run := openRun(t, repo, "AAPL")

	st, err := pipe.Execute(context.Background(), run, chainOnlyPolicy(t, reg), nil)
	require.NoError(t, err)
	assert.Empty(t, st.Selected)

	c3 := decisionByCheckpoint(run, domain.CheckpointC3)
	require.NotNil(t, c3)
	assert.Equal(t, domain.VerdictReject, c3.Decision)
	assert.True(t, strings.HasPrefix(c3.Reasoning, "LLM response was not valid JSON"), c3.Reasoning)
}

func TestEmptyChainSkipsWithoutError(t *testing.T) {
	stub := &stubProvider{
		quotes: map[string]float64{"AAPL": 100, "MSFT": 200},
		chains: map[string]*domain.OptionsChain{
			"AAPL": testChain("AAPL", -0.18),
			"MSFT": {Symbol: "MSFT", AsOf: testNow},
		},
	}
	pipe, reg, repo := newTestPipeline(t, stub)
	run := openRun(t, repo, "AAPL", "MSFT")

	st, err := pipe.Execute(context.Background(), run, chainOnlyPolicy(t, reg), nil)
	require.NoError(t, err)
	require.Len(t, st.Selected, 1)
	assert.Equal(t, "AAPL", st.Selected[0].Symbol)
}

func TestHistoricalDataBlendsComposite(t *testing.T) {
	// k matches, 7 winners of 10: win rate 0.7 joins the blend.
	matches := make([]domain.VectorMatch, 10)
	for i := range matches {
		pl := 5.0
		if i >= 7 {
			pl = -3.0
		}
		matches[i] = domain.VectorMatch{
			ID: "t", Score: 0.9,
			Payload: map[string]any{"realized_pl": pl, "roi": pl / 10},
		}
	}
	stub := &stubProvider{
		quotes: map[string]float64{"AAPL": 100},
		chains: map[string]*domain.OptionsChain{"AAPL": testChain("AAPL", -0.18)},
		vector: matches,
	}
	pipe, reg, repo := newTestPipeline(t, stub)
	run := openRun(t, repo, "AAPL")

	st, err := pipe.Execute(context.Background(), run, chainOnlyPolicy(t, reg), nil)
	require.NoError(t, err)
	require.Len(t, st.Selected, 1)

	c := st.Selected[0]
	require.NotNil(t, c.Historical)
	assert.True(t, c.Historical.HasData)
	assert.Equal(t, 10, c.Historical.TradeCount)
	assert.InDelta(t, 0.7, c.Historical.WinRate, 1e-9)
	assert.Equal(t, "med", c.Historical.Confidence)

	yield := 0.70 / 4.30 * 100
	want := 0.4*yield + 0.3*100 + 0.3*70
	assert.InDelta(t, want, c.CompositeScore, 1e-6)
}

func TestScoringIsDeterministic(t *testing.T) {
	build := func() *State {
		stub := &stubProvider{
			quotes: map[string]float64{"AAPL": 100, "MSFT": 100},
			chains: map[string]*domain.OptionsChain{
				"AAPL": testChain("AAPL", -0.18),
				"MSFT": testChain("MSFT", -0.19),
			},
		}
		pipe, reg, repo := newTestPipeline(t, stub)
		run := openRun(t, repo, "AAPL", "MSFT")
		st, err := pipe.Execute(context.Background(), run, chainOnlyPolicy(t, reg), nil)
		require.NoError(t, err)
		return st
	}

	first := build()
	second := build()
	require.Equal(t, len(first.Selected), len(second.Selected))
	for i := range first.Selected {
		assert.Equal(t, first.Selected[i].Symbol, second.Selected[i].Symbol)
		assert.Equal(t, first.Selected[i].CompositeScore, second.Selected[i].CompositeScore)
	}
}

func TestDiversificationCaps(t *testing.T) {
	// Ten symbols in one sector; the sector cap keeps at most three.
	stub := &stubProvider{
		quotes:    map[string]float64{},
		chains:    map[string]*domain.OptionsChain{},
		overviews: map[string]domain.CompanyOverview{},
	}
	symbols := []string{"S1", "S2", "S3", "S4", "S5", "S6", "S7", "S8", "S9", "S10"}
	for _, sym := range symbols {
		stub.quotes[sym] = 100
		stub.chains[sym] = testChain(sym, -0.18)
		stub.overviews[sym] = domain.CompanyOverview{"Sector": "Technology"}
	}
	pipe, reg, repo := newTestPipeline(t, stub)
	run := openRun(t, repo, symbols...)

	st, err := pipe.Execute(context.Background(), run, chainOnlyPolicy(t, reg), nil)
	require.NoError(t, err)

	require.NotEmpty(t, st.Selected)
	assert.LessOrEqual(t, len(st.Selected), 3, "all candidates share a sector")
	perSymbol := map[string]int{}
	for _, c := range st.Selected {
		perSymbol[c.Symbol]++
		assert.LessOrEqual(t, perSymbol[c.Symbol], 2)
	}
	assert.Equal(t, 100.0, st.Selected[0].DiversityScore, "first pick has nothing to collide with")
}

func TestFetchErrorFailsOpenOnHighWeightFactor(t *testing.T) {
	// The overview fetch errors, so the high-weight market-cap factor has
	// no value to judge. A fetch error keeps the symbol alive; only a
	// fetched-but-failing value may drop it.
	policy := &ips.Config{
		ID: "ips-test", Name: "With Fundamentals",
		Factors: []ips.Factor{
			{Key: "market-cap", Weight: 50, Direction: ips.GTE, Threshold: 1e9, Enabled: true},
			{Key: "opt-delta", Weight: 50, Direction: ips.LTE, Threshold: 0.20, Enabled: true},
		},
	}
	stub := &stubProvider{
		quotes: map[string]float64{"AAPL": 100},
		chains: map[string]*domain.OptionsChain{"AAPL": testChain("AAPL", -0.18)},
	}
	pipe, reg, repo := newTestPipeline(t, stub)
	require.NoError(t, ips.Normalize(policy, reg))
	run := openRun(t, repo, "AAPL")

	st, err := pipe.Execute(context.Background(), run, policy, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL"}, st.Symbols, "fetch error does not drop the symbol")
	require.Len(t, st.Selected, 1)
	assert.Equal(t, "AAPL", st.Selected[0].Symbol)

	c1 := decisionByCheckpoint(run, domain.CheckpointC1)
	require.NotNil(t, c1)
	assert.Equal(t, domain.VerdictProceed, c1.Decision)

	var overviewErrs int
	for _, e := range run.Errors {
		if e.Stage == domain.StepPrefilter && strings.Contains(e.Message, "overview") {
			overviewErrs++
		}
	}
	assert.Equal(t, 1, overviewErrs, "the failed fetch is still recorded")
}

func TestLowWeightSurvivorKeepsViolationCount(t *testing.T) {
	// One of three low-weight factors fails: under the ceil(n/2) rule the
	// candidate survives, and its violation count matches its violations.
	policy := &ips.Config{
		ID: "ips-test", Name: "Mostly Low Weight",
		Factors: []ips.Factor{
			{Key: "opt-theta", Weight: 85, Direction: ips.GTE, Threshold: -0.10, Enabled: true},
			{Key: "opt-delta", Weight: 5, Direction: ips.LTE, Threshold: 0.20, Enabled: true},
			{Key: "opt-open-interest", Weight: 5, Direction: ips.GTE, Threshold: 1000, Enabled: true},
			{Key: "opt-bid-ask-spread", Weight: 5, Direction: ips.LTE, Threshold: 0.5, Enabled: true},
		},
	}
	pipe, reg, _ := newTestPipeline(t, &stubProvider{})
	require.NoError(t, ips.Normalize(policy, reg))

	chain := testChain("AAPL", -0.18)
	cand := &domain.Candidate{
		ID: "c-1", Symbol: "AAPL", Strategy: domain.PutCreditSpread,
		Legs: []domain.SpreadLeg{
			{Role: domain.ShortLeg, Contract: chain.Contracts[0]},
			{Role: domain.LongLeg, Contract: chain.Contracts[1]},
		},
	}
	st := &State{
		Run:        &domain.Run{ID: "run-1"},
		Policy:     policy,
		Contexts:   map[string]*ips.Context{"AAPL": {Symbol: "AAPL", Now: testNow}},
		Candidates: []*domain.Candidate{cand},
	}

	pipe.lowWeightFilter(st)

	require.Len(t, st.Candidates, 1, "one failure out of three stays under ceil(3/2)")
	c := st.Candidates[0]
	require.Len(t, c.Violations, 1)
	assert.Contains(t, c.Violations[0], "Open Interest")
	assert.Equal(t, len(c.Violations), c.ViolationCount)
}

func TestProviderErrorsFailOpenAtS1(t *testing.T) {
	// Nothing scripted except quote and chain: every other fetch fails,
	// the symbol survives S1, and the errors are recorded.
	stub := &stubProvider{
		quotes: map[string]float64{"AAPL": 100},
		chains: map[string]*domain.OptionsChain{"AAPL": testChain("AAPL", -0.18)},
	}
	pipe, reg, repo := newTestPipeline(t, stub)
	run := openRun(t, repo, "AAPL")

	st, err := pipe.Execute(context.Background(), run, chainOnlyPolicy(t, reg), nil)
	require.NoError(t, err)
	assert.Len(t, st.Selected, 1)
	assert.NotEmpty(t, run.Errors)
	for _, e := range run.Errors {
		assert.Equal(t, "ProviderUnavailable", e.Kind)
	}
}
