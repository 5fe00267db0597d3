// Package pipeline implements the filter cascade: a general pre-filter,
// chain fetch, high- and low-weight chain filters, three reasoning
// checkpoints between them, then scoring, diversified selection, and
// rationale generation. Stages compose linearly; the only branches are the
// REJECT exits at the checkpoints and the near-miss finalization.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradescout/optionrun/internal/config"
	"github.com/tradescout/optionrun/internal/domain"
	"github.com/tradescout/optionrun/internal/gateway"
	"github.com/tradescout/optionrun/internal/ips"
	"github.com/tradescout/optionrun/internal/persistence"
)

// Pipeline executes the cascade for one run at a time. It holds no run
// state itself; everything mutable lives on the State it threads through.
type Pipeline struct {
	provider gateway.Provider
	registry *ips.Registry
	repo     persistence.Repository
	cfg      config.ScoringConfig
	now      func() time.Time
}

// New wires the cascade. A nil now defaults to the wall clock.
func New(provider gateway.Provider, registry *ips.Registry, repo persistence.Repository, cfg config.ScoringConfig, now func() time.Time) *Pipeline {
	if now == nil {
		now = time.Now
	}
	return &Pipeline{provider: provider, registry: registry, repo: repo, cfg: cfg, now: now}
}

// ProgressFn receives one update per stage boundary.
type ProgressFn func(step string, symbolsProcessed, candidatesFound int, message string)

// State is the mutable bundle threaded through the cascade for one run.
type State struct {
	Run    *domain.Run
	Policy *ips.Config

	Symbols  []string                // current survivor set, sorted
	Contexts map[string]*ips.Context // per-symbol evaluation bundles
	Chains   map[string]*domain.OptionsChain
	Failures map[string][]string // failed high-weight general factors per symbol
	News     map[string][]string // recent headlines per symbol, for rationales
	Macro    map[string]float64  // canonical macro series values

	MacroFailed bool // at least one macro series fetch errored this run

	Candidates []*domain.Candidate
	NearMisses []*domain.Candidate
	Selected   []*domain.Candidate

	mu sync.Mutex
}

func (s *State) addError(stage, symbol string, err error, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Run.Errors = append(s.Run.Errors, domain.RunError{
		Stage:   stage,
		Symbol:  symbol,
		Kind:    domain.ErrorKind(err),
		Message: err.Error(),
		At:      at,
	})
}

// Execute runs the full cascade. The returned State always carries whatever
// was accumulated, including on error; the caller finalizes persistence.
func (p *Pipeline) Execute(ctx context.Context, run *domain.Run, policy *ips.Config, progress ProgressFn) (*State, error) {
	st := &State{
		Run:      run,
		Policy:   policy,
		Contexts: make(map[string]*ips.Context),
		Chains:   make(map[string]*domain.OptionsChain),
		Failures: make(map[string][]string),
		News:     make(map[string][]string),
	}
	if progress == nil {
		progress = func(string, int, int, string) {}
	}

	if err := p.prefilter(ctx, st); err != nil {
		return st, err
	}
	progress(domain.StepPrefilter, len(st.Contexts), 0,
		fmt.Sprintf("%d of %d symbols passed the general pre-filter", len(st.Symbols), len(run.InitialSymbols)))

	stop, err := p.checkpointC1(ctx, st)
	if err != nil || stop {
		return st, err
	}
	if err := cancelled(ctx); err != nil {
		return st, err
	}

	if err := p.fetchChains(ctx, st); err != nil {
		return st, err
	}
	progress(domain.StepChainFetch, len(st.Chains), 0,
		fmt.Sprintf("fetched %d option chains", len(st.Chains)))

	if err := p.highWeightFilter(st); err != nil {
		return st, err
	}
	progress(domain.StepHighWeight, len(st.Symbols), len(st.Candidates),
		fmt.Sprintf("%d candidates passed the high-weight filter, %d near-misses", len(st.Candidates), len(st.NearMisses)))

	stop, err = p.checkpointC2(ctx, st)
	if err != nil || stop {
		return st, err
	}
	if err := cancelled(ctx); err != nil {
		return st, err
	}

	p.lowWeightFilter(st)
	progress(domain.StepLowWeight, len(st.Symbols), len(st.Candidates),
		fmt.Sprintf("%d candidates passed the low-weight filter", len(st.Candidates)))

	stop, err = p.checkpointC3(ctx, st)
	if err != nil || stop {
		return st, err
	}

	if err := p.score(ctx, st); err != nil {
		return st, err
	}
	p.selectCandidates(st)
	p.attachRationales(ctx, st)
	progress(domain.StepScoring, len(st.Symbols), len(st.Selected),
		fmt.Sprintf("selected %d candidates", len(st.Selected)))

	return st, nil
}

// recordDecision appends one checkpoint outcome to the run and persists it.
// A persistence failure is logged but never alters control flow.
func (p *Pipeline) recordDecision(ctx context.Context, st *State, cp domain.Checkpoint, verdict domain.Verdict, reasoning string, symbolsToAdd []string, adjustments []domain.ThresholdAdjustment) {
	d := domain.ReasoningDecision{
		Checkpoint:   cp,
		Decision:     verdict,
		Reasoning:    reasoning,
		SymbolsToAdd: symbolsToAdd,
		Adjustments:  adjustments,
		Timestamp:    p.now(),
	}
	st.Run.Decisions = append(st.Run.Decisions, d)
	if err := p.repo.PersistDecision(ctx, st.Run.ID, d); err != nil {
		log.Warn().Err(err).Str("run_id", st.Run.ID).Str("checkpoint", string(cp)).
			Msg("Decision persist failed")
	}
	log.Info().Str("run_id", st.Run.ID).Str("checkpoint", string(cp)).
		Str("decision", string(verdict)).Msg("Checkpoint decision recorded")
}

func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	}
	return nil
}
