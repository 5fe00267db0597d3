// Package runner owns the run lifecycle: it opens the run row, drives the
// cascade, publishes progress at each step boundary, and finalizes status
// and artifacts whatever the outcome.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradescout/optionrun/internal/artifacts"
	"github.com/tradescout/optionrun/internal/config"
	"github.com/tradescout/optionrun/internal/domain"
	"github.com/tradescout/optionrun/internal/gateway"
	"github.com/tradescout/optionrun/internal/ips"
	"github.com/tradescout/optionrun/internal/persistence"
	"github.com/tradescout/optionrun/internal/pipeline"
)

// ProviderFactory hands out the per-run provider view. The Gateway
// implements it; tests substitute a stub.
type ProviderFactory interface {
	ForRun(runID string) gateway.Provider
}

// Controller exposes the job control surface: StartRun, GetRun, CancelRun,
// and a progress subscription per run.
type Controller struct {
	providers ProviderFactory
	registry  *ips.Registry
	ipsStore  ips.Store
	repo      persistence.Repository
	scoring   config.ScoringConfig
	artifacts *artifacts.Writer
	now       func() time.Time

	mu     sync.Mutex
	active map[string]*activeRun
}

type activeRun struct {
	cancel   context.CancelFunc
	progress domain.JobProgress
	subs     []chan domain.JobProgress
	done     bool
}

// New builds a controller. The artifacts writer may be nil to disable
// result snapshots; a nil now defaults to the wall clock.
func New(providers ProviderFactory, registry *ips.Registry, ipsStore ips.Store, repo persistence.Repository, scoring config.ScoringConfig, artifactsWriter *artifacts.Writer, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{
		providers: providers,
		registry:  registry,
		ipsStore:  ipsStore,
		repo:      repo,
		scoring:   scoring,
		artifacts: artifactsWriter,
		now:       now,
		active:    make(map[string]*activeRun),
	}
}

// StartRun opens the run row and launches the pipeline in the background.
// The run's lifetime is detached from the caller's context; CancelRun is
// the way to stop it.
func (c *Controller) StartRun(ctx context.Context, symbols []string, mode domain.RunMode, ipsID, userID string) (string, error) {
	run := &domain.Run{
		ID:             uuid.NewString(),
		Mode:           mode,
		InitialSymbols: symbols,
		IPSID:          ipsID,
		UserID:         userID,
		StartedAt:      c.now(),
		Status:         domain.StatusPending,
	}
	if err := c.repo.OpenRun(ctx, run); err != nil {
		return "", fmt.Errorf("open run: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.active[run.ID] = &activeRun{cancel: cancel}
	c.mu.Unlock()

	go c.execute(runCtx, run)

	log.Info().Str("run_id", run.ID).Str("mode", string(mode)).
		Int("symbols", len(symbols)).Msg("Run started")
	return run.ID, nil
}

// RunView is the GetRun result: the persisted run plus the latest telemetry.
type RunView struct {
	Run      *domain.Run        `json:"run"`
	Progress domain.JobProgress `json:"progress"`
}

// GetRun loads the run with its decisions and candidates, plus the most
// recent progress row if the run is (or was) tracked by this process.
func (c *Controller) GetRun(ctx context.Context, runID string) (*RunView, error) {
	run, err := c.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	view := &RunView{Run: run}
	c.mu.Lock()
	if a, ok := c.active[runID]; ok {
		view.Progress = a.progress
	}
	c.mu.Unlock()
	return view, nil
}

// CancelRun aborts an in-flight run. Completed runs are not cancellable.
func (c *Controller) CancelRun(runID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.active[runID]
	if !ok || a.done {
		return fmt.Errorf("run %s is not active", runID)
	}
	a.cancel()
	return nil
}

// Subscribe returns a channel receiving progress updates for the run. The
// channel closes when the run finishes. Unknown runs get a closed channel.
func (c *Controller) Subscribe(runID string) <-chan domain.JobProgress {
	ch := make(chan domain.JobProgress, domain.TotalRunSteps)
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.active[runID]
	if !ok || a.done {
		close(ch)
		return ch
	}
	a.subs = append(a.subs, ch)
	return ch
}

// stepOrder maps each progress step to its 1-based completion count.
var stepOrder = map[string]int{
	domain.StepInit:       1,
	domain.StepFetchIPS:   2,
	domain.StepPrefilter:  3,
	domain.StepChainFetch: 4,
	domain.StepHighWeight: 5,
	domain.StepLowWeight:  6,
	domain.StepScoring:    7,
	domain.StepComplete:   8,
}

func (c *Controller) execute(ctx context.Context, run *domain.Run) {
	defer c.finishTracking(run.ID)

	totalSymbols := len(run.InitialSymbols)
	publish := func(step string, symbolsProcessed, candidatesFound int, message string) {
		p := domain.JobProgress{
			CurrentStep:      step,
			CompletedSteps:   stepOrder[step],
			TotalSteps:       domain.TotalRunSteps,
			SymbolsProcessed: symbolsProcessed,
			TotalSymbols:     totalSymbols,
			CandidatesFound:  candidatesFound,
			Message:          message,
		}
		c.publish(ctx, run.ID, p)
	}

	publish(domain.StepInit, 0, 0, "run initialized")
	run.Status = domain.StatusRunning
	if err := c.repo.UpdateStatus(ctx, run.ID, domain.StatusRunning, "", ""); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Msg("Status update failed")
	}

	policy, err := ips.Load(ctx, c.ipsStore, c.registry, run.IPSID)
	if err != nil {
		c.fail(run, err)
		return
	}
	publish(domain.StepFetchIPS, 0, 0, fmt.Sprintf("loaded IPS %q with %d factors", policy.Name, len(policy.Factors)))

	pipe := pipeline.New(c.providers.ForRun(run.ID), c.registry, c.repo, c.scoring, c.now)
	st, err := pipe.Execute(ctx, run, policy, publish)
	if err != nil {
		c.fail(run, err)
		return
	}

	run.Selected = st.Selected
	for _, cand := range run.Selected {
		if err := c.repo.PersistCandidate(context.Background(), run.ID, cand); err != nil {
			log.Warn().Err(err).Str("run_id", run.ID).Str("candidate", cand.ID).
				Msg("Candidate persist failed")
		}
	}

	finished := c.now()
	run.FinishedAt = &finished
	run.Status = domain.StatusCompleted
	if err := c.repo.CloseRun(context.Background(), run); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Msg("Run close failed")
	}

	if c.artifacts != nil {
		if path, err := c.artifacts.WriteRun(run); err != nil {
			log.Warn().Err(err).Str("run_id", run.ID).Msg("Artifact write failed")
		} else {
			log.Info().Str("run_id", run.ID).Str("path", path).Msg("Run artifact written")
		}
	}

	publish(domain.StepComplete, totalSymbols, len(run.Selected), "run complete")
	log.Info().Str("run_id", run.ID).Int("selected", len(run.Selected)).
		Int("decisions", len(run.Decisions)).Msg("Run completed")
}

// fail finalizes a run that cannot continue. Partial state already persisted
// stays; the row records the error kind and message.
func (c *Controller) fail(run *domain.Run, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	}
	finished := c.now()
	run.FinishedAt = &finished
	run.Status = domain.StatusFailed
	run.ErrorKind = domain.ErrorKind(err)
	run.ErrorMessage = err.Error()

	if cerr := c.repo.CloseRun(context.Background(), run); cerr != nil {
		log.Warn().Err(cerr).Str("run_id", run.ID).Msg("Failed-run close failed")
	}
	log.Error().Err(err).Str("run_id", run.ID).Str("kind", run.ErrorKind).Msg("Run failed")
}

func (c *Controller) publish(ctx context.Context, runID string, p domain.JobProgress) {
	c.mu.Lock()
	a, ok := c.active[runID]
	if ok {
		// completed_steps is monotonic within a run
		if p.CompletedSteps < a.progress.CompletedSteps {
			p.CompletedSteps = a.progress.CompletedSteps
		}
		a.progress = p
		for _, ch := range a.subs {
			select {
			case ch <- p:
			default:
			}
		}
	}
	c.mu.Unlock()

	if err := c.repo.UpdateProgress(ctx, runID, p); err != nil {
		log.Debug().Err(err).Str("run_id", runID).Msg("Progress persist failed")
	}
}

func (c *Controller) finishTracking(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.active[runID]; ok {
		a.done = true
		a.cancel()
		for _, ch := range a.subs {
			close(ch)
		}
		a.subs = nil
	}
}

// Wait blocks until the run leaves the active set or the context expires.
// Intended for the CLI and tests; services poll GetRun instead.
func (c *Controller) Wait(ctx context.Context, runID string) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		c.mu.Lock()
		a, ok := c.active[runID]
		done := !ok || a.done
		c.mu.Unlock()
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
