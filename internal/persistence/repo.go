// Package persistence defines the narrow repository surface the run
// controller persists through. Schemas are owned by the external layer;
// the agent only writes.
package persistence

import (
	"context"
	"time"

	"github.com/tradescout/optionrun/internal/domain"
)

// Repository persists run artifacts. One run's artifacts are never shared
// with another run. Implementations must be safe for concurrent use from a
// single run's task graph.
type Repository interface {
	// OpenRun inserts the run row in pending state.
	OpenRun(ctx context.Context, run *domain.Run) error

	// UpdateStatus moves the run through its monotonic status transitions.
	UpdateStatus(ctx context.Context, runID string, status domain.RunStatus, errKind, errMsg string) error

	// UpdateProgress upserts the latest telemetry row for the run.
	UpdateProgress(ctx context.Context, runID string, p domain.JobProgress) error

	// PersistRawOptions stores a chain snapshot summary under the run.
	PersistRawOptions(ctx context.Context, runID string, chain *domain.OptionsChain) error

	// PersistContracts stores the normalized contract rows of a snapshot.
	PersistContracts(ctx context.Context, runID string, contracts []domain.OptionContract) error

	// PersistCandidate stores one enriched candidate.
	PersistCandidate(ctx context.Context, runID string, c *domain.Candidate) error

	// PersistDecision appends one checkpoint decision.
	PersistDecision(ctx context.Context, runID string, d domain.ReasoningDecision) error

	// CloseRun finalizes the run row with its terminal state.
	CloseRun(ctx context.Context, run *domain.Run) error

	// GetRun loads a run with its decisions and candidates.
	GetRun(ctx context.Context, runID string) (*domain.Run, error)

	// LogTool appends one outbound-call record. Must never fail the caller.
	LogTool(ctx context.Context, runID, tool, target string, latency time.Duration, callErr error)
}
