// Package domain holds the core entities shared by the candidate-generation
// pipeline: runs, option contracts, spread candidates, and the error taxonomy.
package domain

import (
	"time"
)

// RunMode selects how a run's output is intended to be used.
type RunMode string

const (
	ModeBacktest RunMode = "backtest"
	ModePaper    RunMode = "paper"
	ModeLive     RunMode = "live"
)

// RunStatus transitions monotonically pending -> running -> {completed, failed}.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Run is one invocation of the candidate-generation pipeline. A run
// exclusively owns its candidates, decisions, and raw chain snapshots.
type Run struct {
	ID             string              `json:"run_id"`
	Mode           RunMode             `json:"mode"`
	InitialSymbols []string            `json:"initial_symbols"`
	IPSID          string              `json:"ips_id"`
	UserID         string              `json:"user_id"`
	StartedAt      time.Time           `json:"started_at"`
	FinishedAt     *time.Time          `json:"finished_at,omitempty"`
	Status         RunStatus           `json:"status"`
	Selected       []*Candidate        `json:"selected"`
	Decisions      []ReasoningDecision `json:"decisions"`
	Errors         []RunError          `json:"errors"`
	ErrorKind      string              `json:"error_kind,omitempty"`
	ErrorMessage   string              `json:"error_message,omitempty"`
}

// RunError records a non-fatal error observed during a stage, attributed to
// the symbol it occurred on where applicable.
type RunError struct {
	Stage   string    `json:"stage"`
	Symbol  string    `json:"symbol,omitempty"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Checkpoint identifies one of the three reasoning checkpoints.
type Checkpoint string

const (
	CheckpointC1 Checkpoint = "C1" // after general pre-filter
	CheckpointC2 Checkpoint = "C2" // after high-weight chain filter
	CheckpointC3 Checkpoint = "C3" // after low-weight filter
)

// Verdict is the outcome of a reasoning checkpoint.
type Verdict string

const (
	VerdictProceed     Verdict = "PROCEED"
	VerdictCaution     Verdict = "PROCEED_WITH_CAUTION"
	VerdictReject      Verdict = "REJECT"
)

// ThresholdAdjustment is a relaxation proposed by the reasoning model at C2.
type ThresholdAdjustment struct {
	Factor       string  `json:"factor"`
	OldThreshold float64 `json:"old_threshold"`
	NewThreshold float64 `json:"new_threshold"`
}

// ReasoningDecision is one checkpoint outcome. Decisions are appended in
// checkpoint order and never mutated.
type ReasoningDecision struct {
	Checkpoint   Checkpoint            `json:"checkpoint_id"`
	Decision     Verdict               `json:"decision"`
	Reasoning    string                `json:"reasoning"`
	SymbolsToAdd []string              `json:"symbols_to_add,omitempty"`
	Adjustments  []ThresholdAdjustment `json:"threshold_adjustments,omitempty"`
	Timestamp    time.Time             `json:"timestamp"`
}

// JobProgress is one telemetry row published at each step boundary.
// CompletedSteps never exceeds TotalSteps and never decreases within a run.
type JobProgress struct {
	CurrentStep      string `json:"current_step"`
	CompletedSteps   int    `json:"completed_steps"`
	TotalSteps       int    `json:"total_steps"`
	SymbolsProcessed int    `json:"symbols_processed"`
	TotalSymbols     int    `json:"total_symbols"`
	CandidatesFound  int    `json:"candidates_found"`
	Message          string `json:"message"`
}

// Progress step names, in pipeline order.
const (
	StepInit       = "init"
	StepFetchIPS   = "fetch_ips"
	StepPrefilter  = "prefilter"
	StepChainFetch = "chain_fetch"
	StepHighWeight = "high_weight"
	StepLowWeight  = "low_weight"
	StepScoring    = "scoring"
	StepComplete   = "complete"
)

// TotalRunSteps is the number of progress boundaries a run publishes.
const TotalRunSteps = 8
