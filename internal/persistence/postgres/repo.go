// Package postgres implements the run repository over PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/tradescout/optionrun/internal/domain"
	"github.com/tradescout/optionrun/internal/persistence"
)

// Repo is the sqlx-backed repository. Every query carries a ctx timeout.
type Repo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// New wraps an open sqlx handle.
func New(db *sqlx.DB, timeout time.Duration) persistence.Repository {
	return &Repo{db: db, timeout: timeout}
}

// Open dials postgres and verifies the connection.
func Open(dsn string, timeout time.Duration) (persistence.Repository, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	return New(db, timeout), nil
}

func (r *Repo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Repo) OpenRun(ctx context.Context, run *domain.Run) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO runs (run_id, mode, initial_symbols, ips_id, user_id, started_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.Mode, pq.Array(run.InitialSymbols), run.IPSID, run.UserID,
		run.StartedAt, run.Status)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate run %s: %w", run.ID, err)
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (r *Repo) UpdateStatus(ctx context.Context, runID string, status domain.RunStatus, errKind, errMsg string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE runs SET status = $2, error_kind = NULLIF($3, ''), error_message = NULLIF($4, ''),
		       finished_at = CASE WHEN $2 IN ('completed', 'failed') THEN now() ELSE finished_at END
		WHERE run_id = $1`

	if _, err := r.db.ExecContext(ctx, query, runID, status, errKind, errMsg); err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

func (r *Repo) UpdateProgress(ctx context.Context, runID string, p domain.JobProgress) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO run_progress (run_id, current_step, completed_steps, total_steps,
		                          symbols_processed, total_symbols, candidates_found, message, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (run_id) DO UPDATE SET
		  current_step = EXCLUDED.current_step,
		  completed_steps = GREATEST(run_progress.completed_steps, EXCLUDED.completed_steps),
		  symbols_processed = EXCLUDED.symbols_processed,
		  total_symbols = EXCLUDED.total_symbols,
		  candidates_found = EXCLUDED.candidates_found,
		  message = EXCLUDED.message,
		  updated_at = now()`

	if _, err := r.db.ExecContext(ctx, query, runID, p.CurrentStep, p.CompletedSteps,
		p.TotalSteps, p.SymbolsProcessed, p.TotalSymbols, p.CandidatesFound, p.Message); err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}

func (r *Repo) PersistRawOptions(ctx context.Context, runID string, chain *domain.OptionsChain) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO raw_option_snapshots (run_id, symbol, asof, contract_count)
		VALUES ($1, $2, $3, $4)`

	if _, err := r.db.ExecContext(ctx, query, runID, chain.Symbol, chain.AsOf, len(chain.Contracts)); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (r *Repo) PersistContracts(ctx context.Context, runID string, contracts []domain.OptionContract) error {
	if len(contracts) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(contracts)/500+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin contracts tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO option_contracts (run_id, contract_symbol, underlying, expiry, strike, type,
		                              bid, ask, last, iv, delta, gamma, theta, vega,
		                              open_interest, volume, asof)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`)
	if err != nil {
		return fmt.Errorf("prepare contracts: %w", err)
	}
	defer stmt.Close()

	for _, c := range contracts {
		underlying := underlyingOf(c.Symbol)
		if _, err := stmt.ExecContext(ctx, runID, c.Symbol, underlying, c.Expiry, c.Strike, c.Type,
			c.Bid, c.Ask, c.Last, c.IV, c.Delta, c.Gamma, c.Theta, c.Vega,
			c.OpenInterest, c.Volume, c.AsOf); err != nil {
			return fmt.Errorf("insert contract %s: %w", c.Symbol, err)
		}
	}
	return tx.Commit()
}

func (r *Repo) PersistCandidate(ctx context.Context, runID string, c *domain.Candidate) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	detail, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal candidate: %w", err)
	}

	query := `
		INSERT INTO candidates (id, run_id, symbol, sector, strategy, entry_mid, max_profit,
		                        max_loss, breakeven, est_pop, ips_score, composite_score, tier,
		                        detailed_analysis, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	if _, err := r.db.ExecContext(ctx, query, c.ID, runID, c.Symbol, c.Sector, c.Strategy,
		c.EntryMid, c.MaxProfit, c.MaxLoss, c.Breakeven, c.EstPOP,
		c.IPSScore, c.CompositeScore, c.Tier, detail, c.CreatedAt); err != nil {
		return fmt.Errorf("insert candidate: %w", err)
	}
	return nil
}

func (r *Repo) PersistDecision(ctx context.Context, runID string, d domain.ReasoningDecision) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	adjustments, err := json.Marshal(d.Adjustments)
	if err != nil {
		return fmt.Errorf("marshal adjustments: %w", err)
	}

	query := `
		INSERT INTO reasoning_decisions (run_id, checkpoint_id, decision, reasoning,
		                                 symbols_to_add, threshold_adjustments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := r.db.ExecContext(ctx, query, runID, d.Checkpoint, d.Decision, d.Reasoning,
		pq.Array(d.SymbolsToAdd), adjustments, d.Timestamp); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func (r *Repo) CloseRun(ctx context.Context, run *domain.Run) error {
	return r.UpdateStatus(ctx, run.ID, run.Status, run.ErrorKind, run.ErrorMessage)
}

func (r *Repo) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var row struct {
		RunID          string         `db:"run_id"`
		Mode           string         `db:"mode"`
		InitialSymbols pq.StringArray `db:"initial_symbols"`
		IPSID          string         `db:"ips_id"`
		UserID         string         `db:"user_id"`
		StartedAt      time.Time      `db:"started_at"`
		FinishedAt     *time.Time     `db:"finished_at"`
		Status         string         `db:"status"`
		ErrorKind      *string        `db:"error_kind"`
		ErrorMessage   *string        `db:"error_message"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT run_id, mode, initial_symbols, ips_id, user_id, started_at, finished_at,
		       status, error_kind, error_message
		FROM runs WHERE run_id = $1`, runID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}

	run := &domain.Run{
		ID:             row.RunID,
		Mode:           domain.RunMode(row.Mode),
		InitialSymbols: row.InitialSymbols,
		IPSID:          row.IPSID,
		UserID:         row.UserID,
		StartedAt:      row.StartedAt,
		FinishedAt:     row.FinishedAt,
		Status:         domain.RunStatus(row.Status),
	}
	if row.ErrorKind != nil {
		run.ErrorKind = *row.ErrorKind
	}
	if row.ErrorMessage != nil {
		run.ErrorMessage = *row.ErrorMessage
	}

	if err := r.loadDecisions(ctx, run); err != nil {
		return nil, err
	}
	if err := r.loadCandidates(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (r *Repo) loadDecisions(ctx context.Context, run *domain.Run) error {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT checkpoint_id, decision, reasoning, symbols_to_add, threshold_adjustments, created_at
		FROM reasoning_decisions WHERE run_id = $1 ORDER BY created_at`, run.ID)
	if err != nil {
		return fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d domain.ReasoningDecision
		var symbols pq.StringArray
		var adjustments []byte
		if err := rows.Scan(&d.Checkpoint, &d.Decision, &d.Reasoning, &symbols, &adjustments, &d.Timestamp); err != nil {
			return fmt.Errorf("scan decision: %w", err)
		}
		d.SymbolsToAdd = symbols
		if len(adjustments) > 0 {
			if err := json.Unmarshal(adjustments, &d.Adjustments); err != nil {
				return fmt.Errorf("unmarshal adjustments: %w", err)
			}
		}
		run.Decisions = append(run.Decisions, d)
	}
	return rows.Err()
}

func (r *Repo) loadCandidates(ctx context.Context, run *domain.Run) error {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT detailed_analysis FROM candidates
		WHERE run_id = $1 ORDER BY composite_score DESC, symbol`, run.ID)
	if err != nil {
		return fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var detail []byte
		if err := rows.Scan(&detail); err != nil {
			return fmt.Errorf("scan candidate: %w", err)
		}
		var c domain.Candidate
		if err := json.Unmarshal(detail, &c); err != nil {
			return fmt.Errorf("unmarshal candidate: %w", err)
		}
		run.Selected = append(run.Selected, &c)
	}
	return rows.Err()
}

// LogTool appends to the tool log best-effort; a logging failure never
// fails the provider call it describes.
func (r *Repo) LogTool(ctx context.Context, runID, tool, target string, latency time.Duration, callErr error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	errText := ""
	if callErr != nil {
		errText = callErr.Error()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tool_log (run_id, tool, target, latency_ms, error, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), now())`,
		runID, tool, target, latency.Milliseconds(), errText)
	if err != nil {
		log.Warn().Err(err).Str("run_id", runID).Str("tool", tool).Msg("Tool log write failed")
	}
}

// underlyingOf strips the OCC-style contract suffix, best effort.
func underlyingOf(contractSymbol string) string {
	for i, ch := range contractSymbol {
		if ch >= '0' && ch <= '9' {
			return contractSymbol[:i]
		}
	}
	return contractSymbol
}
