package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tradescout/optionrun/internal/domain"
)

// MemoryRepository keeps run artifacts in process memory. It backs tests and
// --dry-run invocations where no database is configured.
type MemoryRepository struct {
	mu        sync.Mutex
	runs      map[string]*domain.Run
	progress  map[string]domain.JobProgress
	snapshots map[string][]*domain.OptionsChain
	contracts map[string][]domain.OptionContract
	toolLog   map[string][]ToolLogEntry
}

// ToolLogEntry is one recorded outbound call.
type ToolLogEntry struct {
	Tool    string
	Target  string
	Latency time.Duration
	Err     string
	At      time.Time
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		runs:      make(map[string]*domain.Run),
		progress:  make(map[string]domain.JobProgress),
		snapshots: make(map[string][]*domain.OptionsChain),
		contracts: make(map[string][]domain.OptionContract),
		toolLog:   make(map[string][]ToolLogEntry),
	}
}

func (m *MemoryRepository) OpenRun(_ context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	clone := *run
	m.runs[run.ID] = &clone
	return nil
}

func (m *MemoryRepository) UpdateStatus(_ context.Context, runID string, status domain.RunStatus, errKind, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	run.Status = status
	run.ErrorKind = errKind
	run.ErrorMessage = errMsg
	return nil
}

func (m *MemoryRepository) UpdateProgress(_ context.Context, runID string, p domain.JobProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[runID] = p
	return nil
}

func (m *MemoryRepository) PersistRawOptions(_ context.Context, runID string, chain *domain.OptionsChain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[runID] = append(m.snapshots[runID], chain)
	return nil
}

func (m *MemoryRepository) PersistContracts(_ context.Context, runID string, contracts []domain.OptionContract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts[runID] = append(m.contracts[runID], contracts...)
	return nil
}

func (m *MemoryRepository) PersistCandidate(_ context.Context, runID string, c *domain.Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	run.Selected = append(run.Selected, c)
	return nil
}

func (m *MemoryRepository) PersistDecision(_ context.Context, runID string, d domain.ReasoningDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	run.Decisions = append(run.Decisions, d)
	return nil
}

func (m *MemoryRepository) CloseRun(_ context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *run
	m.runs[run.ID] = &clone
	return nil
}

func (m *MemoryRepository) GetRun(_ context.Context, runID string) (*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	clone := *run
	return &clone, nil
}

func (m *MemoryRepository) LogTool(_ context.Context, runID, tool, target string, latency time.Duration, callErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := ToolLogEntry{Tool: tool, Target: target, Latency: latency, At: time.Now()}
	if callErr != nil {
		entry.Err = callErr.Error()
	}
	m.toolLog[runID] = append(m.toolLog[runID], entry)
}

// ToolLogFor returns the recorded calls for a run (test helper).
func (m *MemoryRepository) ToolLogFor(runID string) []ToolLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ToolLogEntry(nil), m.toolLog[runID]...)
}

// SnapshotsFor returns the persisted chain snapshots for a run (test helper).
func (m *MemoryRepository) SnapshotsFor(runID string) []*domain.OptionsChain {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.OptionsChain(nil), m.snapshots[runID]...)
}

// ProgressFor returns the latest progress row for a run (test helper).
func (m *MemoryRepository) ProgressFor(runID string) domain.JobProgress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress[runID]
}
