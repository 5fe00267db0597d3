// Package artifacts writes timestamped JSON snapshots of finished runs so
// results survive outside the database and can be diffed between runs.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tradescout/optionrun/internal/domain"
)

// Writer persists run result snapshots under a base directory.
type Writer struct {
	dir string
	now func() time.Time
}

// NewWriter creates a writer rooted at dir. A nil now uses the wall clock.
func NewWriter(dir string, now func() time.Time) *Writer {
	if now == nil {
		now = time.Now
	}
	return &Writer{dir: dir, now: now}
}

// runArtifact is the on-disk shape: a small header plus the full run.
type runArtifact struct {
	WrittenAt time.Time   `json:"written_at"`
	RunID     string      `json:"run_id"`
	Status    string      `json:"status"`
	Selected  int         `json:"selected_count"`
	Run       *domain.Run `json:"run"`
}

// WriteRun snapshots one run to <dir>/<timestamp>_<run_id>.json and returns
// the written path. The file is written whole via a temp file and rename.
func (w *Writer) WriteRun(run *domain.Run) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifacts dir: %w", err)
	}

	artifact := runArtifact{
		WrittenAt: w.now(),
		RunID:     run.ID,
		Status:    string(run.Status),
		Selected:  len(run.Selected),
		Run:       run,
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run artifact: %w", err)
	}

	name := fmt.Sprintf("%s_%s.json", w.now().UTC().Format("20060102_150405"), run.ID)
	path := filepath.Join(w.dir, name)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write run artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalize run artifact: %w", err)
	}
	return path, nil
}
