package artifacts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradescout/optionrun/internal/domain"
)

func TestWriteRunSnapshot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "artifacts")
	now := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	w := NewWriter(dir, func() time.Time { return now })

	run := &domain.Run{
		ID:     "run-abc",
		Mode:   domain.ModePaper,
		Status: domain.StatusCompleted,
		Selected: []*domain.Candidate{
			{ID: "cand-1", Symbol: "AAPL", Strategy: domain.PutCreditSpread},
		},
	}

	path, err := w.WriteRun(run)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20250602_143000_run-abc.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var artifact struct {
		RunID    string      `json:"run_id"`
		Status   string      `json:"status"`
		Selected int         `json:"selected_count"`
		Run      *domain.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(data, &artifact))
	assert.Equal(t, "run-abc", artifact.RunID)
	assert.Equal(t, "completed", artifact.Status)
	assert.Equal(t, 1, artifact.Selected)
	require.NotNil(t, artifact.Run)
	assert.Equal(t, "AAPL", artifact.Run.Selected[0].Symbol)

	// No temp file left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
