package market

import (
	"sort"

	"github.com/tradescout/optionrun/internal/domain"
)

// MinIVSamples is the minimum history length for IV rank/percentile to be
// reportable. Factors backed by a thinner series are non-blocking and pass.
const MinIVSamples = 20

// IVStats summarizes where the current ATM IV sits inside its own history.
type IVStats struct {
	Current    float64 `json:"current"`
	Rank       float64 `json:"rank"`       // (current - min) / (max - min), 0-100
	Percentile float64 `json:"percentile"` // share of history below current, 0-100
	Samples    int     `json:"samples"`
}

// ComputeIVStats computes IV rank and percentile across the time series of
// daily ATM 30d IV observations. Returns nil when the series is shorter than
// MinIVSamples; comparisons across strikes are not a substitute.
func ComputeIVStats(history []domain.IVPoint) *IVStats {
	if len(history) < MinIVSamples {
		return nil
	}

	values := make([]float64, len(history))
	for i, p := range history {
		values[i] = p.IVATM30
	}
	current := values[len(values)-1]

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	lo, hi := sorted[0], sorted[len(sorted)-1]

	stats := &IVStats{Current: current, Samples: len(values)}

	if hi > lo {
		stats.Rank = (current - lo) / (hi - lo) * 100
	}

	below := 0
	for _, v := range values {
		if v < current {
			below++
		}
	}
	stats.Percentile = float64(below) / float64(len(values)) * 100

	return stats
}
