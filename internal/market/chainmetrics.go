package market

import (
	"github.com/tradescout/optionrun/internal/domain"
)

// ChainMetrics are aggregates over one chain snapshot. Ratio pointers are
// nil when the denominator side had no activity.
type ChainMetrics struct {
	PutCallVolumeRatio *float64 `json:"put_call_volume_ratio"`
	PutCallOIRatio     *float64 `json:"put_call_oi_ratio"`
	PutVolume          int64    `json:"put_volume"`
	CallVolume         int64    `json:"call_volume"`
	PutOI              int64    `json:"put_oi"`
	CallOI             int64    `json:"call_oi"`
}

// ComputeChainMetrics sums volume and open interest by side and derives the
// put/call ratios.
func ComputeChainMetrics(chain *domain.OptionsChain) ChainMetrics {
	var m ChainMetrics
	for i := range chain.Contracts {
		c := &chain.Contracts[i]
		var vol, oi int64
		if c.Volume != nil {
			vol = *c.Volume
		}
		if c.OpenInterest != nil {
			oi = *c.OpenInterest
		}
		switch c.Type {
		case domain.Put:
			m.PutVolume += vol
			m.PutOI += oi
		case domain.Call:
			m.CallVolume += vol
			m.CallOI += oi
		}
	}
	if m.CallVolume > 0 {
		r := float64(m.PutVolume) / float64(m.CallVolume)
		m.PutCallVolumeRatio = &r
	}
	if m.CallOI > 0 {
		r := float64(m.PutOI) / float64(m.CallOI)
		m.PutCallOIRatio = &r
	}
	return m
}
