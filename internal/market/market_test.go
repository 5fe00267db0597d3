package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradescout/optionrun/internal/domain"
)

func ivSeries(values ...float64) []domain.IVPoint {
	out := make([]domain.IVPoint, len(values))
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range values {
		out[i] = domain.IVPoint{Date: day.AddDate(0, 0, i), IVATM30: v}
	}
	return out
}

func TestComputeIVStatsThinHistory(t *testing.T) {
	series := ivSeries(make([]float64, MinIVSamples-1)...)
	assert.Nil(t, ComputeIVStats(series), "fewer than 20 samples is not reportable")
}

func TestComputeIVStatsRankAndPercentile(t *testing.T) {
	// 19 observations from 10..28, then a current value of 40.
	values := make([]float64, 0, 20)
	for i := 0; i < 19; i++ {
		values = append(values, 10+float64(i))
	}
	values = append(values, 40)

	stats := ComputeIVStats(ivSeries(values...))
	require.NotNil(t, stats)
	assert.Equal(t, 20, stats.Samples)
	assert.Equal(t, 40.0, stats.Current)
	assert.InDelta(t, 100.0, stats.Rank, 1e-9, "current is the max")
	assert.InDelta(t, 95.0, stats.Percentile, 1e-9, "19 of 20 below current")
}

func TestComputeIVStatsFlatSeries(t *testing.T) {
	values := make([]float64, 25)
	for i := range values {
		values[i] = 30
	}
	stats := ComputeIVStats(ivSeries(values...))
	require.NotNil(t, stats)
	assert.Equal(t, 0.0, stats.Rank)
	assert.Equal(t, 0.0, stats.Percentile)
}

func TestComputeChainMetrics(t *testing.T) {
	i64 := func(v int64) *int64 { return &v }
	chain := &domain.OptionsChain{
		Symbol: "TEST",
		Contracts: []domain.OptionContract{
			{Type: domain.Put, Volume: i64(300), OpenInterest: i64(1000)},
			{Type: domain.Put, Volume: i64(100), OpenInterest: i64(500)},
			{Type: domain.Call, Volume: i64(200), OpenInterest: i64(3000)},
		},
	}
	m := ComputeChainMetrics(chain)
	require.NotNil(t, m.PutCallVolumeRatio)
	assert.InDelta(t, 2.0, *m.PutCallVolumeRatio, 1e-9)
	require.NotNil(t, m.PutCallOIRatio)
	assert.InDelta(t, 0.5, *m.PutCallOIRatio, 1e-9)
}

func TestComputeChainMetricsNoCalls(t *testing.T) {
	i64 := func(v int64) *int64 { return &v }
	chain := &domain.OptionsChain{
		Contracts: []domain.OptionContract{
			{Type: domain.Put, Volume: i64(300), OpenInterest: i64(1000)},
		},
	}
	m := ComputeChainMetrics(chain)
	assert.Nil(t, m.PutCallVolumeRatio, "no call volume means no ratio")
	assert.Nil(t, m.PutCallOIRatio)
}

func TestComputeTechnicalsShortSeries(t *testing.T) {
	series := make([]domain.PricePoint, 10)
	for i := range series {
		series[i] = domain.PricePoint{Close: 100 + float64(i)}
	}
	tech := ComputeTechnicals(series)
	assert.Nil(t, tech.RSI14)
	assert.Nil(t, tech.MACD)
	assert.Nil(t, tech.GoldenCross)
}

func TestComputeTechnicalsRisingSeries(t *testing.T) {
	series := make([]domain.PricePoint, 220)
	for i := range series {
		series[i] = domain.PricePoint{Close: 100 + float64(i)*0.5}
	}
	tech := ComputeTechnicals(series)
	require.NotNil(t, tech.RSI14)
	assert.Greater(t, *tech.RSI14, 50.0, "monotonic rise keeps RSI high")
	require.NotNil(t, tech.GoldenCross)
	assert.True(t, *tech.GoldenCross, "SMA50 above SMA200 on a rising series")

	mom := Momentum(series, 10)
	require.NotNil(t, mom)
	assert.InDelta(t, 5.0, *mom, 1e-9)
}
