// Package market derives per-symbol metrics from normalized provider data:
// technical indicators from daily closes, IV rank from the historical IV
// series, and put/call aggregates from a chain snapshot.
package market

import (
	"github.com/markcheno/go-talib"

	"github.com/tradescout/optionrun/internal/domain"
)

// Technicals holds locally computed indicator values for one symbol.
// Pointer fields are nil when the price history was too short.
type Technicals struct {
	RSI14       *float64 `json:"rsi_14"`
	MACD        *float64 `json:"macd"`
	GoldenCross *bool    `json:"golden_cross"`
}

// ComputeTechnicals derives RSI(14), MACD line, and the golden-cross state
// from a daily close series in ascending date order.
func ComputeTechnicals(series []domain.PricePoint) Technicals {
	closes := make([]float64, len(series))
	for i, p := range series {
		closes[i] = p.Close
	}

	var t Technicals

	if len(closes) >= 15 {
		rsi := talib.Rsi(closes, 14)
		v := rsi[len(rsi)-1]
		t.RSI14 = &v
	}

	// MACD(12,26,9): need the slow period plus signal warm-up.
	if len(closes) >= 35 {
		macd, _, _ := talib.Macd(closes, 12, 26, 9)
		v := macd[len(macd)-1]
		t.MACD = &v
	}

	if len(closes) >= 200 {
		sma50 := talib.Sma(closes, 50)
		sma200 := talib.Sma(closes, 200)
		crossed := sma50[len(sma50)-1] > sma200[len(sma200)-1]
		t.GoldenCross = &crossed
	}

	return t
}

// Momentum returns the n-period momentum of the close series, or nil when
// the series is too short.
func Momentum(series []domain.PricePoint, n int) *float64 {
	if len(series) <= n {
		return nil
	}
	closes := make([]float64, len(series))
	for i, p := range series {
		closes[i] = p.Close
	}
	mom := talib.Mom(closes, n)
	v := mom[len(mom)-1]
	return &v
}
