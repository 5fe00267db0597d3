// Package generator enumerates spread candidates from a normalized options
// chain. Put credit spreads are the initial strategy.
package generator

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradescout/optionrun/internal/domain"
)

const (
	maxExpiries      = 3    // consider the first three expiries only
	maxStrikesScan   = 50   // strikes scanned per expiry, highest first
	maxShortDelta    = 0.5  // skip deep-ITM / ATM shorts
	minRiskReward    = 0.15 // max_profit / max_loss, strict
	fallbackPOP      = 0.7  // est_pop when the short delta is absent
	longLegOffset    = 2    // pair short with the "i+2" lower strike

	boundaryEpsilon = 1e-9 // float noise guard on the risk/reward boundary
)

// PutCreditSpreads enumerates put credit spread candidates for one symbol.
// The chain may contain both sides; only quoted OTM puts participate.
func PutCreditSpreads(symbol, sector string, chain *domain.OptionsChain, underlying float64, now time.Time) []*domain.Candidate {
	puts := make([]domain.OptionContract, 0, len(chain.Contracts))
	for _, c := range chain.Contracts {
		if c.Type == domain.Put && c.Strike < underlying && c.HasQuote() {
			puts = append(puts, c)
		}
	}
	if len(puts) == 0 {
		return nil
	}

	byExpiry := make(map[time.Time][]domain.OptionContract)
	for _, c := range puts {
		byExpiry[c.Expiry] = append(byExpiry[c.Expiry], c)
	}
	expiries := make([]time.Time, 0, len(byExpiry))
	for e := range byExpiry {
		expiries = append(expiries, e)
	}
	sort.Slice(expiries, func(i, j int) bool { return expiries[i].Before(expiries[j]) })
	if len(expiries) > maxExpiries {
		expiries = expiries[:maxExpiries]
	}

	var out []*domain.Candidate
	for _, expiry := range expiries {
		strikes := byExpiry[expiry]
		sort.Slice(strikes, func(i, j int) bool { return strikes[i].Strike > strikes[j].Strike })
		if len(strikes) > maxStrikesScan {
			strikes = strikes[:maxStrikesScan]
		}

		for i := range strikes {
			short := strikes[i]
			if short.Delta != nil && math.Abs(*short.Delta) > maxShortDelta {
				continue
			}

			longIdx := i + longLegOffset
			if longIdx >= len(strikes) {
				if i+1 >= len(strikes) {
					continue // no strike left below the short
				}
				longIdx = len(strikes) - 1
			}
			long := strikes[longIdx]

			if c := buildSpread(symbol, sector, short, long, now); c != nil {
				out = append(out, c)
			}
		}
	}

	log.Debug().Str("symbol", symbol).Int("candidates", len(out)).
		Int("puts", len(puts)).Msg("Put credit spread enumeration complete")
	return out
}

func buildSpread(symbol, sector string, short, long domain.OptionContract, now time.Time) *domain.Candidate {
	width := short.Strike - long.Strike
	if width <= 0 {
		return nil
	}
	shortMid, ok := short.Mid()
	if !ok {
		return nil
	}
	longMid, ok := long.Mid()
	if !ok {
		return nil
	}
	entryMid := shortMid - longMid
	if entryMid <= 0 {
		return nil
	}

	maxProfit := entryMid
	maxLoss := width - entryMid
	if maxLoss <= 0 {
		return nil
	}
	// Exactly minRiskReward is rejected; acceptance requires strictly more.
	// The ratio comes from strike and mid subtraction, so the boundary is
	// compared with an epsilon to stay stable under float noise.
	if maxProfit/maxLoss <= minRiskReward+boundaryEpsilon {
		return nil
	}

	pop := fallbackPOP
	if short.Delta != nil {
		pop = 1 - math.Abs(*short.Delta)
	}

	return &domain.Candidate{
		ID:       uuid.NewString(),
		Symbol:   symbol,
		Sector:   sector,
		Strategy: domain.PutCreditSpread,
		Legs: []domain.SpreadLeg{
			{Role: domain.ShortLeg, Contract: short},
			{Role: domain.LongLeg, Contract: long},
		},
		EntryMid:  entryMid,
		Width:     width,
		MaxProfit: maxProfit,
		MaxLoss:   maxLoss,
		Breakeven: short.Strike - entryMid,
		EstPOP:    pop,
		CreatedAt: now,
	}
}
