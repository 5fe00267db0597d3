package pipeline

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/tradescout/optionrun/internal/domain"
)

// Per-tier take limits for the final selection.
var tierLimits = map[domain.Tier]int{
	domain.TierElite:       5,
	domain.TierQuality:     10,
	domain.TierSpeculative: 5,
}

// tierRank orders tiers for the selection sort, best first.
func tierRank(t domain.Tier) int {
	switch t {
	case domain.TierElite:
		return 3
	case domain.TierQuality:
		return 2
	case domain.TierSpeculative:
		return 1
	default:
		return 0
	}
}

// selectCandidates produces the final shortlist: sort by tier then composite
// with a deterministic symbol/strike tiebreak, take per-tier limits, and
// enforce the sector, symbol, and strategy diversification caps in order.
func (p *Pipeline) selectCandidates(st *State) {
	sorted := append([]*domain.Candidate(nil), st.Candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if ri, rj := tierRank(sorted[i].Tier), tierRank(sorted[j].Tier); ri != rj {
			return ri > rj
		}
		if sorted[i].CompositeScore != sorted[j].CompositeScore {
			return sorted[i].CompositeScore > sorted[j].CompositeScore
		}
		if sorted[i].Symbol != sorted[j].Symbol {
			return sorted[i].Symbol < sorted[j].Symbol
		}
		return shortStrike(sorted[i]) < shortStrike(sorted[j])
	})

	var (
		picked      []*domain.Candidate
		tierTaken   = make(map[domain.Tier]int)
		perSector   = make(map[string]int)
		perSymbol   = make(map[string]int)
		perStrategy = make(map[domain.Strategy]int)
	)
	for _, c := range sorted {
		limit, tiered := tierLimits[c.Tier]
		if !tiered || tierTaken[c.Tier] >= limit {
			continue
		}
		if perSector[c.Sector] >= p.cfg.MaxPerSector ||
			perSymbol[c.Symbol] >= p.cfg.MaxPerSymbol ||
			perStrategy[c.Strategy] >= p.cfg.MaxPerStrategy {
			continue
		}

		c.DiversityScore = diversityScore(c, picked)
		picked = append(picked, c)
		tierTaken[c.Tier]++
		perSector[c.Sector]++
		perSymbol[c.Symbol]++
		perStrategy[c.Strategy]++
	}

	st.Selected = picked
	log.Info().Str("run_id", st.Run.ID).Int("selected", len(picked)).
		Int("scored", len(st.Candidates)).Msg("Selection complete")
}

// diversityScore measures how different a candidate is from the selection
// accumulated before it. 100 means nothing similar was picked yet.
func diversityScore(c *domain.Candidate, picked []*domain.Candidate) float64 {
	score := 100.0
	for _, p := range picked {
		switch {
		case p.Symbol == c.Symbol:
			score -= 15
		case p.Sector != "" && p.Sector == c.Sector:
			score -= 7
		}
		if p.Strategy == c.Strategy {
			score -= 3
		}
	}
	if score < 0 {
		return 0
	}
	return score
}
