package pipeline

import (
	"context"
	"math"

	"github.com/tradescout/optionrun/internal/domain"
)

// Composite blend shares. Historical data, when present, displaces part of
// the yield and IPS shares.
const (
	blendYieldFull = 0.4
	blendIPSFull   = 0.3
	blendHistFull  = 0.3
	blendYieldNoHx = 0.6
	blendIPSNoHx   = 0.4
)

// score is the scoring stage: yield, IPS compliance, tier, historical
// correlation, and the composite blend for every surviving candidate.
func (p *Pipeline) score(ctx context.Context, st *State) error {
	for _, c := range st.Candidates {
		c.YieldScore = yieldScore(c)
		c.IPSScore = ipsScore(c.FactorScores)
		c.Tier = p.tierFor(c.IPSScore)
		p.attachHistorical(ctx, st, c)
		c.CompositeScore = compositeScore(c)
	}
	return cancelled(ctx)
}

// yieldScore caps the profit-to-risk ratio at 100. The denominator floor of
// 1 keeps narrow spreads from producing absurd yields.
func yieldScore(c *domain.Candidate) float64 {
	return math.Min(100, c.MaxProfit/math.Max(c.MaxLoss, 1)*100)
}

// ipsScore is the weighted pass rate: a passing factor contributes 100, a
// failing one 50, weighted by its normalized share.
func ipsScore(scores []domain.FactorScore) float64 {
	var sum, weight float64
	for _, s := range scores {
		if s.Weight <= 0 {
			continue
		}
		value := 50.0
		if s.Passed {
			value = 100.0
		}
		sum += s.Weight * value
		weight += s.Weight
	}
	if weight == 0 {
		return 0
	}
	return sum / weight
}

func (p *Pipeline) tierFor(ipsScore float64) domain.Tier {
	switch {
	case ipsScore >= p.cfg.TierElite:
		return domain.TierElite
	case ipsScore >= p.cfg.TierQuality:
		return domain.TierQuality
	case ipsScore >= p.cfg.TierSpeculative:
		return domain.TierSpeculative
	default:
		return domain.TierNone
	}
}

func compositeScore(c *domain.Candidate) float64 {
	if c.Historical != nil && c.Historical.HasData {
		return blendYieldFull*c.YieldScore + blendIPSFull*c.IPSScore + blendHistFull*(c.Historical.WinRate*100)
	}
	return blendYieldNoHx*c.YieldScore + blendIPSNoHx*c.IPSScore
}
