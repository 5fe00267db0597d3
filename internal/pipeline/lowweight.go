package pipeline

import (
	"github.com/rs/zerolog/log"

	"github.com/tradescout/optionrun/internal/domain"
	"github.com/tradescout/optionrun/internal/ips"
)

// lowWeightFilter is stage S4: evaluate every factor below the weight cutoff
// against each candidate. A candidate survives iff its failed low-weight
// count is strictly less than half the low-weight factor count, rounded up.
// Every candidate leaves the stage with its full factor table attached.
func (p *Pipeline) lowWeightFilter(st *State) {
	below := func(w float64) bool { return w > 0 && w < p.cfg.HighWeightCutoff }
	lowFactors := append(
		st.Policy.FactorsBy(ips.ScopeGeneral, below),
		st.Policy.FactorsBy(ips.ScopeChain, below)...)
	highGeneral := st.Policy.FactorsBy(ips.ScopeGeneral, func(w float64) bool {
		return w >= p.cfg.HighWeightCutoff
	})

	allowed := ceilHalf(len(lowFactors))
	var survivors []*domain.Candidate

	for _, c := range st.Candidates {
		cctx := candidateContext(st.Contexts[c.Symbol], c)

		// Complete the factor table with the symbol-level detail.
		for _, f := range highGeneral {
			c.FactorScores = append(c.FactorScores, p.registry.Evaluate(f, cctx))
		}

		failed := 0
		for _, f := range lowFactors {
			score := p.registry.Evaluate(f, cctx)
			c.FactorScores = append(c.FactorScores, score)
			if !score.Passed {
				failed++
				c.Violations = append(c.Violations, describeViolation(score))
			}
		}
		c.ViolationCount += failed // keep the count in step with Violations

		if len(lowFactors) == 0 || failed < allowed {
			survivors = append(survivors, c)
		}
	}

	log.Info().Str("run_id", st.Run.ID).Int("in", len(st.Candidates)).
		Int("out", len(survivors)).Msg("Low-weight filter complete")
	st.Candidates = survivors
}

// attachRemainingFactors completes a near-miss candidate's factor table with
// everything the cascade had not yet evaluated for it.
func (p *Pipeline) attachRemainingFactors(c *domain.Candidate, st *State) {
	sctx := st.Contexts[c.Symbol]
	if sctx == nil {
		return
	}
	cctx := candidateContext(sctx, c)

	seen := make(map[string]struct{}, len(c.FactorScores))
	for _, s := range c.FactorScores {
		seen[s.Key] = struct{}{}
	}
	for _, f := range st.Policy.Factors {
		if !f.Enabled {
			continue
		}
		if _, done := seen[f.Key]; done {
			continue
		}
		c.FactorScores = append(c.FactorScores, p.registry.Evaluate(f, cctx))
	}
}

func ceilHalf(n int) int {
	return (n + 1) / 2
}
