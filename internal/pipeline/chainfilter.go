package pipeline

import (
	"github.com/rs/zerolog/log"

	"github.com/tradescout/optionrun/internal/domain"
	"github.com/tradescout/optionrun/internal/generator"
	"github.com/tradescout/optionrun/internal/ips"
)

// highWeightFilter is stage S3: enumerate candidates per symbol and keep only
// those passing every high-weight chain factor. Failing candidates are
// retained as near-misses with their violations. A symbol with an empty
// chain simply produces no candidates. Re-entrant: a C2 relaxation re-runs
// it from the persisted chains with adjusted thresholds.
func (p *Pipeline) highWeightFilter(st *State) error {
	highChain := st.Policy.FactorsBy(ips.ScopeChain, func(w float64) bool {
		return w >= p.cfg.HighWeightCutoff
	})

	st.Candidates = nil
	st.NearMisses = nil

	for _, sym := range st.Symbols {
		chain := st.Chains[sym]
		if chain == nil || len(chain.Contracts) == 0 {
			continue
		}
		sctx := st.Contexts[sym]
		if sctx.Quote == nil {
			continue
		}

		cands := generator.PutCreditSpreads(sym, sctx.SectorName(), chain, sctx.Quote.Price, p.now())
		for _, c := range cands {
			c.RunID = st.Run.ID
			if err := c.CheckInvariants(); err != nil {
				return err
			}

			cctx := candidateContext(sctx, c)
			var violations []string
			for _, f := range highChain {
				score := p.registry.Evaluate(f, cctx)
				c.FactorScores = append(c.FactorScores, score)
				if !score.Passed {
					violations = append(violations, describeViolation(score))
				}
			}
			if len(violations) == 0 {
				st.Candidates = append(st.Candidates, c)
			} else {
				c.Violations = violations
				c.ViolationCount = len(violations)
				st.NearMisses = append(st.NearMisses, c)
			}
		}
	}

	log.Info().Str("run_id", st.Run.ID).Int("candidates", len(st.Candidates)).
		Int("near_misses", len(st.NearMisses)).Msg("High-weight chain filter complete")
	return nil
}

// candidateContext narrows the symbol context onto one candidate's legs.
func candidateContext(sctx *ips.Context, c *domain.Candidate) *ips.Context {
	cctx := *sctx
	if s := c.Short(); s != nil {
		cctx.Short = &s.Contract
	}
	if l := c.Long(); l != nil {
		cctx.Long = &l.Contract
	}
	cctx.Candidate = c
	return &cctx
}
