package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/tradescout/optionrun/internal/domain"
	"github.com/tradescout/optionrun/internal/ips"
	"github.com/tradescout/optionrun/internal/llm"
)

const nearMissLimit = 20

// reason issues one reasoning call and reduces it to the checkpoint shape.
func (p *Pipeline) reason(ctx context.Context, prompt string) (*llm.CheckpointResponse, error) {
	raw, err := p.provider.Reason(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return llm.ParseCheckpoint(raw)
}

// reasoningNote renders a checkpoint failure as the recorded REJECT reason.
func reasoningNote(err error) string {
	if errors.Is(err, domain.ErrReasoningUnparseable) {
		return fmt.Sprintf("LLM response was not valid JSON: %v", err)
	}
	return fmt.Sprintf("reasoning call failed: %v", err)
}

// checkpointC1 runs after the general pre-filter. Survivors mean PROCEED
// without consulting the model; otherwise the model may re-add near-miss
// symbols or reject the run.
func (p *Pipeline) checkpointC1(ctx context.Context, st *State) (bool, error) {
	if len(st.Symbols) > 0 {
		p.recordDecision(ctx, st, domain.CheckpointC1, domain.VerdictProceed,
			fmt.Sprintf("%d of %d symbols passed the general pre-filter", len(st.Symbols), len(st.Run.InitialSymbols)),
			nil, nil)
		return false, nil
	}
	if len(st.Run.InitialSymbols) == 0 {
		p.recordDecision(ctx, st, domain.CheckpointC1, domain.VerdictReject,
			"empty watchlist: 0 symbols passed the general pre-filter", nil, nil)
		return true, nil
	}

	resp, err := p.reason(ctx, llm.C1Prompt(st.Policy.Name, st.Run.InitialSymbols, st.Symbols, st.Failures))
	if err != nil {
		p.recordDecision(ctx, st, domain.CheckpointC1, domain.VerdictReject, reasoningNote(err), nil, nil)
		return true, nil
	}

	verdict := domain.Verdict(resp.Decision)
	p.recordDecision(ctx, st, domain.CheckpointC1, verdict, resp.Reasoning, resp.SymbolsToAdd, nil)
	if verdict == domain.VerdictReject {
		return true, nil
	}

	for _, sym := range dedupeSymbols(resp.SymbolsToAdd) {
		if _, known := st.Contexts[sym]; !known {
			st.Contexts[sym] = &ips.Context{Symbol: sym, Now: p.now(), Macro: st.Macro}
		}
		st.Symbols = append(st.Symbols, sym)
	}
	st.Symbols = dedupeSymbols(st.Symbols)
	sort.Strings(st.Symbols)

	// PROCEED with nothing to work on still ends the run, empty.
	return len(st.Symbols) == 0, nil
}

// checkpointC2 runs after the high-weight chain filter. Under
// PROCEED_WITH_CAUTION with threshold adjustments, S3 re-runs once against
// the relaxed policy copy.
func (p *Pipeline) checkpointC2(ctx context.Context, st *State) (bool, error) {
	if len(st.Candidates) > 0 {
		p.recordDecision(ctx, st, domain.CheckpointC2, domain.VerdictProceed,
			fmt.Sprintf("%d candidates passed the high-weight chain filter", len(st.Candidates)),
			nil, nil)
		return false, nil
	}

	resp, err := p.reason(ctx, llm.C2Prompt(st.Policy.Name, len(st.Candidates), len(st.NearMisses), topViolations(st.NearMisses, 3)))
	if err != nil {
		p.recordDecision(ctx, st, domain.CheckpointC2, domain.VerdictReject, reasoningNote(err), nil, nil)
		return true, nil
	}

	verdict := domain.Verdict(resp.Decision)
	p.recordDecision(ctx, st, domain.CheckpointC2, verdict, resp.Reasoning, nil, resp.Adjustments)
	if verdict == domain.VerdictReject {
		return true, nil
	}

	if verdict == domain.VerdictCaution && len(resp.Adjustments) > 0 {
		st.Policy = p.relaxedPolicy(st.Policy, resp.Adjustments)
		if err := p.highWeightFilter(st); err != nil {
			return false, err
		}
	}
	return false, nil
}

// checkpointC3 runs after the low-weight filter. When nothing survived but
// near-misses exist, the best of them become the selected set under a
// REJECT decision; scoring and rationale are skipped.
func (p *Pipeline) checkpointC3(ctx context.Context, st *State) (bool, error) {
	if len(st.Candidates) > 0 {
		p.recordDecision(ctx, st, domain.CheckpointC3, domain.VerdictProceed,
			fmt.Sprintf("%d candidates passed the low-weight filter", len(st.Candidates)),
			nil, nil)
		return false, nil
	}

	if len(st.NearMisses) > 0 {
		p.finalizeNearMisses(ctx, st)
		return true, nil
	}

	resp, err := p.reason(ctx, llm.C3Prompt(st.Policy.Name, len(st.Candidates)))
	if err != nil {
		p.recordDecision(ctx, st, domain.CheckpointC3, domain.VerdictReject, reasoningNote(err), nil, nil)
		return true, nil
	}
	p.recordDecision(ctx, st, domain.CheckpointC3, domain.Verdict(resp.Decision), resp.Reasoning, nil, nil)
	return true, nil // zero candidates means an empty result either way
}

// finalizeNearMisses surfaces the least-bad failed candidates: up to 20,
// ordered by fewest violations then richest credit, each given its full
// factor table, IPS score, and tier.
func (p *Pipeline) finalizeNearMisses(ctx context.Context, st *State) {
	misses := append([]*domain.Candidate(nil), st.NearMisses...)
	sort.SliceStable(misses, func(i, j int) bool {
		if misses[i].ViolationCount != misses[j].ViolationCount {
			return misses[i].ViolationCount < misses[j].ViolationCount
		}
		if misses[i].EntryMid != misses[j].EntryMid {
			return misses[i].EntryMid > misses[j].EntryMid
		}
		if misses[i].Symbol != misses[j].Symbol {
			return misses[i].Symbol < misses[j].Symbol
		}
		return shortStrike(misses[i]) < shortStrike(misses[j])
	})
	if len(misses) > nearMissLimit {
		misses = misses[:nearMissLimit]
	}

	for _, c := range misses {
		p.attachRemainingFactors(c, st)
		c.IPSScore = ipsScore(c.FactorScores)
		c.Tier = p.tierFor(c.IPSScore)
	}
	st.Selected = misses

	p.recordDecision(ctx, st, domain.CheckpointC3, domain.VerdictReject,
		fmt.Sprintf("no candidates passed all high-weight filters; surfacing %d near-miss candidates", len(misses)),
		nil, nil)
}

// relaxedPolicy copies the policy with the proposed thresholds applied.
// The loaded policy itself stays untouched.
func (p *Pipeline) relaxedPolicy(policy *ips.Config, adjustments []domain.ThresholdAdjustment) *ips.Config {
	relaxed := *policy
	relaxed.Factors = append([]ips.Factor(nil), policy.Factors...)
	for _, adj := range adjustments {
		entry, ok := p.registry.Resolve(adj.Factor)
		if !ok {
			continue
		}
		for i := range relaxed.Factors {
			if relaxed.Factors[i].Key == entry.Key {
				relaxed.Factors[i].Threshold = adj.NewThreshold
			}
		}
	}
	return &relaxed
}

// topViolations returns the n most frequent violation strings across the
// near-miss set, deterministically ordered.
func topViolations(misses []*domain.Candidate, n int) []string {
	counts := make(map[string]int)
	for _, c := range misses {
		for _, v := range c.Violations {
			counts[v]++
		}
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func shortStrike(c *domain.Candidate) float64 {
	if s := c.Short(); s != nil {
		return s.Contract.Strike
	}
	return 0
}
