package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tradescout/optionrun/internal/domain"
)

// C1Prompt asks the model whether to proceed after the general pre-filter.
// The response contract is {decision, symbols_to_add, reasoning}.
func C1Prompt(ipsName string, initial, survivors []string, failures map[string][]string) string {
	var sb strings.Builder
	sb.WriteString("You are reviewing the first stage of an options trade screening pipeline.\n")
	fmt.Fprintf(&sb, "IPS: %s\n", ipsName)
	fmt.Fprintf(&sb, "Watchlist (%d symbols): %s\n", len(initial), strings.Join(initial, ", "))
	fmt.Fprintf(&sb, "Symbols passing all high-weight general factors: %d (%s)\n",
		len(survivors), strings.Join(survivors, ", "))
	if len(failures) > 0 {
		sb.WriteString("Failed factors per symbol:\n")
		for sym, reasons := range failures {
			fmt.Fprintf(&sb, "  %s: %s\n", sym, strings.Join(reasons, "; "))
		}
	}
	sb.WriteString("\nDecide whether the pipeline should continue. If no symbol passed but some ")
	sb.WriteString("are near-misses, you may add symbols back.\n")
	sb.WriteString(`Respond with a single JSON object: {"decision": "PROCEED"|"PROCEED_WITH_CAUTION"|"REJECT", "symbols_to_add": [], "reasoning": "..."}` + "\n")
	return sb.String()
}

// C2Prompt asks the model to review the high-weight chain filter outcome.
// The response contract is {decision, threshold_adjustments, reasoning}.
func C2Prompt(ipsName string, candidateCount, nearMissCount int, topViolations []string) string {
	var sb strings.Builder
	sb.WriteString("You are reviewing the high-weight chain filter of an options trade screening pipeline.\n")
	fmt.Fprintf(&sb, "IPS: %s\n", ipsName)
	fmt.Fprintf(&sb, "Candidates passing all high-weight chain factors: %d\n", candidateCount)
	fmt.Fprintf(&sb, "Near-miss candidates (failed at least one): %d\n", nearMissCount)
	if len(topViolations) > 0 {
		fmt.Fprintf(&sb, "Most common violations: %s\n", strings.Join(topViolations, "; "))
	}
	sb.WriteString("\nIf thresholds look slightly too tight you may propose adjustments.\n")
	sb.WriteString(`Respond with a single JSON object: {"decision": "PROCEED"|"PROCEED_WITH_CAUTION"|"REJECT", "threshold_adjustments": [{"factor": "...", "old_threshold": 0, "new_threshold": 0}], "reasoning": "..."}` + "\n")
	return sb.String()
}

// C3Prompt asks for the final go/no-go after the low-weight filter.
// The response contract is {decision, reasoning, recommendation}.
func C3Prompt(ipsName string, candidateCount int) string {
	var sb strings.Builder
	sb.WriteString("You are making the final screening decision of an options trade pipeline.\n")
	fmt.Fprintf(&sb, "IPS: %s\n", ipsName)
	fmt.Fprintf(&sb, "Candidates surviving the low-weight filter: %d\n", candidateCount)
	sb.WriteString("\nDecide whether to proceed to scoring.\n")
	sb.WriteString(`Respond with a single JSON object: {"decision": "PROCEED"|"REJECT", "reasoning": "...", "recommendation": "..."}` + "\n")
	return sb.String()
}

// RationalePrompt asks for a trade rationale for one selected candidate.
// The response contract is {rationale, news_summary, macro_context,
// out_of_ips_justification}.
func RationalePrompt(c *domain.Candidate, newsHeadlines []string, macro map[string]float64) string {
	var sb strings.Builder
	sb.WriteString("Write a concise trade rationale for this option spread candidate.\n\n")
	fmt.Fprintf(&sb, "Symbol: %s  Strategy: %s  Tier: %s\n", c.Symbol, c.Strategy, c.Tier)
	if s := c.Short(); s != nil {
		fmt.Fprintf(&sb, "Short strike: %.2f  Expiry: %s\n", s.Contract.Strike, s.Contract.Expiry.Format("2006-01-02"))
	}
	if l := c.Long(); l != nil {
		fmt.Fprintf(&sb, "Long strike: %.2f\n", l.Contract.Strike)
	}
	fmt.Fprintf(&sb, "Credit: %.2f  Max loss: %.2f  Breakeven: %.2f  Est. POP: %.0f%%\n",
		c.EntryMid, c.MaxLoss, c.Breakeven, c.EstPOP*100)
	fmt.Fprintf(&sb, "Scores: yield %.1f, IPS %.1f, composite %.1f\n", c.YieldScore, c.IPSScore, c.CompositeScore)
	if len(c.Violations) > 0 {
		fmt.Fprintf(&sb, "IPS factors violated: %s\n", strings.Join(c.Violations, "; "))
	}
	if len(newsHeadlines) > 0 {
		fmt.Fprintf(&sb, "Recent headlines: %s\n", strings.Join(newsHeadlines, " | "))
	}
	if len(macro) > 0 {
		keys := make([]string, 0, len(macro))
		for k := range macro {
			keys = append(keys, k)
		}
		sort.Strings(keys) // stable prompt text for identical inputs
		sb.WriteString("Macro backdrop:")
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%.2f", k, macro[k])
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n" + `Respond with a single JSON object: {"rationale": "...", "news_summary": "..."|null, "macro_context": "..."|null, "out_of_ips_justification": "..."|null}` + "\n")
	return sb.String()
}
