package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tradescout/optionrun/internal/domain"
	"github.com/tradescout/optionrun/internal/llm"
)

// attachRationales generates one trade rationale per selected candidate.
// Reasoning failures substitute the templated fallback; this stage never
// fails the run.
func (p *Pipeline) attachRationales(ctx context.Context, st *State) {
	for _, c := range st.Selected {
		prompt := llm.RationalePrompt(c, st.News[c.Symbol], st.Macro)

		raw, err := p.provider.Reason(ctx, prompt)
		var resp *llm.RationaleResponse
		if err == nil {
			resp, err = llm.ParseRationale(raw)
		}
		if err != nil {
			log.Debug().Err(err).Str("symbol", c.Symbol).Msg("Rationale fell back to template")
			c.Rationale = fallbackRationale(c)
			continue
		}

		c.Rationale = &domain.Rationale{
			Text:                  resp.Rationale,
			NewsSummary:           deref(resp.NewsSummary),
			MacroContext:          deref(resp.MacroContext),
			OutOfIPSJustification: deref(resp.OutOfIPSJustification),
		}
	}
}

// fallbackRationale synthesizes an explanation from the candidate's own
// numbers when the model output could not be used.
func fallbackRationale(c *domain.Candidate) *domain.Rationale {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s collecting a %.2f credit against %.2f max loss (breakeven %.2f, est. POP %.0f%%).",
		c.Symbol, strings.ReplaceAll(string(c.Strategy), "_", " "), c.EntryMid, c.MaxLoss, c.Breakeven, c.EstPOP*100)
	fmt.Fprintf(&sb, " IPS compliance %.0f/100 (%s tier), composite %.0f.", c.IPSScore, tierLabel(c.Tier), c.CompositeScore)
	if len(c.Violations) > 0 {
		fmt.Fprintf(&sb, " Outside IPS on: %s.", strings.Join(c.Violations, "; "))
	}
	return &domain.Rationale{Text: sb.String(), Fallback: true}
}

func tierLabel(t domain.Tier) string {
	if t == domain.TierNone {
		return "untiered"
	}
	return string(t)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
