package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradescout/optionrun/internal/domain"
)

// Confidence buckets by matched-trade sample size.
const (
	confidenceHighMin = 20
	confidenceMedMin  = 8
)

// attachHistorical runs the retrieval step: embed a textual sketch of the
// candidate, query the vector store scoped to this user and IPS, and reduce
// the matches to win rate and average ROI. Fewer than k matches, or any
// retrieval failure, reports has_data=false rather than erroring the run.
func (p *Pipeline) attachHistorical(ctx context.Context, st *State, c *domain.Candidate) {
	noData := &domain.HistoricalAnalysis{HasData: false, Confidence: "low"}

	embedding, err := p.provider.Embed(ctx, candidateSketch(c, p.now()))
	if err != nil {
		log.Debug().Err(err).Str("symbol", c.Symbol).Msg("Embed failed, no historical data")
		c.Historical = noData
		return
	}

	filter := map[string]string{"ips_id": st.Run.IPSID, "user_id": st.Run.UserID}
	matches, err := p.provider.VectorSearch(ctx, embedding, p.cfg.VectorK, filter)
	if err != nil {
		log.Debug().Err(err).Str("symbol", c.Symbol).Msg("Vector search failed, no historical data")
		c.Historical = noData
		return
	}
	if len(matches) < p.cfg.VectorK {
		c.Historical = noData
		return
	}

	var wins, scored int
	var roiSum float64
	var roiCount int
	for _, m := range matches {
		if pl, ok := payloadFloat(m.Payload, "realized_pl"); ok {
			scored++
			if pl > 0 {
				wins++
			}
		}
		if roi, ok := payloadFloat(m.Payload, "roi"); ok {
			roiSum += roi
			roiCount++
		}
	}

	h := &domain.HistoricalAnalysis{HasData: true, TradeCount: len(matches)}
	if scored > 0 {
		h.WinRate = float64(wins) / float64(scored)
	}
	if roiCount > 0 {
		h.AvgROI = roiSum / float64(roiCount)
	}
	switch {
	case h.TradeCount >= confidenceHighMin:
		h.Confidence = "high"
	case h.TradeCount >= confidenceMedMin:
		h.Confidence = "med"
	default:
		h.Confidence = "low"
	}
	c.Historical = h
}

// candidateSketch is the embedded description: strategy shape, moneyness,
// time to expiry, and the short greeks.
func candidateSketch(c *domain.Candidate, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s", c.Symbol, c.Strategy)
	if s := c.Short(); s != nil {
		fmt.Fprintf(&sb, " short strike %.2f", s.Contract.Strike)
		if s.Contract.Delta != nil {
			fmt.Fprintf(&sb, " delta %.2f", *s.Contract.Delta)
		}
		if s.Contract.IV != nil {
			fmt.Fprintf(&sb, " iv %.2f", *s.Contract.IV)
		}
	}
	if l := c.Long(); l != nil {
		fmt.Fprintf(&sb, " long strike %.2f", l.Contract.Strike)
	}
	fmt.Fprintf(&sb, " width %.2f credit %.2f dte %d", c.Width, c.EntryMid, c.DTE(now))
	return sb.String()
}

func payloadFloat(payload map[string]any, key string) (float64, bool) {
	raw, ok := payload[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
