// Package llm holds the reasoning-checkpoint prompt templates and the
// tolerant JSON parsing the checkpoint contract requires.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tradescout/optionrun/internal/domain"
)

// ExtractJSONBlock returns the first balanced {...} block in the text. The
// model is allowed surrounding prose; anything before the first brace and
// after its matching close is discarded. String literals are respected so
// braces inside quoted values do not unbalance the scan.
func ExtractJSONBlock(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", fmt.Errorf("%w: no JSON object found", domain.ErrReasoningUnparseable)
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("%w: unbalanced JSON object", domain.ErrReasoningUnparseable)
}

// CheckpointResponse is the union shape of the C1/C2/C3 contracts.
type CheckpointResponse struct {
	Decision       string                       `json:"decision"`
	Reasoning      string                       `json:"reasoning"`
	SymbolsToAdd   []string                     `json:"symbols_to_add"`
	Adjustments    []domain.ThresholdAdjustment `json:"threshold_adjustments"`
	Recommendation string                       `json:"recommendation"`
}

// RationaleResponse is the rationale-prompt contract.
type RationaleResponse struct {
	Rationale             string  `json:"rationale"`
	NewsSummary           *string `json:"news_summary"`
	MacroContext          *string `json:"macro_context"`
	OutOfIPSJustification *string `json:"out_of_ips_justification"`
}

// ParseCheckpoint reduces raw model output to a checkpoint response.
func ParseCheckpoint(raw string) (*CheckpointResponse, error) {
	block, err := ExtractJSONBlock(raw)
	if err != nil {
		return nil, err
	}
	var resp CheckpointResponse
	if err := json.Unmarshal([]byte(block), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrReasoningUnparseable, err)
	}
	switch domain.Verdict(resp.Decision) {
	case domain.VerdictProceed, domain.VerdictCaution, domain.VerdictReject:
	default:
		return nil, fmt.Errorf("%w: unrecognized decision %q", domain.ErrReasoningUnparseable, resp.Decision)
	}
	return &resp, nil
}

// ParseRationale reduces raw model output to a rationale response.
func ParseRationale(raw string) (*RationaleResponse, error) {
	block, err := ExtractJSONBlock(raw)
	if err != nil {
		return nil, err
	}
	var resp RationaleResponse
	if err := json.Unmarshal([]byte(block), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrReasoningUnparseable, err)
	}
	if resp.Rationale == "" {
		return nil, fmt.Errorf("%w: empty rationale", domain.ErrReasoningUnparseable)
	}
	return &resp, nil
}
