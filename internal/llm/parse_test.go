package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradescout/optionrun/internal/domain"
)

func TestExtractJSONBlock(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"surrounding prose", `Sure! Here you go: {"a":1} hope that helps`, `{"a":1}`},
		{"nested objects", `{"a":{"b":2}} trailing`, `{"a":{"b":2}}`},
		{"braces inside strings", `{"a":"{not a block}"}`, `{"a":"{not a block}"}`},
		{"escaped quotes", `{"a":"say \"hi\" {ok}"}`, `{"a":"say \"hi\" {ok}"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONBlock(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractJSONBlockFailures(t *testing.T) {
	for _, in := range []string{"sure thing!", "", "{unbalanced"} {
		_, err := ExtractJSONBlock(in)
		assert.ErrorIs(t, err, domain.ErrReasoningUnparseable, in)
	}
}

func TestParseCheckpoint(t *testing.T) {
	raw := `Looking at the data, I recommend:
{"decision": "PROCEED_WITH_CAUTION", "symbols_to_add": ["AAA"], "threshold_adjustments": [{"factor": "opt-delta", "old_threshold": 0.2, "new_threshold": 0.25}], "reasoning": "close calls"}`

	resp, err := ParseCheckpoint(raw)
	require.NoError(t, err)
	assert.Equal(t, string(domain.VerdictCaution), resp.Decision)
	assert.Equal(t, []string{"AAA"}, resp.SymbolsToAdd)
	require.Len(t, resp.Adjustments, 1)
	assert.Equal(t, "opt-delta", resp.Adjustments[0].Factor)
	assert.Equal(t, 0.25, resp.Adjustments[0].NewThreshold)
	assert.Equal(t, "close calls", resp.Reasoning)
}

func TestParseCheckpointRejectsUnknownDecision(t *testing.T) {
	_, err := ParseCheckpoint(`{"decision": "MAYBE", "reasoning": "?"}`)
	assert.ErrorIs(t, err, domain.ErrReasoningUnparseable)
}

func TestParseCheckpointGarbage(t *testing.T) {
	_, err := ParseCheckpoint("sure thing!")
	assert.ErrorIs(t, err, domain.ErrReasoningUnparseable)
}

func TestParseRationale(t *testing.T) {
	resp, err := ParseRationale(`{"rationale": "solid premium", "news_summary": null, "macro_context": "rates steady", "out_of_ips_justification": null}`)
	require.NoError(t, err)
	assert.Equal(t, "solid premium", resp.Rationale)
	assert.Nil(t, resp.NewsSummary)
	require.NotNil(t, resp.MacroContext)
	assert.Equal(t, "rates steady", *resp.MacroContext)
}

func TestParseRationaleEmptyIsError(t *testing.T) {
	_, err := ParseRationale(`{"rationale": ""}`)
	assert.ErrorIs(t, err, domain.ErrReasoningUnparseable)
}
