package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseVote(t *testing.T) {
	candidates := []string{"alpha", "beta"}

	testCases := []struct {
		name           string
		raw            string
		wantChoice     string
		wantConfidence float64
	}{
		{
			name:           "clean json",
			raw:            `{"choice": "alpha", "reasoning": "stronger evidence", "confidence": 0.9, "continue_debate": false}`,
			wantChoice:     "alpha",
			wantConfidence: 0.9,
		},
		{
			name:           "fenced json",
			raw:            "```json\n{\"choice\": \"beta\", \"confidence\": 0.6}\n```",
			wantChoice:     "beta",
			wantConfidence: 0.6,
		},
		{
			name:           "repairable json",
			raw:            `{"choice": "alpha", "confidence": 0.8,`,
			wantChoice:     "alpha",
			wantConfidence: 0.8,
		},
		{
			name:           "unknown choice degrades to abstain",
			raw:            `{"choice": "gamma", "confidence": 0.9}`,
			wantChoice:     AbstainChoice,
			wantConfidence: 0.9,
		},
		{
			name:           "explicit abstain",
			raw:            `{"choice": "none", "confidence": 0.4}`,
			wantChoice:     AbstainChoice,
			wantConfidence: 0.4,
		},
		{
			name:           "confidence clamped",
			raw:            `{"choice": "alpha", "confidence": 3.5}`,
			wantChoice:     "alpha",
			wantConfidence: 1.0,
		},
		{
			name:           "plain text scan",
			raw:            "I think beta made the strongest case overall.",
			wantChoice:     "beta",
			wantConfidence: 0.5,
		},
		{
			name:           "no candidate mentioned",
			raw:            "Both proposals are equally unconvincing.",
			wantChoice:     AbstainChoice,
			wantConfidence: 0.5,
		},
		{
			name:           "case insensitive match",
			raw:            `{"choice": "ALPHA", "confidence": 0.7}`,
			wantChoice:     "alpha",
			wantConfidence: 0.7,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := ParseVote("voter", tc.raw, candidates)
			assert.Equal(t, "voter", v.Agent)
			assert.Equal(t, tc.wantChoice, v.Choice)
			assert.InDelta(t, tc.wantConfidence, v.Confidence, 1e-9)
		})
	}
}

func TestParseVoteContinueDebate(t *testing.T) {
	v := ParseVote("voter", `{"choice": "alpha", "confidence": 0.5, "continue_debate": true}`, []string{"alpha"})
	assert.True(t, v.ContinueDebate)
}
