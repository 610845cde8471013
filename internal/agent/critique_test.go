package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCritiqueStructured(t *testing.T) {
	raw := `The proposal has merit but needs work.

Issues:
- The cost model ignores maintenance
- No rollback plan is described
* Latency numbers are unsupported

Suggestions:
- Add a staged rollout
- Cite the benchmark source

Severity: 0.7

Overall the direction is sound.`

	c := ParseCritique("critic-1", "proposer-1", "We should migrate everything at once.", raw)

	assert.Equal(t, "critic-1", c.Agent)
	assert.Equal(t, "proposer-1", c.TargetAgent)
	assert.Equal(t, []string{
		"The cost model ignores maintenance",
		"No rollback plan is described",
		"Latency numbers are unsupported",
	}, c.Issues)
	assert.Equal(t, []string{
		"Add a staged rollout",
		"Cite the benchmark source",
	}, c.Suggestions)
	assert.InDelta(t, 0.7, c.Severity, 1e-9)
	assert.NotEmpty(t, c.Reasoning)
}

func TestParseCritiqueSeverityScales(t *testing.T) {
	testCases := []struct {
		name     string
		line     string
		expected float64
	}{
		{"unit scale", "Severity: 0.3", 0.3},
		{"ten scale", "Severity: 8", 0.8},
		{"clamped", "severity is 15", 1.0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := ParseCritique("a", "b", "content", "Issues:\n- one\n"+tc.line)
			assert.InDelta(t, tc.expected, c.Severity, 1e-9)
		})
	}
}

func TestParseCritiqueFallbackSplitsSentences(t *testing.T) {
	raw := "The argument is weak. The data is stale. Try newer sources. Shorten the summary."

	c := ParseCritique("critic", "target", "content", raw)

	require.Len(t, c.Issues, 2)
	require.Len(t, c.Suggestions, 2)
	assert.Equal(t, "The argument is weak", c.Issues[0])
	assert.Equal(t, "Try newer sources", c.Suggestions[0])
	assert.Equal(t, raw, c.Reasoning)
}

func TestParseCritiqueCaps(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("Issues:\n")
	for i := 0; i < 10; i++ {
		sb.WriteString("- issue\n")
	}
	sb.WriteString("Suggestions:\n")
	for i := 0; i < 10; i++ {
		sb.WriteString("- suggestion\n")
	}

	c := ParseCritique("a", "b", strings.Repeat("x", 500), sb.String())

	assert.Len(t, c.Issues, MaxCritiqueItems)
	assert.Len(t, c.Suggestions, MaxCritiqueItems)
	assert.Len(t, c.TargetContent, MaxTargetContentChars)
}

func TestParseCritiqueNumberedBullets(t *testing.T) {
	raw := `Problems found:
1. First concern here
2) Second concern here`

	c := ParseCritique("a", "b", "content", raw)

	assert.Equal(t, []string{"First concern here", "Second concern here"}, c.Issues)
}
