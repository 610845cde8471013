package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripControlCharacters(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Null bytes removed",
			input:    "hello\x00world",
			expected: "helloworld",
		},
		{
			name:     "Tabs and newlines preserved",
			input:    "line1\n\tline2\r\n",
			expected: "line1\n\tline2\r\n",
		},
		{
			name:     "Bell and escape removed",
			input:    "ding\x07esc\x1b[31m",
			expected: "dingesc[31m",
		},
		{
			name:     "Clean text untouched",
			input:    "nothing to do here",
			expected: "nothing to do here",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, CLIArg(tc.input))
			assert.Equal(t, tc.expected, Prompt(tc.input))
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		"plain",
		"with\x00null",
		"  padded  ",
		"\x07\x1b",
		"",
	}

	for _, in := range inputs {
		assert.Equal(t, CLIArg(CLIArg(in)), CLIArg(in))
		assert.Equal(t, Prompt(Prompt(in)), Prompt(in))
		assert.Equal(t, AgentOutput(AgentOutput(in)), AgentOutput(in))
	}
}

func TestAgentOutputPlaceholder(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "Empty", input: "", expected: Placeholder},
		{name: "Whitespace only", input: "   \n\t  ", expected: Placeholder},
		{name: "Control chars only", input: "\x00\x07", expected: Placeholder},
		{name: "Real content trimmed", input: "  answer  ", expected: "answer"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, AgentOutput(tc.input))
		})
	}
}

func TestTruncateMessage(t *testing.T) {
	long := strings.Repeat("a", 25000)
	out := TruncateMessage(long, 20000)

	assert.Less(t, len(out), 20100)
	assert.Contains(t, out, "chars truncated")
	assert.True(t, strings.HasPrefix(out, "aaaa"))
	assert.True(t, strings.HasSuffix(out, "aaaa"))

	short := "short message"
	assert.Equal(t, short, TruncateMessage(short, 20000))
}

func TestBudgetContextKeepsRecent(t *testing.T) {
	messages := []string{
		strings.Repeat("old ", 100),
		strings.Repeat("mid ", 100),
		"newest",
	}

	out := BudgetContext(messages, 500)

	// Newest survives, something older was elided or truncated
	assert.Equal(t, "newest", out[len(out)-1])
	assert.Less(t, len(out), 4)
	joined := strings.Join(out, "")
	assert.LessOrEqual(t, len([]rune(joined)), 600)
}

func TestBudgetContextUnderBudgetUntouched(t *testing.T) {
	messages := []string{"one", "two", "three"}
	out := BudgetContext(messages, 1000)
	assert.Equal(t, messages, out)
}

func TestBudgetContextElisionMarker(t *testing.T) {
	messages := make([]string, 20)
	for i := range messages {
		messages[i] = strings.Repeat("x", 200)
	}

	out := BudgetContext(messages, 1000)
	assert.Contains(t, out[0], "elided")
}

func TestScrubSecrets(t *testing.T) {
	testCases := []struct {
		name       string
		input      string
		mustAbsent string
	}{
		{
			name:       "API key pair",
			input:      "failed: api_key=sk_live_abc123 rejected",
			mustAbsent: "sk_live_abc123",
		},
		{
			name:       "Bearer token",
			input:      "header Authorization: Bearer eyJhbGciOi",
			mustAbsent: "eyJhbGciOi",
		},
		{
			name:       "Token assignment",
			input:      "request token=deadbeef failed",
			mustAbsent: "deadbeef",
		},
		{
			name:       "OpenAI style key",
			input:      "key sk-proj-withsomelongid not valid",
			mustAbsent: "sk-proj-withsomelongid",
		},
		{
			name:       "Home path",
			input:      "open /home/alice/secrets.txt: permission denied",
			mustAbsent: "/home/alice/secrets.txt",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := ScrubSecrets(tc.input)
			assert.NotContains(t, out, tc.mustAbsent)
			assert.Contains(t, out, "[REDACTED]")
		})
	}
}

func TestScrubSecretsIdempotent(t *testing.T) {
	in := "api_key=abc bearer xyz /home/bob/x"
	once := ScrubSecrets(in)
	assert.Equal(t, once, ScrubSecrets(once))
}
