package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/resilience"
	"github.com/parleyhq/parley/internal/sanitize"
	"github.com/parleyhq/parley/internal/types"
)

// fakeBackend scripts a sequence of responses and errors.
type fakeBackend struct {
	outputs []string
	errs    []error
	calls   int
}

func (f *fakeBackend) next() (string, error) {
	i := f.calls
	f.calls++
	var out string
	var err error
	if i < len(f.outputs) {
		out = f.outputs[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return out, err
}

func (f *fakeBackend) Complete(ctx context.Context, req Request) (string, error) {
	return f.next()
}

func (f *fakeBackend) Stream(ctx context.Context, req Request, onToken func(string)) (string, error) {
	out, err := f.next()
	if err == nil && onToken != nil {
		onToken(out)
	}
	return out, err
}

func (f *fakeBackend) Kind() types.BackendKind { return types.BackendLocalHTTP }

func fastPolicy(attempts int) *resilience.Policy {
	return resilience.NewPolicy(resilience.PolicyConfig{
		Base:        time.Millisecond,
		Cap:         time.Millisecond,
		Jitter:      0,
		MaxAttempts: attempts,
		Seed:        1,
	})
}

func newTestAgent(backend Backend, breaker *resilience.Breaker, attempts int) *Agent {
	return NewWithBackend(Config{
		Name:    "tester",
		Role:    types.RoleProposer,
		Backend: types.BackendLocalHTTP,
	}, backend, breaker, fastPolicy(attempts))
}

func TestOpenAIBackendDefaultModel(t *testing.T) {
	backend, err := newOpenAIBackend(Config{Name: "gpt", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, defaultOpenAIModel, backend.model)

	backend, err = newOpenAIBackend(Config{Name: "gpt", APIKey: "sk-test", Model: "gpt-4.1"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", backend.model)
}

func TestGenerateSuccess(t *testing.T) {
	backend := &fakeBackend{outputs: []string{"  a solid proposal  "}}
	a := newTestAgent(backend, nil, 1)

	out, err := a.Generate(context.Background(), "propose something", nil)

	require.NoError(t, err)
	assert.Equal(t, "a solid proposal", out)
	assert.Equal(t, 1, backend.calls)
}

func TestGenerateEmptyOutputReplacedWithPlaceholder(t *testing.T) {
	backend := &fakeBackend{outputs: []string{"   \n\t  "}}
	breaker := resilience.NewBreaker(resilience.DefaultBreakerConfig())
	a := newTestAgent(backend, breaker, 1)

	out, err := a.Generate(context.Background(), "propose", nil)

	require.NoError(t, err)
	assert.Equal(t, sanitize.Placeholder, out)
	// An empty output is a success: the breaker must not advance.
	assert.Equal(t, 0, breaker.Failures("tester"))
}

func TestGenerateRetriesRetryableErrors(t *testing.T) {
	backend := &fakeBackend{
		outputs: []string{"", "", "recovered"},
		errs:    []error{errors.New("connection refused"), errors.New("connection reset by peer"), nil},
	}
	a := newTestAgent(backend, nil, 3)

	out, err := a.Generate(context.Background(), "propose", nil)

	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, 3, backend.calls)
}

func TestGenerateFailsFastOnAuth(t *testing.T) {
	backend := &fakeBackend{errs: []error{errors.New("401 unauthorized")}}
	breaker := resilience.NewBreaker(resilience.DefaultBreakerConfig())
	a := newTestAgent(backend, breaker, 3)

	_, err := a.Generate(context.Background(), "propose", nil)

	require.Error(t, err)
	var agentErr *resilience.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, resilience.KindAuth, agentErr.Kind)
	assert.Equal(t, 1, backend.calls)
	// Auth failures never count toward the breaker.
	assert.Equal(t, 0, breaker.Failures("tester"))
}

func TestGenerateExhaustionCountsTowardBreaker(t *testing.T) {
	backend := &fakeBackend{errs: []error{
		errors.New("connection refused"),
		errors.New("connection refused"),
		errors.New("connection refused"),
	}}
	breaker := resilience.NewBreaker(resilience.DefaultBreakerConfig())
	a := newTestAgent(backend, breaker, 3)

	_, err := a.Generate(context.Background(), "propose", nil)

	require.Error(t, err)
	assert.Equal(t, 3, backend.calls)
	assert.Equal(t, 1, breaker.Failures("tester"))
}

func TestGenerateBlockedByOpenCircuit(t *testing.T) {
	backend := &fakeBackend{outputs: []string{"unreachable"}}
	breaker := resilience.NewBreaker(resilience.DefaultBreakerConfig())
	for i := 0; i < 3; i++ {
		breaker.RecordFailure("tester")
	}
	a := newTestAgent(backend, breaker, 3)

	_, err := a.Generate(context.Background(), "propose", nil)

	var agentErr *resilience.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, resilience.KindCircuitOpen, agentErr.Kind)
	assert.Equal(t, 0, backend.calls)
}

func TestGenerateStreamDeliversTokens(t *testing.T) {
	backend := &fakeBackend{outputs: []string{"chunked output"}}
	a := newTestAgent(backend, nil, 1)

	var tokens []string
	out, err := a.GenerateStream(context.Background(), "propose", nil, func(tok string) {
		tokens = append(tokens, tok)
	})

	require.NoError(t, err)
	assert.Equal(t, "chunked output", out)
	assert.Equal(t, []string{"chunked output"}, tokens)
}

func TestGenerateCancelledContext(t *testing.T) {
	backend := &fakeBackend{errs: []error{errors.New("connection refused")}}
	a := newTestAgent(backend, nil, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Generate(ctx, "propose", nil)

	var agentErr *resilience.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, resilience.KindFatal, agentErr.Kind)
}

func TestVoteEndToEnd(t *testing.T) {
	backend := &fakeBackend{outputs: []string{`{"choice": "alpha", "confidence": 0.9}`}}
	a := newTestAgent(backend, nil, 1)

	v, err := a.Vote(context.Background(), map[string]string{"alpha": "p1", "beta": "p2"}, "pick one")

	require.NoError(t, err)
	assert.Equal(t, "alpha", v.Choice)
	assert.InDelta(t, 0.9, v.Confidence, 1e-9)
}

func TestCritiqueEndToEnd(t *testing.T) {
	backend := &fakeBackend{outputs: []string{"Issues:\n- too vague\nSuggestions:\n- add numbers\nSeverity: 0.4"}}
	a := newTestAgent(backend, nil, 1)

	c, err := a.Critique(context.Background(), "alpha", "we should do the thing", "the task", nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"too vague"}, c.Issues)
	assert.Equal(t, []string{"add numbers"}, c.Suggestions)
	assert.InDelta(t, 0.4, c.Severity, 1e-9)
}
