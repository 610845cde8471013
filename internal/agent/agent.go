package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/resilience"
	"github.com/parleyhq/parley/internal/sanitize"
	"github.com/parleyhq/parley/internal/types"
)

// Config holds an agent's identity and backend wiring. Immutable after
// construction; breaker state lives outside the agent, keyed by name.
type Config struct {
	Name         string
	Role         types.Role
	Model        string
	Backend      types.BackendKind
	SystemPrompt string

	// HTTP backends
	APIKey  string
	BaseURL string

	// CLI backend: argv template, never run through a shell
	Command []string

	// local-http backend
	Endpoint string

	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Agent wraps one backend behind the uniform generate/critique/vote
// contract. Every call runs through the failure envelope: sanitize,
// breaker gate, hard timeout, classify-and-retry, output sanitize.
type Agent struct {
	config  Config
	backend Backend
	breaker *resilience.Breaker
	policy  *resilience.Policy
}

// New builds an agent for the configured backend kind. The breaker is
// shared process-wide; passing nil creates a private one.
func New(config Config, breaker *resilience.Breaker, policy *resilience.Policy) (*Agent, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if !config.Role.IsValid() {
		config.Role = types.RoleProposer
	}
	if config.Timeout <= 0 {
		if config.Backend == types.BackendCLI {
			config.Timeout = 300 * time.Second
		} else {
			config.Timeout = 120 * time.Second
		}
	}
	if breaker == nil {
		breaker = resilience.NewBreaker(resilience.DefaultBreakerConfig())
	}
	if policy == nil {
		policy = resilience.NewPolicy(resilience.DefaultPolicyConfig())
	}

	backend, err := newBackend(config)
	if err != nil {
		return nil, err
	}

	return &Agent{
		config:  config,
		backend: backend,
		breaker: breaker,
		policy:  policy,
	}, nil
}

// NewWithBackend builds an agent around an explicit backend. Used by tests
// and by callers that construct backends themselves.
func NewWithBackend(config Config, backend Backend, breaker *resilience.Breaker, policy *resilience.Policy) *Agent {
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}
	if breaker == nil {
		breaker = resilience.NewBreaker(resilience.DefaultBreakerConfig())
	}
	if policy == nil {
		policy = resilience.NewPolicy(resilience.DefaultPolicyConfig())
	}
	return &Agent{config: config, backend: backend, breaker: breaker, policy: policy}
}

func newBackend(config Config) (Backend, error) {
	switch config.Backend {
	case types.BackendCLI:
		return newCLIBackend(config)
	case types.BackendOpenAI:
		return newOpenAIBackend(config)
	case types.BackendAnthropic:
		return newAnthropicBackend(config)
	case types.BackendLocalHTTP:
		return newLocalHTTPBackend(config)
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidBackendKind, config.Backend)
	}
}

// Name returns the agent's unique name.
func (a *Agent) Name() string { return a.config.Name }

// Role returns the agent's debate role.
func (a *Agent) Role() types.Role { return a.config.Role }

// Model returns the opaque model identifier.
func (a *Agent) Model() string { return a.config.Model }

// BackendKind returns the transport kind.
func (a *Agent) BackendKind() types.BackendKind { return a.config.Backend }

// Generate produces a completion for the prompt with the given context
// messages (already rendered as "speaker: content" lines).
func (a *Agent) Generate(ctx context.Context, prompt string, history []string) (string, error) {
	req := a.buildRequest(prompt, history)
	return a.call(ctx, "generate", func(callCtx context.Context) (string, error) {
		return a.backend.Complete(callCtx, req)
	})
}

// GenerateStream is Generate with per-chunk delivery. The accumulated text
// is returned after the stream ends.
func (a *Agent) GenerateStream(ctx context.Context, prompt string, history []string, onToken func(string)) (string, error) {
	req := a.buildRequest(prompt, history)
	return a.call(ctx, "generate", func(callCtx context.Context) (string, error) {
		return a.backend.Stream(callCtx, req, onToken)
	})
}

// Critique asks the agent to critique another agent's proposal and parses
// the structured result.
func (a *Agent) Critique(ctx context.Context, targetAgent, targetContent, task string, history []string) (Critique, error) {
	prompt := buildCritiquePrompt(targetAgent, targetContent, task)
	req := a.buildRequest(prompt, history)
	raw, err := a.call(ctx, "critique", func(callCtx context.Context) (string, error) {
		return a.backend.Complete(callCtx, req)
	})
	if err != nil {
		return Critique{}, err
	}
	return ParseCritique(a.config.Name, targetAgent, targetContent, raw), nil
}

// Vote asks the agent to pick among the proposals and parses the result.
// A vote for an unknown candidate degrades to "none".
func (a *Agent) Vote(ctx context.Context, proposals map[string]string, task string) (Vote, error) {
	prompt := buildVotePrompt(proposals, task)
	req := a.buildRequest(prompt, nil)
	raw, err := a.call(ctx, "vote", func(callCtx context.Context) (string, error) {
		return a.backend.Complete(callCtx, req)
	})
	if err != nil {
		return Vote{}, err
	}
	candidates := make([]string, 0, len(proposals))
	for name := range proposals {
		candidates = append(candidates, name)
	}
	return ParseVote(a.config.Name, raw, candidates), nil
}

func (a *Agent) buildRequest(prompt string, history []string) Request {
	budgeted := sanitize.BudgetContext(history, sanitize.MaxContextChars)
	for i, msg := range budgeted {
		budgeted[i] = sanitize.TruncateMessage(sanitize.Prompt(msg), sanitize.MaxMessageChars)
	}

	var sb strings.Builder
	if len(budgeted) > 0 {
		sb.WriteString("Conversation so far:\n")
		for _, msg := range budgeted {
			sb.WriteString(msg)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(sanitize.TruncateMessage(sanitize.Prompt(prompt), sanitize.MaxMessageChars))

	return Request{
		System:      sanitize.Prompt(a.config.SystemPrompt),
		Prompt:      sb.String(),
		Temperature: a.config.Temperature,
		MaxTokens:   a.config.MaxTokens,
	}
}

// call is the failure envelope shared by every agent operation.
func (a *Agent) call(ctx context.Context, op string, fn func(context.Context) (string, error)) (string, error) {
	name := a.config.Name

	if !a.breaker.CanProceed(name) {
		return "", &resilience.AgentError{
			Kind:  resilience.KindCircuitOpen,
			Agent: name,
			Op:    op,
		}
	}

	maxAttempts := a.policy.MaxAttempts()
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		out, err := fn(callCtx)
		cancel()

		if err == nil {
			a.breaker.RecordSuccess(name)
			return sanitize.AgentOutput(out), nil
		}
		lastErr = err

		kind, action := resilience.Classify(err, resilience.Op{
			Agent:       name,
			Name:        op,
			Attempt:     attempt,
			MaxAttempts: maxAttempts,
		})

		logging.LogAgentEvent("call_failed", name, "", map[string]interface{}{
			"op":      op,
			"attempt": attempt,
			"kind":    string(kind),
			"action":  string(action),
			"error":   err.Error(),
		})

		if ctx.Err() != nil {
			return "", &resilience.AgentError{
				Kind: resilience.KindFatal, Agent: name, Op: op, Attempt: attempt, Err: ctx.Err(),
			}
		}

		if !resilience.Retryable(action) {
			if resilience.CountsTowardBreaker(kind) {
				a.breaker.RecordFailure(name)
			}
			return "", &resilience.AgentError{
				Kind: kind, Agent: name, Op: op, Attempt: attempt, Err: err,
			}
		}

		wait := a.policy.Delay(attempt)
		if retryAfter := retryAfterOf(err); retryAfter > 0 {
			wait = a.policy.RetryAfterDelay(retryAfter, attempt)
		}
		if waitErr := resilience.Wait(ctx, wait); waitErr != nil {
			return "", &resilience.AgentError{
				Kind: resilience.KindFatal, Agent: name, Op: op, Attempt: attempt, Err: waitErr,
			}
		}
	}

	// Retries exhausted: the failure now counts toward the breaker.
	kind, _ := resilience.Classify(lastErr, resilience.Op{Agent: name, Name: op})
	if resilience.CountsTowardBreaker(kind) {
		if a.breaker.RecordFailure(name) {
			logging.LogAgentEvent("circuit_opened", name, "", map[string]interface{}{
				"op": op,
			})
		}
	}
	return "", &resilience.AgentError{
		Kind: kind, Agent: name, Op: op, Attempt: maxAttempts - 1, Err: lastErr,
	}
}

func retryAfterOf(err error) time.Duration {
	var statusErr *resilience.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.RetryAfter
	}
	var agentErr *resilience.AgentError
	if errors.As(err, &agentErr) {
		return agentErr.RetryAfter
	}
	return 0
}
