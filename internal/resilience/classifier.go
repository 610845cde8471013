package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind is the failure category assigned to a raw backend error
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindConnection  Kind = "connection"
	KindRateLimit   Kind = "rate_limit"
	KindAuth        Kind = "auth"
	KindParse       Kind = "parse"
	KindPayload     Kind = "payload"
	KindCircuitOpen Kind = "circuit_open"
	KindStream      Kind = "stream"
	KindFatal       Kind = "fatal"
	KindUnknown     Kind = "unknown"
)

// Action tells the caller what to do about a classified failure
type Action string

const (
	ActionRetry            Action = "retry"
	ActionRetryWithBackoff Action = "retry_with_backoff"
	ActionFailFast         Action = "fail_fast"
	ActionTriggerFallback  Action = "trigger_fallback"
	ActionOpenCircuit      Action = "open_circuit"
)

// Pattern sets matched (lower-cased, substring) against error text. Order
// matters: rate-limit wins over network so a "429 connection reset" retries
// with the rate-limit wait.
var (
	rateLimitPatterns = []string{
		"rate limit", "rate_limit", "ratelimit", "429", "too many requests",
		"quota exceeded", "resource exhausted", "overloaded", "capacity",
		"throttl",
	}

	networkPatterns = []string{
		"connection", "network", "socket", "dns", "unreachable", "refused",
		"reset by peer", "broken pipe", "eof", "tls", "502", "503", "504",
		"bad gateway", "service unavailable", "gateway timeout",
	}

	authPatterns = []string{
		"401", "403", "unauthorized", "forbidden", "invalid api key",
		"authentication", "permission",
	}

	parsePatterns = []string{
		"parse", "unmarshal", "invalid json", "unexpected token", "malformed",
	}

	timeoutPatterns = []string{
		"timeout", "timed out", "deadline exceeded",
	}
)

// Op carries the call context used for classification and escalation.
type Op struct {
	Agent       string
	Name        string // operation name: generate, critique, vote
	Attempt     int    // 0-indexed
	MaxAttempts int
}

// AgentError is the uniform failure envelope for agent backend calls.
type AgentError struct {
	Kind       Kind
	Agent      string
	Op         string
	Attempt    int
	RetryAfter time.Duration // server-provided wait, zero when absent
	Err        error
}

func (e *AgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent %s %s (%s, attempt %d): %v", e.Agent, e.Op, e.Kind, e.Attempt, e.Err)
	}
	return fmt.Sprintf("agent %s %s failed: %s", e.Agent, e.Op, e.Kind)
}

func (e *AgentError) Unwrap() error { return e.Err }

// NewAgentError wraps a cause with an explicit kind.
func NewAgentError(kind Kind, agent, op string, cause error) *AgentError {
	return &AgentError{Kind: kind, Agent: agent, Op: op, Err: cause}
}

// StatusError conveys an HTTP status (and optional Retry-After) from a
// backend adapter to the classifier without losing the response text.
type StatusError struct {
	Status     int
	RetryAfter time.Duration
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("http status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("http status %d", e.Status)
}

// ParseRetryAfter reads a Retry-After header value, either delta-seconds or
// an HTTP date. Returns zero when the value is unusable.
func ParseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// Classify maps a raw error to its failure kind and the action the caller
// should take. Pure: it never touches breaker state.
func Classify(err error, op Op) (Kind, Action) {
	kind := classifyKind(err)
	return kind, actionFor(kind, op)
}

func classifyKind(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var agentErr *AgentError
	if errors.As(err, &agentErr) && agentErr.Kind != "" {
		return agentErr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindFatal
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.Status)
	}

	text := strings.ToLower(err.Error())
	for _, p := range rateLimitPatterns {
		if strings.Contains(text, p) {
			return KindRateLimit
		}
	}
	for _, p := range timeoutPatterns {
		if strings.Contains(text, p) {
			return KindTimeout
		}
	}
	for _, p := range networkPatterns {
		if strings.Contains(text, p) {
			return KindConnection
		}
	}
	for _, p := range authPatterns {
		if strings.Contains(text, p) {
			return KindAuth
		}
	}
	for _, p := range parsePatterns {
		if strings.Contains(text, p) {
			return KindParse
		}
	}
	return KindUnknown
}

func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusRequestEntityTooLarge:
		return KindPayload
	case status >= 500:
		return KindConnection
	case status >= 400:
		return KindPayload
	default:
		return KindUnknown
	}
}

// ClassifyExit maps a CLI backend exit code to a kind. A negative code means
// the process died to a signal, which only happens here on timeout kill.
func ClassifyExit(code int) Kind {
	switch {
	case code < 0:
		return KindTimeout
	case code == 127:
		return KindFatal // command not found
	case code == 126:
		return KindFatal // not executable
	case code == 0:
		return KindUnknown
	default:
		return KindUnknown
	}
}

func actionFor(kind Kind, op Op) Action {
	exhausted := op.MaxAttempts > 0 && op.Attempt+1 >= op.MaxAttempts

	switch kind {
	case KindTimeout:
		if exhausted {
			return ActionOpenCircuit
		}
		return ActionRetry
	case KindConnection, KindRateLimit, KindStream:
		if exhausted {
			return ActionOpenCircuit
		}
		return ActionRetryWithBackoff
	case KindAuth, KindParse, KindPayload:
		return ActionFailFast
	case KindCircuitOpen:
		return ActionTriggerFallback
	case KindFatal:
		return ActionFailFast
	case KindUnknown:
		if exhausted {
			return ActionOpenCircuit
		}
		return ActionRetryWithBackoff
	default:
		return ActionFailFast
	}
}

// CountsTowardBreaker reports whether a failure of this kind should advance
// the entity's breaker counter once retries are exhausted.
func CountsTowardBreaker(kind Kind) bool {
	switch kind {
	case KindTimeout, KindConnection, KindRateLimit, KindStream, KindUnknown:
		return true
	default:
		return false
	}
}

// Retryable reports whether the action asks for another attempt.
func Retryable(action Action) bool {
	return action == ActionRetry || action == ActionRetryWithBackoff
}

// KindOf extracts the failure kind from a wrapped agent error, or
// KindUnknown for anything else.
func KindOf(err error) Kind {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}
