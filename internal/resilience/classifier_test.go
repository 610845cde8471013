package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyKind(t *testing.T) {
	testCases := []struct {
		name         string
		err          error
		expectedKind Kind
	}{
		{
			name:         "Rate limit text",
			err:          errors.New("openai: rate limit exceeded, please retry"),
			expectedKind: KindRateLimit,
		},
		{
			name:         "429 in message",
			err:          errors.New("request failed with 429"),
			expectedKind: KindRateLimit,
		},
		{
			name:         "Quota exhausted",
			err:          errors.New("RESOURCE EXHAUSTED: quota exceeded"),
			expectedKind: KindRateLimit,
		},
		{
			name:         "Timeout text",
			err:          errors.New("request timed out after 120s"),
			expectedKind: KindTimeout,
		},
		{
			name:         "Deadline exceeded sentinel",
			err:          context.DeadlineExceeded,
			expectedKind: KindTimeout,
		},
		{
			name:         "Context cancelled",
			err:          context.Canceled,
			expectedKind: KindFatal,
		},
		{
			name:         "Connection refused",
			err:          errors.New("dial tcp 127.0.0.1:11434: connection refused"),
			expectedKind: KindConnection,
		},
		{
			name:         "Broken pipe",
			err:          errors.New("write: broken pipe"),
			expectedKind: KindConnection,
		},
		{
			name:         "Auth failure text",
			err:          errors.New("invalid api key provided"),
			expectedKind: KindAuth,
		},
		{
			name:         "Parse failure",
			err:          errors.New("json: cannot unmarshal string into Go value"),
			expectedKind: KindParse,
		},
		{
			name:         "Status 429",
			err:          &StatusError{Status: http.StatusTooManyRequests},
			expectedKind: KindRateLimit,
		},
		{
			name:         "Status 401",
			err:          &StatusError{Status: http.StatusUnauthorized},
			expectedKind: KindAuth,
		},
		{
			name:         "Status 503",
			err:          &StatusError{Status: http.StatusServiceUnavailable},
			expectedKind: KindConnection,
		},
		{
			name:         "Status 400",
			err:          &StatusError{Status: http.StatusBadRequest},
			expectedKind: KindPayload,
		},
		{
			name:         "Wrapped status error",
			err:          fmt.Errorf("call failed: %w", &StatusError{Status: 502}),
			expectedKind: KindConnection,
		},
		{
			name:         "AgentError passes kind through",
			err:          NewAgentError(KindCircuitOpen, "claude", "generate", nil),
			expectedKind: KindCircuitOpen,
		},
		{
			name:         "Unclassifiable",
			err:          errors.New("segment offset mismatch"),
			expectedKind: KindUnknown,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			kind, _ := Classify(tc.err, Op{})
			assert.Equal(t, tc.expectedKind, kind)
		})
	}
}

func TestClassifyAction(t *testing.T) {
	testCases := []struct {
		name           string
		err            error
		op             Op
		expectedAction Action
	}{
		{
			name:           "Timeout retries immediately",
			err:            context.DeadlineExceeded,
			op:             Op{Attempt: 0, MaxAttempts: 3},
			expectedAction: ActionRetry,
		},
		{
			name:           "Rate limit backs off",
			err:            &StatusError{Status: 429},
			op:             Op{Attempt: 1, MaxAttempts: 3},
			expectedAction: ActionRetryWithBackoff,
		},
		{
			name:           "Rate limit exhausted counts toward breaker",
			err:            &StatusError{Status: 429},
			op:             Op{Attempt: 2, MaxAttempts: 3},
			expectedAction: ActionOpenCircuit,
		},
		{
			name:           "Auth fails fast even on first attempt",
			err:            &StatusError{Status: 401},
			op:             Op{Attempt: 0, MaxAttempts: 3},
			expectedAction: ActionFailFast,
		},
		{
			name:           "Payload fails fast",
			err:            &StatusError{Status: 400},
			op:             Op{Attempt: 0, MaxAttempts: 3},
			expectedAction: ActionFailFast,
		},
		{
			name:           "Circuit open triggers fallback",
			err:            NewAgentError(KindCircuitOpen, "gpt", "vote", nil),
			op:             Op{Attempt: 0, MaxAttempts: 3},
			expectedAction: ActionTriggerFallback,
		},
		{
			name:           "Unknown backs off then escalates",
			err:            errors.New("flux capacitor misaligned"),
			op:             Op{Attempt: 2, MaxAttempts: 3},
			expectedAction: ActionOpenCircuit,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, action := Classify(tc.err, tc.op)
			assert.Equal(t, tc.expectedAction, action)
		})
	}
}

func TestClassifyExit(t *testing.T) {
	testCases := []struct {
		name         string
		code         int
		expectedKind Kind
	}{
		{name: "Killed by signal", code: -1, expectedKind: KindTimeout},
		{name: "Command not found", code: 127, expectedKind: KindFatal},
		{name: "Not executable", code: 126, expectedKind: KindFatal},
		{name: "Generic failure", code: 1, expectedKind: KindUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expectedKind, ClassifyExit(tc.code))
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	testCases := []struct {
		name     string
		value    string
		expected time.Duration
	}{
		{name: "Delta seconds", value: "5", expected: 5 * time.Second},
		{name: "Zero", value: "0", expected: 0},
		{name: "Negative rejected", value: "-3", expected: 0},
		{name: "Empty", value: "", expected: 0},
		{name: "Garbage", value: "soon", expected: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ParseRetryAfter(tc.value))
		})
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	future := time.Now().Add(1 * time.Hour).UTC().Format(http.TimeFormat)
	d := ParseRetryAfter(future)
	assert.Greater(t, d, 50*time.Minute)
	assert.LessOrEqual(t, d, 1*time.Hour)
}

func TestCountsTowardBreaker(t *testing.T) {
	assert.True(t, CountsTowardBreaker(KindTimeout))
	assert.True(t, CountsTowardBreaker(KindConnection))
	assert.True(t, CountsTowardBreaker(KindRateLimit))
	assert.False(t, CountsTowardBreaker(KindAuth))
	assert.False(t, CountsTowardBreaker(KindParse))
	assert.False(t, CountsTowardBreaker(KindPayload))
	assert.False(t, CountsTowardBreaker(KindCircuitOpen))
}

func TestAgentErrorUnwrap(t *testing.T) {
	cause := &StatusError{Status: 503, Body: "upstream down"}
	err := NewAgentError(KindConnection, "claude", "generate", cause)

	var statusErr *StatusError
	assert.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 503, statusErr.Status)
	assert.Contains(t, err.Error(), "connection")
}
