package agent

import (
	"context"

	"github.com/parleyhq/parley/internal/types"
)

// MaxOutputBytes caps an accumulated backend response. Streaming backends
// stop reading once the cap is reached so a runaway stream cannot exhaust
// memory.
const MaxOutputBytes = 10 * 1024 * 1024

// Request is the backend-neutral completion request built by the agent
// envelope after sanitization and budgeting.
type Request struct {
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// Backend is one concrete transport an agent speaks. Implementations
// return raw text; the envelope owns sanitization, retries, and the
// circuit breaker.
type Backend interface {
	// Complete performs one blocking completion call.
	Complete(ctx context.Context, req Request) (string, error)

	// Stream performs a streaming completion, invoking onToken for each
	// chunk, and returns the accumulated text. Backends that cannot
	// stream fall back to Complete with a single onToken call.
	Stream(ctx context.Context, req Request, onToken func(string)) (string, error)

	// Kind identifies the backend for routing and diagnostics.
	Kind() types.BackendKind
}
