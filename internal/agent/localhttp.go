package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/parleyhq/parley/internal/resilience"
	"github.com/parleyhq/parley/internal/types"
)

// localHTTPBackend speaks a minimal JSON generate API, the shape exposed by
// ollama-style local inference servers. Raw net/http keeps status codes and
// Retry-After visible to the classifier.
type localHTTPBackend struct {
	endpoint string
	model    string
	client   *http.Client
}

func newLocalHTTPBackend(config Config) (*localHTTPBackend, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("local-http backend for %s requires an endpoint", config.Name)
	}
	return &localHTTPBackend{
		endpoint: config.Endpoint,
		model:    config.Model,
		client:   &http.Client{},
	}, nil
}

func (b *localHTTPBackend) Kind() types.BackendKind { return types.BackendLocalHTTP }

type localGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type localGenerateResponse struct {
	Response string `json:"response"`
}

func (b *localHTTPBackend) Complete(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(localGenerateRequest{
		Model:  b.model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: false,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxOutputBytes))
	if err != nil {
		return "", &resilience.AgentError{Kind: resilience.KindStream, Op: "generate", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &resilience.StatusError{
			Status:     resp.StatusCode,
			RetryAfter: resilience.ParseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       string(raw[:min(len(raw), 512)]),
		}
	}

	var out localGenerateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &resilience.AgentError{Kind: resilience.KindParse, Op: "generate", Err: err}
	}
	return out.Response, nil
}

func (b *localHTTPBackend) Stream(ctx context.Context, req Request, onToken func(string)) (string, error) {
	// The generate API is buffered; deliver the whole response as one chunk.
	out, err := b.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if onToken != nil {
		onToken(out)
	}
	return out, nil
}
