package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/parleyhq/parley/internal/resilience"
	"github.com/parleyhq/parley/internal/types"
)

// anthropicBackend speaks the messages wire shape via the official SDK.
type anthropicBackend struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func newAnthropicBackend(config Config) (*anthropicBackend, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic backend for %s requires an API key", config.Name)
	}
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	model := config.Model
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	maxTokens := int64(config.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &anthropicBackend{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

func (b *anthropicBackend) Kind() types.BackendKind { return types.BackendAnthropic }

func (b *anthropicBackend) params(req Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(b.model),
		MaxTokens: b.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params
}

func (b *anthropicBackend) Complete(ctx context.Context, req Request) (string, error) {
	message, err := b.client.Messages.New(ctx, b.params(req))
	if err != nil {
		return "", wrapAnthropicError(err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func (b *anthropicBackend) Stream(ctx context.Context, req Request, onToken func(string)) (string, error) {
	stream := b.client.Messages.NewStreaming(ctx, b.params(req))
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		event := stream.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok {
				if sb.Len()+len(delta.Text) > MaxOutputBytes {
					return sb.String(), nil
				}
				sb.WriteString(delta.Text)
				if onToken != nil {
					onToken(delta.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", &resilience.AgentError{Kind: resilience.KindStream, Op: "generate",
			Err: wrapAnthropicError(err)}
	}
	return sb.String(), nil
}

func wrapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode > 0 {
		return &resilience.StatusError{
			Status: apiErr.StatusCode,
			Body:   apiErr.Error(),
		}
	}
	return err
}
