package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/parleyhq/parley/internal/resilience"
	"github.com/parleyhq/parley/internal/types"
)

const defaultOpenAIModel = "gpt-4o-mini"

// openaiBackend speaks the chat-completions wire shape via the go-openai
// client. A custom base URL lets it front any compatible endpoint.
type openaiBackend struct {
	client *openai.Client
	model  string
}

func newOpenAIBackend(config Config) (*openaiBackend, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai backend for %s requires an API key", config.Name)
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	model := config.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &openaiBackend{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}, nil
}

func (b *openaiBackend) Kind() types.BackendKind { return types.BackendOpenAI }

func (b *openaiBackend) request(req Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})
	return openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

func (b *openaiBackend) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, b.request(req))
	if err != nil {
		return "", wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &resilience.AgentError{Kind: resilience.KindParse, Op: "generate",
			Err: fmt.Errorf("completion returned no choices")}
	}
	return resp.Choices[0].Message.Content, nil
}

func (b *openaiBackend) Stream(ctx context.Context, req Request, onToken func(string)) (string, error) {
	stream, err := b.client.CreateChatCompletionStream(ctx, b.request(req))
	if err != nil {
		return "", wrapOpenAIError(err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", &resilience.AgentError{Kind: resilience.KindStream, Op: "generate",
				Err: wrapOpenAIError(err)}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if sb.Len()+len(delta) > MaxOutputBytes {
			break
		}
		sb.WriteString(delta)
		if onToken != nil {
			onToken(delta)
		}
	}
	return sb.String(), nil
}

// wrapOpenAIError lifts the HTTP status out of the SDK error so the
// classifier sees structure instead of matching prose.
func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &resilience.StatusError{
			Status: apiErr.HTTPStatusCode,
			Body:   apiErr.Message,
		}
	}
	return err
}
