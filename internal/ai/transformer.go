// Package ai wraps the language model used to turn gathered source material
// into artifacts. Calls are made exactly once per request: retrying here
// could mask a success the caller already paid for.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrUpstream wraps transport and API failures from the model provider.
	ErrUpstream = errors.New("ai: upstream failure")
	// ErrRateLimited is returned when the provider throttles the request. It
	// also matches ErrUpstream.
	ErrRateLimited = fmt.Errorf("%w: rate limited", ErrUpstream)
	// ErrEmptyResponse is returned when the provider answers without content.
	ErrEmptyResponse = errors.New("ai: empty response")
)

// Format selects the expected shape of the model output.
type Format int

const (
	// FormatText asks for free-form text or markdown.
	FormatText Format = iota
	// FormatJSON asks the provider to emit a single JSON object.
	FormatJSON
)

// Request is one transformation.
type Request struct {
	System      string
	Prompt      string
	Format      Format
	MaxTokens   int
	Temperature float32
}

// Transformer turns a prompt into model output.
type Transformer interface {
	Transform(ctx context.Context, req Request) (string, error)
}

// OpenAI is a Transformer backed by an OpenAI-compatible chat completions API.
type OpenAI struct {
	client *openai.Client
	Model  string
}

// NewOpenAI returns a client for apiKey. A non-empty baseURL targets a
// compatible endpoint instead of api.openai.com.
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), Model: model}
}

// Transform implements Transformer.
func (o *OpenAI) Transform(ctx context.Context, req Request) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	creq := openai.ChatCompletionRequest{
		Model:       o.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.Format == FormatJSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
	}
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}
