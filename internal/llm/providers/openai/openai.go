// Package openai adapts an OpenAI-compatible chat-completions endpoint
// (OpenAI itself, or any API-compatible gateway reachable via
// config.LLMBaseURL) to the llm.Provider interface, grounded on
// lookatitude-beluga-ai's llms/openai client-construction style adapted
// to the translator's single-call contract.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Client wraps go-openai's client for single-prompt chat completions.
type Client struct {
	client *openai.Client
	model  string
}

// New constructs a Client. baseURL may be empty to use OpenAI's default
// endpoint, or set to point at a compatible gateway.
func New(apiKey, baseURL, model string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{client: openai.NewClientWithConfig(cfg), model: model}
}

func (c *Client) Name() string { return "openai:" + c.model }

// RawCall issues a single chat-completion request with the prompt as the
// sole user message, per the translator's call(prompt) -> text contract.
func (c *Client) RawCall(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", &statusError{code: apiErr.HTTPStatusCode, err: err}
		}
		return "", fmt.Errorf("openai: request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty response body")
	}
	return resp.Choices[0].Message.Content, nil
}

// statusError exposes StatusCode() so internal/llm's shared retry
// classifier can tell 429/5xx apart from other failures without
// depending on the go-openai package directly.
type statusError struct {
	code int
	err  error
}

func (e *statusError) Error() string     { return e.err.Error() }
func (e *statusError) Unwrap() error     { return e.err }
func (e *statusError) StatusCode() int   { return e.code }
