// Package ollama adapts a locally or remotely hosted Ollama server to
// the llm.Provider interface, via the ollama project's own client
// package (github.com/ollama/ollama/api), mirroring
// lookatitude-beluga-ai's llms/ollama adapter shape.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// Client wraps the Ollama chat API for single-prompt completions.
type Client struct {
	client *api.Client
	model  string
}

// New constructs a Client pointed at baseURL (e.g. "http://localhost:11434").
func New(baseURL, model string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("ollama: invalid base URL %q: %w", baseURL, err)
	}
	return &Client{client: api.NewClient(u, http.DefaultClient), model: model}, nil
}

func (c *Client) Name() string { return "ollama:" + c.model }

// RawCall issues a single non-streaming chat request.
func (c *Client) RawCall(ctx context.Context, prompt string) (string, error) {
	stream := false
	var out string

	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{Role: "user", Content: prompt},
		},
		Stream: &stream,
	}

	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		out += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama: request failed: %w", err)
	}
	if out == "" {
		return "", errors.New("ollama: empty response body")
	}
	return out, nil
}
