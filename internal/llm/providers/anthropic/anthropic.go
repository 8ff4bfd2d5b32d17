// Package anthropic adapts the Anthropic Messages API to the
// llm.Provider interface. Client construction follows
// lookatitude-beluga-ai's llms/anthropic functional-options shape,
// trimmed to what the translator's single-call contract needs.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Client wraps the Anthropic Messages API for single-prompt completions.
type Client struct {
	client *anthropic.Client
	model  anthropic.Model
}

// New constructs a Client. baseURL may be empty to use Anthropic's
// default endpoint.
func New(apiKey, baseURL, model string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)

	resolvedModel := anthropic.Model(model)
	if model == "" {
		resolvedModel = anthropic.ModelClaude3_5HaikuLatest
	}

	return &Client{client: &client, model: resolvedModel}
}

func (c *Client) Name() string { return "anthropic:" + string(c.model) }

// RawCall issues a single-message completion request.
func (c *Client) RawCall(ctx context.Context, prompt string) (string, error) {
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 2048,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: request failed: %w", err)
	}
	if len(message.Content) == 0 {
		return "", errors.New("anthropic: empty response body")
	}

	var out string
	for _, block := range message.Content {
		out += block.Text
	}
	return out, nil
}
