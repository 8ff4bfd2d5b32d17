package llm

import (
	"fmt"

	"cobblepod/internal/llm/providers/anthropic"
	"cobblepod/internal/llm/providers/ollama"
	"cobblepod/internal/llm/providers/openai"
)

// New selects a concrete Provider by name ("openai", "anthropic",
// "ollama"), per config.LLMProvider.
func New(providerName, apiKey, baseURL, model string) (Provider, error) {
	switch providerName {
	case "openai", "":
		return openai.New(apiKey, baseURL, model), nil
	case "anthropic":
		return anthropic.New(apiKey, baseURL, model), nil
	case "ollama":
		return ollama.New(baseURL, model)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", providerName)
	}
}
