// Package llm defines the single abstract LLM operation the Translator
// Engine depends on -> text" with
// retry/backoff) and a provider-agnostic retry wrapper shared by every
// concrete adapter under internal/llm/providers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cobblepod/internal/apperr"
)

// Provider exposes exactly call(prompt) -> text
// L4 module description. Concrete adapters (openai, anthropic, ollama)
// implement only RawCall; Call wraps it with the shared retry policy.
type Provider interface {
	RawCall(ctx context.Context, prompt string) (string, error)
	Name() string
}

const (
	maxAttempts     = 5
	backoffStep     = time.Second
	backoffCap      = 15 * time.Second
)

// QuotaSignalError marks a provider response that must not be retried:
// a distinguished 429 carrying a free-tier/hard-quota signal that maps
// to apperr's QuotaExceeded kind.
type QuotaSignalError struct {
	Err error
}

func (e *QuotaSignalError) Error() string { return fmt.Sprintf("quota exceeded: %v", e.Err) }
func (e *QuotaSignalError) Unwrap() error  { return e.Err }

// Call runs provider.RawCall with up to 5 attempts and linear backoff
// capped at 15s, retrying on 429, 5xx, timeouts, and empty-body
// responses. A QuotaSignalError short-circuits to apperr.Quota without
// further retry.
func Call(ctx context.Context, p Provider, prompt string) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, err := p.RawCall(ctx, prompt)
		if err == nil && strings.TrimSpace(text) != "" {
			return text, nil
		}

		if err == nil {
			err = errors.New("empty response body")
		}

		var quota *QuotaSignalError
		if errors.As(err, &quota) {
			return "", apperr.Quota(fmt.Sprintf("%s: provider signalled quota exhaustion", p.Name()))
		}

		lastErr = err
		if !isRetryable(err) {
			return "", apperr.Transient(fmt.Sprintf("%s: call failed", p.Name()), err)
		}

		if attempt == maxAttempts {
			break
		}

		wait := time.Duration(attempt) * backoffStep
		if wait > backoffCap {
			wait = backoffCap
		}
		slog.Warn("llm call failed, retrying", "provider", p.Name(), "attempt", attempt, "wait", wait, "error", err)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", apperr.Transient(fmt.Sprintf("%s: context cancelled during backoff", p.Name()), ctx.Err())
		}
	}

	return "", apperr.Transient(fmt.Sprintf("%s: exhausted retry budget", p.Name()), lastErr)
}

func isRetryable(err error) bool {
	var statusErr interface{ StatusCode() int }
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode()
		return code == http.StatusTooManyRequests || code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "empty response") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "eof")
}
