package translator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"cobblepod/internal/apperr"
	"cobblepod/internal/llm"
)

// echoProvider returns a deterministic, prompt-derived response so
// assertions can check which prompt shape a call received without
// depending on network access.
type echoProvider struct {
	mu     sync.Mutex
	prompt []string
}

func (p *echoProvider) Name() string { return "echo" }

func (p *echoProvider) RawCall(ctx context.Context, prompt string) (string, error) {
	p.mu.Lock()
	p.prompt = append(p.prompt, prompt)
	p.mu.Unlock()
	return "译:" + lastLine(prompt), nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}

func TestTranslateBatchPreservesLength(t *testing.T) {
	p := &echoProvider{}
	e := New(p)
	texts := []string{"hello", "world", "", "foo"}

	out, err := e.TranslateBatch(context.Background(), texts, Options{UseContext: false})
	require.NoError(t, err)
	require.Len(t, out, len(texts))
	require.Equal(t, "", out[2], "empty source maps to empty translation")
}

func TestTranslateBatchEmptyInput(t *testing.T) {
	e := New(&echoProvider{})
	out, err := e.TranslateBatch(context.Background(), nil, DefaultOptions())
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestSingleShotModeUsedForSingleSegment(t *testing.T) {
	p := &echoProvider{}
	e := New(p)
	out, err := e.TranslateBatch(context.Background(), []string{"a short phrase"}, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NotEmpty(t, out[0])
}

func TestSummaryAndSlidingWindowModeCallsSummaryOnce(t *testing.T) {
	p := &echoProvider{}
	e := New(p)
	texts := []string{"segment one is here", "segment two is here", "segment three is here"}

	out, err := e.TranslateBatch(context.Background(), texts, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, out, len(texts))
	for _, o := range out {
		require.NotEmpty(t, o)
	}

	var summaryCalls int
	for _, pr := range p.prompt {
		if strings.Contains(pr, "请提供一个简洁的总结") || strings.Contains(pr, "请阅读以下英文文章") {
			summaryCalls++
		}
	}
	require.Equal(t, 1, summaryCalls, "exactly one summary call for the whole batch")
}

func TestSlidingWindowFallbackWithoutFullContext(t *testing.T) {
	p := &echoProvider{}
	e := New(p)
	texts := []string{"one", "two", "three"}
	opts := Options{UseContext: true, UseFullContext: false, ContextWindow: 1}

	out, err := e.TranslateBatch(context.Background(), texts, opts)
	require.NoError(t, err)
	require.Len(t, out, len(texts))

	for _, pr := range p.prompt {
		require.NotContains(t, pr, "文章背景", "no-summary fallback must not include the summary block")
	}
}

func TestReflectionUpgradesShortTranslationOnlyAboveThreshold(t *testing.T) {
	p := &echoProvider{}
	e := New(p)
	short := "hi"
	out, err := e.TranslateBatch(context.Background(), []string{short}, Options{UseContext: false, UseReflection: true})
	require.NoError(t, err)
	require.Len(t, out, 1)

	var reflectionCalls int
	for _, pr := range p.prompt {
		if strings.Contains(pr, "需要优化以下翻译") {
			reflectionCalls++
		}
	}
	require.Equal(t, 0, reflectionCalls, "reflection is skipped for source text under the char threshold")
}

type quotaProvider struct{}

func (p *quotaProvider) Name() string { return "quota" }

func (p *quotaProvider) RawCall(ctx context.Context, prompt string) (string, error) {
	return "", &llm.QuotaSignalError{Err: errors.New("monthly quota exhausted")}
}

func TestTranslateBatchPropagatesQuotaExceeded(t *testing.T) {
	e := New(&quotaProvider{})
	texts := []string{"alpha", "beta", "gamma"}

	out, err := e.TranslateBatch(context.Background(), texts, Options{UseContext: false})
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.KindQuota))
	require.Len(t, out, len(texts))
}

func TestOrderingMatchesInputRegardlessOfCompletionOrder(t *testing.T) {
	p := &echoProvider{}
	e := New(p)
	texts := []string{"alpha text segment", "beta text segment", "gamma text segment", "delta text segment"}
	out, err := e.TranslateBatch(context.Background(), texts, Options{UseContext: false, UseReflection: false})
	require.NoError(t, err)
	require.Len(t, out, len(texts))
	for i, o := range out {
		require.Contains(t, o, "译:", "segment %d should carry a translation", i)
	}
}
