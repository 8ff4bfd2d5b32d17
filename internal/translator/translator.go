// Package translator implements the translator engine: mode selection,
// prompt shaping, the reflection protocol, and the summary +
// sliding-window pipeline for long transcripts. Batching is driven by
// golang.org/x/sync/semaphore and sync.WaitGroup rather than an
// async-task-gather pattern.
package translator

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"cobblepod/internal/apperr"
	"cobblepod/internal/llm"
)

const (
	singleShotConcurrency = 5
	windowConcurrency     = 5
	reflectionMinChars    = 50
	reflectionMinRatio    = 0.8
	longTextThreshold     = 5000
	longTextWindow        = 3
	maxLoggedFailures     = 10
)

// Options controls translateBatch mode selection.
type Options struct {
	SourceLang     string
	TargetLang     string
	UseReflection  bool
	UseContext     bool
	ContextWindow  int
	UseFullContext bool
}

// DefaultOptions mirrors the original system's translate_batch defaults.
func DefaultOptions() Options {
	return Options{
		SourceLang:     "auto",
		TargetLang:     "zh",
		UseReflection:  true,
		UseContext:     true,
		ContextWindow:  2,
		UseFullContext: true,
	}
}

// Engine translates a sequence of source strings into target-language
// strings of identical length, preserving per-segment correspondence.
type Engine struct {
	provider llm.Provider
}

func New(provider llm.Provider) *Engine {
	return &Engine{provider: provider}
}

// TranslateBatch returns len(translations) == len(texts). Empty source
// maps to empty translation; failed calls become empty strings and are
// accounted in the log rather than failing the batch. The one exception
// is a provider-signalled QuotaExceeded: that is returned as an error
// and the batch stops issuing further calls.
func (e *Engine) TranslateBatch(ctx context.Context, texts []string, opts Options) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var out []string
	var quotaErr error
	switch {
	case !opts.UseContext || len(texts) == 1:
		out, quotaErr = e.singleShot(ctx, texts, opts)
	case opts.UseFullContext:
		out, quotaErr = e.summaryAndSlidingWindow(ctx, texts, opts)
	default:
		out, quotaErr = e.slidingWindow(ctx, texts, opts, "")
	}

	e.logAccounting(texts, out)
	return out, quotaErr
}

// quotaLatch records the first QuotaExceeded signal seen across a fan-out
// of concurrent goroutines, once.
type quotaLatch struct {
	mu  sync.Mutex
	err error
}

func (q *quotaLatch) set(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err == nil {
		q.err = err
	}
}

func (q *quotaLatch) get() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

func (e *Engine) singleShot(ctx context.Context, texts []string, opts Options) ([]string, error) {
	out := make([]string, len(texts))
	sem := semaphore.NewWeighted(singleShotConcurrency)
	var wg sync.WaitGroup
	var quota quotaLatch

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			result, err := e.translateOneSingleShot(ctx, text, opts)
			if err != nil {
				quota.set(err)
				return
			}
			out[i] = result
		}(i, text)
	}
	wg.Wait()
	return out, quota.get()
}

// translateOneSingleShot returns a non-nil error only for a QuotaExceeded
// signal; any other call failure degrades to an empty translation.
func (e *Engine) translateOneSingleShot(ctx context.Context, text string, opts Options) (string, error) {
	initial, err := llm.Call(ctx, e.provider, buildSimplePrompt(text))
	if err != nil {
		if apperr.Is(err, apperr.KindQuota) {
			return "", err
		}
		slog.Warn("translator: single-shot call failed", "error", err)
		return "", nil
	}
	initial = strings.TrimSpace(initial)

	if !opts.UseReflection || len([]rune(text)) < reflectionMinChars {
		return initial, nil
	}

	optimized, err := llm.Call(ctx, e.provider, buildReflectionPrompt(text, initial))
	if err != nil {
		if apperr.Is(err, apperr.KindQuota) {
			return "", err
		}
		slog.Warn("translator: reflection step failed, using initial translation", "error", err)
		return initial, nil
	}
	optimized = strings.TrimSpace(optimized)
	if optimized != "" && float64(len([]rune(optimized))) > float64(len([]rune(initial)))*reflectionMinRatio {
		return optimized, nil
	}
	return initial, nil
}

func (e *Engine) summaryAndSlidingWindow(ctx context.Context, texts []string, opts Options) ([]string, error) {
	fullText := strings.Join(texts, " ")

	summary, err := llm.Call(ctx, e.provider, buildSummaryPrompt(fullText))
	if err != nil {
		if apperr.Is(err, apperr.KindQuota) {
			return make([]string, len(texts)), err
		}
		slog.Warn("translator: summary generation failed, continuing with placeholder", "error", err)
		summary = "（无法生成总结，直接翻译）"
	} else if strings.TrimSpace(summary) == "" {
		summary = "（无法生成总结，直接翻译）"
	}

	return e.slidingWindow(ctx, texts, opts, summary)
}

// slidingWindow translates each segment with a window of surrounding
// context, with or without a summary block depending on whether summary
// is non-empty.
func (e *Engine) slidingWindow(ctx context.Context, texts []string, opts Options, summary string) ([]string, error) {
	out := make([]string, len(texts))
	window := opts.ContextWindow
	if window <= 0 {
		window = 2
	}

	fullLen := 0
	for _, t := range texts {
		fullLen += len([]rune(t))
	}
	if fullLen > longTextThreshold {
		window = longTextWindow
	}

	sem := semaphore.NewWeighted(windowConcurrency)
	var wg sync.WaitGroup
	var quota quotaLatch

	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			start := max0(i - window)
			end := minN(len(texts), i+window+1)
			before := strings.Join(texts[start:i], " ")
			var after string
			if i < len(texts)-1 {
				after = strings.Join(texts[i+1:end], " ")
			}

			var prompt string
			if summary != "" {
				prompt = buildSlidingWindowPrompt(text, summary, before, after)
			} else {
				prompt = buildContextPrompt(text, before, after)
			}

			result, err := llm.Call(ctx, e.provider, prompt)
			if err != nil {
				if apperr.Is(err, apperr.KindQuota) {
					quota.set(err)
					return
				}
				slog.Warn("translator: segment translation failed", "index", i, "error", err)
				return
			}
			out[i] = strings.TrimSpace(result)
		}(i, text)
	}
	wg.Wait()
	return out, quota.get()
}

func (e *Engine) logAccounting(texts, translations []string) {
	success := 0
	var failedIdx []int
	for i, t := range translations {
		if strings.TrimSpace(texts[i]) == "" {
			continue
		}
		if strings.TrimSpace(t) != "" {
			success++
		} else {
			failedIdx = append(failedIdx, i)
		}
	}
	total := len(texts)
	slog.Info("translator: batch complete", "success", success, "total", total)
	if len(failedIdx) > 0 {
		sort.Ints(failedIdx)
		if len(failedIdx) > maxLoggedFailures {
			failedIdx = failedIdx[:maxLoggedFailures]
		}
		slog.Warn("translator: segments with empty translation", "indices", failedIdx)
	}
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func minN(a, b int) int {
	if a < b {
		return a
	}
	return b
}
