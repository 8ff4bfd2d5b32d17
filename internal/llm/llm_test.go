package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"cobblepod/internal/apperr"
)

type fakeProvider struct {
	calls   int
	results []fakeResult
}

type fakeResult struct {
	text string
	err  error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) RawCall(ctx context.Context, prompt string) (string, error) {
	r := f.results[f.calls]
	f.calls++
	return r.text, r.err
}

type statusErr struct {
	code int
}

func (e *statusErr) Error() string   { return "status error" }
func (e *statusErr) StatusCode() int { return e.code }

func TestCallSucceedsOnFirstTry(t *testing.T) {
	p := &fakeProvider{results: []fakeResult{{text: "hola"}}}
	out, err := Call(context.Background(), p, "hello")
	require.NoError(t, err)
	require.Equal(t, "hola", out)
	require.Equal(t, 1, p.calls)
}

func TestCallRetriesOnTransientThenSucceeds(t *testing.T) {
	p := &fakeProvider{results: []fakeResult{
		{err: &statusErr{code: 503}},
		{err: &statusErr{code: 429}},
		{text: "ok"},
	}}
	out, err := Call(context.Background(), p, "hello")
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, 3, p.calls)
}

func TestCallStopsOnQuotaSignalWithoutRetry(t *testing.T) {
	p := &fakeProvider{results: []fakeResult{
		{err: &QuotaSignalError{Err: errors.New("free tier exhausted")}},
		{text: "should not be reached"},
	}}
	_, err := Call(context.Background(), p, "hello")
	require.True(t, apperr.Is(err, apperr.KindQuota))
	require.Equal(t, 1, p.calls)
}

func TestCallExhaustsRetryBudget(t *testing.T) {
	results := make([]fakeResult, 5)
	for i := range results {
		results[i] = fakeResult{err: &statusErr{code: 500}}
	}
	p := &fakeProvider{results: results}
	_, err := Call(context.Background(), p, "hello")
	require.True(t, apperr.Is(err, apperr.KindTransient))
	require.Equal(t, 5, p.calls)
}

func TestCallTreatsEmptyBodyAsRetryable(t *testing.T) {
	p := &fakeProvider{results: []fakeResult{{text: ""}, {text: "finally"}}}
	out, err := Call(context.Background(), p, "hello")
	require.NoError(t, err)
	require.Equal(t, "finally", out)
}
