// Package asr wraps the automatic-speech-recognition model as an
// injected function behind a single-permit semaphore. The concrete model
// is out of scope: this package only owns serialization of concurrent
// callers, in the small mutex-guarded wrapper style other stage adapters
// in this codebase use.
package asr

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"cobblepod/internal/model"
)

// TranscribeFunc is the caller-supplied collaborator that does the
// actual speech recognition.
type TranscribeFunc func(ctx context.Context, audioPath string) ([]model.Segment, error)

// Adapter serializes calls to a single in-flight transcription at a
// time
// ASR.
type Adapter struct {
	sem    *semaphore.Weighted
	modelID string
	fn     TranscribeFunc
}

// New wraps fn with a single-permit semaphore. modelID is carried only
// for logging/telemetry, matching ASR_MODEL_ID
// config note.
func New(modelID string, fn TranscribeFunc) *Adapter {
	return &Adapter{sem: semaphore.NewWeighted(1), modelID: modelID, fn: fn}
}

// Transcribe blocks until the single permit is available, then runs fn.
func (a *Adapter) Transcribe(ctx context.Context, audioPath string) ([]model.Segment, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("asr: failed to acquire permit: %w", err)
	}
	defer a.sem.Release(1)

	return a.fn(ctx, audioPath)
}

// ModelID returns the configured model identifier.
func (a *Adapter) ModelID() string { return a.modelID }
