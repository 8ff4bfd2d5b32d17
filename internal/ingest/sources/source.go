// Package sources implements the three feed kinds episodes are pulled
// from: podcast RSS feeds, bilingual subtitle files, and ebook chapters.
// Feed/RSS parsing is treated as an external collaborator that yields
// normalized episode records; this package is that normalization
// boundary.
package sources

import (
	"context"

	"cobblepod/internal/model"
)

// Candidate is a normalized episode record ready for the Ingestion
// Orchestrator, before download/transcribe/translate/archive/publish.
type Candidate struct {
	Company      string
	Channel      string
	AudioURL     string // empty when NeedsTTS is true
	Title        string
	Subtitle     string
	TimestampSec int64
	LanguageCode string
	DurationSec  *float64

	// PreSegments carries already time-aligned text (and, for bilingual
	// subtitles, translation) so the orchestrator can skip the ASR stage
	// entirely. Nil means the orchestrator must transcribe audio itself.
	PreSegments []model.Segment

	// NeedsTTS marks a source with no audio yet (ebook chapters): the
	// orchestrator must synthesize audio from RawText before the
	// transcribe stage can run. A concrete TTS provider is out of scope
	// here; the orchestrator only needs to recognize this flag and route
	// to a TTS client interface.
	NeedsTTS bool
	RawText  string
}

// Source fetches normalized candidate episodes from one feed kind.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Candidate, error)
}
