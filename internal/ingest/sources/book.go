package sources

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// BookSource splits a plain-text ebook into chapter Candidates, each
// meant to be synthesized into audio with TTS and then run through the
// same transcribe/translate/archive pipeline as a podcast episode. A
// concrete TTS provider is out of scope here; each chapter is emitted
// with NeedsTTS set so the orchestrator routes it to an injected TTS
// client before the transcribe stage; when no such client is configured
// the orchestrator fails the chapter as a quota-class error, which aborts
// the batch.
type BookSource struct {
	Company string
	Channel string
	Title   string
	Path    string

	// ChapterSeparator splits the book's raw text into chapters. Book
	// processor source material uses a literal marker line; defaults to
	// "\n\n\n" (the original's blank-line-pair convention) when empty.
	ChapterSeparator string
}

func NewBookSource(company, channel, title, path string) *BookSource {
	return &BookSource{Company: company, Channel: channel, Title: title, Path: path}
}

func (s *BookSource) Name() string { return "book:" + s.Channel }

func (s *BookSource) Fetch(ctx context.Context) ([]Candidate, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("book source %s: read file: %w", s.Path, err)
	}

	sep := s.ChapterSeparator
	if sep == "" {
		sep = "\n\n\n"
	}

	chapters := strings.Split(string(raw), sep)
	out := make([]Candidate, 0, len(chapters))
	for i, chapter := range chapters {
		text := strings.TrimSpace(chapter)
		if text == "" {
			continue
		}

		out = append(out, Candidate{
			Company:      s.Company,
			Channel:      s.Channel,
			Title:        fmt.Sprintf("%s - Chapter %d", s.Title, i+1),
			LanguageCode: "en",
			NeedsTTS:     true,
			RawText:      text,
		})
	}
	return out, nil
}
