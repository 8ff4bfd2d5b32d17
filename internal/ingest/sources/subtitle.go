package sources

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"cobblepod/internal/model"
)

// SubtitleSource reads bilingual .srt files off disk, producing a single
// Candidate per file whose PreSegments are already time-aligned and
// already translated; when every segment carries a translation, the
// orchestrator's translate stage returns them unchanged with no LLM call
// (otherwise it translates the whole file afresh).
//
// Block format:
//
//	<sequence number>
//	<start> --> <end>
//	<english text>
//	<chinese translation>
//	<blank line>
type SubtitleSource struct {
	Company string
	Channel string
	Files   []SubtitleFile
}

// SubtitleFile pairs one .srt file with the audio it subtitles.
type SubtitleFile struct {
	Path         string
	AudioURL     string
	Title        string
	Subtitle     string
	TimestampSec int64
}

func NewSubtitleSource(company, channel string, files []SubtitleFile) *SubtitleSource {
	return &SubtitleSource{Company: company, Channel: channel, Files: files}
}

func (s *SubtitleSource) Name() string { return "subtitle:" + s.Channel }

var timeRangeRe = regexp.MustCompile(`(\S+)\s*-->\s*(\S+)`)
var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

func (s *SubtitleSource) Fetch(ctx context.Context) ([]Candidate, error) {
	out := make([]Candidate, 0, len(s.Files))
	for _, f := range s.Files {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		segments, err := parseBilingualSRT(f.Path)
		if err != nil {
			return nil, fmt.Errorf("subtitle source %s: %w", f.Path, err)
		}

		var duration *float64
		if len(segments) > 0 {
			d := segments[len(segments)-1].EndSec
			duration = &d
		}

		out = append(out, Candidate{
			Company:      s.Company,
			Channel:      s.Channel,
			AudioURL:     f.AudioURL,
			Title:        f.Title,
			Subtitle:     f.Subtitle,
			TimestampSec: f.TimestampSec,
			LanguageCode: "en",
			DurationSec:  duration,
			PreSegments:  segments,
		})
	}
	return out, nil
}

func parseBilingualSRT(path string) ([]model.Segment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read srt file: %w", err)
	}
	content := strings.TrimPrefix(string(raw), string(rune(0xFEFF))) // strip UTF-8 BOM

	blocks := regexp.MustCompile(`\n\s*\n`).Split(strings.TrimSpace(content), -1)
	var segments []model.Segment
	for _, block := range blocks {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 4 {
			continue
		}

		m := timeRangeRe.FindStringSubmatch(strings.TrimSpace(lines[1]))
		if m == nil {
			continue
		}
		start, err := parseSRTTimestamp(m[1])
		if err != nil {
			continue
		}
		end, err := parseSRTTimestamp(m[2])
		if err != nil {
			continue
		}

		segments = append(segments, model.Segment{
			Index:       len(segments),
			StartSec:    start,
			EndSec:      end,
			Text:        cleanSubtitleText(lines[2]),
			Translation: cleanSubtitleText(lines[3]),
		})
	}
	return segments, nil
}

// parseSRTTimestamp parses "HH:MM:SS,mmm" into seconds.
func parseSRTTimestamp(ts string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(ts), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid srt timestamp %q", ts)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	secParts := strings.Split(parts[2], ",")
	if len(secParts) != 2 {
		return 0, fmt.Errorf("invalid srt seconds %q", parts[2])
	}
	seconds, err := strconv.Atoi(secParts[0])
	if err != nil {
		return 0, err
	}
	millis, err := strconv.Atoi(secParts[1])
	if err != nil {
		return 0, err
	}
	return float64(hours*3600+minutes*60+seconds) + float64(millis)/1000.0, nil
}

func cleanSubtitleText(s string) string {
	s = htmlTagRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}
