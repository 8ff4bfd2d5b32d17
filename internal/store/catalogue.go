package store

import (
	"context"
	"database/sql"
	"errors"

	"cobblepod/internal/apperr"
	"cobblepod/internal/model"
)

// PublishPodcast inserts or replaces a published episode row. Publish is
// the terminal step of the ingestion pipeline and is idempotent on the episode's content-hash ID.
func (s *Store) PublishPodcast(ctx context.Context, p *model.Podcast) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO podcasts (id, company, channel, audio_key, segments_key, segment_count, title, title_translation, subtitle, timestamp_sec, language_code, duration_sec, raw_audio_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			audio_key = excluded.audio_key,
			segments_key = excluded.segments_key,
			segment_count = excluded.segment_count,
			title = excluded.title,
			title_translation = excluded.title_translation,
			subtitle = excluded.subtitle,
			language_code = excluded.language_code,
			duration_sec = excluded.duration_sec,
			raw_audio_url = excluded.raw_audio_url`,
		p.ID, p.Company, p.Channel, p.AudioKey, p.SegmentsKey, p.SegmentCount, p.Title, p.TitleTranslation, p.Subtitle, p.TimestampSec, p.LanguageCode, p.DurationSec, p.RawAudioURL)
	if err != nil {
		return apperr.Internal("publish podcast", err)
	}
	return nil
}

// ListChannels returns the distinct (company, channel) pairs in the
// catalogue, for the /channels endpoint.
func (s *Store) ListChannels(ctx context.Context) ([]model.ChannelRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT company, channel FROM podcasts ORDER BY company, channel`)
	if err != nil {
		return nil, apperr.Internal("list channels", err)
	}
	defer rows.Close()

	var out []model.ChannelRef
	for rows.Next() {
		var c model.ChannelRef
		if err := rows.Scan(&c.Company, &c.Channel); err != nil {
			return nil, apperr.Internal("scan channel", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListDates returns the distinct UTC dates (as the episode's UNIX day
// boundary) with published episodes for a channel, newest first.
func (s *Store) ListDates(ctx context.Context, company, channel string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT (timestamp_sec / 86400) * 86400 AS day
		FROM podcasts WHERE company = ? AND channel = ?
		ORDER BY day DESC`, company, channel)
	if err != nil {
		return nil, apperr.Internal("list dates", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var d int64
		if err := rows.Scan(&d); err != nil {
			return nil, apperr.Internal("scan date", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListPodcasts returns a page of episodes for a channel ordered newest
// first, with the freshest row of the page marked free under the
// latest-is-free entitlement rule.
func (s *Store) ListPodcasts(ctx context.Context, company, channel string, limit, offset int) ([]model.PodcastSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company, channel, title, title_translation, timestamp_sec, duration_sec
		FROM podcasts WHERE company = ? AND channel = ?
		ORDER BY timestamp_sec DESC, id DESC
		LIMIT ? OFFSET ?`, company, channel, limit, offset)
	if err != nil {
		return nil, apperr.Internal("list podcasts", err)
	}
	defer rows.Close()

	var out []model.PodcastSummary
	for rows.Next() {
		var p model.PodcastSummary
		if err := rows.Scan(&p.ID, &p.Company, &p.Channel, &p.Title, &p.TitleTranslation, &p.TimestampSec, &p.DurationSec); err != nil {
			return nil, apperr.Internal("scan podcast summary", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate podcasts", err)
	}

	if offset == 0 && len(out) > 0 {
		out[0].IsFree = true
	}
	return out, nil
}

// ListPodcastsByDate returns every episode whose timestampSec falls in
// [dayStart, dayStart+86400), newest first, for the "list episodes by
// day" endpoint. The first row is marked free only when dayStart is the
// channel's most recent day.
func (s *Store) ListPodcastsByDate(ctx context.Context, company, channel string, dayStart int64) ([]model.PodcastSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company, channel, title, title_translation, timestamp_sec, duration_sec
		FROM podcasts WHERE company = ? AND channel = ? AND timestamp_sec >= ? AND timestamp_sec < ?
		ORDER BY timestamp_sec DESC, id DESC`, company, channel, dayStart, dayStart+86400)
	if err != nil {
		return nil, apperr.Internal("list podcasts by date", err)
	}
	defer rows.Close()

	var out []model.PodcastSummary
	for rows.Next() {
		var p model.PodcastSummary
		if err := rows.Scan(&p.ID, &p.Company, &p.Channel, &p.Title, &p.TitleTranslation, &p.TimestampSec, &p.DurationSec); err != nil {
			return nil, apperr.Internal("scan podcast summary", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("iterate podcasts by date", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	latestDay, err := s.latestDayInChannel(ctx, company, channel)
	if err == nil && latestDay == dayStart {
		out[0].IsFree = true
	}
	return out, nil
}

func (s *Store) latestDayInChannel(ctx context.Context, company, channel string) (int64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT (timestamp_sec / 86400) * 86400 AS day FROM podcasts
		WHERE company = ? AND channel = ? ORDER BY timestamp_sec DESC LIMIT 1`, company, channel)
	var day int64
	if err := row.Scan(&day); err != nil {
		return 0, err
	}
	return day, nil
}

// CountPodcasts returns the total row count for a channel, for the
// paginated listing endpoint's total/total_pages fields.
func (s *Store) CountPodcasts(ctx context.Context, company, channel string) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM podcasts WHERE company = ? AND channel = ?`, company, channel)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, apperr.Internal("count podcasts", err)
	}
	return n, nil
}

// GetPodcast returns the full row for a single episode, or NotFound.
func (s *Store) GetPodcast(ctx context.Context, id string) (*model.Podcast, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, company, channel, audio_key, segments_key, segment_count, title, title_translation, subtitle, timestamp_sec, language_code, duration_sec, raw_audio_url
		FROM podcasts WHERE id = ?`, id)

	var p model.Podcast
	if err := row.Scan(&p.ID, &p.Company, &p.Channel, &p.AudioKey, &p.SegmentsKey, &p.SegmentCount, &p.Title, &p.TitleTranslation, &p.Subtitle, &p.TimestampSec, &p.LanguageCode, &p.DurationSec, &p.RawAudioURL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("podcast not found")
		}
		return nil, apperr.Internal("scan podcast", err)
	}

	p.IsFree, _ = s.isLatestInChannel(ctx, p.Company, p.Channel, p.TimestampSec, p.ID)
	return &p, nil
}

func (s *Store) isLatestInChannel(ctx context.Context, company, channel string, timestampSec int64, id string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id FROM podcasts WHERE company = ? AND channel = ?
		ORDER BY timestamp_sec DESC, id DESC LIMIT 1`, company, channel)
	var latestID string
	if err := row.Scan(&latestID); err != nil {
		return false, err
	}
	return latestID == id, nil
}
