// Package catalogue implements the catalogue service: channel/date/episode
// listing, paginated listing, and episode detail with freshly-signed
// playback URLs and the "latest-is-free" entitlement gate. Structured
// the way internal/entitlement.Processor is: a handler struct over an
// injected Store.
package catalogue

import (
	"context"
	"fmt"
	"time"

	"cobblepod/internal/apperr"
	"cobblepod/internal/model"
	"cobblepod/internal/objectstore"
)

const (
	MinPageLimit    = 1
	MaxPageLimit    = 200
	MinExpiresSecs  = 60
	MaxExpiresSecs  = 3600
	DefaultPageSize = 20
)

// Store is the subset of store.Store the catalogue service depends on.
type Store interface {
	ListChannels(ctx context.Context) ([]model.ChannelRef, error)
	ListDates(ctx context.Context, company, channel string) ([]int64, error)
	ListPodcasts(ctx context.Context, company, channel string, limit, offset int) ([]model.PodcastSummary, error)
	ListPodcastsByDate(ctx context.Context, company, channel string, dayStart int64) ([]model.PodcastSummary, error)
	CountPodcasts(ctx context.Context, company, channel string) (int, error)
	GetPodcast(ctx context.Context, id string) (*model.Podcast, error)
}

// Service implements the listing and detail operations exposed over HTTP.
type Service struct {
	store  Store
	signer *objectstore.Signer
}

func New(store Store, signer *objectstore.Signer) *Service {
	return &Service{store: store, signer: signer}
}

func (s *Service) ListChannels(ctx context.Context) ([]model.ChannelRef, error) {
	return s.store.ListChannels(ctx)
}

func (s *Service) ListDates(ctx context.Context, company, channel string) ([]int64, error) {
	return s.store.ListDates(ctx, company, channel)
}

// ListPodcastsForDay returns the episodes published on the UTC day
// containing timestampSec. A zero timestampSec defaults to the
// channel's most recent day.
func (s *Service) ListPodcastsForDay(ctx context.Context, company, channel string, timestampSec int64) ([]model.PodcastSummary, error) {
	if timestampSec == 0 {
		dates, err := s.store.ListDates(ctx, company, channel)
		if err != nil {
			return nil, err
		}
		if len(dates) == 0 {
			return nil, nil
		}
		timestampSec = dates[0]
	}
	dayStart := (timestampSec / 86400) * 86400
	return s.store.ListPodcastsByDate(ctx, company, channel, dayStart)
}

// PagedResult is the paginated-listing response shape.
type PagedResult struct {
	Total      int
	TotalPages int
	Podcasts   []model.PodcastSummary
}

// ListPodcastsPaged validates page/limit bounds and returns a page of
// episodes ordered by the stable compound key (timestampSec DESC, id DESC).
func (s *Service) ListPodcastsPaged(ctx context.Context, company, channel string, page, limit int) (*PagedResult, error) {
	if page < 1 {
		return nil, apperr.Validation("page must be >= 1")
	}
	if limit < MinPageLimit || limit > MaxPageLimit {
		return nil, apperr.Validation(fmt.Sprintf("limit must be between %d and %d", MinPageLimit, MaxPageLimit))
	}

	total, err := s.store.CountPodcasts(ctx, company, channel)
	if err != nil {
		return nil, err
	}

	offset := (page - 1) * limit
	podcasts, err := s.store.ListPodcasts(ctx, company, channel, limit, offset)
	if err != nil {
		return nil, err
	}

	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}

	return &PagedResult{Total: total, TotalPages: totalPages, Podcasts: podcasts}, nil
}

// DetailInput describes a viewer's request for a single episode's
// detail, including whether they currently hold an unexpired VIP
// entitlement (the caller resolves this from the authenticated user
// row before calling Detail).
type DetailInput struct {
	EpisodeID      string
	ExpiresSeconds int64
	ViewerIsVIP    bool
}

// Detail returns the full episode row with freshly-signed audio/segment
// URLs, enforcing the entitlement gate: a non-free episode requires an
// unexpired VIP viewer, otherwise apperr.Auth (403).
func (s *Service) Detail(ctx context.Context, in DetailInput) (*model.Podcast, string, string, error) {
	if in.ExpiresSeconds < MinExpiresSecs || in.ExpiresSeconds > MaxExpiresSecs {
		return nil, "", "", apperr.Validation(fmt.Sprintf("expires must be between %d and %d", MinExpiresSecs, MaxExpiresSecs))
	}

	p, err := s.store.GetPodcast(ctx, in.EpisodeID)
	if err != nil {
		return nil, "", "", err
	}

	if !p.IsFree && !in.ViewerIsVIP {
		return nil, "", "", apperr.Auth("vip subscription required")
	}

	now := time.Now()
	audioURL, err := s.signer.SignedURL(p.AudioKey, in.ExpiresSeconds, now)
	if err != nil {
		return nil, "", "", fmt.Errorf("sign audio url: %w", err)
	}
	segmentsURL, err := s.signer.SignedURL(p.SegmentsKey, in.ExpiresSeconds, now)
	if err != nil {
		return nil, "", "", fmt.Errorf("sign segments url: %w", err)
	}

	return p, audioURL, segmentsURL, nil
}

// CheckResult is the response of the cheap existence/completeness check
// used before a client commits to downloading an episode.
type CheckResult struct {
	Exists     bool
	IsComplete bool
}

// Check reports whether id has a catalogue row and whether that row
// carries both an audio key and a non-zero segment count.
func (s *Service) Check(ctx context.Context, id string) (*CheckResult, error) {
	p, err := s.store.GetPodcast(ctx, id)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return &CheckResult{}, nil
		}
		return nil, err
	}
	return &CheckResult{
		Exists:     true,
		IsComplete: p.AudioKey != "" && p.SegmentsKey != "" && p.SegmentCount > 0,
	}, nil
}
