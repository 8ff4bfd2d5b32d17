// Package processor drives one dequeued ingestion batch through the
// Orchestrator: a Processor holds its collaborators and exposes a single
// Run method, called once per dequeued queue.Job, since the worker loop
// dequeues one batch per company/channel/source at a time.
package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"cobblepod/internal/config"
	"cobblepod/internal/idhash"
	"cobblepod/internal/ingest"
	"cobblepod/internal/ingest/sources"
	"cobblepod/internal/queue"
)

// Processor turns a queue.Job into a sources.Source, fetches its
// candidates, and runs them through the Orchestrator.
type Processor struct {
	orchestrator *ingest.Orchestrator
	queue        *queue.Queue
}

// NewProcessor wires a Processor around an already-constructed
// Orchestrator and Queue, for testability with fakes; cmd/worker/main.go
// supplies the production collaborators it assembled itself.
func NewProcessor(orchestrator *ingest.Orchestrator, jobQueue *queue.Queue) *Processor {
	return &Processor{orchestrator: orchestrator, queue: jobQueue}
}

// rssSourceConfig is job.SourceConfig's JSON shape for SourceKind "rss".
type rssSourceConfig struct {
	FeedURL string `json:"feed_url"`
}

// subtitleSourceConfig is job.SourceConfig's JSON shape for SourceKind
// "subtitle".
type subtitleSourceConfig struct {
	Files []sources.SubtitleFile `json:"files"`
}

// bookSourceConfig is job.SourceConfig's JSON shape for SourceKind "book".
type bookSourceConfig struct {
	Title            string `json:"title"`
	Path             string `json:"path"`
	ChapterSeparator string `json:"chapter_separator,omitempty"`
}

func buildSource(job *queue.Job) (sources.Source, error) {
	switch job.SourceKind {
	case "rss":
		var cfg rssSourceConfig
		if err := json.Unmarshal([]byte(job.SourceConfig), &cfg); err != nil {
			return nil, fmt.Errorf("processor: invalid rss source config: %w", err)
		}
		return sources.NewRSSSource(job.Company, job.Channel, cfg.FeedURL), nil
	case "subtitle":
		var cfg subtitleSourceConfig
		if err := json.Unmarshal([]byte(job.SourceConfig), &cfg); err != nil {
			return nil, fmt.Errorf("processor: invalid subtitle source config: %w", err)
		}
		return sources.NewSubtitleSource(job.Company, job.Channel, cfg.Files), nil
	case "book":
		var cfg bookSourceConfig
		if err := json.Unmarshal([]byte(job.SourceConfig), &cfg); err != nil {
			return nil, fmt.Errorf("processor: invalid book source config: %w", err)
		}
		src := sources.NewBookSource(job.Company, job.Channel, cfg.Title, cfg.Path)
		src.ChapterSeparator = cfg.ChapterSeparator
		return src, nil
	default:
		return nil, fmt.Errorf("processor: unknown source kind %q", job.SourceKind)
	}
}

// Run fetches job's candidates and drives them through the Orchestrator,
// recording per-candidate outcomes back onto the job's item hash. It
// returns an error only for a batch-level abort (bad source config,
// fetch failure, or a quota-exceeded termination); per-candidate
// failures are accounted in the item statuses and do not fail Run.
func (p *Processor) Run(ctx context.Context, job *queue.Job) error {
	src, err := buildSource(job)
	if err != nil {
		return err
	}

	candidates, err := src.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("processor: fetch %s: %w", src.Name(), err)
	}

	items := make([]queue.JobItem, len(candidates))
	titles := make(map[string]string, len(candidates))
	for i, c := range candidates {
		id := idhash.EpisodeID(c.Company, c.Channel, c.TimestampSec, c.AudioURL, c.Title)
		titles[id] = c.Title
		items[i] = queue.JobItem{
			ID:        id,
			Title:     c.Title,
			Status:    queue.StatusPending,
			SourceURL: c.AudioURL,
		}
	}
	if err := p.queue.SetJobItems(ctx, job.ID, items); err != nil {
		return fmt.Errorf("processor: record job items: %w", err)
	}

	summary, err := p.orchestrator.ProcessBatch(ctx, candidates, ingest.BatchOptions{
		Concurrency:     config.IngestConcurrency,
		ChannelFilter:   job.Channel,
		SkipAlreadyDone: true,
	})
	if err != nil {
		return fmt.Errorf("processor: process batch: %w", err)
	}

	for _, res := range summary.Results {
		status := queue.StatusCompleted
		errMsg := ""
		if res.Err != nil {
			status = queue.StatusFailed
			errMsg = res.Err.Error()
		}
		if err := p.queue.UpdateJobItem(ctx, job.ID, queue.JobItem{
			ID:     res.EpisodeID,
			Title:  titles[res.EpisodeID],
			Status: status,
			Error:  errMsg,
		}); err != nil {
			return fmt.Errorf("processor: update job item: %w", err)
		}
	}

	if summary.Aborted {
		return fmt.Errorf("processor: batch aborted: %s", summary.AbortReason)
	}

	return nil
}
