// Package ingest implements the ingestion orchestrator: download ->
// transcribe -> translate -> archive -> publish, with resumability,
// per-stage retry budgets, bounded concurrency, and quota-aware
// termination. A five-stage per-item pipeline driven by a weighted
// semaphore rather than fixed worker-count channels.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"cobblepod/internal/apperr"
	"cobblepod/internal/asr"
	"cobblepod/internal/idhash"
	"cobblepod/internal/ingest/sources"
	"cobblepod/internal/model"
	"cobblepod/internal/objectstore"
	"cobblepod/internal/translator"
)

const (
	downloadMaxRetries   = 3
	transcribeMaxRetries = 3
	translateMaxRetries  = 5
	defaultConcurrency   = 3
)

// Store is the subset of store.Store the orchestrator needs: an
// idempotency check for skip-already-done batches, and the terminal
// publish call.
type Store interface {
	GetPodcast(ctx context.Context, id string) (*model.Podcast, error)
	PublishPodcast(ctx context.Context, p *model.Podcast) error
}

// TTSClient synthesizes audio from raw chapter text for book-source
// candidates. No concrete implementation is in scope; the orchestrator only recognizes Candidate.NeedsTTS and
// routes to whichever client is configured, if any.
type TTSClient interface {
	Synthesize(ctx context.Context, text string) (localAudioPath string, err error)
}

// ObjectStore is the archive-side subset of objectstore.Client the
// orchestrator needs: uploading the audio file and the segments JSON
// under content-addressed keys. A plain interface instead of the
// concrete type lets tests substitute an in-memory fake instead of
// standing up a reachable S3-compatible bucket.
type ObjectStore interface {
	UploadFile(ctx context.Context, localPath, key, contentType string) error
	UploadBytes(ctx context.Context, data []byte, key, contentType string) error
}

// Orchestrator drives candidate episodes through the pipeline.
type Orchestrator struct {
	store         Store
	asr           *asr.Adapter
	translator    *translator.Engine
	objectstore   ObjectStore
	httpClient    *http.Client
	workDir       string
	resume        *resumeState
	translateOpts translator.Options
	tts           TTSClient
}

// SetTTSClient configures the TTS collaborator for book-source candidates.
// Without one, any NeedsTTS candidate is accounted as a QuotaExceeded-class
// failure that aborts the batch.
func (o *Orchestrator) SetTTSClient(c TTSClient) { o.tts = c }

// New constructs an Orchestrator. An empty resumeStatePath disables
// on-disk resumability; cmd/worker passes config.ResumeStatePath, which
// is empty unless RESUME_STATE_PATH is set.
func New(store Store, asrAdapter *asr.Adapter, translatorEngine *translator.Engine, objectstoreClient ObjectStore, workDir, resumeStatePath string, translateOpts translator.Options) (*Orchestrator, error) {
	resume, err := loadResumeState(resumeStatePath)
	if err != nil {
		return nil, fmt.Errorf("load resume state: %w", err)
	}
	return &Orchestrator{
		store:         store,
		asr:           asrAdapter,
		translator:    translatorEngine,
		objectstore:   objectstoreClient,
		httpClient:    &http.Client{Timeout: 300 * time.Second},
		workDir:       workDir,
		resume:        resume,
		translateOpts: translateOpts,
	}, nil
}

// BatchOptions controls ProcessBatch
// processBatch(items, {concurrency N, channelFilter?, skipAlreadyDone, limit?}).
type BatchOptions struct {
	Concurrency     int
	ChannelFilter   string
	SkipAlreadyDone bool
	Limit           int
}

// ItemResult is the per-candidate outcome recorded in a BatchSummary.
type ItemResult struct {
	EpisodeID string
	Channel   string
	Err       error
	Kind      string // "quota" for the distinguished abort-triggering failure
}

// BatchSummary is ProcessBatch's return value
// {success, failed, skipped} result shape, extended with the Aborted flag
// the quota-exceeded contract requires.
type BatchSummary struct {
	Success     int
	Failed      int
	Skipped     int
	Aborted     bool
	AbortReason string
	Results     []ItemResult
}

// ProcessBatch drives candidates through processOne with bounded
// concurrency N. It fails only on unrecoverable input error; per-item
// errors are accounted in the summary and do not abort the batch unless a
// QuotaExceeded signal is raised, in which case the batch stops dispatching
// new items and returns immediately with a normal summary reflecting
// completed work.
func (o *Orchestrator) ProcessBatch(ctx context.Context, candidates []sources.Candidate, opts BatchOptions) (*BatchSummary, error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	filtered := make([]sources.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if opts.ChannelFilter != "" && c.Channel != opts.ChannelFilter {
			continue
		}
		filtered = append(filtered, c)
	}
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var aborted atomic.Bool
	summary := &BatchSummary{}

	for _, c := range filtered {
		if aborted.Load() {
			mu.Lock()
			summary.Skipped++
			mu.Unlock()
			continue
		}

		episodeID := idhash.EpisodeID(c.Company, c.Channel, c.TimestampSec, c.AudioURL, c.Title)

		if opts.SkipAlreadyDone {
			if _, err := o.store.GetPodcast(runCtx, episodeID); err == nil {
				mu.Lock()
				summary.Skipped++
				mu.Unlock()
				continue
			} else if !apperr.Is(err, apperr.KindNotFound) {
				mu.Lock()
				summary.Failed++
				summary.Results = append(summary.Results, ItemResult{EpisodeID: episodeID, Channel: c.Channel, Err: err})
				mu.Unlock()
				continue
			}
		}

		if err := sem.Acquire(runCtx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(c sources.Candidate, episodeID string) {
			defer wg.Done()
			defer sem.Release(1)

			err := o.processOne(runCtx, episodeID, c)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				summary.Success++
				summary.Results = append(summary.Results, ItemResult{EpisodeID: episodeID, Channel: c.Channel})
				return
			}

			res := ItemResult{EpisodeID: episodeID, Channel: c.Channel, Err: err}
			summary.Failed++
			if apperr.Is(err, apperr.KindQuota) {
				res.Kind = "quota"
				if aborted.CompareAndSwap(false, true) {
					summary.Aborted = true
					summary.AbortReason = err.Error()
					slog.Warn("ingest: quota exceeded, aborting batch", "episode_id", episodeID, "error", err)
					cancel()
				}
			}
			summary.Results = append(summary.Results, res)
		}(c, episodeID)
	}

	wg.Wait()
	return summary, nil
}

// processOne runs one candidate through download -> transcribe ->
// translate -> archive -> publish, consulting and updating the resume
// state maps after the download (or TTS) stage and after the translate
// stage; archive and publish always run.
func (o *Orchestrator) processOne(ctx context.Context, episodeID string, c sources.Candidate) error {
	channelDir := filepath.Join(o.workDir, idhash.SafeChannel(c.Channel))
	if err := os.MkdirAll(channelDir, 0o755); err != nil {
		return apperr.Internal("create channel work directory", err)
	}

	audioPath, haveAudio := o.resume.downloadedPath(episodeID)
	switch {
	case haveAudio:
		// resumed: skip download.
	case c.NeedsTTS && o.tts == nil:
		// TTS provider implementation is a Non-goal;
		// a book-source candidate with no injected TTS client cannot
		// proceed past this point and is accounted the same way a
		// provider-signalled quota exhaustion would be.
		return apperr.Quota(fmt.Sprintf("episode %s needs TTS audio synthesis, no TTS client configured", episodeID))
	case c.NeedsTTS:
		var err error
		audioPath, err = o.tts.Synthesize(ctx, c.RawText)
		if err != nil {
			return fmt.Errorf("tts stage: %w", err)
		}
		if err := o.resume.markDownloaded(episodeID, audioPath); err != nil {
			return fmt.Errorf("persist tts resume state: %w", err)
		}
	default:
		var err error
		audioPath, err = o.downloadStage(ctx, channelDir, episodeID, c.AudioURL)
		if err != nil {
			return fmt.Errorf("download stage: %w", err)
		}
		if err := o.resume.markDownloaded(episodeID, audioPath); err != nil {
			return fmt.Errorf("persist download resume state: %w", err)
		}
	}

	segmentsPath, haveSegments := o.resume.processedPath(episodeID)
	var segments []model.Segment
	if haveSegments {
		var err error
		segments, err = readSegmentsFile(segmentsPath)
		if err != nil {
			return fmt.Errorf("reload processed segments: %w", err)
		}
	} else {
		var err error
		if c.PreSegments != nil {
			segments = c.PreSegments
		} else {
			segments, err = o.transcribeStage(ctx, audioPath)
			if err != nil {
				return fmt.Errorf("transcribe stage: %w", err)
			}
		}

		segments, err = o.translateStage(ctx, segments)
		if err != nil {
			return fmt.Errorf("translate stage: %w", err)
		}

		segmentsPath = filepath.Join(channelDir, episodeID+".segments.json")
		if err := writeSegmentsFile(segmentsPath, segments); err != nil {
			return fmt.Errorf("persist segments file: %w", err)
		}
		if err := o.resume.markProcessed(episodeID, segmentsPath); err != nil {
			return fmt.Errorf("persist processed resume state: %w", err)
		}
	}

	titleTranslation, err := o.translateTitle(ctx, c.Title)
	if err != nil {
		return fmt.Errorf("translate title: %w", err)
	}

	if err := o.archiveAndPublish(ctx, c, episodeID, audioPath, segments, titleTranslation); err != nil {
		return err
	}
	return nil
}

func sleepBackoff(ctx context.Context, wait time.Duration) error {
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func backoffFor(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt-1)) * time.Second
}

// downloadStage acquires audio over HTTP with a total timeout of at least
// 300s and retries <=3 times with exponential backoff 2^k seconds.
func (o *Orchestrator) downloadStage(ctx context.Context, dir, episodeID, audioURL string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= downloadMaxRetries+1; attempt++ {
		path, err := o.download(ctx, dir, episodeID, audioURL)
		if err == nil {
			return path, nil
		}
		lastErr = err
		if attempt > downloadMaxRetries {
			break
		}
		wait := backoffFor(attempt)
		slog.Warn("ingest: download failed, retrying", "episode_id", episodeID, "attempt", attempt, "wait", wait, "error", err)
		if werr := sleepBackoff(ctx, wait); werr != nil {
			return "", werr
		}
	}
	return "", apperr.Transient("download exhausted retry budget", lastErr)
}

func (o *Orchestrator) download(ctx context.Context, dir, episodeID, audioURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return "", apperr.Validation(fmt.Sprintf("invalid audio url: %v", err))
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", apperr.Transient("download request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", apperr.Transient(fmt.Sprintf("download returned status %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperr.Validation(fmt.Sprintf("download returned status %d", resp.StatusCode))
	}

	ext := extensionFromResponse(resp.Header.Get("Content-Type"), audioURL)
	path := filepath.Join(dir, episodeID+"."+ext)

	f, err := os.Create(path)
	if err != nil {
		return "", apperr.Internal("create local audio file", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(path)
		return "", apperr.Transient("download body copy failed", err)
	}
	if err := f.Sync(); err != nil {
		return "", apperr.Internal("fsync downloaded audio", err)
	}
	return path, nil
}

func extensionFromResponse(contentType, audioURL string) string {
	switch {
	case strings.Contains(contentType, "mpeg"), strings.Contains(contentType, "mp3"):
		return "mp3"
	case strings.Contains(contentType, "wav"):
		return "wav"
	case strings.Contains(contentType, "mp4"), strings.Contains(contentType, "m4a"):
		return "m4a"
	case strings.Contains(contentType, "ogg"):
		return "ogg"
	}

	clean := strings.SplitN(audioURL, "?", 2)[0]
	if idx := strings.LastIndex(clean, "."); idx != -1 && idx > strings.LastIndex(clean, "/") {
		ext := clean[idx+1:]
		if ext != "" && len(ext) <= 4 {
			return ext
		}
	}
	return "mp3"
}

// transcribeStage hands audio off to the ASR Adapter, retrying <=3 times
// with backoff
func (o *Orchestrator) transcribeStage(ctx context.Context, audioPath string) ([]model.Segment, error) {
	var lastErr error
	for attempt := 1; attempt <= transcribeMaxRetries+1; attempt++ {
		segments, err := o.asr.Transcribe(ctx, audioPath)
		if err == nil {
			return segments, nil
		}
		lastErr = err
		if attempt > transcribeMaxRetries {
			break
		}
		wait := backoffFor(attempt)
		slog.Warn("ingest: transcribe failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		if werr := sleepBackoff(ctx, wait); werr != nil {
			return nil, werr
		}
	}
	return nil, apperr.Transient("transcribe exhausted retry budget", lastErr)
}

// translateStage delegates the segment sequence to the Translator Engine,
// retrying the whole-batch call <=5 times with backoff. In practice the
// Translator Engine's own per-call retry
// (internal/llm.Call) already absorbs transient provider errors, so this
// loop only re-fires on an error class TranslateBatch does not itself
// retry; QuotaExceeded never retries, by contract.
func (o *Orchestrator) translateStage(ctx context.Context, segments []model.Segment) ([]model.Segment, error) {
	if allTranslated(segments) {
		return segments, nil
	}

	texts := make([]string, len(segments))
	for i, s := range segments {
		texts[i] = s.Text
	}

	var translations []string
	var lastErr error
	for attempt := 1; attempt <= translateMaxRetries; attempt++ {
		var err error
		translations, err = o.translator.TranslateBatch(ctx, texts, o.translateOpts)
		if err == nil {
			lastErr = nil
			break
		}
		if apperr.Is(err, apperr.KindQuota) {
			return nil, err
		}
		lastErr = err
		if attempt == translateMaxRetries {
			break
		}
		wait := backoffFor(attempt)
		slog.Warn("ingest: translate batch failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		if werr := sleepBackoff(ctx, wait); werr != nil {
			return nil, werr
		}
	}
	if lastErr != nil {
		return nil, apperr.Transient("translate exhausted retry budget", lastErr)
	}

	out := make([]model.Segment, len(segments))
	for i, s := range segments {
		s.Translation = translations[i]
		out[i] = s
	}
	return out, nil
}

func (o *Orchestrator) translateTitle(ctx context.Context, title string) (string, error) {
	if strings.TrimSpace(title) == "" {
		return "", nil
	}
	out, err := o.translator.TranslateBatch(ctx, []string{title}, translator.Options{
		SourceLang:    o.translateOpts.SourceLang,
		TargetLang:    o.translateOpts.TargetLang,
		UseReflection: o.translateOpts.UseReflection,
		UseContext:    false,
	})
	if err != nil {
		if apperr.Is(err, apperr.KindQuota) {
			return "", err
		}
		return "", nil
	}
	if len(out) == 0 {
		return "", nil
	}
	return out[0], nil
}

func allTranslated(segments []model.Segment) bool {
	if len(segments) == 0 {
		return false
	}
	for _, s := range segments {
		if strings.TrimSpace(s.Text) != "" && strings.TrimSpace(s.Translation) == "" {
			return false
		}
	}
	return true
}

// archiveAndPublish uploads the audio file and segment JSON under
// content-addressed keys, switching to multipart above the object store's
// threshold, then POSTs the resulting metadata row to the Catalogue Store.
func (o *Orchestrator) archiveAndPublish(ctx context.Context, c sources.Candidate, episodeID, audioPath string, segments []model.Segment, titleTranslation string) error {
	ext := strings.TrimPrefix(filepath.Ext(audioPath), ".")
	if ext == "" {
		ext = "mp3"
	}
	audioKey := objectstore.AudioKey(c.Channel, c.TimestampSec, episodeID, ext)
	segmentsKey := objectstore.SegmentsKey(c.Channel, c.TimestampSec, episodeID)

	if err := o.objectstore.UploadFile(ctx, audioPath, audioKey, contentTypeForExt(ext)); err != nil {
		return apperr.Transient("archive: audio upload failed", err)
	}

	payload, err := marshalSegmentsForArchive(segments)
	if err != nil {
		return apperr.Internal("marshal segments for archive", err)
	}
	if err := o.objectstore.UploadBytes(ctx, payload, segmentsKey, "application/json"); err != nil {
		return apperr.Transient("archive: segments upload failed", err)
	}

	var duration float64
	if c.DurationSec != nil {
		duration = *c.DurationSec
	}

	p := &model.Podcast{
		ID:               episodeID,
		Company:          c.Company,
		Channel:          c.Channel,
		AudioKey:         audioKey,
		SegmentsKey:      segmentsKey,
		SegmentCount:     len(segments),
		Title:            c.Title,
		TitleTranslation: titleTranslation,
		Subtitle:         c.Subtitle,
		TimestampSec:     c.TimestampSec,
		LanguageCode:     c.LanguageCode,
		DurationSec:      duration,
		RawAudioURL:      c.AudioURL,
	}
	if err := o.store.PublishPodcast(ctx, p); err != nil {
		return apperr.Internal("publish podcast", err)
	}
	return nil
}

func contentTypeForExt(ext string) string {
	switch ext {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "m4a":
		return "audio/mp4"
	case "ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// marshalSegmentsForArchive renders segments as UTF-8 JSON with no BOM,
// unescaped non-ASCII text, and 2-space indentation.
func marshalSegmentsForArchive(segments []model.Segment) ([]byte, error) {
	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(segments); err != nil {
		return nil, err
	}
	return []byte(strings.TrimSuffix(buf.String(), "\n")), nil
}

func writeSegmentsFile(path string, segments []model.Segment) error {
	data, err := marshalSegmentsForArchive(segments)
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create segments file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write segments file: %w", err)
	}
	return f.Sync()
}

func readSegmentsFile(path string) ([]model.Segment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read segments file: %w", err)
	}
	var segments []model.Segment
	if err := json.Unmarshal(raw, &segments); err != nil {
		return nil, fmt.Errorf("parse segments file: %w", err)
	}
	return segments, nil
}
