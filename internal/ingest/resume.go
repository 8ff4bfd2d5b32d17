package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// resumeState is the two-map resume discipline // requires: downloaded{episodeID -> localAudioPath} and
// processed{episodeID -> localSegmentsPath}. Each mutation is written to
// disk and fsync'd before the caller proceeds to the next stage, so a
// crash between stages re-enters at the earliest stage whose key is
// absent.
type resumeState struct {
	mu         sync.Mutex
	path       string
	Downloaded map[string]string `json:"downloaded"`
	Processed  map[string]string `json:"processed"`
}

func loadResumeState(path string) (*resumeState, error) {
	r := &resumeState{path: path, Downloaded: map[string]string{}, Processed: map[string]string{}}
	if path == "" {
		return r, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read resume state: %w", err)
	}
	if len(raw) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(raw, r); err != nil {
		return nil, fmt.Errorf("parse resume state: %w", err)
	}
	if r.Downloaded == nil {
		r.Downloaded = map[string]string{}
	}
	if r.Processed == nil {
		r.Processed = map[string]string{}
	}
	return r, nil
}

func (r *resumeState) downloadedPath(episodeID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.Downloaded[episodeID]
	return p, ok
}

func (r *resumeState) processedPath(episodeID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.Processed[episodeID]
	return p, ok
}

func (r *resumeState) markDownloaded(episodeID, localAudioPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Downloaded[episodeID] = localAudioPath
	return r.flushLocked()
}

func (r *resumeState) markProcessed(episodeID, localSegmentsPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Processed[episodeID] = localSegmentsPath
	return r.flushLocked()
}

// flushLocked persists the current state via write-to-temp-then-rename so
// a crash mid-write never leaves a truncated state file, and fsyncs the
// temp file before the rename.1's "fsync-committed"
// resume discipline.
func (r *resumeState) flushLocked() error {
	if r.path == "" {
		return nil
	}

	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal resume state: %w", err)
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".resume-state-*.tmp")
	if err != nil {
		return fmt.Errorf("create resume state temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write resume state temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync resume state temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close resume state temp file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		return fmt.Errorf("rename resume state into place: %w", err)
	}
	return nil
}
