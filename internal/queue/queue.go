// Package queue implements the ingestion batch-job queue: a Redis/Valkey
// list of pending batches plus per-channel running-job bookkeeping. It
// carries one ingestion batch per company/channel at a time, since a
// channel's feed should never be fetched by two overlapping workers at
// once.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"cobblepod/internal/config"

	"errors"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrChannelRequired is returned when a channel key is required but not provided.
	ErrChannelRequired = errors.New("channel key is required")
)

const (
	// WaitingQueue is the Redis list key for the batch queue (stores IDs).
	WaitingQueue = "cobblepod:waiting"
	// RunningChannelsKey is the Redis hash key for channels with a
	// running batch (channel key -> job ID).
	RunningChannelsKey = "cobblepod:running-channels"
	// RunningQueue is the Redis set key for running job IDs
	RunningQueue = "cobblepod:running"
	// SuccessSet is the Redis set key for successful job IDs
	SuccessSet = "cobblepod:success"
	// FailedSet is the Redis set key for failed job IDs
	FailedSet = "cobblepod:failed"
	// CleanupSet is the Redis sorted set key for expiration tracking
	CleanupSet = "cobblepod:cleanup"
	// BlockTimeout is how long BRPOP will wait for a job
	BlockTimeout = 5 * time.Second
	// JobRetention is how long jobs are kept
	JobRetention = 7 * 24 * time.Hour
)

// QueueConfig holds the Redis keys configuration
type QueueConfig struct {
	WaitingQueue       string
	RunningChannelsKey string
	RunningQueue       string
	SuccessSet         string
	FailedSet          string
	CleanupSet         string
	KeyPrefix          string
}

// DefaultConfig returns the default queue configuration
func DefaultConfig() QueueConfig {
	return QueueConfig{
		WaitingQueue:       WaitingQueue,
		RunningChannelsKey: RunningChannelsKey,
		RunningQueue:       RunningQueue,
		SuccessSet:         SuccessSet,
		FailedSet:          FailedSet,
		CleanupSet:         CleanupSet,
		KeyPrefix:          "cobblepod",
	}
}

// JobItemStatus represents the state of a single candidate episode
// within a batch, mirroring the ingestion orchestrator's pipeline
// stages.
type JobItemStatus string

const (
	StatusPending      JobItemStatus = "pending"
	StatusDownloading  JobItemStatus = "downloading"
	StatusTranscribing JobItemStatus = "transcribing"
	StatusTranslating  JobItemStatus = "translating"
	StatusArchiving    JobItemStatus = "archiving"
	StatusCompleted    JobItemStatus = "completed"
	StatusSkipped      JobItemStatus = "skipped" // already published
	StatusFailed       JobItemStatus = "failed"
)

// JobItem represents a single candidate episode in a batch.
type JobItem struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Status    JobItemStatus `json:"status"`
	SourceURL string        `json:"source_url"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Job represents one ingestion batch: fetch candidates from a single
// source, then run them through the Orchestrator.
type Job struct {
	ID           string    `json:"id" redis:"id"`
	Company      string    `json:"company" redis:"company"`
	Channel      string    `json:"channel" redis:"channel"`
	SourceKind   string    `json:"source_kind" redis:"source_kind"`       // rss | subtitle | book
	SourceConfig string    `json:"source_config,omitempty" redis:"source_config"` // JSON-encoded, source-specific (feed URL, file list, book path)
	CreatedAt    time.Time `json:"created_at" redis:"created_at"`
	FailReason   string    `json:"fail_reason,omitempty" redis:"fail_reason"`
	Status       string    `json:"status" redis:"status"` // queued, running, completed, failed
	Items        []JobItem `json:"items" redis:"-"`       // Items are stored in a separate hash
}

// ChannelKey is the running-job uniqueness key: one batch per channel
// at a time.
func ChannelKey(company, channel string) string {
	return company + "/" + channel
}

// Queue manages the Redis job queue
type Queue struct {
	client *redis.Client
	config QueueConfig
}

// NewQueue creates a new queue connection
func NewQueue(ctx context.Context) (*Queue, error) {
	addr := fmt.Sprintf("%s:%d", config.ValkeyHost, config.ValkeyPort)
	slog.Debug("Connecting to Redis queue", "addr", addr)

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "", // Add to config if needed
		DB:       0,
	})

	// Test the connection
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Redis queue initialized", "addr", addr)
	return &Queue{
		client: client,
		config: DefaultConfig(),
	}, nil
}

// NewQueueWithClient creates a queue with an existing Redis client (for testing)
func NewQueueWithClient(client *redis.Client) *Queue {
	return &Queue{
		client: client,
		config: DefaultConfig(),
	}
}

// NewQueueWithConfig creates a queue with custom configuration (for testing)
func NewQueueWithConfig(client *redis.Client, config QueueConfig) *Queue {
	return &Queue{
		client: client,
		config: config,
	}
}

// jobKey returns the Redis key for a job
func (q *Queue) jobKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s", q.config.KeyPrefix, jobID)
}

// jobItemsKey returns the Redis key for a job's items
func (q *Queue) jobItemsKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s:items", q.config.KeyPrefix, jobID)
}

func (q *Queue) channelWaitingKey(channelKey string) string {
	return fmt.Sprintf("%s:channel:%s:waiting", q.config.KeyPrefix, channelKey)
}

func (q *Queue) channelRunningKey(channelKey string) string {
	return fmt.Sprintf("%s:channel:%s:running", q.config.KeyPrefix, channelKey)
}

func (q *Queue) channelSuccessKey(channelKey string) string {
	return fmt.Sprintf("%s:channel:%s:success", q.config.KeyPrefix, channelKey)
}

func (q *Queue) channelFailedKey(channelKey string) string {
	return fmt.Sprintf("%s:channel:%s:failed", q.config.KeyPrefix, channelKey)
}

// IsChannelRunning checks if a channel already has a running batch.
func (q *Queue) IsChannelRunning(ctx context.Context, channelKey string) (bool, error) {
	if q.client == nil {
		return false, fmt.Errorf("queue is not connected")
	}

	exists, err := q.client.HExists(ctx, q.config.RunningChannelsKey, channelKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check running channels: %w", err)
	}

	return exists, nil
}

// Enqueue adds a batch job to the queue
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	if q.client == nil {
		return fmt.Errorf("queue is not connected")
	}

	job.Status = "queued"
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	pipe := q.client.Pipeline()

	// 1. Store job data in Hash
	pipe.HSet(ctx, q.jobKey(job.ID), job)

	// 2. Store items if any
	if len(job.Items) > 0 {
		for _, item := range job.Items {
			itemJSON, err := json.Marshal(item)
			if err != nil {
				return fmt.Errorf("failed to marshal item: %w", err)
			}
			pipe.HSet(ctx, q.jobItemsKey(job.ID), item.ID, itemJSON)
		}
	}

	// 3. Add to channel's waiting set
	channelKey := ChannelKey(job.Company, job.Channel)
	pipe.SAdd(ctx, q.channelWaitingKey(channelKey), job.ID)

	// 4. Push ID to Waiting Queue
	pipe.LPush(ctx, q.config.WaitingQueue, job.ID)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	slog.Info("Job enqueued", "job_id", job.ID, "company", job.Company, "channel", job.Channel)
	return nil
}

// Dequeue removes and returns a job from the queue
// This blocks for up to BlockTimeout waiting for a job
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	if q.client == nil {
		return nil, fmt.Errorf("queue is not connected")
	}

	// Pop from right of list (BRPOP = blocking pop from end of queue)
	// Returns [key, value] where value is the job ID
	result, err := q.client.BRPop(ctx, BlockTimeout, q.config.WaitingQueue).Result()
	if err != nil {
		// redis.Nil means timeout (no job available)
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	if len(result) < 2 {
		return nil, fmt.Errorf("invalid BRPOP result: %v", result)
	}

	jobID := result[1]

	return q.GetJob(ctx, jobID)
}

// StartJob marks a channel as having a running batch.
// Returns false if the channel already has a running batch (conflict).
func (q *Queue) StartJob(ctx context.Context, channelKey string, jobID string) (bool, error) {
	if q.client == nil {
		return false, fmt.Errorf("queue is not connected")
	}

	// HSETNX returns true if field was set, false if it already existed
	started, err := q.client.HSetNX(ctx, q.config.RunningChannelsKey, channelKey, jobID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark channel as running: %w", err)
	}

	if started {
		pipe := q.client.Pipeline()
		// Update job status
		pipe.HSet(ctx, q.jobKey(jobID), "status", "running")
		// Add to running queue
		pipe.SAdd(ctx, q.config.RunningQueue, jobID)
		// Move from channel waiting to channel running
		pipe.SMove(ctx, q.channelWaitingKey(channelKey), q.channelRunningKey(channelKey), jobID)
		_, err := pipe.Exec(ctx)
		if err != nil {
			// If we fail here, we should probably try to undo the lock, but for now just log
			slog.Error("Failed to update job status or add to running queue", "error", err, "job_id", jobID)
		}
	}

	return started, nil
}

// CompleteJob marks a job as complete and releases the channel's lock.
func (q *Queue) CompleteJob(ctx context.Context, channelKey string, jobID string) error {
	if q.client == nil {
		return fmt.Errorf("queue is not connected")
	}

	pipe := q.client.Pipeline()

	// Release the channel's running lock
	pipe.HDel(ctx, q.config.RunningChannelsKey, channelKey)

	// Remove from running queue
	if jobID != "" {
		pipe.SRem(ctx, q.config.RunningQueue, jobID)
	}

	// Update job status
	if jobID != "" {
		pipe.HSet(ctx, q.jobKey(jobID), "status", "completed")
		pipe.Expire(ctx, q.jobKey(jobID), JobRetention)
		pipe.Expire(ctx, q.jobItemsKey(jobID), JobRetention)
		pipe.SAdd(ctx, q.config.SuccessSet, jobID)
		// Move from channel running to channel success
		pipe.SMove(ctx, q.channelRunningKey(channelKey), q.channelSuccessKey(channelKey), jobID)
		// Add to cleanup queue
		pipe.ZAdd(ctx, q.config.CleanupSet, redis.Z{
			Score:  float64(time.Now().Add(JobRetention).Unix()),
			Member: fmt.Sprintf("%s:%s", channelKey, jobID),
		})
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	return nil
}

// FailJob adds a job to the failed queue with a reason
func (q *Queue) FailJob(ctx context.Context, job *Job, reason string) error {
	if q.client == nil {
		return fmt.Errorf("queue is not connected")
	}

	channelKey := ChannelKey(job.Company, job.Channel)
	pipe := q.client.Pipeline()

	// Update job status and reason
	pipe.HSet(ctx, q.jobKey(job.ID), map[string]interface{}{
		"status":      "failed",
		"fail_reason": reason,
	})

	// Push ID to failed set
	pipe.SAdd(ctx, q.config.FailedSet, job.ID)
	pipe.Expire(ctx, q.jobKey(job.ID), JobRetention)
	pipe.Expire(ctx, q.jobItemsKey(job.ID), JobRetention)

	// Move from channel running (or waiting) to channel failed. We try
	// removing from both and adding to failed to be safe.
	pipe.SRem(ctx, q.channelRunningKey(channelKey), job.ID)
	pipe.SRem(ctx, q.channelWaitingKey(channelKey), job.ID)
	pipe.SAdd(ctx, q.channelFailedKey(channelKey), job.ID)

	// Add to cleanup queue
	pipe.ZAdd(ctx, q.config.CleanupSet, redis.Z{
		Score:  float64(time.Now().Add(JobRetention).Unix()),
		Member: fmt.Sprintf("%s:%s", channelKey, job.ID),
	})

	// Remove from running queue (if it was there)
	pipe.SRem(ctx, q.config.RunningQueue, job.ID)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to add job to failed queue: %w", err)
	}

	slog.Warn("Job failed", "job_id", job.ID, "company", job.Company, "channel", job.Channel, "reason", reason)
	return nil
}

// QueueLength returns the number of jobs in the queue
func (q *Queue) QueueLength(ctx context.Context) (int64, error) {
	if q.client == nil {
		return 0, fmt.Errorf("queue is not connected")
	}

	length, err := q.client.LLen(ctx, q.config.WaitingQueue).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}

	return length, nil
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	if q.client == nil {
		return nil, fmt.Errorf("queue is not connected")
	}

	var job Job
	err := q.client.HGetAll(ctx, q.jobKey(jobID)).Scan(&job)
	if err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, nil // Not found
	}

	// Fetch items
	itemsMap, err := q.client.HGetAll(ctx, q.jobItemsKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job items: %w", err)
	}

	for _, itemJSON := range itemsMap {
		var item JobItem
		if err := json.Unmarshal([]byte(itemJSON), &item); err != nil {
			slog.Error("Failed to unmarshal job item", "error", err)
			continue
		}
		job.Items = append(job.Items, item)
	}

	// Sort items by Title to be deterministic
	sort.Slice(job.Items, func(i, j int) bool {
		return job.Items[i].Title < job.Items[j].Title
	})

	return &job, nil
}

// GetChannelJobs retrieves all jobs for a company/channel pair.
func (q *Queue) GetChannelJobs(ctx context.Context, company, channel string) ([]*Job, error) {
	if q.client == nil {
		return nil, fmt.Errorf("queue is not connected")
	}

	channelKey := ChannelKey(company, channel)
	jobIDs, err := q.client.SUnion(ctx,
		q.channelWaitingKey(channelKey),
		q.channelRunningKey(channelKey),
		q.channelSuccessKey(channelKey),
		q.channelFailedKey(channelKey),
	).Result()
	if err != nil {
		return nil, err
	}

	var jobs []*Job
	for _, id := range jobIDs {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			slog.Error("Failed to fetch job", "job_id", id, "error", err)
			continue
		}
		if job != nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

// CleanupExpiredJobs removes expired jobs from sets
func (q *Queue) CleanupExpiredJobs(ctx context.Context) error {
	if q.client == nil {
		return fmt.Errorf("queue is not connected")
	}

	// Get expired items
	now := float64(time.Now().Unix())
	items, err := q.client.ZRangeByScore(ctx, q.config.CleanupSet, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to get expired jobs: %w", err)
	}

	if len(items) == 0 {
		return nil
	}

	slog.Info("Cleaning up expired jobs", "count", len(items))

	// Process in batches of 100 to avoid blocking
	batchSize := 100
	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[i:end]

		pipe := q.client.Pipeline()
		for _, item := range batch {
			// item is "company/channel:jobID"
			parts := strings.SplitN(item, ":", 2)
			if len(parts) != 2 {
				// Invalid format, just remove from cleanup
				pipe.ZRem(ctx, q.config.CleanupSet, item)
				continue
			}
			channelKey, jobID := parts[0], parts[1]

			pipe.SRem(ctx, q.config.SuccessSet, jobID)
			pipe.SRem(ctx, q.config.FailedSet, jobID)
			// Remove from all possible channel sets
			pipe.SRem(ctx, q.channelWaitingKey(channelKey), jobID)
			pipe.SRem(ctx, q.channelRunningKey(channelKey), jobID)
			pipe.SRem(ctx, q.channelSuccessKey(channelKey), jobID)
			pipe.SRem(ctx, q.channelFailedKey(channelKey), jobID)
			pipe.ZRem(ctx, q.config.CleanupSet, item)
			pipe.Del(ctx, q.jobKey(jobID))
			pipe.Del(ctx, q.jobItemsKey(jobID))
		}
		_, err := pipe.Exec(ctx)
		if err != nil {
			slog.Error("Failed to cleanup batch", "error", err)
		}
	}

	return nil
}

// SetJobItems replaces all items for a job
func (q *Queue) SetJobItems(ctx context.Context, jobID string, items []JobItem) error {
	if q.client == nil {
		return fmt.Errorf("queue is not connected")
	}

	pipe := q.client.Pipeline()
	pipe.Del(ctx, q.jobItemsKey(jobID)) // Clear existing items

	for _, item := range items {
		itemJSON, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal item: %w", err)
		}
		pipe.HSet(ctx, q.jobItemsKey(jobID), item.ID, itemJSON)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// UpdateJobItem updates a single item in a job
func (q *Queue) UpdateJobItem(ctx context.Context, jobID string, item JobItem) error {
	if q.client == nil {
		return fmt.Errorf("queue is not connected")
	}

	itemJSON, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	return q.client.HSet(ctx, q.jobItemsKey(jobID), item.ID, itemJSON).Err()
}

// getJobsFromIDs retrieves multiple jobs by their IDs
func (q *Queue) getJobsFromIDs(ctx context.Context, jobIDs []string) ([]*Job, error) {
	var jobs []*Job
	for _, id := range jobIDs {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			slog.Error("Failed to fetch job", "job_id", id, "error", err)
			continue
		}
		if job != nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// GetWaitingJobs returns all jobs currently waiting for a channel.
func (q *Queue) GetWaitingJobs(ctx context.Context, channelKey string) ([]*Job, error) {
	if channelKey == "" {
		return nil, ErrChannelRequired
	}
	if q.client == nil {
		return nil, fmt.Errorf("queue is not connected")
	}

	jobIDs, err := q.client.SMembers(ctx, q.channelWaitingKey(channelKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get waiting jobs: %w", err)
	}

	jobs, err := q.getJobsFromIDs(ctx, jobIDs)
	if err != nil {
		return nil, err
	}

	// Since Sets are unordered, sort by CreatedAt to approximate queue order
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	return jobs, nil
}

// GetRunningJobs returns all jobs currently running for a channel.
func (q *Queue) GetRunningJobs(ctx context.Context, channelKey string) ([]*Job, error) {
	if channelKey == "" {
		return nil, ErrChannelRequired
	}
	if q.client == nil {
		return nil, fmt.Errorf("queue is not connected")
	}

	jobIDs, err := q.client.SMembers(ctx, q.channelRunningKey(channelKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get running jobs: %w", err)
	}

	return q.getJobsFromIDs(ctx, jobIDs)
}

// GetCompletedJobs returns all jobs in the success set for a channel.
func (q *Queue) GetCompletedJobs(ctx context.Context, channelKey string) ([]*Job, error) {
	if channelKey == "" {
		return nil, ErrChannelRequired
	}
	if q.client == nil {
		return nil, fmt.Errorf("queue is not connected")
	}

	jobIDs, err := q.client.SMembers(ctx, q.channelSuccessKey(channelKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get completed jobs: %w", err)
	}

	return q.getJobsFromIDs(ctx, jobIDs)
}

// GetFailedJobs returns all jobs in the failed set for a channel.
func (q *Queue) GetFailedJobs(ctx context.Context, channelKey string) ([]*Job, error) {
	if channelKey == "" {
		return nil, ErrChannelRequired
	}
	if q.client == nil {
		return nil, fmt.Errorf("queue is not connected")
	}

	jobIDs, err := q.client.SMembers(ctx, q.channelFailedKey(channelKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get failed jobs: %w", err)
	}

	return q.getJobsFromIDs(ctx, jobIDs)
}
