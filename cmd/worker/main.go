package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"time"

	"cobblepod/internal/asr"
	"cobblepod/internal/config"
	"cobblepod/internal/ingest"
	"cobblepod/internal/llm"
	"cobblepod/internal/model"
	"cobblepod/internal/objectstore"
	"cobblepod/internal/processor"
	"cobblepod/internal/queue"
	"cobblepod/internal/store"
	"cobblepod/internal/translator"
)

// unconfiguredTranscribe is the ASR stage's TranscribeFunc when no
// concrete speech-recognition backend is wired. The model itself is an
// external collaborator, not something this worker ships a client for.
func unconfiguredTranscribe(ctx context.Context, audioPath string) ([]model.Segment, error) {
	return nil, errors.New("asr: no transcription backend configured")
}

func main() {
	// Initialize structured logging with JSON handler
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(jsonHandler))

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize job queue
	jobQueue, err := queue.NewQueue(ctx)
	if err != nil {
		slog.Error("Failed to connect to job queue", "error", err)
		os.Exit(1)
	}
	defer jobQueue.Close()

	db, err := store.Open(ctx, config.DatabasePath)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	objStore, err := objectstore.New(ctx, objectstore.Config{
		Region:      config.S3Region,
		Bucket:      config.S3Bucket,
		AccessKey:   config.S3AccessKey,
		SecretKey:   config.S3SecretKey,
		EndpointURL: config.S3EndpointURL,
	})
	if err != nil {
		slog.Error("Failed to connect to object storage", "error", err)
		os.Exit(1)
	}

	provider, err := llm.New(config.LLMProvider, config.LLMAPIKey, config.LLMBaseURL, config.LLMModel)
	if err != nil {
		slog.Error("Failed to construct LLM provider", "error", err)
		os.Exit(1)
	}
	translateEngine := translator.New(provider)

	asrAdapter := asr.New(config.ASRModelID, unconfiguredTranscribe)

	translateOpts := translator.DefaultOptions()
	translateOpts.SourceLang = config.SourceLanguage
	translateOpts.TargetLang = config.TargetLanguage

	orchestrator, err := ingest.New(db, asrAdapter, translateEngine, objStore, config.WorkDir, config.ResumeStatePath, translateOpts)
	if err != nil {
		slog.Error("Failed to construct ingestion orchestrator", "error", err)
		os.Exit(1)
	}

	proc := processor.NewProcessor(orchestrator, jobQueue)

	// Start cleanup ticker (every hour)
	cleanupTicker := time.NewTicker(1 * time.Hour)
	defer cleanupTicker.Stop()

	slog.Info("Worker started, waiting for jobs...")

	// Main worker loop
	for {
		select {
		case <-ctx.Done():
			slog.Info("Context cancelled, shutting down")
			return
		case sig := <-sigChan:
			slog.Info("Received signal, shutting down gracefully", "signal", sig)
			cancel()
			return
		case <-cleanupTicker.C:
			slog.Info("Running scheduled cleanup")
			if err := jobQueue.CleanupExpiredJobs(ctx); err != nil {
				slog.Error("Failed to cleanup expired jobs", "error", err)
			}
		default:
			// Dequeue job (blocks until job available or timeout)
			job, err := jobQueue.Dequeue(ctx)
			if err != nil {
				if err == context.Canceled {
					return
				}
				slog.Error("Failed to dequeue job", "error", err)
				continue
			}

			if job == nil {
				// Timeout, no job available - loop continues
				continue
			}

			channelKey := queue.ChannelKey(job.Company, job.Channel)

			// Try to mark the channel as running
			started, err := jobQueue.StartJob(ctx, channelKey, job.ID)
			if err != nil {
				slog.Error("Failed to mark job as started", "error", err, "job_id", job.ID)
				// Fail the job due to system error (don't hold lock)
				jobQueue.FailJob(ctx, job, "Failed to acquire channel lock")
				continue
			}

			if !started {
				// Channel already has a running batch - fail this one (don't hold lock)
				slog.Warn("Channel already has running batch, failing new job",
					"channel_key", channelKey, "job_id", job.ID)
				jobQueue.FailJob(ctx, job, "Channel already has a batch being processed")
				continue
			}

			// Process the job - use a function to ensure defer runs
			func() {
				// Always release the channel lock when done
				defer func() {
					if err := jobQueue.CompleteJob(ctx, channelKey, job.ID); err != nil {
						slog.Error("Failed to release channel lock", "error", err, "channel_key", channelKey)
					}
				}()

				slog.Info("Processing job", "job_id", job.ID, "company", job.Company, "channel", job.Channel)

				if err := proc.Run(ctx, job); err != nil {
					slog.Error("Job processing failed", "error", err, "job_id", job.ID)
					jobQueue.FailJob(ctx, job, err.Error())
				} else {
					slog.Info("Job completed successfully", "job_id", job.ID)
				}
			}()
		}
	}
}
