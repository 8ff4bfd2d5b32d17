// Package config holds process-wide configuration loaded from the
// environment. Values are resolved once at package init and read directly
// by the rest of the codebase as package-level vars.
package config

import (
	"os"
	"strconv"
	"time"
)

var (
	// Valkey/Redis job queue connection.
	ValkeyHost = getEnvWithDefault("VALKEY_HOST", "localhost")
	ValkeyPort = getEnvInt("VALKEY_PORT", 6379)

	// SQLite-backed Entitlement Store / Catalogue Store.
	DatabasePath = getEnvWithDefault("DATABASE_PATH", "cobblepod.db")

	// Object storage (S3-compatible: AWS S3, Cloudflare R2, MinIO, ...).
	S3Region      = getEnvWithDefault("AWS_REGION", "auto")
	S3Bucket      = os.Getenv("S3_BUCKET")
	S3AccessKey   = os.Getenv("AWS_ACCESS_KEY_ID")
	S3SecretKey   = os.Getenv("AWS_SECRET_ACCESS_KEY")
	S3EndpointURL = os.Getenv("AWS_ENDPOINT_URL")

	// CDN Type-A signed-URL configuration.
	CDNBaseURL = getEnvWithDefault("CDN_BASE_URL", "https://cdn.example.com")
	CDNAuthKey = os.Getenv("CDN_AUTH_KEY")

	// Bearer-token auth for the catalogue/entitlement HTTP API.
	JWTSecret     = getEnvWithDefault("JWT_SECRET", "dev-secret-change-me")
	JWTExpiration = 7 * 24 * time.Hour

	// Shared-secret auth for the internal (ingestion-to-catalogue) upload
	// endpoints, which are not bearer-protected since no end-user device
	// calls them.
	InternalAPIKey = os.Getenv("INTERNAL_API_KEY")

	// Apple App Store configuration.
	AppStoreBundleID    = os.Getenv("APPSTORE_BUNDLE_ID")
	AppStoreAppleID     = os.Getenv("APPSTORE_APPLE_ID")
	AppStoreEnvironment = getEnvWithDefault("APPSTORE_ENVIRONMENT", "Production")
	AppleRootCAPath     = os.Getenv("APPLE_ROOT_CA_PATH")
	AppleRootCAPEM      = os.Getenv("APPLE_ROOT_CA_PEM")
	RelaxedReceiptTrust = getEnvWithDefault("RELAXED_RECEIPT_TRUST", "false") == "true"

	// Translator / LLM provider selection.
	LLMProvider    = getEnvWithDefault("LLM_PROVIDER", "openai") // openai | anthropic | ollama
	LLMAPIKey      = os.Getenv("LLM_API_KEY")
	LLMBaseURL     = os.Getenv("LLM_BASE_URL")
	LLMModel       = getEnvWithDefault("LLM_MODEL", "gpt-4o-mini")
	SourceLanguage = getEnvWithDefault("SOURCE_LANGUAGE", "auto")
	TargetLanguage = getEnvWithDefault("TARGET_LANGUAGE", "zh")

	// ASR model selection (the model itself is an external collaborator;
	// this is only used for logging/telemetry).
	ASRModelID = getEnvWithDefault("ASR_MODEL_ID", "whisperx-base")

	// Ingestion concurrency defaults.
	IngestConcurrency     = getEnvInt("INGEST_CONCURRENCY", 3)
	TranslateConcurrency  = getEnvInt("TRANSLATE_CONCURRENCY", 5)
	ArchiveUploadParallel = getEnvInt("ARCHIVE_UPLOAD_PARALLEL", 5)

	// Per-stage timeouts.
	DownloadTimeout = 300 * time.Second
	LLMCallTimeout  = 30 * time.Second
	ArchiveTimeout  = 600 * time.Second
	PublishTimeout  = 300 * time.Second

	// Local working directory for downloaded audio before archival.
	WorkDir = getEnvWithDefault("WORK_DIR", os.TempDir())

	// Resume-state file the orchestrator checkpoints to, so a worker
	// restart can skip download and transcribe/translate work already
	// committed. Empty disables resumability.
	ResumeStatePath = os.Getenv("RESUME_STATE_PATH")
)

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
