// Package model holds the data types shared by the ingestion pipeline,
// the entitlement store, and the catalogue store.
package model

import "time"

// Episode is the ingestion-local working record for a single item moving
// through the pipeline. It is discarded once published; only the Podcast
// row and the archived objects survive.
type Episode struct {
	EpisodeID          string
	Company            string
	Channel            string
	AudioURL           string
	Title              string
	Subtitle           string
	TimestampSec       int64
	LanguageCode       string
	DurationSec        *float64
	LocalAudioPath     string
	LocalSegmentsPath  string
	TitleTranslation   string
}

// Segment is a time-aligned text+translation unit produced by ASR and
// augmented by the Translator Engine.
type Segment struct {
	Index      int     `json:"id"`
	StartSec   float64 `json:"start"`
	EndSec     float64 `json:"end"`
	Text       string  `json:"text"`
	Translation string `json:"translation"`
}

// Podcast is a published catalogue row.
type Podcast struct {
	ID               string
	Company          string
	Channel          string
	AudioKey         string
	SegmentsKey      string
	SegmentCount     int
	Title            string
	TitleTranslation string
	Subtitle         string
	TimestampSec     int64
	LanguageCode     string
	DurationSec      float64
	RawAudioURL      string
	IsFree           bool
}

// ChannelRef identifies a (company, channel) pair for the /channels
// endpoint.
type ChannelRef struct {
	Company string
	Channel string
}

// PodcastSummary is the reduced shape returned by list endpoints.
type PodcastSummary struct {
	ID               string
	Company          string
	Channel          string
	Title            string
	TitleTranslation string
	TimestampSec     int64
	DurationSec      float64
	IsFree           bool
}

// User is an app-facing account keyed by device.
type User struct {
	InternalID            string
	DeviceUUID            string
	OriginalTransactionID string
	IsVIP                 bool
	VIPExpireMs           *int64
}

// PurchaseStatus enumerates the lifecycle states of a PurchaseRecord.
type PurchaseStatus string

const (
	StatusActive   PurchaseStatus = "active"
	StatusInRetry  PurchaseStatus = "in_retry"
	StatusExpired  PurchaseStatus = "expired"
	StatusRevoked  PurchaseStatus = "revoked"
)

// Environment enumerates Apple's receipt environments.
type Environment string

const (
	EnvProduction Environment = "production"
	EnvSandbox    Environment = "sandbox"
)

// PurchaseRecord tracks one Apple subscription lineage, keyed by
// originalTransactionID.
type PurchaseRecord struct {
	OriginalTransactionID string
	ProductID             string
	PurchaseDateMs        int64
	ExpireDateMs          *int64
	Status                PurchaseStatus
	Environment           Environment
	DeviceCount           int
}

// DeviceBinding records one of at most two devices bound to a subscription.
type DeviceBinding struct {
	OriginalTransactionID string
	DeviceUUID            string
	DeviceName            string
	BindTimeMs            int64
	LastActiveTimeMs      int64
}

// TransactionLog is an append-only record of verify-purchase calls.
type TransactionLog struct {
	ID                    int64
	OriginalTransactionID string
	TransactionID         string
	EventType             string
	DeviceUUID            string
	JWSToken              string
	CreatedAt             time.Time
}

// NotificationLog is an append-only record keyed by the idempotent
// notificationUUID from Apple Server Notifications v2.
type NotificationLog struct {
	ID               int64
	NotificationUUID string
	NotificationType string
	Subtype          string
	Payload          string
	CreatedAt        time.Time
}

// PurchaseEvent is an analytics/dedup row recorded for renewal-class
// server notifications.
type PurchaseEvent struct {
	ID                    int64
	OriginalTransactionID string
	TransactionID         string
	NotificationType      string
	CreatedAt             time.Time
}
