package queue

import (
	"testing"
	"time"
)

func TestJobFieldsAreSet(t *testing.T) {
	job := &Job{
		ID:         "test-id-123",
		Company:    "Acme",
		Channel:    "news",
		SourceKind: "rss",
		CreatedAt:  time.Now(),
	}

	// This only checks that the Job literal carries its ID and Channel;
	// the actual queue operations are tested in integration tests
	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.Channel == "" {
		t.Error("Job Channel should not be empty")
	}
}

func TestChannelKeyCombinesCompanyAndChannel(t *testing.T) {
	if got := ChannelKey("Acme", "news"); got != "Acme/news" {
		t.Errorf("expected 'Acme/news', got %q", got)
	}
}

func TestQueueConstants(t *testing.T) {
	if WaitingQueue == "" {
		t.Error("WaitingQueue should not be empty")
	}
	if BlockTimeout == 0 {
		t.Error("BlockTimeout should not be zero")
	}
}
