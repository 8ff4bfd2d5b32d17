package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cobblepod/internal/apperr"
	"cobblepod/internal/queue"
)

// EnqueueIngestionRequest is the JSON body of POST /podcast/ingest/enqueue,
// used to schedule a batch fetch-and-process run against a single
// company/channel source.
type EnqueueIngestionRequest struct {
	Company      string `json:"company" binding:"required"`
	Channel      string `json:"channel" binding:"required"`
	SourceKind   string `json:"source_kind" binding:"required"` // rss | subtitle | book
	SourceConfig string `json:"source_config" binding:"required"`
}

// HandleEnqueueIngestion serves POST /podcast/ingest/enqueue (internal
// auth). It assigns a fresh job ID and hands the batch to the queue for
// a worker to pick up; it does not fetch or process anything itself.
func HandleEnqueueIngestion(q *queue.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EnqueueIngestionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Validation("invalid ingestion batch request"))
			return
		}

		job := &queue.Job{
			ID:           uuid.New().String(),
			Company:      req.Company,
			Channel:      req.Channel,
			SourceKind:   req.SourceKind,
			SourceConfig: req.SourceConfig,
		}

		if err := q.Enqueue(c.Request.Context(), job); err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "job_id": job.ID})
	}
}
