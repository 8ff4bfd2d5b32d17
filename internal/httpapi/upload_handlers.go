package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cobblepod/internal/apperr"
	"cobblepod/internal/idhash"
	"cobblepod/internal/model"
)

// UploadRequest is the metadata JSON body of POST /podcast/info/upload,
// used by the ingestion side of the system to register a completed
// episode with the catalogue store without sharing a direct database
// connection.
type UploadRequest struct {
	Company          string  `json:"company" binding:"required"`
	Channel          string  `json:"channel" binding:"required"`
	AudioURL         string  `json:"raw_audio_url"`
	AudioKey         string  `json:"audio_key" binding:"required"`
	SegmentsKey      string  `json:"segments_key" binding:"required"`
	SegmentCount     int     `json:"segment_count"`
	Title            string  `json:"title" binding:"required"`
	TitleTranslation string  `json:"title_translation"`
	Subtitle         string  `json:"subtitle"`
	TimestampSec     int64   `json:"timestamp_sec" binding:"required"`
	LanguageCode     string  `json:"language_code"`
	DurationSec      float64 `json:"duration_sec"`
}

func (r UploadRequest) toPodcast() *model.Podcast {
	return &model.Podcast{
		ID:               idhash.EpisodeID(r.Company, r.Channel, r.TimestampSec, r.AudioURL, r.Title),
		Company:          r.Company,
		Channel:          r.Channel,
		AudioKey:         r.AudioKey,
		SegmentsKey:      r.SegmentsKey,
		SegmentCount:     r.SegmentCount,
		Title:            r.Title,
		TitleTranslation: r.TitleTranslation,
		Subtitle:         r.Subtitle,
		TimestampSec:     r.TimestampSec,
		LanguageCode:     r.LanguageCode,
		DurationSec:      r.DurationSec,
		RawAudioURL:      r.AudioURL,
	}
}

// HandleUpload serves POST /podcast/info/upload (internal auth).
func HandleUpload(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, apperr.Validation("invalid upload metadata"))
			return
		}

		p := req.toPodcast()
		if err := store.PublishPodcast(c.Request.Context(), p); err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "id": p.ID})
	}
}

// HandleUploadBatch serves POST /podcast/info/upload/batch (internal auth).
func HandleUploadBatch(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var reqs []UploadRequest
		if err := c.ShouldBindJSON(&reqs); err != nil {
			respondErr(c, apperr.Validation("invalid upload metadata"))
			return
		}

		succeeded, failed := 0, 0
		ids := make([]string, 0, len(reqs))
		for _, req := range reqs {
			p := req.toPodcast()
			if err := store.PublishPodcast(c.Request.Context(), p); err != nil {
				failed++
				continue
			}
			succeeded++
			ids = append(ids, p.ID)
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"counts":  gin.H{"succeeded": succeeded, "failed": failed},
			"ids":     ids,
		})
	}
}
