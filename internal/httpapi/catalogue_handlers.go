package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"cobblepod/internal/apperr"
	"cobblepod/internal/catalogue"
	"cobblepod/internal/model"
)

// HandleListChannels serves GET /podcast/info/channels (unauthenticated).
func HandleListChannels(svc *catalogue.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		channels, err := svc.ListChannels(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		out := make([]gin.H, len(channels))
		for i, ch := range channels {
			out[i] = gin.H{"company": ch.Company, "channel": ch.Channel}
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "count": len(out), "channels": out})
	}
}

// HandleListDates serves GET /podcast/info/channels/{company}/{channel}/dates.
func HandleListDates(svc *catalogue.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		dates, err := svc.ListDates(c.Request.Context(), c.Param("company"), c.Param("channel"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "timestamps": dates})
	}
}

// HandleListPodcasts serves GET .../podcasts?timestamp=.
func HandleListPodcasts(svc *catalogue.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var timestamp int64
		if raw := c.Query("timestamp"); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				respondErr(c, apperr.Validation("timestamp must be an integer"))
				return
			}
			timestamp = parsed
		}

		podcasts, err := svc.ListPodcastsForDay(c.Request.Context(), c.Param("company"), c.Param("channel"), timestamp)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "podcasts": summaries(podcasts)})
	}
}

// HandleListPodcastsPaged serves GET .../podcasts/paged?page=&limit=.
func HandleListPodcastsPaged(svc *catalogue.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := queryIntDefault(c, "page", 1)
		limit := queryIntDefault(c, "limit", catalogue.DefaultPageSize)

		res, err := svc.ListPodcastsPaged(c.Request.Context(), c.Param("company"), c.Param("channel"), page, limit)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"total":       res.Total,
			"total_pages": res.TotalPages,
			"podcasts":    summaries(res.Podcasts),
		})
	}
}

// HandleDetail serves GET /podcast/info/detail/{id}?expires=.
func HandleDetail(svc *catalogue.Service, store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		expires := queryIntDefault(c, "expires", catalogue.MinExpiresSecs)

		isVIP := false
		if deviceUUID := DeviceUUID(c); deviceUUID != "" {
			if u, err := store.GetUserByDevice(c.Request.Context(), deviceUUID); err == nil {
				isVIP = u.IsVIP && (u.VIPExpireMs == nil || *u.VIPExpireMs >= time.Now().UnixMilli())
			}
		}

		p, audioURL, segmentsURL, err := svc.Detail(c.Request.Context(), catalogue.DetailInput{
			EpisodeID:      c.Param("id"),
			ExpiresSeconds: int64(expires),
			ViewerIsVIP:    isVIP,
		})
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"podcast": gin.H{
				"id":               p.ID,
				"company":          p.Company,
				"channel":          p.Channel,
				"title":            p.Title,
				"titleTranslation": p.TitleTranslation,
				"subtitle":         p.Subtitle,
				"timestampSec":     p.TimestampSec,
				"languageCode":     p.LanguageCode,
				"durationSec":      p.DurationSec,
				"segmentCount":     p.SegmentCount,
				"isFree":           p.IsFree,
				"audioURL":         audioURL,
				"segmentsURL":      segmentsURL,
			},
		})
	}
}

// HandleCheck serves GET /podcast/info/check/{id}.
func HandleCheck(svc *catalogue.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := svc.Check(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "exists": res.Exists, "is_complete": res.IsComplete})
	}
}

func queryIntDefault(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func summaries(in []model.PodcastSummary) []gin.H {
	out := make([]gin.H, len(in))
	for i, p := range in {
		out[i] = gin.H{
			"id":               p.ID,
			"company":          p.Company,
			"channel":          p.Channel,
			"title":            p.Title,
			"titleTranslation": p.TitleTranslation,
			"timestampSec":     p.TimestampSec,
			"durationSec":      p.DurationSec,
			"isFree":           p.IsFree,
		}
	}
	return out
}
