package httpapi

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures every route the catalogue & entitlement API
// exposes, grouped by auth requirement.
func SetupRoutes(r *gin.Engine, deps Deps) {
	bearer := BearerAuthMiddleware(deps.Issuer)
	internal := InternalAuthMiddleware(deps.InternalAPIKey)

	podcast := r.Group("/podcast")
	{
		info := podcast.Group("/info")
		{
			info.GET("/channels", HandleListChannels(deps.Catalogue))

			authed := info.Group("")
			authed.Use(bearer)
			{
				authed.GET("/channels/:company/:channel/dates", HandleListDates(deps.Catalogue))
				authed.GET("/channels/:company/:channel/podcasts", HandleListPodcasts(deps.Catalogue))
				authed.GET("/channels/:company/:channel/podcasts/paged", HandleListPodcastsPaged(deps.Catalogue))
				authed.GET("/detail/:id", HandleDetail(deps.Catalogue, deps.Store))
				authed.GET("/check/:id", HandleCheck(deps.Catalogue))
			}

			upload := info.Group("")
			upload.Use(internal)
			{
				upload.POST("/upload", HandleUpload(deps.Store))
				upload.POST("/upload/batch", HandleUploadBatch(deps.Store))
			}
		}

		ingest := podcast.Group("/ingest")
		ingest.Use(internal)
		{
			ingest.POST("/enqueue", HandleEnqueueIngestion(deps.Queue))
		}

		auth := podcast.Group("/auth")
		{
			auth.POST("/register", HandleRegister(deps))
		}

		payment := podcast.Group("/payment")
		{
			payment.POST("/appstore/notify", HandleAppStoreNotify(deps.Entitlement))

			verify := payment.Group("")
			verify.Use(bearer)
			verify.POST("/verify", HandleVerifyPurchase(deps.Entitlement))
		}

		user := podcast.Group("/user")
		user.Use(bearer)
		{
			user.GET("/devices", HandleListDevices(deps))
			user.DELETE("/devices/:target", HandleUnbindDevice(deps))
		}
	}
}
