package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cobblepod/internal/apperr"
	"cobblepod/internal/entitlement"
)

// VerifyRequest is the body of POST /podcast/payment/verify.
type VerifyRequest struct {
	JWSToken   string `json:"jws_token" binding:"required"`
	DeviceName string `json:"device_name"`
	EventType  string `json:"event_type"`
}

// HandleVerifyPurchase serves POST /podcast/payment/verify (bearer).
func HandleVerifyPurchase(proc *entitlement.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req VerifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondCodeErr(c, apperr.Validation("jws_token is required"))
			return
		}

		deviceUUID := DeviceUUID(c)
		if deviceUUID == "" {
			respondCodeErr(c, apperr.Auth("authentication required"))
			return
		}

		res, err := proc.VerifyPurchase(c.Request.Context(), entitlement.VerifyPurchaseInput{
			JWSToken:   req.JWSToken,
			DeviceUUID: deviceUUID,
			DeviceName: req.DeviceName,
			EventType:  req.EventType,
		})
		if err != nil {
			respondCodeErr(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"is_vip":          res.IsVIP,
				"vip_expire_time": res.VIPExpireTimeMs,
				"bound_devices":   res.BoundDevices,
				"kicked_device":   res.KickedDevice,
			},
		})
	}
}

// NotifyRequest is the body of POST /podcast/payment/appstore/notify.
type NotifyRequest struct {
	SignedPayload string `json:"signedPayload" binding:"required"`
}

// HandleAppStoreNotify serves POST /podcast/payment/appstore/notify
// (unauthenticated: Apple signs the payload itself).
func HandleAppStoreNotify(proc *entitlement.Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req NotifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondCodeErr(c, apperr.Validation("signedPayload is required"))
			return
		}

		res, err := proc.HandleServerNotification(c.Request.Context(), req.SignedPayload)
		if err != nil {
			respondCodeErr(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"notificationType": res.NotificationType,
				"is_vip":           res.IsVIP,
				"vip_expire_time":  res.VIPExpireTimeMs,
				"duplicate":        res.Duplicate,
				"stale":            res.Stale,
			},
		})
	}
}
