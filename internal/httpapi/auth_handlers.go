package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cobblepod/internal/apperr"
	"cobblepod/internal/model"
)

// RegisterRequest is the body of POST /podcast/auth/register.
type RegisterRequest struct {
	DeviceUUID string `json:"device_uuid" binding:"required"`
	DeviceName string `json:"device_name"`
	AppVersion string `json:"app_version"`
}

// HandleRegister serves POST /podcast/auth/register (unauthenticated):
// find-or-create the device's User row, run the login-time consistency
// check, and issue a fresh access token.
func HandleRegister(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondCodeErr(c, apperr.Validation("device_uuid is required"))
			return
		}

		ctx := c.Request.Context()
		u, err := deps.Store.GetUserByDevice(ctx, req.DeviceUUID)
		deviceStatus := ""
		if err != nil {
			if !apperr.Is(err, apperr.KindNotFound) {
				respondCodeErr(c, err)
				return
			}
			u = &model.User{DeviceUUID: req.DeviceUUID}
			if err := deps.Store.UpsertUser(ctx, u); err != nil {
				respondCodeErr(c, err)
				return
			}
		} else {
			loginResult, err := deps.Entitlement.CheckLogin(ctx, req.DeviceUUID)
			if err != nil && !apperr.Is(err, apperr.KindNotFound) {
				respondCodeErr(c, err)
				return
			}
			if loginResult != nil {
				u = loginResult.User
				deviceStatus = loginResult.DeviceStatus
			}
		}

		token, err := deps.Issuer.Issue(req.DeviceUUID)
		if err != nil {
			respondCodeErr(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{
				"user_id":         u.InternalID,
				"is_vip":          u.IsVIP,
				"vip_expire_time": u.VIPExpireMs,
				"device_status":   deviceStatus,
				"access_token":    token,
			},
		})
	}
}
