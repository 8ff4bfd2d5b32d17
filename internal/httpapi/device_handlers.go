package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cobblepod/internal/apperr"
)

// HandleListDevices serves GET /podcast/user/devices (bearer).
func HandleListDevices(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceUUID := DeviceUUID(c)
		ctx := c.Request.Context()

		u, err := deps.Store.GetUserByDevice(ctx, deviceUUID)
		if err != nil {
			respondCodeErr(c, err)
			return
		}

		var devices []gin.H
		if u.OriginalTransactionID != "" {
			bindings, err := deps.Store.ListDeviceBindings(ctx, u.OriginalTransactionID)
			if err != nil {
				respondCodeErr(c, err)
				return
			}
			for _, b := range bindings {
				devices = append(devices, gin.H{
					"device_uuid":      b.DeviceUUID,
					"device_name":      b.DeviceName,
					"bind_time":        b.BindTimeMs,
					"last_active_time": b.LastActiveTimeMs,
					"is_current":       b.DeviceUUID == deviceUUID,
				})
			}
		}

		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"devices": devices}})
	}
}

// HandleUnbindDevice serves DELETE /podcast/user/devices/{target} (bearer).
func HandleUnbindDevice(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		selfDeviceUUID := DeviceUUID(c)
		targetDeviceUUID := c.Param("target")
		ctx := c.Request.Context()

		u, err := deps.Store.GetUserByDevice(ctx, selfDeviceUUID)
		if err != nil {
			respondCodeErr(c, err)
			return
		}
		if u.OriginalTransactionID == "" {
			respondCodeErr(c, apperr.NotFound("no subscription bound to this device"))
			return
		}

		if err := deps.Entitlement.UnbindDevice(ctx, selfDeviceUUID, targetDeviceUUID, u.OriginalTransactionID); err != nil {
			respondCodeErr(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"code": 0, "message": "device unbound"})
	}
}
