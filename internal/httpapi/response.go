package httpapi

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"cobblepod/internal/apperr"
)

// respondErr maps err through apperr.HTTPStatus and writes a
// {success:false,error} body, logging server-side (5xx) errors with
// their underlying cause.
func respondErr(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= 500 {
		slog.Error("httpapi: request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

// respondCodeErr is the {code,message} variant used by the
// register/verify/notify/devices endpoints
func respondCodeErr(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= 500 {
		slog.Error("httpapi: request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, gin.H{"code": status, "message": err.Error()})
}
