package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"instaq/internal/apperr"
	"instaq/internal/logging"
)

func ok(c *gin.Context, status int, message string, data any) {
	body := gin.H{"success": true}
	if message != "" {
		body["message"] = message
	}
	if data != nil {
		body["data"] = data
	}
	c.JSON(status, body)
}

// fail maps a service error onto the HTTP envelope. notFound names the
// resource in 404 messages.
func (h *handlers) fail(c *gin.Context, err error, notFound string) {
	if verr, isValidation := apperr.AsValidation(err); isValidation {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Validation failed", "errors": verr.Violations})
		return
	}
	switch {
	case errors.Is(err, apperr.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Not authorized"})
	case errors.Is(err, apperr.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "Access denied. Admin privileges required."})
	case errors.Is(err, apperr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": notFound + " not found"})
	case errors.Is(err, apperr.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": "User already exists"})
	default:
		logging.FromContext(c.Request.Context(), h.logger).Error("request failed",
			"method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Server error"})
	}
}
