package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sumire-audio/zonehub/internal/apperr"
)

func notFoundf(format string, args ...any) error {
	return apperr.NotFound(fmt.Sprintf(format, args...))
}

// statusFor maps an apperr.Kind to an HTTP status code, the single place
// status-code decisions are made for this adapter.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound, apperr.KindCatalogMiss:
		return http.StatusNotFound
	case apperr.KindInvariantViolation:
		return http.StatusConflict
	case apperr.KindTransient, apperr.KindTimeout:
		return http.StatusServiceUnavailable
	case apperr.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"status": "error", "error": err.Error()})
}
