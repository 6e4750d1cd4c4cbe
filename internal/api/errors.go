package api

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

// StatusFor maps an engine error onto an http status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, schema.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, schema.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrDependency):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) presentError(c *gin.Context, err error) {
	status := StatusFor(err)
	_ = c.Error(err)

	msg := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		msg = "service temporarily unavailable"
	case http.StatusInternalServerError:
		msg = "internal error"
	}
	if status >= http.StatusInternalServerError && h.Logger != nil {
		h.Logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": msg})
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
