// Package api exposes the presence service over HTTP.
package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
	"github.com/celerix-dev/celerix-presence/pkg/sdk"
)

// OperatorHeader identifies the operator behind administrative requests.
const OperatorHeader = "X-Operator"

type Handler struct {
	Service sdk.PresenceService
	Logger  *zap.Logger
}

func (h *Handler) Register(c *gin.Context) {
	var input struct {
		FullName string `json:"full_name"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		h.badRequest(c, err)
		return
	}

	p, err := h.Service.Register(c.Request.Context(), input.FullName)
	if err != nil {
		h.presentError(c, err)
		return
	}
	c.JSON(http.StatusOK, p.View())
}

func (h *Handler) GetStatus(c *gin.Context) {
	p, err := h.Service.GetStatus(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.presentError(c, err)
		return
	}
	c.JSON(http.StatusOK, p.View())
}

func (h *Handler) Transition(c *gin.Context) {
	var req schema.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	p, err := h.Service.Transition(c.Request.Context(), c.Param("token"), req)
	if err != nil {
		h.presentError(c, err)
		return
	}
	c.JSON(http.StatusOK, p.View())
}

func (h *Handler) Stats(c *gin.Context) {
	counts, err := h.Service.AggregateCounts(c.Request.Context())
	if err != nil {
		h.presentError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (h *Handler) Absent(c *gin.Context) {
	absent, err := h.Service.ListAbsent(c.Request.Context())
	if err != nil {
		h.presentError(c, err)
		return
	}
	c.JSON(http.StatusOK, absent)
}

func (h *Handler) Users(c *gin.Context) {
	users, err := h.Service.ListAll(c.Request.Context())
	if err != nil {
		h.presentError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) Search(c *gin.Context) {
	users, err := h.Service.SearchByName(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.presentError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) Reset(c *gin.Context) {
	var input struct {
		Actor string `json:"actor"`
	}
	// The body is optional.
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&input); err != nil && !errors.Is(err, io.EOF) {
			h.badRequest(c, err)
			return
		}
	}

	res, err := h.Service.BulkReset(c.Request.Context(), operator(c, input.Actor))
	if err != nil {
		h.presentError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) DeleteUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.badRequest(c, errors.Newf("invalid user id %q", c.Param("id")))
		return
	}

	res, err := h.Service.DeletePerson(c.Request.Context(), id, operator(c, ""))
	if err != nil {
		h.presentError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Audit(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.badRequest(c, errors.Newf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	entries, err := h.Service.RecentAudit(c.Request.Context(), limit)
	if err != nil {
		h.presentError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// operator picks the acting operator from the header, then the body field.
// An empty result is replaced by the service default.
func operator(c *gin.Context, fromBody string) string {
	if op := strings.TrimSpace(c.GetHeader(OperatorHeader)); op != "" {
		return op
	}
	return strings.TrimSpace(fromBody)
}
