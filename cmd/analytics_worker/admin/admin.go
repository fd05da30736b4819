// Package admin exposes operator endpoints of the analytics worker.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jsndz/signalpush/pkg/analytics"
	"go.uber.org/zap"
)

// Flusher is the part of analytics.Flusher the endpoints drive.
type Flusher interface {
	Flush(ctx context.Context) (*analytics.CycleReport, error)
	RetryStatus(ctx context.Context, limit int64) ([]analytics.RetryStatus, error)
}

type Handler struct {
	flusher Flusher
	log     *zap.Logger
}

func NewHandler(f Flusher, log *zap.Logger) *Handler {
	return &Handler{flusher: f, log: log}
}

func Routes(r gin.IRouter, h *Handler) {
	r.GET("/retry", h.Retry)
	r.POST("/flush", h.Flush)
}

// Retry lists what is waiting on the retry lists.
func (h *Handler) Retry(c *gin.Context) {
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "100"), 10, 64)
	st, err := h.flusher.RetryStatus(c.Request.Context(), limit)
	if err != nil {
		h.log.Error("inspect retry lists", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": err.Error(), "success": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "retry": st})
}

// Flush runs one cycle now, draining the retry lists first.
func (h *Handler) Flush(c *gin.Context) {
	rep, err := h.flusher.Flush(c.Request.Context())
	switch {
	case errors.Is(err, analytics.ErrFlushInProgress), errors.Is(err, analytics.ErrFlushLocked), errors.Is(err, analytics.ErrFlushLockLost):
		c.JSON(http.StatusConflict, gin.H{"message": err.Error(), "success": false})
		return
	case err != nil:
		h.log.Error("manual flush", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": err.Error(), "success": false})
		return
	}
	h.log.Info("manual flush finished", zap.Duration("duration", rep.Duration))
	c.JSON(http.StatusOK, gin.H{"success": true, "report": rep})
}
