package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jsndz/signalpush/cmd/notification_api/app/internal/services"
	"github.com/jsndz/signalpush/pkg/types"
	"go.uber.org/zap"
)

type NotificationHandler struct {
	service *services.NotificationService
	log     *zap.Logger
}

func NewNotificationHandler(service *services.NotificationService, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{service: service, log: log}
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"message": message, "success": false})
}

// Notify accepts a dispatch job and queues it for the push workers.
func (h *NotificationHandler) Notify(c *gin.Context) {
	var job types.DispatchJob
	if err := c.ShouldBindJSON(&job); err != nil {
		fail(c, http.StatusBadRequest, "couldn't unmarshal JSON: "+err.Error())
		return
	}

	id, err := h.service.Enqueue(c.Request.Context(), &job)
	switch {
	case errors.Is(err, types.ErrTemplateNotImplemented):
		fail(c, http.StatusNotImplemented, err.Error())
		return
	case errors.Is(err, types.ErrInvalidJob):
		fail(c, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.log.Error("enqueue failed", zap.String("projectId", job.ProjectID), zap.Error(err))
		fail(c, http.StatusServiceUnavailable, "notification could not be queued")
		return
	}

	h.log.Info("notification queued",
		zap.String("projectId", job.ProjectID),
		zap.String("notificationId", id),
		zap.String("type", string(job.Type)),
	)
	c.JSON(http.StatusAccepted, gin.H{
		"message":        "Accepted",
		"success":        true,
		"notificationId": id,
	})
}

// Beacon records a clicked, closed or dropped report from a browser.
func (h *NotificationHandler) Beacon(c *gin.Context) {
	var e types.LifecycleEvent
	if err := c.ShouldBindJSON(&e); err != nil {
		fail(c, http.StatusBadRequest, "couldn't unmarshal JSON: "+err.Error())
		return
	}
	err := h.service.RecordBeacon(c.Request.Context(), e)
	switch {
	case errors.Is(err, services.ErrBeaconEvent), errors.Is(err, types.ErrInvalidEvent):
		fail(c, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.log.Error("beacon publish failed", zap.String("projectId", e.ProjectID), zap.Error(err))
		fail(c, http.StatusServiceUnavailable, "event could not be recorded")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Accepted", "success": true})
}
