package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jsndz/signalpush/cmd/notification_api/app/internal/services"
	"github.com/jsndz/signalpush/pkg/models"
	"go.uber.org/zap"
)

type ProjectHandler struct {
	analytics     *services.AnalyticsService
	subscriptions *services.SubscriptionService
	log           *zap.Logger
}

func NewProjectHandler(analytics *services.AnalyticsService, subscriptions *services.SubscriptionService, log *zap.Logger) *ProjectHandler {
	return &ProjectHandler{analytics: analytics, subscriptions: subscriptions, log: log}
}

func (h *ProjectHandler) GetAggregate(c *gin.Context) {
	agg, err := h.analytics.Aggregate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.log.Error("load aggregate", zap.String("projectId", c.Param("id")), zap.Error(err))
		fail(c, http.StatusInternalServerError, "couldn't load aggregate")
		return
	}
	c.JSON(http.StatusOK, agg)
}

func (h *ProjectHandler) ListLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	logs, err := h.analytics.RecentLogs(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.log.Error("load logs", zap.String("projectId", c.Param("id")), zap.Error(err))
		fail(c, http.StatusInternalServerError, "couldn't load logs")
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (h *ProjectHandler) NotificationHistory(c *gin.Context) {
	logs, err := h.analytics.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, http.StatusInternalServerError, "couldn't load history")
		return
	}
	if len(logs) == 0 {
		fail(c, http.StatusNotFound, "no events recorded for this notification yet")
		return
	}
	c.JSON(http.StatusOK, logs)
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (h *ProjectHandler) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	sub := &models.Subscription{
		ProjectID: c.Param("id"),
		Endpoint:  req.Endpoint,
		P256dh:    req.Keys.P256dh,
		Auth:      req.Keys.Auth,
	}
	err := h.subscriptions.Subscribe(c.Request.Context(), sub)
	switch {
	case errors.Is(err, services.ErrProjectNotFound):
		fail(c, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, services.ErrIncompleteSubscribe):
		fail(c, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.log.Error("subscribe", zap.String("projectId", sub.ProjectID), zap.Error(err))
		fail(c, http.StatusInternalServerError, "couldn't save subscription")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Subscribed", "success": true})
}

func (h *ProjectHandler) Unsubscribe(c *gin.Context) {
	var req struct {
		Endpoint string `json:"endpoint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	removed, err := h.subscriptions.Unsubscribe(c.Request.Context(), c.Param("id"), req.Endpoint)
	if err != nil {
		h.log.Error("unsubscribe", zap.String("projectId", c.Param("id")), zap.Error(err))
		fail(c, http.StatusInternalServerError, "couldn't remove subscription")
		return
	}
	if !removed {
		fail(c, http.StatusNotFound, "subscription not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Unsubscribed", "success": true})
}
