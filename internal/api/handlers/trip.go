package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ListTrips 获取行程列表
func (h *Handler) ListTrips(c *gin.Context) {
	vehicleID, ok := parseID(c, "vehicle")
	if !ok {
		return
	}

	page, perPage, offset := pagination(c)
	trips, total, err := h.repo.ListTrips(c.Request.Context(), vehicleID, perPage, offset)
	if err != nil {
		h.logger.Error("Failed to list trips", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list trips"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": trips,
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

// GetTrip 获取行程详情
func (h *Handler) GetTrip(c *gin.Context) {
	id, ok := parseID(c, "trip")
	if !ok {
		return
	}

	trip, err := h.repo.GetTrip(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Trip not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"trip":         trip,
			"duration_min": trip.DurationMin(),
		},
	})
}

// ListEvents 获取车辆事件
func (h *Handler) ListEvents(c *gin.Context) {
	vehicleID, ok := parseID(c, "vehicle")
	if !ok {
		return
	}

	page, perPage, offset := pagination(c)
	events, total, err := h.repo.ListEvents(c.Request.Context(), vehicleID, perPage, offset)
	if err != nil {
		h.logger.Error("Failed to list events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": events,
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

// AcknowledgeEvent 确认事件
func (h *Handler) AcknowledgeEvent(c *gin.Context) {
	id, ok := parseID(c, "event")
	if !ok {
		return
	}

	event, err := h.repo.AcknowledgeEvent(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "acknowledge event", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": event})
}

// ListLocations 获取轨迹点
// GET /api/vehicles/:id/locations?start=RFC3339&end=RFC3339
// 默认返回最近 24 小时
func (h *Handler) ListLocations(c *gin.Context) {
	vehicleID, ok := parseID(c, "vehicle")
	if !ok {
		return
	}

	end := time.Now()
	start := end.Add(-24 * time.Hour)
	if raw := c.Query("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start time, expected RFC3339"})
			return
		}
		start = t
	}
	if raw := c.Query("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end time, expected RFC3339"})
			return
		}
		end = t
	}
	if !start.Before(end) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must be before end"})
		return
	}

	points, err := h.repo.ListLocations(c.Request.Context(), vehicleID, start, end)
	if err != nil {
		h.logger.Error("Failed to list locations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list locations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": points})
}
