package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type linkDeviceRequest struct {
	// VehicleID 为 null 时解除关联
	VehicleID *int64 `json:"vehicle_id"`
}

// ListVehicles 获取车队车辆
func (h *Handler) ListVehicles(c *gin.Context) {
	id, ok := parseID(c, "fleet")
	if !ok {
		return
	}

	vehicles, err := h.repo.ListVehicles(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list vehicles", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list vehicles"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": vehicles})
}

// ListDevices 获取车队设备
func (h *Handler) ListDevices(c *gin.Context) {
	id, ok := parseID(c, "fleet")
	if !ok {
		return
	}

	devices, err := h.repo.ListDevices(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list devices", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list devices"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": devices})
}

// LinkDevice 关联设备到车辆
// PUT /api/devices/:id/link
// 车辆必须与设备属于同一车队
func (h *Handler) LinkDevice(c *gin.Context) {
	deviceID, ok := parseID(c, "device")
	if !ok {
		return
	}

	var req linkDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if req.VehicleID != nil {
		vehicle, err := h.repo.GetVehicle(c.Request.Context(), *req.VehicleID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle not found"})
			return
		}
		devices, err := h.repo.ListDevices(c.Request.Context(), vehicle.FleetID)
		if err != nil {
			h.logger.Error("Failed to list devices", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to link device"})
			return
		}
		found := false
		for _, d := range devices {
			if d.ID == deviceID {
				found = true
				break
			}
		}
		if !found {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Device does not belong to the vehicle's fleet"})
			return
		}
	}

	if err := h.repo.LinkDevice(c.Request.Context(), deviceID, req.VehicleID); err != nil {
		h.respondError(c, "link device", err)
		return
	}

	h.logger.Info("Device link updated via API", zap.Int64("device_id", deviceID), zap.Int64p("vehicle_id", req.VehicleID))
	c.JSON(http.StatusOK, gin.H{
		"message":    "Device link updated",
		"device_id":  deviceID,
		"vehicle_id": req.VehicleID,
	})
}

// GetVehicleStatus 获取车辆已存储的当前状态
func (h *Handler) GetVehicleStatus(c *gin.Context) {
	id, ok := parseID(c, "vehicle")
	if !ok {
		return
	}

	status, err := h.repo.GetCurrentStatus(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle status not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": status})
}

// GetVehicleLive 获取车辆实时状态
func (h *Handler) GetVehicleLive(c *gin.Context) {
	id, ok := parseID(c, "vehicle")
	if !ok {
		return
	}

	machine, ok := h.states.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Vehicle state not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": machine.GetState()})
}
