package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/fleetgazer/internal/models"
)

type createFleetRequest struct {
	Name     string `json:"name" binding:"required"`
	Provider string `json:"provider" binding:"required,oneof=datatrack247 fleet77"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// ListFleets 获取车队列表
func (h *Handler) ListFleets(c *gin.Context) {
	fleets, err := h.repo.ListFleets(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list fleets", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list fleets"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": fleets})
}

// CreateFleet 创建车队
func (h *Handler) CreateFleet(c *gin.Context) {
	var req createFleetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and provider (datatrack247 or fleet77) are required"})
		return
	}

	fleet := &models.Fleet{Name: req.Name, Provider: req.Provider}
	if err := h.repo.CreateFleet(c.Request.Context(), fleet); err != nil {
		h.logger.Error("Failed to create fleet", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create fleet"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": fleet})
}

// GetFleet 获取车队详情，附带供应商账号状态
func (h *Handler) GetFleet(c *gin.Context) {
	id, ok := parseID(c, "fleet")
	if !ok {
		return
	}

	fleet, err := h.repo.GetFleet(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Fleet not found"})
		return
	}

	// connected 表示已保存密钥可自动同步；session_active 表示当前令牌未过期（登出后为 false）
	connected, sessionActive := false, false
	var username string
	if cred, err := h.repo.GetCredential(c.Request.Context(), id); err == nil {
		connected = cred.PasswordSecret != ""
		sessionActive = cred.TokenValid(time.Now())
		username = cred.Username
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"fleet":           fleet,
			"vendor_username": username,
			"connected":       connected,
			"session_active":  sessionActive,
		},
	})
}

// Login 登录供应商账号
// POST /api/fleets/:id/login
// 成功后保存派生密钥与令牌，后续同步周期自动使用
func (h *Handler) Login(c *gin.Context) {
	id, ok := parseID(c, "fleet")
	if !ok {
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	if _, err := h.repo.GetFleet(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Fleet not found"})
		return
	}

	cred, err := h.creds.Login(c.Request.Context(), id, req.Username, req.Password)
	if err != nil {
		h.respondError(c, "login", err)
		return
	}

	h.logger.Info("Vendor account connected via API", zap.Int64("fleet_id", id))
	c.JSON(http.StatusOK, gin.H{"data": cred})
}

// Logout 断开供应商账号，保留设备与历史数据
func (h *Handler) Logout(c *gin.Context) {
	id, ok := parseID(c, "fleet")
	if !ok {
		return
	}

	if err := h.creds.Clear(c.Request.Context(), id); err != nil {
		h.respondError(c, "logout", err)
		return
	}

	h.logger.Info("Vendor account disconnected via API", zap.Int64("fleet_id", id))
	c.JSON(http.StatusOK, gin.H{
		"message":  "Logged out",
		"fleet_id": id,
	})
}

// TriggerSync 手动同步
// POST /api/fleets/:id/sync
func (h *Handler) TriggerSync(c *gin.Context) {
	id, ok := parseID(c, "fleet")
	if !ok {
		return
	}

	result, err := h.syncer.TriggerManualSync(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "manual sync", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// ListSyncRuns 同步记录
func (h *Handler) ListSyncRuns(c *gin.Context) {
	id, ok := parseID(c, "fleet")
	if !ok {
		return
	}

	page, perPage, offset := pagination(c)
	runs, err := h.repo.ListSyncRuns(c.Request.Context(), id, perPage, offset)
	if err != nil {
		h.logger.Error("Failed to list sync runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sync runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": runs,
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
		},
	})
}
