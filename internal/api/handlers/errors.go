package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/fleetgazer/internal/api/vendor"
	"github.com/langchou/fleetgazer/internal/credential"
	"github.com/langchou/fleetgazer/internal/repository"
)

const msgTryAgain = "Vendor temporarily unavailable, try again"

// respondError 把服务层错误映射为 HTTP 响应，供应商原始响应只写日志
func (h *Handler) respondError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, vendor.ErrLoginFailed):
		h.logger.Warn("Vendor login rejected", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Vendor login failed, check username and password"})
	case errors.Is(err, credential.ErrAuthenticationRequired), vendor.IsAuth(err):
		h.logger.Warn("Vendor authentication required", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Vendor authentication required, please log in again"})
	default:
		h.logger.Error("Request failed", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgTryAgain})
	}
}
