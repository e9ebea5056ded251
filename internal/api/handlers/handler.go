package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/fleetgazer/internal/models"
	"github.com/langchou/fleetgazer/internal/service"
	"github.com/langchou/fleetgazer/internal/state"
	"github.com/langchou/fleetgazer/pkg/ws"
)

// Repository 接口层读取和维护的数据，*repository.Store 满足该接口
type Repository interface {
	ListFleets(ctx context.Context) ([]*models.Fleet, error)
	CreateFleet(ctx context.Context, fleet *models.Fleet) error
	GetFleet(ctx context.Context, fleetID int64) (*models.Fleet, error)
	GetCredential(ctx context.Context, fleetID int64) (*models.VendorCredential, error)

	ListVehicles(ctx context.Context, fleetID int64) ([]*models.Vehicle, error)
	GetVehicle(ctx context.Context, id int64) (*models.Vehicle, error)
	ListDevices(ctx context.Context, fleetID int64) ([]*models.Device, error)
	LinkDevice(ctx context.Context, deviceID int64, vehicleID *int64) error

	GetCurrentStatus(ctx context.Context, vehicleID int64) (*models.CurrentStatus, error)
	ListTrips(ctx context.Context, vehicleID int64, limit, offset int) ([]*models.Trip, int64, error)
	GetTrip(ctx context.Context, id int64) (*models.Trip, error)
	ListEvents(ctx context.Context, vehicleID int64, limit, offset int) ([]*models.VehicleEvent, int64, error)
	AcknowledgeEvent(ctx context.Context, id int64) (*models.VehicleEvent, error)
	ListLocations(ctx context.Context, vehicleID int64, start, end time.Time) ([]*models.LocationPoint, error)
	ListSyncRuns(ctx context.Context, fleetID int64, limit, offset int) ([]*models.SyncRun, error)
}

// Credentials 操作员登录/登出供应商账号，*credential.Store 满足该接口
type Credentials interface {
	Login(ctx context.Context, fleetID int64, username, password string) (*models.VendorCredential, error)
	Clear(ctx context.Context, fleetID int64) error
}

// Syncer 手动同步，*service.Engine 满足该接口
type Syncer interface {
	TriggerManualSync(ctx context.Context, fleetID int64) (*service.SyncResult, error)
}

// Handler HTTP 处理器
type Handler struct {
	logger   *zap.Logger
	repo     Repository
	creds    Credentials
	syncer   Syncer
	states   *state.Manager
	wsHub    *ws.Hub
	upgrader websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	repo Repository,
	creds Credentials,
	syncer Syncer,
	states *state.Manager,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger: logger.Named("http"),
		repo:   repo,
		creds:  creds,
		syncer: syncer,
		states: states,
		wsHub:  wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		// 车队与供应商账号
		api.GET("/fleets", h.ListFleets)
		api.POST("/fleets", h.CreateFleet)
		api.GET("/fleets/:id", h.GetFleet)
		api.POST("/fleets/:id/login", h.Login)
		api.POST("/fleets/:id/logout", h.Logout)
		api.POST("/fleets/:id/sync", h.TriggerSync)
		api.GET("/fleets/:id/sync-runs", h.ListSyncRuns)

		// 车辆与设备
		api.GET("/fleets/:id/vehicles", h.ListVehicles)
		api.GET("/fleets/:id/devices", h.ListDevices)
		api.PUT("/devices/:id/link", h.LinkDevice)
		api.GET("/vehicles/:id/status", h.GetVehicleStatus)
		api.GET("/vehicles/:id/live", h.GetVehicleLive)

		// 行程、事件与轨迹
		api.GET("/vehicles/:id/trips", h.ListTrips)
		api.GET("/trips/:id", h.GetTrip)
		api.GET("/vehicles/:id/events", h.ListEvents)
		api.POST("/events/:id/ack", h.AcknowledgeEvent)
		api.GET("/vehicles/:id/locations", h.ListLocations)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// HandleWebSocket WebSocket 处理，fleet_id 为空时接收全部车队的推送
func (h *Handler) HandleWebSocket(c *gin.Context) {
	fleetID := ws.AllFleets
	if raw := c.Query("fleet_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid fleet ID"})
			return
		}
		fleetID = id
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn, fleetID)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.wsHub.ClientCount(),
	})
}

func parseID(c *gin.Context, what string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + what + " ID"})
		return 0, false
	}
	return id, true
}

// pagination 解析 page/per_page，per_page 默认 20，最大 100
func pagination(c *gin.Context) (page, perPage, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return page, perPage, (page - 1) * perPage
}
