package ws

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/fleetgazer/internal/metrics"
)

// MessageType WebSocket 消息类型
const (
	MsgTypeInit         = "init"          // 初始化数据（车队实时状态）
	MsgTypeStatusUpdate = "status_update" // 车辆状态更新
	MsgTypeVehicleEvent = "vehicle_event" // 新的车辆事件
	MsgTypeError        = "error"         // 错误消息
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Message WebSocket 消息结构
type Message struct {
	Type    string      `json:"type"`
	FleetID int64       `json:"fleet_id"`
	Data    interface{} `json:"data"`
}

// AllFleets 订阅全部车队
const AllFleets int64 = 0

type outbound struct {
	fleetID int64
	data    []byte
}

// Client WebSocket 客户端，只接收所订阅车队的消息
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	fleetID int64
}

// Hub WebSocket 连接管理中心
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	// done 在 Run 退出后关闭，注册与注销不再阻塞
	done     chan struct{}
	doneOnce sync.Once

	// 初始数据提供者回调
	getInitData func(fleetID int64) interface{}
}

// NewHub 创建 Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger.Named("ws"),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// SetInitDataProvider 设置初始数据提供者
func (h *Hub) SetInitDataProvider(provider func(fleetID int64) interface{}) {
	h.getInitData = provider
}

// Run 运行 Hub，直到 ctx 取消
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.doneOnce.Do(func() { close(h.done) })
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			h.logger.Info("WebSocket client connected",
				zap.Int64("fleet_id", client.fleetID),
				zap.Int("total_clients", total))

			h.sendInitData(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			h.logger.Info("WebSocket client disconnected", zap.Int("total_clients", total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.fleetID != AllFleets && client.fleetID != msg.fleetID {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// 慢消费者，关闭连接
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// sendInitData 发送初始数据给新连接的客户端
func (h *Hub) sendInitData(client *Client) {
	if h.getInitData == nil {
		return
	}

	data, err := json.Marshal(Message{
		Type:    MsgTypeInit,
		FleetID: client.fleetID,
		Data:    h.getInitData(client.fleetID),
	})
	if err != nil {
		h.logger.Error("Failed to marshal init data", zap.Error(err))
		return
	}

	select {
	case client.send <- data:
	default:
		h.logger.Warn("Failed to send init data, client buffer full")
	}
}

// BroadcastMessage 广播结构化消息给订阅该车队的客户端
// Hub 繁忙时丢弃消息，不阻塞同步周期
func (h *Hub) BroadcastMessage(fleetID int64, msgType string, data interface{}) {
	jsonData, err := json.Marshal(Message{Type: msgType, FleetID: fleetID, Data: data})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- outbound{fleetID: fleetID, data: jsonData}:
	default:
		h.logger.Warn("WebSocket broadcast queue full, dropping message", zap.String("type", msgType))
	}
}

// BroadcastStatusUpdate 广播车辆状态更新
func (h *Hub) BroadcastStatusUpdate(fleetID int64, state interface{}) {
	h.BroadcastMessage(fleetID, MsgTypeStatusUpdate, state)
}

// BroadcastEvent 广播车辆事件
func (h *Hub) BroadcastEvent(fleetID int64, event interface{}) {
	h.BroadcastMessage(fleetID, MsgTypeVehicleEvent, event)
}

// ClientCount 获取客户端数量
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NewClient 创建客户端，fleetID 为 AllFleets 时接收全部车队消息
func NewClient(hub *Hub, conn *websocket.Conn, fleetID int64) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		fleetID: fleetID,
	}
}

// Register 注册客户端；Hub 已停止时关闭发送通道，WritePump 随即退出
func (c *Client) Register() {
	select {
	case c.hub.register <- c:
	case <-c.hub.done:
		close(c.send)
	}
}

// Unregister 注销客户端
func (c *Client) Unregister() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

// ReadPump 读取消息（保持连接活跃）
func (c *Client) ReadPump() {
	defer func() {
		c.Unregister()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// 不处理客户端消息，仅保持连接
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// WritePump 发送消息并定期 ping
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
