// Package notify 把同步产生的状态与事件推送给 WebSocket 和 MQTT
package notify

import (
	"go.uber.org/zap"

	"github.com/langchou/fleetgazer/internal/metrics"
	"github.com/langchou/fleetgazer/internal/models"
	"github.com/langchou/fleetgazer/internal/state"
)

// Broadcaster 实时推送，*ws.Hub 满足该接口
type Broadcaster interface {
	BroadcastStatusUpdate(fleetID int64, state interface{})
	BroadcastEvent(fleetID int64, event interface{})
}

// Publisher 事件发布，*MQTTPublisher 满足该接口
type Publisher interface {
	PublishEvent(fleetID int64, e *models.VehicleEvent) error
}

// Notifier 推送失败只记录日志，不影响同步
type Notifier struct {
	hub       Broadcaster
	publisher Publisher
	logger    *zap.Logger
}

// NewNotifier 创建推送器，hub 与 publisher 均可为 nil
func NewNotifier(hub Broadcaster, publisher Publisher, logger *zap.Logger) *Notifier {
	return &Notifier{hub: hub, publisher: publisher, logger: logger.Named("notify")}
}

// NotifyEvent 推送新事件
func (n *Notifier) NotifyEvent(fleetID int64, e *models.VehicleEvent) {
	metrics.VehicleEvents.WithLabelValues(string(e.EventType)).Inc()

	if n.hub != nil {
		n.hub.BroadcastEvent(fleetID, e)
	}
	if n.publisher != nil {
		if err := n.publisher.PublishEvent(fleetID, e); err != nil {
			n.logger.Warn("Failed to publish vehicle event",
				zap.Int64("fleet_id", fleetID),
				zap.Int64("vehicle_id", e.VehicleID),
				zap.String("event_type", string(e.EventType)),
				zap.Error(err))
		}
	}
}

// NotifyStatus 推送实时状态
func (n *Notifier) NotifyStatus(fleetID int64, vs *state.VehicleState) {
	if n.hub != nil {
		n.hub.BroadcastStatusUpdate(fleetID, vs)
	}
}
