package notify

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"

	"github.com/langchou/fleetgazer/internal/models"
)

// EventPayload MQTT 事件消息体
type EventPayload struct {
	FleetID   int64     `json:"fleet_id"`
	VehicleID int64     `json:"vehicle_id"`
	EventID   int64     `json:"event_id"`
	EventType string    `json:"event_type"`
	Severity  string    `json:"severity"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	EventTime time.Time `json:"event_time"`
}

// EventTopic 车队事件主题 <prefix>/fleets/<fleetID>/events
func EventTopic(prefix string, fleetID int64) string {
	return fmt.Sprintf("%s/fleets/%d/events", prefix, fleetID)
}

// FormatEventPayload 事件转 JSON 消息体
func FormatEventPayload(fleetID int64, e *models.VehicleEvent) ([]byte, error) {
	return json.Marshal(EventPayload{
		FleetID:   fleetID,
		VehicleID: e.VehicleID,
		EventID:   e.ID,
		EventType: string(e.EventType),
		Severity:  string(e.Severity),
		Latitude:  e.Latitude,
		Longitude: e.Longitude,
		EventTime: e.EventTime.UTC(),
	})
}

// MQTTPublisher 把车辆事件发布到 MQTT broker
type MQTTPublisher struct {
	client paho.Client
	prefix string
}

// NewMQTTPublisher 连接 broker
func NewMQTTPublisher(broker, clientID, prefix string) (*MQTTPublisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return &MQTTPublisher{client: client, prefix: prefix}, nil
}

// PublishEvent 发布事件
func (p *MQTTPublisher) PublishEvent(fleetID int64, e *models.VehicleEvent) error {
	payload, err := FormatEventPayload(fleetID, e)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 1 (at-least-once)，不保留
	token := p.client.Publish(EventTopic(p.prefix, fleetID), 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Close 断开连接
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
