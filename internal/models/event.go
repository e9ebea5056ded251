package models

import "time"

// EventType 车辆事件类型
type EventType string

const (
	EventStarterDisabled EventType = "starter_disabled"
	EventStarterEnabled  EventType = "starter_enabled"
	EventIgnitionOn      EventType = "ignition_on"
	EventIgnitionOff     EventType = "ignition_off"
	EventLowBattery      EventType = "low_battery"
)

// Severity 事件级别
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityAlert   Severity = "alert"
)

// VehicleEvent 状态变化产生的事件，只追加
type VehicleEvent struct {
	ID             int64      `json:"id" db:"id"`
	VehicleID      int64      `json:"vehicle_id" db:"vehicle_id"`
	EventType      EventType  `json:"event_type" db:"event_type"`
	Severity       Severity   `json:"severity" db:"severity"`
	Latitude       float64    `json:"latitude" db:"latitude"`
	Longitude      float64    `json:"longitude" db:"longitude"`
	EventTime      time.Time  `json:"event_time" db:"event_time"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
}
