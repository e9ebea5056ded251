package models

import "time"

// MovementState 归一化后的运动状态
type MovementState string

const (
	MovementIgnitionOff      MovementState = "ignition_off"
	MovementStoppedHeartbeat MovementState = "stopped_heartbeat"
	MovementIgnitionOn       MovementState = "ignition_on"
	MovementMovingHeartbeat  MovementState = "moving_heartbeat"
)

// IgnitionOn 点火或行驶中
func (m MovementState) IgnitionOn() bool {
	return m == MovementIgnitionOn || m == MovementMovingHeartbeat
}

// CurrentStatus 每辆车最新一次状态（每车一行）
type CurrentStatus struct {
	VehicleID            int64         `json:"vehicle_id" db:"vehicle_id"`
	DeviceID             int64         `json:"device_id" db:"device_id"`
	VendorSerial         string        `json:"vendor_serial" db:"vendor_serial"`
	RecordedAt           time.Time     `json:"recorded_at" db:"recorded_at"`
	Latitude             float64       `json:"latitude" db:"latitude"`
	Longitude            float64       `json:"longitude" db:"longitude"`
	SpeedKmh             int           `json:"speed_kmh" db:"speed_kmh"`
	MovementState        MovementState `json:"movement_state" db:"movement_state"`
	StatusLabel          string        `json:"status_label" db:"status_label"`
	Heading              *int          `json:"heading,omitempty" db:"heading"`
	VoltageMillivolts    float64       `json:"voltage_mv" db:"voltage_mv"`
	OdometerMeters       float64       `json:"odometer_m" db:"odometer_m"`
	StarterDisabledSince int64         `json:"starter_disabled_since" db:"starter_disabled_since"`
	BuzzerActiveSince    int64         `json:"buzzer_active_since" db:"buzzer_active_since"`
	UpdatedAt            time.Time     `json:"updated_at" db:"updated_at"`
}

// IgnitionOn 点火状态
func (s *CurrentStatus) IgnitionOn() bool {
	return s.MovementState.IgnitionOn()
}

// StarterDisabled 启动机是否被远程禁用
func (s *CurrentStatus) StarterDisabled() bool {
	return s.StarterDisabledSince > 0
}

// VoltageVolts 电瓶电压 (V)
func (s *CurrentStatus) VoltageVolts() float64 {
	return s.VoltageMillivolts / 1000
}

// LocationPoint 历史轨迹点，只追加
type LocationPoint struct {
	ID         int64     `json:"id" db:"id"`
	DeviceID   int64     `json:"device_id" db:"device_id"`
	VehicleID  *int64    `json:"vehicle_id,omitempty" db:"vehicle_id"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
	Latitude   float64   `json:"latitude" db:"latitude"`
	Longitude  float64   `json:"longitude" db:"longitude"`
	SpeedKmh   int       `json:"speed_kmh" db:"speed_kmh"`
	Heading    *int      `json:"heading,omitempty" db:"heading"`
}
