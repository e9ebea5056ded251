package models

import "time"

// 行程状态
const (
	TripInProgress = "in_progress"
	TripCompleted  = "completed"
)

// Trip 一次点火到熄火的行程，每车最多一条 in_progress
type Trip struct {
	ID                  int64      `json:"id" db:"id"`
	VehicleID           int64      `json:"vehicle_id" db:"vehicle_id"`
	StartTime           time.Time  `json:"start_time" db:"start_time"`
	EndTime             *time.Time `json:"end_time,omitempty" db:"end_time"`
	StartLatitude       float64    `json:"start_latitude" db:"start_latitude"`
	StartLongitude      float64    `json:"start_longitude" db:"start_longitude"`
	EndLatitude         *float64   `json:"end_latitude,omitempty" db:"end_latitude"`
	EndLongitude        *float64   `json:"end_longitude,omitempty" db:"end_longitude"`
	StartOdometerMeters float64    `json:"start_odometer_m" db:"start_odometer_m"`
	EndOdometerMeters   *float64   `json:"end_odometer_m,omitempty" db:"end_odometer_m"`
	DistanceMeters      float64    `json:"distance_m" db:"distance_m"`
	Status              string     `json:"status" db:"status"`
	StartAddress        *Address   `json:"start_address,omitempty" db:"start_address"`
	EndAddress          *Address   `json:"end_address,omitempty" db:"end_address"`
}

// DurationMin 行程时长（分钟），未结束返回 0
func (t *Trip) DurationMin() float64 {
	if t.EndTime == nil {
		return 0
	}
	return t.EndTime.Sub(t.StartTime).Minutes()
}
