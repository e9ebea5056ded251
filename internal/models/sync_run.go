package models

import "time"

// 同步类型
const (
	SyncTypeStatus   = "status"
	SyncTypeLocation = "location"
	SyncTypeVehicles = "vehicles"
)

// 同步运行状态
const (
	SyncRunning   = "running"
	SyncCompleted = "completed"
	SyncFailed    = "failed"
)

// SyncCounts 一次同步的计数
type SyncCounts struct {
	Fetched  int `json:"fetched"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// SyncRun 同步运行记录，仅用于观测
type SyncRun struct {
	ID           int64      `json:"id" db:"id"`
	FleetID      int64      `json:"fleet_id" db:"fleet_id"`
	SyncType     string     `json:"sync_type" db:"sync_type"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	Fetched      int        `json:"fetched" db:"fetched"`
	Inserted     int        `json:"inserted" db:"inserted"`
	Updated      int        `json:"updated" db:"updated"`
	Status       string     `json:"status" db:"status"`
	ErrorMessage *string    `json:"error_message,omitempty" db:"error_message"`
}
