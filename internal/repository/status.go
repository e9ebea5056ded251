package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/fleetgazer/internal/models"
)

// StatusRepository 车辆当前状态（每车一行）
type StatusRepository struct {
	db *DB
}

// NewStatusRepository 创建状态仓库
func NewStatusRepository(db *DB) *StatusRepository {
	return &StatusRepository{db: db}
}

// Get 获取车辆当前状态
func (r *StatusRepository) Get(ctx context.Context, vehicleID int64) (*models.CurrentStatus, error) {
	query := `
		SELECT vehicle_id, device_id, vendor_serial, recorded_at, latitude, longitude, speed_kmh, movement_state,
			COALESCE(status_label, ''), heading, voltage_mv, odometer_m, starter_disabled_since, buzzer_active_since, updated_at
		FROM current_statuses WHERE vehicle_id = $1
	`
	s := &models.CurrentStatus{}
	err := r.db.Pool.QueryRow(ctx, query, vehicleID).Scan(
		&s.VehicleID,
		&s.DeviceID,
		&s.VendorSerial,
		&s.RecordedAt,
		&s.Latitude,
		&s.Longitude,
		&s.SpeedKmh,
		&s.MovementState,
		&s.StatusLabel,
		&s.Heading,
		&s.VoltageMillivolts,
		&s.OdometerMeters,
		&s.StarterDisabledSince,
		&s.BuzzerActiveSince,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, notFound("get current status", err)
	}
	return s, nil
}

// Upsert 写入当前状态，只有 recorded_at 更新的状态才会覆盖已有行
// 返回 false 表示状态过期被丢弃
func (r *StatusRepository) Upsert(ctx context.Context, s *models.CurrentStatus) (bool, error) {
	query := `
		INSERT INTO current_statuses (vehicle_id, device_id, vendor_serial, recorded_at, latitude, longitude, speed_kmh,
			movement_state, status_label, heading, voltage_mv, odometer_m, starter_disabled_since, buzzer_active_since, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (vehicle_id) DO UPDATE SET
			device_id = EXCLUDED.device_id,
			vendor_serial = EXCLUDED.vendor_serial,
			recorded_at = EXCLUDED.recorded_at,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			speed_kmh = EXCLUDED.speed_kmh,
			movement_state = EXCLUDED.movement_state,
			status_label = EXCLUDED.status_label,
			heading = EXCLUDED.heading,
			voltage_mv = EXCLUDED.voltage_mv,
			odometer_m = EXCLUDED.odometer_m,
			starter_disabled_since = EXCLUDED.starter_disabled_since,
			buzzer_active_since = EXCLUDED.buzzer_active_since,
			updated_at = EXCLUDED.updated_at
		WHERE current_statuses.recorded_at < EXCLUDED.recorded_at
	`
	now := time.Now()
	tag, err := r.db.Pool.Exec(ctx, query,
		s.VehicleID,
		s.DeviceID,
		s.VendorSerial,
		s.RecordedAt,
		s.Latitude,
		s.Longitude,
		s.SpeedKmh,
		s.MovementState,
		s.StatusLabel,
		s.Heading,
		s.VoltageMillivolts,
		s.OdometerMeters,
		s.StarterDisabledSince,
		s.BuzzerActiveSince,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("upsert current status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	s.UpdatedAt = now
	return true, nil
}
