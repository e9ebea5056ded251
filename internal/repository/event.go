package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/fleetgazer/internal/models"
)

// EventRepository 车辆事件仓库
type EventRepository struct {
	db *DB
}

// NewEventRepository 创建事件仓库
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// Insert 写入事件
func (r *EventRepository) Insert(ctx context.Context, e *models.VehicleEvent) error {
	query := `
		INSERT INTO vehicle_events (vehicle_id, event_type, severity, latitude, longitude, event_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := r.db.Pool.QueryRow(ctx, query,
		e.VehicleID,
		e.EventType,
		e.Severity,
		e.Latitude,
		e.Longitude,
		e.EventTime,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert vehicle event: %w", err)
	}
	return nil
}

// ListByVehicle 获取车辆事件列表
func (r *EventRepository) ListByVehicle(ctx context.Context, vehicleID int64, limit, offset int) ([]*models.VehicleEvent, error) {
	query := `
		SELECT id, vehicle_id, event_type, severity, latitude, longitude, event_time, acknowledged_at
		FROM vehicle_events WHERE vehicle_id = $1
		ORDER BY event_time DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Pool.Query(ctx, query, vehicleID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list vehicle events: %w", err)
	}
	defer rows.Close()

	var events []*models.VehicleEvent
	for rows.Next() {
		e := &models.VehicleEvent{}
		if err := rows.Scan(
			&e.ID,
			&e.VehicleID,
			&e.EventType,
			&e.Severity,
			&e.Latitude,
			&e.Longitude,
			&e.EventTime,
			&e.AcknowledgedAt,
		); err != nil {
			return nil, fmt.Errorf("scan vehicle event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountByVehicle 统计车辆事件数量
func (r *EventRepository) CountByVehicle(ctx context.Context, vehicleID int64) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM vehicle_events WHERE vehicle_id = $1`, vehicleID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count vehicle events: %w", err)
	}
	return count, nil
}

// Acknowledge 操作员确认事件，已确认的事件保持原确认时间
func (r *EventRepository) Acknowledge(ctx context.Context, id int64) (*models.VehicleEvent, error) {
	query := `
		UPDATE vehicle_events SET acknowledged_at = COALESCE(acknowledged_at, $2)
		WHERE id = $1
		RETURNING id, vehicle_id, event_type, severity, latitude, longitude, event_time, acknowledged_at
	`
	e := &models.VehicleEvent{}
	err := r.db.Pool.QueryRow(ctx, query, id, time.Now()).Scan(
		&e.ID,
		&e.VehicleID,
		&e.EventType,
		&e.Severity,
		&e.Latitude,
		&e.Longitude,
		&e.EventTime,
		&e.AcknowledgedAt,
	)
	if err != nil {
		return nil, notFound("acknowledge vehicle event", err)
	}
	return e, nil
}
