package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/fleetgazer/internal/models"
)

// LocationRepository 历史轨迹点仓库（只追加）
type LocationRepository struct {
	db *DB
}

// NewLocationRepository 创建轨迹仓库
func NewLocationRepository(db *DB) *LocationRepository {
	return &LocationRepository{db: db}
}

// LatestTime 设备最新轨迹点时间，没有记录时 ok 为 false
func (r *LocationRepository) LatestTime(ctx context.Context, deviceID int64) (latest time.Time, ok bool, err error) {
	query := `SELECT recorded_at FROM location_points WHERE device_id = $1 ORDER BY recorded_at DESC LIMIT 1`
	err = r.db.Pool.QueryRow(ctx, query, deviceID).Scan(&latest)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get latest location time: %w", err)
	}
	return latest, true, nil
}

// InsertBatch 使用 COPY 批量写入，调用方保证点位都比已存储的更新
func (r *LocationRepository) InsertBatch(ctx context.Context, points []*models.LocationPoint) (int64, error) {
	if len(points) == 0 {
		return 0, nil
	}

	columns := []string{"device_id", "vehicle_id", "recorded_at", "latitude", "longitude", "speed_kmh", "heading"}
	n, err := r.db.Pool.CopyFrom(ctx,
		pgx.Identifier{"location_points"},
		columns,
		pgx.CopyFromSlice(len(points), func(i int) ([]any, error) {
			p := points[i]
			return []any{p.DeviceID, p.VehicleID, p.RecordedAt, p.Latitude, p.Longitude, p.SpeedKmh, p.Heading}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy location points: %w", err)
	}
	return n, nil
}

// ListByVehicle 车辆在时间范围内的轨迹点
func (r *LocationRepository) ListByVehicle(ctx context.Context, vehicleID int64, start, end time.Time) ([]*models.LocationPoint, error) {
	query := `
		SELECT id, device_id, vehicle_id, recorded_at, latitude, longitude, speed_kmh, heading
		FROM location_points
		WHERE vehicle_id = $1 AND recorded_at >= $2 AND recorded_at <= $3
		ORDER BY recorded_at ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, vehicleID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list location points: %w", err)
	}
	defer rows.Close()

	var points []*models.LocationPoint
	for rows.Next() {
		p := &models.LocationPoint{}
		if err := rows.Scan(
			&p.ID,
			&p.DeviceID,
			&p.VehicleID,
			&p.RecordedAt,
			&p.Latitude,
			&p.Longitude,
			&p.SpeedKmh,
			&p.Heading,
		); err != nil {
			return nil, fmt.Errorf("scan location point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
