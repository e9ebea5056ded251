package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/fleetgazer/internal/models"
)

// TripRepository 行程仓库
type TripRepository struct {
	db *DB
}

// NewTripRepository 创建行程仓库
func NewTripRepository(db *DB) *TripRepository {
	return &TripRepository{db: db}
}

const tripColumns = `id, vehicle_id, start_time, end_time, start_latitude, start_longitude, end_latitude, end_longitude,
	start_odometer_m, end_odometer_m, distance_m, status, start_address, end_address`

func scanTrip(row pgx.Row) (*models.Trip, error) {
	t := &models.Trip{}
	err := row.Scan(
		&t.ID,
		&t.VehicleID,
		&t.StartTime,
		&t.EndTime,
		&t.StartLatitude,
		&t.StartLongitude,
		&t.EndLatitude,
		&t.EndLongitude,
		&t.StartOdometerMeters,
		&t.EndOdometerMeters,
		&t.DistanceMeters,
		&t.Status,
		&t.StartAddress,
		&t.EndAddress,
	)
	return t, err
}

// Create 开始行程
func (r *TripRepository) Create(ctx context.Context, t *models.Trip) error {
	query := `
		INSERT INTO trips (vehicle_id, start_time, start_latitude, start_longitude, start_odometer_m, distance_m, status)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
		RETURNING id
	`
	t.Status = models.TripInProgress
	err := r.db.Pool.QueryRow(ctx, query,
		t.VehicleID,
		t.StartTime,
		t.StartLatitude,
		t.StartLongitude,
		t.StartOdometerMeters,
		t.Status,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}
	return nil
}

// Close 结束行程，单条 UPDATE 完成
func (r *TripRepository) Close(ctx context.Context, t *models.Trip) error {
	query := `
		UPDATE trips SET
			end_time = $2,
			end_latitude = $3,
			end_longitude = $4,
			end_odometer_m = $5,
			distance_m = $6,
			status = $7
		WHERE id = $1 AND status = 'in_progress'
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		t.ID,
		t.EndTime,
		t.EndLatitude,
		t.EndLongitude,
		t.EndOdometerMeters,
		t.DistanceMeters,
		models.TripCompleted,
	)
	if err != nil {
		return fmt.Errorf("close trip: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	t.Status = models.TripCompleted
	return nil
}

// GetOpen 获取进行中的行程
func (r *TripRepository) GetOpen(ctx context.Context, vehicleID int64) (*models.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE vehicle_id = $1 AND status = 'in_progress'`
	t, err := scanTrip(r.db.Pool.QueryRow(ctx, query, vehicleID))
	if err != nil {
		return nil, notFound("get open trip", err)
	}
	return t, nil
}

// GetByID 通过 ID 获取行程
func (r *TripRepository) GetByID(ctx context.Context, id int64) (*models.Trip, error) {
	t, err := scanTrip(r.db.Pool.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("get trip", err)
	}
	return t, nil
}

// ListByVehicle 获取车辆行程列表
func (r *TripRepository) ListByVehicle(ctx context.Context, vehicleID int64, limit, offset int) ([]*models.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE vehicle_id = $1 ORDER BY start_time DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.Pool.Query(ctx, query, vehicleID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	defer rows.Close()

	var trips []*models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

// CountByVehicle 统计车辆行程数量
func (r *TripRepository) CountByVehicle(ctx context.Context, vehicleID int64) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM trips WHERE vehicle_id = $1`, vehicleID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count trips: %w", err)
	}
	return count, nil
}

// UpdateAddresses 写入逆地理编码得到的起止地址，nil 的一端保持不变
func (r *TripRepository) UpdateAddresses(ctx context.Context, tripID int64, start, end *models.Address) error {
	query := `
		UPDATE trips SET
			start_address = COALESCE($2, start_address),
			end_address = COALESCE($3, end_address)
		WHERE id = $1
	`
	if _, err := r.db.Pool.Exec(ctx, query, tripID, start, end); err != nil {
		return fmt.Errorf("update trip addresses: %w", err)
	}
	return nil
}
