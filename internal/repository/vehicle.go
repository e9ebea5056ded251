package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/fleetgazer/internal/models"
)

// VehicleRepository 车辆档案仓库
type VehicleRepository struct {
	db *DB
}

// NewVehicleRepository 创建车辆仓库
func NewVehicleRepository(db *DB) *VehicleRepository {
	return &VehicleRepository{db: db}
}

const vehicleColumns = `id, fleet_id, COALESCE(name, ''), COALESCE(plate, ''), COALESCE(vin, ''), COALESCE(make, ''),
	COALESCE(model, ''), COALESCE(year, 0), COALESCE(color, ''), COALESCE(notes, ''), created_at, updated_at`

// Create 创建车辆
func (r *VehicleRepository) Create(ctx context.Context, v *models.Vehicle) error {
	query := `
		INSERT INTO vehicles (fleet_id, name, plate, vin, make, model, year, color, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	now := time.Now()
	err := r.db.Pool.QueryRow(ctx, query,
		v.FleetID,
		v.Name,
		v.Plate,
		v.VIN,
		v.Make,
		v.Model,
		v.Year,
		v.Color,
		v.Notes,
		now,
		now,
	).Scan(&v.ID)
	if err != nil {
		return fmt.Errorf("insert vehicle: %w", err)
	}

	v.CreatedAt = now
	v.UpdatedAt = now
	return nil
}

// GetByID 通过 ID 获取车辆
func (r *VehicleRepository) GetByID(ctx context.Context, id int64) (*models.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles WHERE id = $1`
	v := &models.Vehicle{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&v.ID, &v.FleetID, &v.Name, &v.Plate, &v.VIN, &v.Make,
		&v.Model, &v.Year, &v.Color, &v.Notes, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, notFound("get vehicle", err)
	}
	return v, nil
}

// ListByFleet 获取车队下的车辆
func (r *VehicleRepository) ListByFleet(ctx context.Context, fleetID int64) ([]*models.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles WHERE fleet_id = $1 ORDER BY id`
	rows, err := r.db.Pool.Query(ctx, query, fleetID)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []*models.Vehicle
	for rows.Next() {
		v := &models.Vehicle{}
		if err := rows.Scan(
			&v.ID, &v.FleetID, &v.Name, &v.Plate, &v.VIN, &v.Make,
			&v.Model, &v.Year, &v.Color, &v.Notes, &v.CreatedAt, &v.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}
