package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/fleetgazer/internal/models"
)

// DeviceRepository 供应商设备仓库
type DeviceRepository struct {
	db *DB
}

// NewDeviceRepository 创建设备仓库
func NewDeviceRepository(db *DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

const deviceColumns = `id, credential_id, vendor_serial, vehicle_id, COALESCE(name, ''), COALESCE(vin, ''),
	COALESCE(plate, ''), COALESCE(make, ''), COALESCE(model, ''), COALESCE(year, 0), COALESCE(color_code, 0),
	COALESCE(notes, ''), active, last_synced_at`

func scanDevice(row pgx.Row) (*models.Device, error) {
	d := &models.Device{}
	err := row.Scan(
		&d.ID,
		&d.CredentialID,
		&d.VendorSerial,
		&d.VehicleID,
		&d.Name,
		&d.VIN,
		&d.Plate,
		&d.Make,
		&d.Model,
		&d.Year,
		&d.ColorCode,
		&d.Notes,
		&d.Active,
		&d.LastSyncedAt,
	)
	return d, err
}

// Upsert 按 (credential_id, vendor_serial) 创建或覆盖描述字段，返回是否为新建
// 已有的车辆关联保持不变
func (r *DeviceRepository) Upsert(ctx context.Context, d *models.Device) (bool, error) {
	query := `
		INSERT INTO devices (credential_id, vendor_serial, name, vin, plate, make, model, year, color_code, notes, active, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, true, $11)
		ON CONFLICT (credential_id, vendor_serial) DO UPDATE SET
			name = EXCLUDED.name,
			vin = EXCLUDED.vin,
			plate = EXCLUDED.plate,
			make = EXCLUDED.make,
			model = EXCLUDED.model,
			year = EXCLUDED.year,
			color_code = EXCLUDED.color_code,
			notes = EXCLUDED.notes,
			active = true,
			last_synced_at = EXCLUDED.last_synced_at
		RETURNING id, vehicle_id, (xmax = 0) AS inserted
	`
	now := time.Now()
	var inserted bool
	err := r.db.Pool.QueryRow(ctx, query,
		d.CredentialID,
		d.VendorSerial,
		d.Name,
		d.VIN,
		d.Plate,
		d.Make,
		d.Model,
		d.Year,
		d.ColorCode,
		d.Notes,
		now,
	).Scan(&d.ID, &d.VehicleID, &inserted)
	if err != nil {
		return false, fmt.Errorf("upsert device: %w", err)
	}

	d.Active = true
	d.LastSyncedAt = &now
	return inserted, nil
}

// GetByID 通过 ID 获取设备
func (r *DeviceRepository) GetByID(ctx context.Context, id int64) (*models.Device, error) {
	d, err := scanDevice(r.db.Pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("get device", err)
	}
	return d, nil
}

// GetBySerial 按凭据和供应商序列号查找设备
func (r *DeviceRepository) GetBySerial(ctx context.Context, credentialID int64, serial string) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE credential_id = $1 AND vendor_serial = $2`
	d, err := scanDevice(r.db.Pool.QueryRow(ctx, query, credentialID, serial))
	if err != nil {
		return nil, notFound("get device by serial", err)
	}
	return d, nil
}

// ListActive 凭据下的活跃设备
func (r *DeviceRepository) ListActive(ctx context.Context, credentialID int64) ([]*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE credential_id = $1 AND active ORDER BY id`
	return r.list(ctx, query, credentialID)
}

// ListByFleet 车队下的全部设备
func (r *DeviceRepository) ListByFleet(ctx context.Context, fleetID int64) ([]*models.Device, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM devices
		WHERE credential_id IN (SELECT id FROM vendor_credentials WHERE fleet_id = $1)
		ORDER BY id
	`
	return r.list(ctx, query, fleetID)
}

func (r *DeviceRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Device, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// Link 把设备关联到车辆档案，vehicleID 为 nil 表示解除关联
func (r *DeviceRepository) Link(ctx context.Context, deviceID int64, vehicleID *int64) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE devices SET vehicle_id = $2 WHERE id = $1`, deviceID, vehicleID)
	if err != nil {
		return fmt.Errorf("link device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
