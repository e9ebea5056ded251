package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// notFound 把 pgx.ErrNoRows 转为 ErrNotFound，其余错误按 op 包装
func notFound(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateFleets,
		migrationCreateVendorCredentials,
		migrationCreateVehicles,
		migrationCreateDevices,
		migrationCreateCurrentStatuses,
		migrationCreateTrips,
		migrationCreateVehicleEvents,
		migrationCreateLocationPoints,
		migrationCreateSyncRuns,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreateFleets = `
CREATE TABLE IF NOT EXISTS fleets (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    provider VARCHAR(32) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
`

const migrationCreateVendorCredentials = `
CREATE TABLE IF NOT EXISTS vendor_credentials (
    id BIGSERIAL PRIMARY KEY,
    fleet_id BIGINT NOT NULL UNIQUE REFERENCES fleets(id) ON DELETE CASCADE,
    username VARCHAR(255) NOT NULL,
    account_id BIGINT NOT NULL DEFAULT 0,
    user_id BIGINT NOT NULL DEFAULT 0,
    password_secret VARCHAR(128) NOT NULL,
    cached_token TEXT,
    token_expires_at TIMESTAMP WITH TIME ZONE,
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
`

const migrationCreateVehicles = `
CREATE TABLE IF NOT EXISTS vehicles (
    id BIGSERIAL PRIMARY KEY,
    fleet_id BIGINT NOT NULL REFERENCES fleets(id) ON DELETE CASCADE,
    name VARCHAR(255),
    plate VARCHAR(32),
    vin VARCHAR(32),
    make VARCHAR(64),
    model VARCHAR(64),
    year INT,
    color VARCHAR(32),
    notes TEXT,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_vehicles_fleet_id ON vehicles(fleet_id);
`

// 设备从不删除，供应商列表中消失的设备保留为历史记录
const migrationCreateDevices = `
CREATE TABLE IF NOT EXISTS devices (
    id BIGSERIAL PRIMARY KEY,
    credential_id BIGINT NOT NULL REFERENCES vendor_credentials(id) ON DELETE CASCADE,
    vendor_serial VARCHAR(64) NOT NULL,
    vehicle_id BIGINT REFERENCES vehicles(id) ON DELETE SET NULL,
    name VARCHAR(255),
    vin VARCHAR(32),
    plate VARCHAR(32),
    make VARCHAR(64),
    model VARCHAR(64),
    year INT,
    color_code INT,
    notes TEXT,
    active BOOLEAN NOT NULL DEFAULT true,
    last_synced_at TIMESTAMP WITH TIME ZONE,
    UNIQUE (credential_id, vendor_serial)
);
CREATE INDEX IF NOT EXISTS idx_devices_vehicle_id ON devices(vehicle_id);
`

const migrationCreateCurrentStatuses = `
CREATE TABLE IF NOT EXISTS current_statuses (
    vehicle_id BIGINT PRIMARY KEY REFERENCES vehicles(id) ON DELETE CASCADE,
    device_id BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
    vendor_serial VARCHAR(64) NOT NULL,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL,
    latitude DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    speed_kmh INT NOT NULL DEFAULT 0,
    movement_state VARCHAR(32) NOT NULL,
    status_label VARCHAR(64),
    heading INT,
    voltage_mv DOUBLE PRECISION NOT NULL DEFAULT 0,
    odometer_m DOUBLE PRECISION NOT NULL DEFAULT 0,
    starter_disabled_since BIGINT NOT NULL DEFAULT 0,
    buzzer_active_since BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
`

// 每辆车最多一条进行中的行程
const migrationCreateTrips = `
CREATE TABLE IF NOT EXISTS trips (
    id BIGSERIAL PRIMARY KEY,
    vehicle_id BIGINT NOT NULL REFERENCES vehicles(id) ON DELETE CASCADE,
    start_time TIMESTAMP WITH TIME ZONE NOT NULL,
    end_time TIMESTAMP WITH TIME ZONE,
    start_latitude DOUBLE PRECISION NOT NULL,
    start_longitude DOUBLE PRECISION NOT NULL,
    end_latitude DOUBLE PRECISION,
    end_longitude DOUBLE PRECISION,
    start_odometer_m DOUBLE PRECISION NOT NULL DEFAULT 0,
    end_odometer_m DOUBLE PRECISION,
    distance_m DOUBLE PRECISION NOT NULL DEFAULT 0,
    status VARCHAR(16) NOT NULL,
    start_address JSONB,
    end_address JSONB
);
CREATE INDEX IF NOT EXISTS idx_trips_vehicle_id ON trips(vehicle_id);
CREATE INDEX IF NOT EXISTS idx_trips_start_time ON trips(start_time);
CREATE UNIQUE INDEX IF NOT EXISTS idx_trips_open ON trips(vehicle_id) WHERE status = 'in_progress';
`

const migrationCreateVehicleEvents = `
CREATE TABLE IF NOT EXISTS vehicle_events (
    id BIGSERIAL PRIMARY KEY,
    vehicle_id BIGINT NOT NULL REFERENCES vehicles(id) ON DELETE CASCADE,
    event_type VARCHAR(32) NOT NULL,
    severity VARCHAR(16) NOT NULL,
    latitude DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    event_time TIMESTAMP WITH TIME ZONE NOT NULL,
    acknowledged_at TIMESTAMP WITH TIME ZONE
);
CREATE INDEX IF NOT EXISTS idx_vehicle_events_vehicle_id ON vehicle_events(vehicle_id);
CREATE INDEX IF NOT EXISTS idx_vehicle_events_event_time ON vehicle_events(event_time);
`

// 轨迹点只追加
const migrationCreateLocationPoints = `
CREATE TABLE IF NOT EXISTS location_points (
    id BIGSERIAL PRIMARY KEY,
    device_id BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
    vehicle_id BIGINT REFERENCES vehicles(id) ON DELETE SET NULL,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL,
    latitude DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    speed_kmh INT NOT NULL DEFAULT 0,
    heading INT,
    UNIQUE (device_id, recorded_at)
);
CREATE INDEX IF NOT EXISTS idx_location_points_vehicle_id ON location_points(vehicle_id, recorded_at);
`

const migrationCreateSyncRuns = `
CREATE TABLE IF NOT EXISTS sync_runs (
    id BIGSERIAL PRIMARY KEY,
    fleet_id BIGINT NOT NULL REFERENCES fleets(id) ON DELETE CASCADE,
    sync_type VARCHAR(16) NOT NULL,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    completed_at TIMESTAMP WITH TIME ZONE,
    fetched INT NOT NULL DEFAULT 0,
    inserted INT NOT NULL DEFAULT 0,
    updated INT NOT NULL DEFAULT 0,
    status VARCHAR(16) NOT NULL,
    error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_sync_runs_fleet_id ON sync_runs(fleet_id, started_at);
`
