// Package service 同步引擎与调度器
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/fleetgazer/internal/api/vendor"
	"github.com/langchou/fleetgazer/internal/models"
	"github.com/langchou/fleetgazer/internal/state"
)

// Repository 同步引擎使用的持久化接口，*repository.Store 满足该接口
// 查询不到记录时返回 repository.ErrNotFound
type Repository interface {
	GetFleet(ctx context.Context, fleetID int64) (*models.Fleet, error)
	ListSyncFleets(ctx context.Context) ([]*models.Fleet, error)

	GetActiveDevices(ctx context.Context, credentialID int64) ([]*models.Device, error)
	GetDeviceVehicleMapping(ctx context.Context, credentialID int64, serial string) (*models.Device, error)
	UpsertDevice(ctx context.Context, d *models.Device) (bool, error)
	LinkDevice(ctx context.Context, deviceID int64, vehicleID *int64) error
	CreateVehicle(ctx context.Context, v *models.Vehicle) error

	GetCurrentStatus(ctx context.Context, vehicleID int64) (*models.CurrentStatus, error)
	UpsertCurrentStatus(ctx context.Context, s *models.CurrentStatus) (bool, error)
	InsertEvent(ctx context.Context, e *models.VehicleEvent) error

	GetOpenTrip(ctx context.Context, vehicleID int64) (*models.Trip, error)
	CreateTrip(ctx context.Context, t *models.Trip) error
	CloseTrip(ctx context.Context, t *models.Trip) error
	UpdateTripAddresses(ctx context.Context, tripID int64, start, end *models.Address) error

	LatestLocationTime(ctx context.Context, deviceID int64) (time.Time, bool, error)
	InsertLocationPoints(ctx context.Context, points []*models.LocationPoint) (int64, error)

	StartSyncRun(ctx context.Context, fleetID int64, syncType string) (int64, error)
	CompleteSyncRun(ctx context.Context, runID int64, counts models.SyncCounts) error
	FailSyncRun(ctx context.Context, runID int64, message string) error
}

// Credentials 凭据来源，*credential.Store 满足该接口
type Credentials interface {
	GetValidCredential(ctx context.Context, fleetID int64) (*models.VendorCredential, error)
	Invalidate(ctx context.Context, fleetID int64) error
}

// Vendors 按提供商取得客户端，*vendor.Registry 满足该接口
type Vendors interface {
	Client(provider string) (vendor.API, error)
}

// Notifier 状态与事件推送，*notify.Notifier 满足该接口
type Notifier interface {
	NotifyEvent(fleetID int64, e *models.VehicleEvent)
	NotifyStatus(fleetID int64, vs *state.VehicleState)
}

// Geocoder 逆地理编码，*geocoder.Client 满足该接口
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (*models.Address, error)
}

// PersistenceError 仓库调用失败
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
