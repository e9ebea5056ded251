package repository

import (
	"context"
	"time"

	"github.com/langchou/fleetgazer/internal/models"
)

// Store 聚合各个仓库，供同步引擎与凭据存储使用
type Store struct {
	Fleets    *FleetRepository
	Vehicles  *VehicleRepository
	Devices   *DeviceRepository
	Statuses  *StatusRepository
	Trips     *TripRepository
	Events    *EventRepository
	Locations *LocationRepository
	SyncRuns  *SyncRunRepository
}

// NewStore 创建仓库集合
func NewStore(db *DB) *Store {
	return &Store{
		Fleets:    NewFleetRepository(db),
		Vehicles:  NewVehicleRepository(db),
		Devices:   NewDeviceRepository(db),
		Statuses:  NewStatusRepository(db),
		Trips:     NewTripRepository(db),
		Events:    NewEventRepository(db),
		Locations: NewLocationRepository(db),
		SyncRuns:  NewSyncRunRepository(db),
	}
}

func (s *Store) GetFleet(ctx context.Context, fleetID int64) (*models.Fleet, error) {
	return s.Fleets.GetByID(ctx, fleetID)
}

func (s *Store) ListSyncFleets(ctx context.Context) ([]*models.Fleet, error) {
	return s.Fleets.ListWithCredentials(ctx)
}

func (s *Store) GetCredential(ctx context.Context, fleetID int64) (*models.VendorCredential, error) {
	return s.Fleets.GetCredential(ctx, fleetID)
}

func (s *Store) SaveCredential(ctx context.Context, cred *models.VendorCredential) error {
	return s.Fleets.SaveCredential(ctx, cred)
}

func (s *Store) GetActiveDevices(ctx context.Context, credentialID int64) ([]*models.Device, error) {
	return s.Devices.ListActive(ctx, credentialID)
}

// GetDeviceVehicleMapping 按序列号找到设备及其关联车辆
func (s *Store) GetDeviceVehicleMapping(ctx context.Context, credentialID int64, serial string) (*models.Device, error) {
	return s.Devices.GetBySerial(ctx, credentialID, serial)
}

func (s *Store) UpsertDevice(ctx context.Context, d *models.Device) (bool, error) {
	return s.Devices.Upsert(ctx, d)
}

func (s *Store) LinkDevice(ctx context.Context, deviceID int64, vehicleID *int64) error {
	return s.Devices.Link(ctx, deviceID, vehicleID)
}

func (s *Store) CreateVehicle(ctx context.Context, v *models.Vehicle) error {
	return s.Vehicles.Create(ctx, v)
}

func (s *Store) GetCurrentStatus(ctx context.Context, vehicleID int64) (*models.CurrentStatus, error) {
	return s.Statuses.Get(ctx, vehicleID)
}

func (s *Store) UpsertCurrentStatus(ctx context.Context, status *models.CurrentStatus) (bool, error) {
	return s.Statuses.Upsert(ctx, status)
}

func (s *Store) InsertEvent(ctx context.Context, e *models.VehicleEvent) error {
	return s.Events.Insert(ctx, e)
}

func (s *Store) GetOpenTrip(ctx context.Context, vehicleID int64) (*models.Trip, error) {
	return s.Trips.GetOpen(ctx, vehicleID)
}

func (s *Store) CreateTrip(ctx context.Context, t *models.Trip) error {
	return s.Trips.Create(ctx, t)
}

func (s *Store) CloseTrip(ctx context.Context, t *models.Trip) error {
	return s.Trips.Close(ctx, t)
}

func (s *Store) UpdateTripAddresses(ctx context.Context, tripID int64, start, end *models.Address) error {
	return s.Trips.UpdateAddresses(ctx, tripID, start, end)
}

func (s *Store) LatestLocationTime(ctx context.Context, deviceID int64) (time.Time, bool, error) {
	return s.Locations.LatestTime(ctx, deviceID)
}

func (s *Store) InsertLocationPoints(ctx context.Context, points []*models.LocationPoint) (int64, error) {
	return s.Locations.InsertBatch(ctx, points)
}

func (s *Store) StartSyncRun(ctx context.Context, fleetID int64, syncType string) (int64, error) {
	return s.SyncRuns.Start(ctx, fleetID, syncType)
}

func (s *Store) CompleteSyncRun(ctx context.Context, runID int64, counts models.SyncCounts) error {
	return s.SyncRuns.Complete(ctx, runID, counts)
}

func (s *Store) FailSyncRun(ctx context.Context, runID int64, message string) error {
	return s.SyncRuns.Fail(ctx, runID, message)
}

// 以下方法供 HTTP 接口读取展示数据

func (s *Store) ListFleets(ctx context.Context) ([]*models.Fleet, error) {
	return s.Fleets.List(ctx)
}

func (s *Store) CreateFleet(ctx context.Context, fleet *models.Fleet) error {
	return s.Fleets.Create(ctx, fleet)
}

func (s *Store) ListVehicles(ctx context.Context, fleetID int64) ([]*models.Vehicle, error) {
	return s.Vehicles.ListByFleet(ctx, fleetID)
}

func (s *Store) GetVehicle(ctx context.Context, id int64) (*models.Vehicle, error) {
	return s.Vehicles.GetByID(ctx, id)
}

func (s *Store) ListDevices(ctx context.Context, fleetID int64) ([]*models.Device, error) {
	return s.Devices.ListByFleet(ctx, fleetID)
}

func (s *Store) ListTrips(ctx context.Context, vehicleID int64, limit, offset int) ([]*models.Trip, int64, error) {
	trips, err := s.Trips.ListByVehicle(ctx, vehicleID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Trips.CountByVehicle(ctx, vehicleID)
	return trips, total, err
}

func (s *Store) GetTrip(ctx context.Context, id int64) (*models.Trip, error) {
	return s.Trips.GetByID(ctx, id)
}

func (s *Store) ListEvents(ctx context.Context, vehicleID int64, limit, offset int) ([]*models.VehicleEvent, int64, error) {
	events, err := s.Events.ListByVehicle(ctx, vehicleID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Events.CountByVehicle(ctx, vehicleID)
	return events, total, err
}

func (s *Store) AcknowledgeEvent(ctx context.Context, id int64) (*models.VehicleEvent, error) {
	return s.Events.Acknowledge(ctx, id)
}

func (s *Store) ListLocations(ctx context.Context, vehicleID int64, start, end time.Time) ([]*models.LocationPoint, error) {
	return s.Locations.ListByVehicle(ctx, vehicleID, start, end)
}

func (s *Store) ListSyncRuns(ctx context.Context, fleetID int64, limit, offset int) ([]*models.SyncRun, error) {
	return s.SyncRuns.ListByFleet(ctx, fleetID, limit, offset)
}
