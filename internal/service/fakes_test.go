package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/fleetgazer/internal/api/vendor"
	"github.com/langchou/fleetgazer/internal/models"
	"github.com/langchou/fleetgazer/internal/repository"
	"github.com/langchou/fleetgazer/internal/state"
)

// memRepo 内存仓库，行为与 PostgreSQL 实现一致（时间戳条件、唯一进行中行程）
type memRepo struct {
	mu sync.Mutex

	nextID    int64
	fleets    map[int64]*models.Fleet
	devices   map[int64]*models.Device
	vehicles  map[int64]*models.Vehicle
	statuses  map[int64]*models.CurrentStatus
	events    []*models.VehicleEvent
	trips     map[int64]*models.Trip
	locations []*models.LocationPoint
	runs      map[int64]*models.SyncRun

	failEventsFor map[int64]bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		fleets:        map[int64]*models.Fleet{1: {ID: 1, Name: "Depot", Provider: models.ProviderFleet77}},
		devices:       make(map[int64]*models.Device),
		vehicles:      make(map[int64]*models.Vehicle),
		statuses:      make(map[int64]*models.CurrentStatus),
		trips:         make(map[int64]*models.Trip),
		runs:          make(map[int64]*models.SyncRun),
		failEventsFor: make(map[int64]bool),
	}
}

func (m *memRepo) id() int64 {
	m.nextID++
	return m.nextID
}

// linkedDevice 预置一台已关联车辆的设备
func (m *memRepo) linkedDevice(serial string) *models.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := &models.Vehicle{ID: m.id(), FleetID: 1, Name: serial}
	m.vehicles[v.ID] = v
	d := &models.Device{ID: m.id(), CredentialID: 10, VendorSerial: serial, VehicleID: &v.ID, Active: true}
	m.devices[d.ID] = d
	return d
}

func (m *memRepo) eventsFor(vehicleID int64) []*models.VehicleEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.VehicleEvent
	for _, e := range m.events {
		if e.VehicleID == vehicleID {
			out = append(out, e)
		}
	}
	return out
}

func (m *memRepo) tripsFor(vehicleID int64) []*models.Trip {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Trip
	for _, t := range m.trips {
		if t.VehicleID == vehicleID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memRepo) runsOf(syncType string) []*models.SyncRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SyncRun
	for _, r := range m.runs {
		if r.SyncType == syncType {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memRepo) GetFleet(ctx context.Context, fleetID int64) (*models.Fleet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fleets[fleetID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return f, nil
}

func (m *memRepo) ListSyncFleets(ctx context.Context) ([]*models.Fleet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Fleet
	for _, f := range m.fleets {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) GetActiveDevices(ctx context.Context, credentialID int64) ([]*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Device
	for _, d := range m.devices {
		if d.CredentialID == credentialID && d.Active {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) GetDeviceVehicleMapping(ctx context.Context, credentialID int64, serial string) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.CredentialID == credentialID && d.VendorSerial == serial {
			cp := *d
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memRepo) UpsertDevice(ctx context.Context, d *models.Device) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.devices {
		if existing.CredentialID == d.CredentialID && existing.VendorSerial == d.VendorSerial {
			d.ID = existing.ID
			d.VehicleID = existing.VehicleID
			d.Active = true
			cp := *d
			m.devices[d.ID] = &cp
			return false, nil
		}
	}
	d.ID = m.id()
	d.Active = true
	cp := *d
	m.devices[d.ID] = &cp
	return true, nil
}

func (m *memRepo) LinkDevice(ctx context.Context, deviceID int64, vehicleID *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return repository.ErrNotFound
	}
	d.VehicleID = vehicleID
	return nil
}

func (m *memRepo) CreateVehicle(ctx context.Context, v *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.ID = m.id()
	cp := *v
	m.vehicles[v.ID] = &cp
	return nil
}

func (m *memRepo) GetCurrentStatus(ctx context.Context, vehicleID int64) (*models.CurrentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[vehicleID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memRepo) UpsertCurrentStatus(ctx context.Context, s *models.CurrentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prior, ok := m.statuses[s.VehicleID]; ok && !prior.RecordedAt.Before(s.RecordedAt) {
		return false, nil
	}
	cp := *s
	m.statuses[s.VehicleID] = &cp
	return true, nil
}

func (m *memRepo) InsertEvent(ctx context.Context, e *models.VehicleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failEventsFor[e.VehicleID] {
		return errors.New("insert failed")
	}
	e.ID = m.id()
	m.events = append(m.events, e)
	return nil
}

func (m *memRepo) GetOpenTrip(ctx context.Context, vehicleID int64) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trips {
		if t.VehicleID == vehicleID && t.Status == models.TripInProgress {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memRepo) CreateTrip(ctx context.Context, t *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.trips {
		if existing.VehicleID == t.VehicleID && existing.Status == models.TripInProgress {
			return errors.New("duplicate open trip")
		}
	}
	t.ID = m.id()
	cp := *t
	m.trips[t.ID] = &cp
	return nil
}

func (m *memRepo) CloseTrip(ctx context.Context, t *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.trips[t.ID]
	if !ok || existing.Status != models.TripInProgress {
		return repository.ErrNotFound
	}
	cp := *t
	cp.Status = models.TripCompleted
	m.trips[t.ID] = &cp
	return nil
}

func (m *memRepo) UpdateTripAddresses(ctx context.Context, tripID int64, start, end *models.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return repository.ErrNotFound
	}
	if start != nil {
		t.StartAddress = start
	}
	if end != nil {
		t.EndAddress = end
	}
	return nil
}

func (m *memRepo) LatestLocationTime(ctx context.Context, deviceID int64) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest time.Time
	found := false
	for _, p := range m.locations {
		if p.DeviceID == deviceID && (!found || p.RecordedAt.After(latest)) {
			latest = p.RecordedAt
			found = true
		}
	}
	return latest, found, nil
}

func (m *memRepo) InsertLocationPoints(ctx context.Context, points []*models.LocationPoint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations = append(m.locations, points...)
	return int64(len(points)), nil
}

func (m *memRepo) StartSyncRun(ctx context.Context, fleetID int64, syncType string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &models.SyncRun{ID: m.id(), FleetID: fleetID, SyncType: syncType, StartedAt: time.Now(), Status: models.SyncRunning}
	m.runs[r.ID] = r
	return r.ID, nil
}

func (m *memRepo) CompleteSyncRun(ctx context.Context, runID int64, counts models.SyncCounts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.runs[runID]
	now := time.Now()
	r.CompletedAt = &now
	r.Fetched, r.Inserted, r.Updated = counts.Fetched, counts.Inserted, counts.Updated
	r.Status = models.SyncCompleted
	return nil
}

func (m *memRepo) FailSyncRun(ctx context.Context, runID int64, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.runs[runID]
	now := time.Now()
	r.CompletedAt = &now
	r.Status = models.SyncFailed
	r.ErrorMessage = &message
	return nil
}

type fakeCreds struct {
	mu          sync.Mutex
	cred        *models.VendorCredential
	err         error
	invalidated int
}

func (f *fakeCreds) GetValidCredential(ctx context.Context, fleetID int64) (*models.VendorCredential, error) {
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.cred
	return &cp, nil
}

func (f *fakeCreds) Invalidate(ctx context.Context, fleetID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
	return nil
}

type fakeVendorAPI struct {
	mu         sync.Mutex
	statuses   []vendor.Status
	vehicles   []vendor.Vehicle
	history    map[string][]vendor.HistoryPoint
	err        error
	historyErr map[string]error
}

func (f *fakeVendorAPI) Login(ctx context.Context, username, passHash string) (*vendor.LoginResult, error) {
	return nil, vendor.ErrLoginFailed
}

func (f *fakeVendorAPI) FetchAllStatuses(ctx context.Context, cred *models.VendorCredential) ([]vendor.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses, f.err
}

func (f *fakeVendorAPI) FetchVehicles(ctx context.Context, cred *models.VendorCredential) ([]vendor.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vehicles, f.err
}

func (f *fakeVendorAPI) FetchLocationHistory(ctx context.Context, cred *models.VendorCredential, serial string, from, to time.Time) ([]vendor.HistoryPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.historyErr[serial]; err != nil {
		return nil, err
	}
	return f.history[serial], nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	events   []*models.VehicleEvent
	statuses []*state.VehicleState
}

func (n *recordingNotifier) NotifyEvent(fleetID int64, e *models.VehicleEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) NotifyStatus(fleetID int64, vs *state.VehicleState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, vs)
}

type testEnv struct {
	repo     *memRepo
	creds    *fakeCreds
	api      *fakeVendorAPI
	notifier *recordingNotifier
	engine   *Engine
}

func newTestEnv() *testEnv {
	env := &testEnv{
		repo: newMemRepo(),
		creds: &fakeCreds{cred: &models.VendorCredential{
			ID: 10, FleetID: 1, AccountID: 1855564010, UserID: -402627319, PasswordSecret: "secret",
		}},
		api:      &fakeVendorAPI{history: make(map[string][]vendor.HistoryPoint), historyErr: make(map[string]error)},
		notifier: &recordingNotifier{},
	}
	registry := vendor.NewRegistry()
	registry.Register(models.ProviderFleet77, env.api)

	env.engine = NewEngine(env.repo, env.creds, registry, env.notifier, nil,
		state.NewManager(nil),
		EngineOptions{
			LowBatteryMillivolts:  11500,
			LocationHistoryWindow: time.Hour,
			AutoLinkDevices:       true,
		},
		zap.NewNop())
	return env
}

func intPtr(v int) *int { return &v }

// status 以 unix 秒构造一条已关联车辆的状态
func status(vehicleID int64, ts int64, mutate func(s *models.CurrentStatus)) *models.CurrentStatus {
	s := &models.CurrentStatus{
		VehicleID:         vehicleID,
		RecordedAt:        time.Unix(ts, 0).UTC(),
		Latitude:          24.7,
		Longitude:         46.6,
		MovementState:     models.MovementIgnitionOff,
		VoltageMillivolts: 12600,
	}
	if mutate != nil {
		mutate(s)
	}
	return s
}
