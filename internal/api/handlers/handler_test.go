package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/langchou/fleetgazer/internal/api/vendor"
	"github.com/langchou/fleetgazer/internal/credential"
	"github.com/langchou/fleetgazer/internal/models"
	"github.com/langchou/fleetgazer/internal/repository"
	"github.com/langchou/fleetgazer/internal/service"
	"github.com/langchou/fleetgazer/internal/state"
	"github.com/langchou/fleetgazer/pkg/ws"
)

type stubRepo struct {
	fleets   map[int64]*models.Fleet
	vehicles map[int64]*models.Vehicle
	devices  []*models.Device
	trips    []*models.Trip
	linked   map[int64]*int64
	limit    int
	offset   int
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		fleets: map[int64]*models.Fleet{
			1: {ID: 1, Name: "Depot", Provider: models.ProviderFleet77},
			2: {ID: 2, Name: "North", Provider: models.ProviderDatatrack247},
		},
		vehicles: map[int64]*models.Vehicle{7: {ID: 7, FleetID: 1, Name: "Van"}},
		devices:  []*models.Device{{ID: 3, CredentialID: 10, VendorSerial: "SN-1"}},
		linked:   make(map[int64]*int64),
	}
}

func (s *stubRepo) ListFleets(ctx context.Context) ([]*models.Fleet, error) {
	return []*models.Fleet{s.fleets[1], s.fleets[2]}, nil
}

func (s *stubRepo) CreateFleet(ctx context.Context, fleet *models.Fleet) error {
	fleet.ID = 3
	return nil
}

func (s *stubRepo) GetFleet(ctx context.Context, fleetID int64) (*models.Fleet, error) {
	if f, ok := s.fleets[fleetID]; ok {
		return f, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubRepo) GetCredential(ctx context.Context, fleetID int64) (*models.VendorCredential, error) {
	if fleetID == 1 {
		return &models.VendorCredential{FleetID: 1, Username: "ops", PasswordSecret: "secret"}, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubRepo) ListVehicles(ctx context.Context, fleetID int64) ([]*models.Vehicle, error) {
	return []*models.Vehicle{s.vehicles[7]}, nil
}

func (s *stubRepo) GetVehicle(ctx context.Context, id int64) (*models.Vehicle, error) {
	if v, ok := s.vehicles[id]; ok {
		return v, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubRepo) ListDevices(ctx context.Context, fleetID int64) ([]*models.Device, error) {
	if fleetID == 1 {
		return s.devices, nil
	}
	return nil, nil
}

func (s *stubRepo) LinkDevice(ctx context.Context, deviceID int64, vehicleID *int64) error {
	s.linked[deviceID] = vehicleID
	return nil
}

func (s *stubRepo) GetCurrentStatus(ctx context.Context, vehicleID int64) (*models.CurrentStatus, error) {
	return nil, repository.ErrNotFound
}

func (s *stubRepo) ListTrips(ctx context.Context, vehicleID int64, limit, offset int) ([]*models.Trip, int64, error) {
	s.limit, s.offset = limit, offset
	return s.trips, int64(len(s.trips)), nil
}

func (s *stubRepo) GetTrip(ctx context.Context, id int64) (*models.Trip, error) {
	return nil, repository.ErrNotFound
}

func (s *stubRepo) ListEvents(ctx context.Context, vehicleID int64, limit, offset int) ([]*models.VehicleEvent, int64, error) {
	return nil, 0, nil
}

func (s *stubRepo) AcknowledgeEvent(ctx context.Context, id int64) (*models.VehicleEvent, error) {
	return nil, repository.ErrNotFound
}

func (s *stubRepo) ListLocations(ctx context.Context, vehicleID int64, start, end time.Time) ([]*models.LocationPoint, error) {
	return nil, nil
}

func (s *stubRepo) ListSyncRuns(ctx context.Context, fleetID int64, limit, offset int) ([]*models.SyncRun, error) {
	return nil, nil
}

type stubCreds struct {
	loginErr error
	cleared  []int64
}

func (s *stubCreds) Login(ctx context.Context, fleetID int64, username, password string) (*models.VendorCredential, error) {
	if s.loginErr != nil {
		return nil, s.loginErr
	}
	return &models.VendorCredential{FleetID: fleetID, Username: username, AccountID: 1855564010, PasswordSecret: "derived"}, nil
}

func (s *stubCreds) Clear(ctx context.Context, fleetID int64) error {
	s.cleared = append(s.cleared, fleetID)
	return nil
}

type stubSyncer struct {
	err error
}

func (s *stubSyncer) TriggerManualSync(ctx context.Context, fleetID int64) (*service.SyncResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &service.SyncResult{Statuses: models.SyncCounts{Fetched: 2, Updated: 2}}, nil
}

type testServer struct {
	router *gin.Engine
	repo   *stubRepo
	creds  *stubCreds
	syncer *stubSyncer
	states *state.Manager
}

func newTestServer() *testServer {
	gin.SetMode(gin.TestMode)
	ts := &testServer{
		router: gin.New(),
		repo:   newStubRepo(),
		creds:  &stubCreds{},
		syncer: &stubSyncer{},
		states: state.NewManager(nil),
	}
	h := NewHandler(zap.NewNop(), ts.repo, ts.creds, ts.syncer, ts.states, ws.NewHub(zap.NewNop()))
	h.RegisterRoutes(ts.router)
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return body
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer()
	w := ts.do(http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeBody(t, w); body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestLoginErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		leak     string
	}{
		{"bad password", vendor.ErrLoginFailed, http.StatusBadRequest, ""},
		{"auth required", credential.ErrAuthenticationRequired, http.StatusBadRequest, ""},
		{"vendor rejected signature", &vendor.VendorError{Kind: vendor.KindAuthRequired, Op: "login", HTTPStatus: 401}, http.StatusBadRequest, ""},
		{
			"vendor outage",
			&vendor.VendorError{Kind: vendor.KindTransientNetwork, Op: "login", HTTPStatus: 503, Excerpt: "upstream stacktrace"},
			http.StatusInternalServerError,
			"upstream stacktrace",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer()
			ts.creds.loginErr = tt.err

			w := ts.do(http.MethodPost, "/api/fleets/1/login", `{"username":"ops","password":"hunter2"}`)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
			body := decodeBody(t, w)
			if body["error"] == nil {
				t.Error("missing error message")
			}
			if tt.wantCode == http.StatusInternalServerError && body["error"] != msgTryAgain {
				t.Errorf("error = %v, want generic try-again message", body["error"])
			}
			if tt.leak != "" && strings.Contains(w.Body.String(), tt.leak) {
				t.Error("response leaks vendor response internals")
			}
		})
	}
}

func TestLoginSuccessHidesSecret(t *testing.T) {
	ts := newTestServer()
	w := ts.do(http.MethodPost, "/api/fleets/1/login", `{"username":"ops","password":"hunter2"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "derived") {
		t.Error("password secret must not be serialized")
	}

	if w := ts.do(http.MethodPost, "/api/fleets/1/login", `{"username":"ops"}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing password status = %d, want 400", w.Code)
	}
	if w := ts.do(http.MethodPost, "/api/fleets/99/login", `{"username":"ops","password":"x"}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown fleet status = %d, want 404", w.Code)
	}
}

func TestLogout(t *testing.T) {
	ts := newTestServer()
	w := ts.do(http.MethodPost, "/api/fleets/2/logout", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(ts.creds.cleared) != 1 || ts.creds.cleared[0] != 2 {
		t.Errorf("cleared = %v, want [2]", ts.creds.cleared)
	}
}

func TestTriggerSync(t *testing.T) {
	ts := newTestServer()
	w := ts.do(http.MethodPost, "/api/fleets/1/sync", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	ts.syncer.err = &service.PersistenceError{Op: "apply statuses", Err: errors.New("pg down")}
	w = ts.do(http.MethodPost, "/api/fleets/1/sync", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("persistence failure status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "pg down") {
		t.Error("response leaks internal error")
	}
}

func TestGetFleet(t *testing.T) {
	ts := newTestServer()
	w := ts.do(http.MethodGet, "/api/fleets/1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	data := decodeBody(t, w)["data"].(map[string]interface{})
	if data["connected"] != true || data["vendor_username"] != "ops" {
		t.Errorf("data = %v", data)
	}
	if data["session_active"] != false {
		t.Errorf("session_active = %v, want false without a cached token", data["session_active"])
	}

	if w := ts.do(http.MethodGet, "/api/fleets/abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("invalid id status = %d, want 400", w.Code)
	}
	if w := ts.do(http.MethodGet, "/api/fleets/42", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown fleet status = %d, want 404", w.Code)
	}
}

func TestCreateFleetValidatesProvider(t *testing.T) {
	ts := newTestServer()
	if w := ts.do(http.MethodPost, "/api/fleets", `{"name":"East","provider":"acme"}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown provider status = %d, want 400", w.Code)
	}
	if w := ts.do(http.MethodPost, "/api/fleets", `{"name":"East","provider":"fleet77"}`); w.Code != http.StatusCreated {
		t.Errorf("create status = %d, want 201", w.Code)
	}
}

func TestLinkDevice(t *testing.T) {
	ts := newTestServer()

	w := ts.do(http.MethodPut, "/api/devices/3/link", `{"vehicle_id":7}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if v := ts.repo.linked[3]; v == nil || *v != 7 {
		t.Errorf("linked = %v, want 7", v)
	}

	if w := ts.do(http.MethodPut, "/api/devices/99/link", `{"vehicle_id":7}`); w.Code != http.StatusBadRequest {
		t.Errorf("foreign device status = %d, want 400", w.Code)
	}
	if w := ts.do(http.MethodPut, "/api/devices/3/link", `{"vehicle_id":404}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown vehicle status = %d, want 404", w.Code)
	}

	if w := ts.do(http.MethodPut, "/api/devices/3/link", `{"vehicle_id":null}`); w.Code != http.StatusOK {
		t.Errorf("unlink status = %d, want 200", w.Code)
	}
	if ts.repo.linked[3] != nil {
		t.Error("device should be unlinked")
	}
}

func TestListTripsPagination(t *testing.T) {
	ts := newTestServer()
	w := ts.do(http.MethodGet, "/api/vehicles/7/trips?page=3&per_page=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ts.repo.limit != 10 || ts.repo.offset != 20 {
		t.Errorf("limit/offset = %d/%d, want 10/20", ts.repo.limit, ts.repo.offset)
	}

	ts.do(http.MethodGet, "/api/vehicles/7/trips?per_page=1000", "")
	if ts.repo.limit != 20 {
		t.Errorf("oversized per_page = %d, want default 20", ts.repo.limit)
	}
}

func TestVehicleLiveState(t *testing.T) {
	ts := newTestServer()
	if w := ts.do(http.MethodGet, "/api/vehicles/7/live", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 before first observation", w.Code)
	}

	ts.states.GetOrCreate(7, 1, string(models.MovementIgnitionOn))
	w := ts.do(http.MethodGet, "/api/vehicles/7/live", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ignition_on"`) {
		t.Errorf("body = %s, want ignition_on state", w.Body.String())
	}
}

func TestNotFoundMappings(t *testing.T) {
	ts := newTestServer()
	for _, path := range []string{"/api/trips/5", "/api/vehicles/7/status"} {
		if w := ts.do(http.MethodGet, path, ""); w.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, w.Code)
		}
	}
	if w := ts.do(http.MethodPost, "/api/events/5/ack", ""); w.Code != http.StatusNotFound {
		t.Errorf("ack unknown event = %d, want 404", w.Code)
	}
	if w := ts.do(http.MethodGet, "/api/vehicles/7/locations?start=yesterday", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad start = %d, want 400", w.Code)
	}
}
