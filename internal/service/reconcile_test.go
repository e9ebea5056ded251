package service

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/langchou/fleetgazer/internal/metrics"
	"github.com/langchou/fleetgazer/internal/models"
)

func TestApplyStatusFirstObservation(t *testing.T) {
	env := newTestEnv()
	d := env.repo.linkedDevice("SN-1")

	result, err := env.engine.ApplyStatus(context.Background(), 1, status(*d.VehicleID, 100, func(s *models.CurrentStatus) {
		s.MovementState = models.MovementIgnitionOn
		s.StarterDisabledSince = 90
		s.VoltageMillivolts = 11000
	}))
	if err != nil {
		t.Fatalf("ApplyStatus() error = %v", err)
	}
	if !result.Created {
		t.Error("first status should be reported as created")
	}
	if len(result.Events) != 0 || len(env.repo.eventsFor(*d.VehicleID)) != 0 {
		t.Error("first observation must not derive events")
	}
	if len(env.repo.tripsFor(*d.VehicleID)) != 0 {
		t.Error("first observation must not open a trip")
	}

	live, ok := env.engine.States().Get(*d.VehicleID)
	if !ok {
		t.Fatal("live state not created")
	}
	if got := live.CurrentState(); got != string(models.MovementIgnitionOn) {
		t.Errorf("live state = %q, want ignition_on", got)
	}
}

func TestApplyStatusIdempotent(t *testing.T) {
	env := newTestEnv()
	d := env.repo.linkedDevice("SN-1")
	ctx := context.Background()
	vid := *d.VehicleID

	if _, err := env.engine.ApplyStatus(ctx, 1, status(vid, 100, nil)); err != nil {
		t.Fatal(err)
	}
	on := status(vid, 200, func(s *models.CurrentStatus) { s.MovementState = models.MovementIgnitionOn })
	for i := 0; i < 3; i++ {
		cp := *on
		if _, err := env.engine.ApplyStatus(ctx, 1, &cp); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	if got := len(env.repo.eventsFor(vid)); got != 1 {
		t.Errorf("events = %d, want 1 after repeated delivery", got)
	}
	if got := len(env.repo.tripsFor(vid)); got != 1 {
		t.Errorf("trips = %d, want 1", got)
	}
}

func TestApplyStatusOutOfOrder(t *testing.T) {
	env := newTestEnv()
	d := env.repo.linkedDevice("SN-1")
	ctx := context.Background()
	vid := *d.VehicleID

	if _, err := env.engine.ApplyStatus(ctx, 1, status(vid, 100, func(s *models.CurrentStatus) {
		s.MovementState = models.MovementIgnitionOn
	})); err != nil {
		t.Fatal(err)
	}

	discarded := testutil.ToFloat64(metrics.StatusesDiscarded)
	result, err := env.engine.ApplyStatus(ctx, 1, status(vid, 50, func(s *models.CurrentStatus) {
		s.MovementState = models.MovementIgnitionOff
		s.StarterDisabledSince = 40
	}))
	if err != nil {
		t.Fatal(err)
	}
	if result.Applied || result.Created {
		t.Error("older status must be discarded")
	}
	if got := testutil.ToFloat64(metrics.StatusesDiscarded) - discarded; got != 1 {
		t.Errorf("discarded metric delta = %v, want 1", got)
	}

	stored, _ := env.repo.GetCurrentStatus(ctx, vid)
	if stored.RecordedAt.Unix() != 100 || stored.MovementState != models.MovementIgnitionOn {
		t.Errorf("stored status = %v %s, want t=100 ignition_on", stored.RecordedAt.Unix(), stored.MovementState)
	}
	if n := len(env.repo.eventsFor(vid)); n != 0 {
		t.Errorf("events = %d, want none", n)
	}
}

func TestTripPairing(t *testing.T) {
	env := newTestEnv()
	d := env.repo.linkedDevice("SN-1")
	ctx := context.Background()
	vid := *d.VehicleID

	steps := []*models.CurrentStatus{
		status(vid, 100, func(s *models.CurrentStatus) { s.OdometerMeters = 1000 }),
		status(vid, 200, func(s *models.CurrentStatus) {
			s.MovementState = models.MovementIgnitionOn
			s.OdometerMeters = 1000
		}),
		status(vid, 300, func(s *models.CurrentStatus) {
			s.MovementState = models.MovementMovingHeartbeat
			s.SpeedKmh = 60
			s.OdometerMeters = 3000
		}),
		status(vid, 400, func(s *models.CurrentStatus) {
			s.OdometerMeters = 6500
			s.Latitude = 25.1
		}),
	}
	for _, s := range steps {
		if _, err := env.engine.ApplyStatus(ctx, 1, s); err != nil {
			t.Fatalf("apply t=%d: %v", s.RecordedAt.Unix(), err)
		}
	}

	events := env.repo.eventsFor(vid)
	if len(events) != 2 || events[0].EventType != models.EventIgnitionOn || events[1].EventType != models.EventIgnitionOff {
		t.Fatalf("events = %v, want ignition_on then ignition_off", eventTypes(events))
	}

	trips := env.repo.tripsFor(vid)
	if len(trips) != 1 {
		t.Fatalf("trips = %d, want 1", len(trips))
	}
	trip := trips[0]
	if trip.Status != models.TripCompleted {
		t.Errorf("trip status = %s, want completed", trip.Status)
	}
	if trip.StartTime.Unix() != 200 || trip.EndTime == nil || trip.EndTime.Unix() != 400 {
		t.Errorf("trip window = %v..%v, want 200..400", trip.StartTime.Unix(), trip.EndTime)
	}
	if trip.DistanceMeters != 5500 {
		t.Errorf("distance = %v, want 5500", trip.DistanceMeters)
	}
	if trip.EndLatitude == nil || *trip.EndLatitude != 25.1 {
		t.Errorf("end latitude = %v, want 25.1", trip.EndLatitude)
	}
}

func TestTripOdometerBackwardsClamped(t *testing.T) {
	env := newTestEnv()
	d := env.repo.linkedDevice("SN-1")
	ctx := context.Background()
	vid := *d.VehicleID

	env.engine.ApplyStatus(ctx, 1, status(vid, 100, nil))
	env.engine.ApplyStatus(ctx, 1, status(vid, 200, func(s *models.CurrentStatus) {
		s.MovementState = models.MovementIgnitionOn
		s.OdometerMeters = 9000
	}))
	env.engine.ApplyStatus(ctx, 1, status(vid, 300, func(s *models.CurrentStatus) { s.OdometerMeters = 100 }))

	trips := env.repo.tripsFor(vid)
	if len(trips) != 1 || trips[0].DistanceMeters != 0 {
		t.Fatalf("trips = %+v, want one trip with distance 0", trips)
	}
}

func TestIgnitionOffWithoutOpenTrip(t *testing.T) {
	env := newTestEnv()
	d := env.repo.linkedDevice("SN-1")
	ctx := context.Background()
	vid := *d.VehicleID

	env.engine.ApplyStatus(ctx, 1, status(vid, 100, func(s *models.CurrentStatus) { s.MovementState = models.MovementIgnitionOn }))
	result, err := env.engine.ApplyStatus(ctx, 1, status(vid, 200, nil))
	if err != nil {
		t.Fatal(err)
	}
	if result.Trip != nil {
		t.Error("ignition off without an open trip should not produce a trip")
	}
	if got := eventTypes(result.Events); len(got) != 1 || got[0] != models.EventIgnitionOff {
		t.Errorf("events = %v, want [ignition_off]", got)
	}
}

func TestStarterDisabledExactlyOneEvent(t *testing.T) {
	env := newTestEnv()
	d := env.repo.linkedDevice("SN-1")
	ctx := context.Background()
	vid := *d.VehicleID

	env.engine.ApplyStatus(ctx, 1, status(vid, 100, nil))
	result, err := env.engine.ApplyStatus(ctx, 1, status(vid, 200, func(s *models.CurrentStatus) {
		s.StarterDisabledSince = 150
	}))
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Events) != 1 {
		t.Fatalf("events = %v, want exactly one", eventTypes(result.Events))
	}
	ev := result.Events[0]
	if ev.EventType != models.EventStarterDisabled || ev.Severity != models.SeverityAlert {
		t.Errorf("event = %s/%s, want starter_disabled/alert", ev.EventType, ev.Severity)
	}
	if ev.EventTime.Unix() != 200 {
		t.Errorf("event time = %d, want status time 200", ev.EventTime.Unix())
	}

	env.notifier.mu.Lock()
	notified := len(env.notifier.events)
	env.notifier.mu.Unlock()
	if notified != 1 {
		t.Errorf("notified events = %d, want 1", notified)
	}

	result, _ = env.engine.ApplyStatus(ctx, 1, status(vid, 300, nil))
	if got := eventTypes(result.Events); len(got) != 1 || got[0] != models.EventStarterEnabled {
		t.Errorf("events = %v, want [starter_enabled]", got)
	}
	if result.Events[0].Severity != models.SeverityInfo {
		t.Errorf("starter_enabled severity = %s, want info", result.Events[0].Severity)
	}
}

func TestLowBatteryCrossing(t *testing.T) {
	tests := []struct {
		name  string
		prior float64
		next  float64
		want  bool
	}{
		{"crosses threshold", 11600, 11400, true},
		{"already below", 11400, 11300, false},
		{"at threshold to below", 11500, 11499, true},
		{"stays above", 12600, 12000, false},
		{"recovers", 11000, 12600, false},
		{"not reported", 12600, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prior := status(1, 100, func(s *models.CurrentStatus) { s.VoltageMillivolts = tt.prior })
			next := status(1, 200, func(s *models.CurrentStatus) { s.VoltageMillivolts = tt.next })

			events := deriveEvents(prior, next, 11500)
			got := len(events) == 1 && events[0].EventType == models.EventLowBattery
			if got != tt.want {
				t.Errorf("deriveEvents(%v -> %v) = %v, want low_battery=%v", tt.prior, tt.next, eventTypes(events), tt.want)
			}
			if got && events[0].Severity != models.SeverityWarning {
				t.Errorf("severity = %s, want warning", events[0].Severity)
			}
		})
	}
}

func TestDeriveEventsOrder(t *testing.T) {
	prior := status(1, 100, nil)
	next := status(1, 200, func(s *models.CurrentStatus) {
		s.MovementState = models.MovementIgnitionOn
		s.StarterDisabledSince = 150
		s.VoltageMillivolts = 11000
	})

	got := eventTypes(deriveEvents(prior, next, 11500))
	want := []models.EventType{models.EventStarterDisabled, models.EventIgnitionOn, models.EventLowBattery}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	// 移动心跳与点火同属点火状态，不产生事件
	moving := status(1, 300, func(s *models.CurrentStatus) {
		s.MovementState = models.MovementMovingHeartbeat
		s.StarterDisabledSince = 150
		s.VoltageMillivolts = 11000
	})
	if evs := deriveEvents(next, moving, 11500); len(evs) != 0 {
		t.Errorf("ignition_on -> moving_heartbeat events = %v, want none", eventTypes(evs))
	}
}

func TestApplyStatusEventWriteFailure(t *testing.T) {
	env := newTestEnv()
	d := env.repo.linkedDevice("SN-1")
	ctx := context.Background()
	vid := *d.VehicleID

	env.engine.ApplyStatus(ctx, 1, status(vid, 100, nil))
	env.repo.failEventsFor[vid] = true

	_, err := env.engine.ApplyStatus(ctx, 1, status(vid, 200, func(s *models.CurrentStatus) {
		s.MovementState = models.MovementIgnitionOn
	}))
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want PersistenceError", err)
	}
	stored, _ := env.repo.GetCurrentStatus(ctx, vid)
	if stored.RecordedAt.Unix() != 200 {
		t.Error("status should still be stored when event insert fails")
	}
	trips := env.repo.tripsFor(vid)
	if len(trips) != 1 || trips[0].Status != models.TripInProgress {
		t.Fatalf("trips = %+v, want one in-progress trip despite the failed event", trips)
	}

	// 熄火事件同样写入失败，行程仍要结束
	_, err = env.engine.ApplyStatus(ctx, 1, status(vid, 300, func(s *models.CurrentStatus) {
		s.MovementState = models.MovementIgnitionOff
	}))
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want PersistenceError", err)
	}
	trips = env.repo.tripsFor(vid)
	if len(trips) != 1 || trips[0].Status != models.TripCompleted {
		t.Errorf("trips = %+v, want the trip closed despite the failed event", trips)
	}
	if len(env.repo.eventsFor(vid)) != 0 {
		t.Errorf("events = %d, want none stored", len(env.repo.eventsFor(vid)))
	}
}

func eventTypes(events []*models.VehicleEvent) []models.EventType {
	out := make([]models.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventType)
	}
	return out
}
