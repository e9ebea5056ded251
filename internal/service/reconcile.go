package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/fleetgazer/internal/api/vendor"
	"github.com/langchou/fleetgazer/internal/metrics"
	"github.com/langchou/fleetgazer/internal/models"
	"github.com/langchou/fleetgazer/internal/repository"
	"github.com/langchou/fleetgazer/internal/state"
)

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}

// ApplyResult 一次状态应用的结果
type ApplyResult struct {
	// Created 该车辆的首个状态，不派生事件
	Created bool
	// Applied 状态已写入；为 false 且 Created 为 false 表示状态过期被丢弃
	Applied bool
	Events  []*models.VehicleEvent
	// Trip 本次开启或结束的行程
	Trip *models.Trip
}

// toCurrentStatus 供应商状态转为待存储的当前状态
func toCurrentStatus(device *models.Device, raw vendor.Status) *models.CurrentStatus {
	c := state.Classify(state.Input{
		StateID:              raw.StateID,
		StatusCode:           raw.StatusCode,
		Speed:                raw.Speed,
		VoltageMillivolts:    raw.VoltageMillivolts,
		StarterDisabledSince: raw.StarterDisabledSince,
		BuzzerActiveSince:    raw.BuzzerActiveSince,
	})

	return &models.CurrentStatus{
		VehicleID:            *device.VehicleID,
		DeviceID:             device.ID,
		VendorSerial:         raw.Serial,
		RecordedAt:           time.Unix(raw.Timestamp, 0).UTC(),
		Latitude:             raw.Latitude,
		Longitude:            raw.Longitude,
		SpeedKmh:             raw.Speed,
		MovementState:        c.MovementState,
		StatusLabel:          c.StatusLabel,
		Heading:              raw.Heading,
		VoltageMillivolts:    raw.VoltageMillivolts,
		OdometerMeters:       raw.OdometerMeters,
		StarterDisabledSince: raw.StarterDisabledSince,
		BuzzerActiveSince:    raw.BuzzerActiveSince,
	}
}

// deriveEvents 比较前后两次状态，按固定顺序返回需要记录的事件
// 低电压只在从阈值以上跨到阈值以下时触发
func deriveEvents(prior, next *models.CurrentStatus, lowBatteryMillivolts float64) []*models.VehicleEvent {
	var events []*models.VehicleEvent
	add := func(t models.EventType, sev models.Severity) {
		events = append(events, &models.VehicleEvent{
			VehicleID: next.VehicleID,
			EventType: t,
			Severity:  sev,
			Latitude:  next.Latitude,
			Longitude: next.Longitude,
			EventTime: next.RecordedAt,
		})
	}

	switch {
	case !prior.StarterDisabled() && next.StarterDisabled():
		add(models.EventStarterDisabled, models.SeverityAlert)
	case prior.StarterDisabled() && !next.StarterDisabled():
		add(models.EventStarterEnabled, models.SeverityInfo)
	}

	switch {
	case !prior.IgnitionOn() && next.IgnitionOn():
		add(models.EventIgnitionOn, models.SeverityInfo)
	case prior.IgnitionOn() && !next.IgnitionOn():
		add(models.EventIgnitionOff, models.SeverityInfo)
	}

	// 电压为 0 表示设备本次未上报，不当作低电压读数
	if next.VoltageMillivolts > 0 &&
		prior.VoltageMillivolts >= lowBatteryMillivolts &&
		next.VoltageMillivolts < lowBatteryMillivolts {
		add(models.EventLowBattery, models.SeverityWarning)
	}

	return events
}

// ApplyStatus 把一条新状态应用到车辆
//
//   - 没有历史状态：直接写入，不产生事件
//   - 时间戳不晚于已存储状态：丢弃
//   - 否则写入状态，记录派生事件并开启/结束行程
//
// 状态写入在事件之前，并由仓库的时间戳条件裁决，重复或乱序投递不会重复产生事件
func (e *Engine) ApplyStatus(ctx context.Context, fleetID int64, next *models.CurrentStatus) (ApplyResult, error) {
	var result ApplyResult
	logger := e.logger.With(zap.Int64("vehicle_id", next.VehicleID))

	prior, err := e.repo.GetCurrentStatus(ctx, next.VehicleID)
	if err != nil && !isNotFound(err) {
		return result, persistErr("get current status", err)
	}

	if prior != nil && !next.RecordedAt.After(prior.RecordedAt) {
		metrics.StatusesDiscarded.Inc()
		return result, nil
	}

	applied, err := e.repo.UpsertCurrentStatus(ctx, next)
	if err != nil {
		return result, persistErr("upsert current status", err)
	}
	if !applied {
		metrics.StatusesDiscarded.Inc()
		return result, nil
	}

	if prior == nil {
		result.Created = true
		e.observe(fleetID, next, "")
		return result, nil
	}
	result.Applied = true

	var writeErrs []error
	for _, ev := range deriveEvents(prior, next, e.opts.LowBatteryMillivolts) {
		if err := e.repo.InsertEvent(ctx, ev); err != nil {
			logger.Error("Failed to insert vehicle event", zap.String("event_type", string(ev.EventType)), zap.Error(err))
			writeErrs = append(writeErrs, err)
			continue
		}
		result.Events = append(result.Events, ev)
	}

	// 行程只看点火状态的变化，与事件是否写入成功无关
	switch {
	case !prior.IgnitionOn() && next.IgnitionOn():
		trip, err := e.openTrip(ctx, next)
		if err != nil {
			writeErrs = append(writeErrs, err)
		}
		result.Trip = trip
	case prior.IgnitionOn() && !next.IgnitionOn():
		trip, err := e.closeTrip(ctx, next)
		if err != nil {
			writeErrs = append(writeErrs, err)
		}
		result.Trip = trip
	}

	for _, ev := range result.Events {
		logger.Info("Vehicle event", zap.String("event_type", string(ev.EventType)), zap.String("severity", string(ev.Severity)))
		if e.notifier != nil {
			e.notifier.NotifyEvent(fleetID, ev)
		}
	}
	e.observe(fleetID, next, string(prior.MovementState))

	if len(writeErrs) > 0 {
		return result, persistErr("record derived writes", errors.Join(writeErrs...))
	}
	return result, nil
}

// observe 更新实时状态缓存并推送
func (e *Engine) observe(fleetID int64, s *models.CurrentStatus, priorState string) {
	if e.states == nil {
		return
	}
	machine := e.states.GetOrCreate(s.VehicleID, fleetID, priorState)
	if err := machine.Observe(s, state.FromStatus(s)); err != nil {
		e.logger.Warn("Live state transition rejected", zap.Int64("vehicle_id", s.VehicleID), zap.Error(err))
	}
	if e.notifier != nil {
		e.notifier.NotifyStatus(fleetID, machine.GetState())
	}
}

// openTrip 点火时开启行程，已有进行中的行程则沿用
func (e *Engine) openTrip(ctx context.Context, s *models.CurrentStatus) (*models.Trip, error) {
	open, err := e.repo.GetOpenTrip(ctx, s.VehicleID)
	if err == nil {
		return open, nil
	}
	if !isNotFound(err) {
		return nil, persistErr("get open trip", err)
	}

	trip := &models.Trip{
		VehicleID:           s.VehicleID,
		StartTime:           s.RecordedAt,
		StartLatitude:       s.Latitude,
		StartLongitude:      s.Longitude,
		StartOdometerMeters: s.OdometerMeters,
		Status:              models.TripInProgress,
	}
	if err := e.repo.CreateTrip(ctx, trip); err != nil {
		return nil, persistErr("create trip", err)
	}
	metrics.Trips.WithLabelValues("opened").Inc()

	e.geocodeTrip(trip.ID, s.Latitude, s.Longitude, true)
	return trip, nil
}

// closeTrip 熄火时结束进行中的行程，没有则什么都不做
func (e *Engine) closeTrip(ctx context.Context, s *models.CurrentStatus) (*models.Trip, error) {
	trip, err := e.repo.GetOpenTrip(ctx, s.VehicleID)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("get open trip", err)
	}

	endTime := s.RecordedAt
	endLat, endLng, endOdo := s.Latitude, s.Longitude, s.OdometerMeters
	trip.EndTime = &endTime
	trip.EndLatitude = &endLat
	trip.EndLongitude = &endLng
	trip.EndOdometerMeters = &endOdo
	trip.DistanceMeters = endOdo - trip.StartOdometerMeters
	// 里程表回退（换设备或清零）时距离记为 0，不写负值
	if trip.DistanceMeters < 0 {
		e.logger.Warn("Odometer went backwards during trip",
			zap.Int64("trip_id", trip.ID),
			zap.Float64("start_odometer_m", trip.StartOdometerMeters),
			zap.Float64("end_odometer_m", endOdo))
		trip.DistanceMeters = 0
	}

	if err := e.repo.CloseTrip(ctx, trip); err != nil {
		return nil, persistErr("close trip", err)
	}
	trip.Status = models.TripCompleted
	metrics.Trips.WithLabelValues("closed").Inc()

	e.geocodeTrip(trip.ID, endLat, endLng, false)
	return trip, nil
}

// geocodeTrip 行程写入后异步解析地址，失败只记录日志
func (e *Engine) geocodeTrip(tripID int64, lat, lng float64, start bool) {
	if e.geocoder == nil {
		return
	}

	e.geoWG.Add(1)
	go func() {
		defer e.geoWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), e.opts.GeocodeTimeout)
		defer cancel()

		addr, err := e.geocoder.ReverseGeocode(ctx, lat, lng)
		if err != nil {
			e.logger.Warn("Failed to geocode trip address",
				zap.Int64("trip_id", tripID),
				zap.Bool("start", start),
				zap.Error(err))
			return
		}

		var startAddr, endAddr *models.Address
		if start {
			startAddr = addr
		} else {
			endAddr = addr
		}
		if err := e.repo.UpdateTripAddresses(ctx, tripID, startAddr, endAddr); err != nil {
			e.logger.Warn("Failed to save trip address", zap.Int64("trip_id", tripID), zap.Error(err))
		}
	}()
}
