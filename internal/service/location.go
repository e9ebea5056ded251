package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/fleetgazer/internal/api/vendor"
	"github.com/langchou/fleetgazer/internal/models"
)

// RunLocationCycle 拉取每台设备最近一段时间的轨迹，只追加比已存储更新的点
func (e *Engine) RunLocationCycle(ctx context.Context, fleetID int64) (models.SyncCounts, error) {
	return e.runCycle(ctx, fleetID, models.SyncTypeLocation, func(ctx context.Context) (models.SyncCounts, error) {
		return e.locationCycle(ctx, fleetID)
	})
}

func (e *Engine) locationCycle(ctx context.Context, fleetID int64) (models.SyncCounts, error) {
	var counts models.SyncCounts

	fc, err := e.resolve(ctx, fleetID)
	if err != nil {
		return counts, err
	}

	devices, err := e.repo.GetActiveDevices(ctx, fc.cred.ID)
	if err != nil {
		return counts, persistErr("get active devices", err)
	}

	to := e.now()
	from := to.Add(-e.opts.LocationHistoryWindow)

	for _, device := range devices {
		if err := ctx.Err(); err != nil {
			return counts, err
		}

		fetched, inserted, err := e.syncDeviceHistory(ctx, fc, device, from, to)
		counts.Fetched += fetched
		counts.Inserted += inserted
		if err == nil {
			continue
		}
		// 网络故障或认证失败时本车队本轮中止，下个周期重试
		if vendor.IsTransient(err) || vendor.IsAuth(err) {
			return counts, e.vendorFailed(ctx, fleetID, err)
		}
		var perr *PersistenceError
		if errors.As(err, &perr) {
			return counts, err
		}
		e.logger.Warn("Skipping device location history",
			zap.Int64("device_id", device.ID),
			zap.String("serial", device.VendorSerial),
			zap.Error(err))
	}

	return counts, nil
}

func (e *Engine) syncDeviceHistory(ctx context.Context, fc *fleetContext, device *models.Device, from, to time.Time) (fetched, inserted int, err error) {
	latest, hasLatest, err := e.repo.LatestLocationTime(ctx, device.ID)
	if err != nil {
		return 0, 0, persistErr("get latest location", err)
	}

	history, err := fc.client.FetchLocationHistory(ctx, fc.cred, device.VendorSerial, from, to)
	if err != nil {
		return 0, 0, err
	}

	points := newTail(device, history, latest, hasLatest)
	if len(points) == 0 {
		return len(history), 0, nil
	}

	n, err := e.repo.InsertLocationPoints(ctx, points)
	if err != nil {
		return len(history), 0, persistErr("insert location points", err)
	}
	return len(history), int(n), nil
}

// newTail 过滤出比已存储最新点更晚的轨迹点，按时间升序并去重
func newTail(device *models.Device, history []vendor.HistoryPoint, latest time.Time, hasLatest bool) []*models.LocationPoint {
	sorted := make([]vendor.HistoryPoint, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	var points []*models.LocationPoint
	var last int64
	if hasLatest {
		last = latest.Unix()
	}
	for _, h := range sorted {
		if h.Timestamp <= last {
			continue
		}
		points = append(points, &models.LocationPoint{
			DeviceID:   device.ID,
			VehicleID:  device.VehicleID,
			RecordedAt: time.Unix(h.Timestamp, 0).UTC(),
			Latitude:   h.Latitude,
			Longitude:  h.Longitude,
			SpeedKmh:   h.Speed,
			Heading:    h.Heading,
		})
		last = h.Timestamp
	}
	return points
}
