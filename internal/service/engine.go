package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/fleetgazer/internal/api/vendor"
	"github.com/langchou/fleetgazer/internal/metrics"
	"github.com/langchou/fleetgazer/internal/models"
	"github.com/langchou/fleetgazer/internal/state"
)

// EngineOptions 同步策略
type EngineOptions struct {
	LowBatteryMillivolts  float64
	LocationHistoryWindow time.Duration
	AutoLinkDevices       bool
	GeocodeTimeout        time.Duration
}

// Engine 拉取供应商数据，与已存储状态比对后派生事件和行程
// 所有操作都显式带 fleetID，不依赖共享的"当前车队"
type Engine struct {
	repo     Repository
	creds    Credentials
	vendors  Vendors
	notifier Notifier
	geocoder Geocoder
	states   *state.Manager
	opts     EngineOptions
	logger   *zap.Logger
	now      func() time.Time

	// 同一车队同一类型的周期互斥（定时任务与手动同步共用）
	cycleMu    sync.Mutex
	cycleLocks map[cycleKey]*sync.Mutex

	geoWG sync.WaitGroup
}

type cycleKey struct {
	fleetID  int64
	syncType string
}

// NewEngine 创建同步引擎，notifier 与 geocoder 可为 nil
func NewEngine(
	repo Repository,
	creds Credentials,
	vendors Vendors,
	notifier Notifier,
	geocoder Geocoder,
	states *state.Manager,
	opts EngineOptions,
	logger *zap.Logger,
) *Engine {
	if opts.GeocodeTimeout <= 0 {
		opts.GeocodeTimeout = 30 * time.Second
	}
	return &Engine{
		repo:       repo,
		creds:      creds,
		vendors:    vendors,
		notifier:   notifier,
		geocoder:   geocoder,
		states:     states,
		opts:       opts,
		logger:     logger.Named("engine"),
		now:        time.Now,
		cycleLocks: make(map[cycleKey]*sync.Mutex),
	}
}

// States 实时状态缓存
func (e *Engine) States() *state.Manager {
	return e.states
}

// Wait 等待后台的地址解析任务结束
func (e *Engine) Wait() {
	e.geoWG.Wait()
}

func (e *Engine) lockCycle(fleetID int64, syncType string) func() {
	key := cycleKey{fleetID: fleetID, syncType: syncType}
	e.cycleMu.Lock()
	l, ok := e.cycleLocks[key]
	if !ok {
		l = &sync.Mutex{}
		e.cycleLocks[key] = l
	}
	e.cycleMu.Unlock()

	l.Lock()
	return l.Unlock
}

// fleetContext 一个周期内使用的车队、凭据和客户端
type fleetContext struct {
	fleet  *models.Fleet
	cred   *models.VendorCredential
	client vendor.API
}

func (e *Engine) resolve(ctx context.Context, fleetID int64) (*fleetContext, error) {
	fleet, err := e.repo.GetFleet(ctx, fleetID)
	if err != nil {
		return nil, persistErr("get fleet", err)
	}
	client, err := e.vendors.Client(fleet.Provider)
	if err != nil {
		return nil, err
	}
	cred, err := e.creds.GetValidCredential(ctx, fleetID)
	if err != nil {
		return nil, err
	}
	return &fleetContext{fleet: fleet, cred: cred, client: client}, nil
}

// vendorFailed 供应商拒绝签名时清除令牌，下个周期重新登录
func (e *Engine) vendorFailed(ctx context.Context, fleetID int64, err error) error {
	if vendor.IsAuth(err) {
		if ierr := e.creds.Invalidate(ctx, fleetID); ierr != nil {
			e.logger.Warn("Failed to invalidate vendor token", zap.Int64("fleet_id", fleetID), zap.Error(ierr))
		}
	}
	return err
}

// runCycle 包装一次周期：互斥、SyncRun 记录、panic 恢复与指标
func (e *Engine) runCycle(ctx context.Context, fleetID int64, syncType string, fn func(ctx context.Context) (models.SyncCounts, error)) (counts models.SyncCounts, err error) {
	unlock := e.lockCycle(fleetID, syncType)
	defer unlock()

	start := time.Now()
	logger := e.logger.With(zap.Int64("fleet_id", fleetID), zap.String("sync_type", syncType))

	runID, err := e.repo.StartSyncRun(ctx, fleetID, syncType)
	if err != nil {
		metrics.SyncCycles.WithLabelValues(syncType, models.SyncFailed).Inc()
		return counts, persistErr("start sync run", err)
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("sync cycle panic: %v", r)
			}
		}()
		counts, err = fn(ctx)
	}()

	metrics.SyncCycleDuration.WithLabelValues(syncType).Observe(time.Since(start).Seconds())

	// 使用独立 context 记录结果，关闭期间也能写入
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err != nil {
		metrics.SyncCycles.WithLabelValues(syncType, models.SyncFailed).Inc()
		logger.Error("Sync cycle failed", zap.Error(err))
		if ferr := e.repo.FailSyncRun(recordCtx, runID, err.Error()); ferr != nil {
			logger.Error("Failed to record failed sync run", zap.Error(ferr))
		}
		return counts, err
	}

	metrics.SyncCycles.WithLabelValues(syncType, models.SyncCompleted).Inc()
	logger.Debug("Sync cycle completed",
		zap.Int("fetched", counts.Fetched),
		zap.Int("inserted", counts.Inserted),
		zap.Int("updated", counts.Updated),
		zap.Duration("duration", time.Since(start)))
	if cerr := e.repo.CompleteSyncRun(recordCtx, runID, counts); cerr != nil {
		logger.Error("Failed to record completed sync run", zap.Error(cerr))
	}
	return counts, nil
}

// RunStatusCycle 拉取车队全部状态并逐车应用
func (e *Engine) RunStatusCycle(ctx context.Context, fleetID int64) (models.SyncCounts, error) {
	return e.runCycle(ctx, fleetID, models.SyncTypeStatus, func(ctx context.Context) (models.SyncCounts, error) {
		return e.statusCycle(ctx, fleetID)
	})
}

func (e *Engine) statusCycle(ctx context.Context, fleetID int64) (models.SyncCounts, error) {
	var counts models.SyncCounts

	fc, err := e.resolve(ctx, fleetID)
	if err != nil {
		return counts, err
	}

	statuses, err := fc.client.FetchAllStatuses(ctx, fc.cred)
	if err != nil {
		return counts, e.vendorFailed(ctx, fleetID, err)
	}
	counts.Fetched = len(statuses)

	var failures []error
	for _, raw := range statuses {
		if err := ctx.Err(); err != nil {
			return counts, err
		}

		result, err := e.processStatus(ctx, fc, raw)
		if err != nil {
			// 单车失败不影响其他车辆
			e.logger.Error("Failed to apply vehicle status",
				zap.Int64("fleet_id", fleetID),
				zap.String("serial", raw.Serial),
				zap.Error(err))
			failures = append(failures, err)
			continue
		}
		switch {
		case result.Created:
			counts.Inserted++
		case result.Applied:
			counts.Updated++
		}
	}

	if len(failures) > 0 {
		return counts, persistErr("apply statuses",
			fmt.Errorf("%d of %d vehicles failed: %w", len(failures), len(statuses), errors.Join(failures...)))
	}
	return counts, nil
}

// processStatus 把供应商状态映射到车辆并应用；未关联车辆的设备直接跳过
func (e *Engine) processStatus(ctx context.Context, fc *fleetContext, raw vendor.Status) (ApplyResult, error) {
	device, err := e.repo.GetDeviceVehicleMapping(ctx, fc.cred.ID, raw.Serial)
	if isNotFound(err) {
		e.logger.Debug("Status for unknown device", zap.String("serial", raw.Serial))
		return ApplyResult{}, nil
	}
	if err != nil {
		return ApplyResult{}, persistErr("get device mapping", err)
	}
	if device.VehicleID == nil {
		return ApplyResult{}, nil
	}

	return e.ApplyStatus(ctx, fc.fleet.ID, toCurrentStatus(device, raw))
}

// SyncResult 手动同步结果
type SyncResult struct {
	Vehicles  models.SyncCounts `json:"vehicles"`
	Statuses  models.SyncCounts `json:"statuses"`
	Locations models.SyncCounts `json:"locations"`
}

// TriggerManualSync 操作员触发的完整同步：车辆列表、状态、轨迹依次执行
// 与定时周期共用互斥锁，不会与同类型周期重叠
func (e *Engine) TriggerManualSync(ctx context.Context, fleetID int64) (*SyncResult, error) {
	result := &SyncResult{}
	var err error

	if result.Vehicles, err = e.RunVehicleSync(ctx, fleetID); err != nil {
		return result, err
	}
	if result.Statuses, err = e.RunStatusCycle(ctx, fleetID); err != nil {
		return result, err
	}
	result.Locations, err = e.RunLocationCycle(ctx, fleetID)
	return result, err
}
