package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/langchou/fleetgazer/internal/models"
)

// Cycles 调度器驱动的同步周期，*Engine 满足该接口
type Cycles interface {
	RunStatusCycle(ctx context.Context, fleetID int64) (models.SyncCounts, error)
	RunLocationCycle(ctx context.Context, fleetID int64) (models.SyncCounts, error)
	RunVehicleSync(ctx context.Context, fleetID int64) (models.SyncCounts, error)
	Wait()
}

// FleetLister 列出需要同步的车队（已保存凭据）
type FleetLister interface {
	ListSyncFleets(ctx context.Context) ([]*models.Fleet, error)
}

// SchedulerOptions 调度间隔
type SchedulerOptions struct {
	StatusInterval   time.Duration
	LocationInterval time.Duration
	// LocationDelay 首次轨迹同步延迟，与状态同步错开
	LocationDelay   time.Duration
	VehicleInterval time.Duration
	// Concurrency 同一时刻最多同步的车队数
	Concurrency int
}

// Scheduler 按固定间隔为每个车队运行同步周期
// 每种周期一个循环，上一轮全部车队结束后才会开始下一轮，因此同类周期不会重叠
type Scheduler struct {
	cycles Cycles
	fleets FleetLister
	opts   SchedulerOptions
	logger *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewScheduler 创建调度器
func NewScheduler(cycles Cycles, fleets FleetLister, opts SchedulerOptions, logger *zap.Logger) *Scheduler {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Scheduler{
		cycles: cycles,
		fleets: fleets,
		opts:   opts,
		logger: logger.Named("scheduler"),
	}
}

type cycleFunc func(ctx context.Context, fleetID int64) (models.SyncCounts, error)

// Start 启动全部同步循环，重复调用无效
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Info("Scheduler already running, skipping start")
		return
	}
	s.running = true

	ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Info("Starting sync scheduler",
		zap.Duration("status_interval", s.opts.StatusInterval),
		zap.Duration("location_interval", s.opts.LocationInterval),
		zap.Duration("vehicle_interval", s.opts.VehicleInterval),
		zap.Int("concurrency", s.opts.Concurrency))

	s.wg.Add(3)
	go s.loop(ctx, models.SyncTypeStatus, 0, s.opts.StatusInterval, s.cycles.RunStatusCycle)
	go s.loop(ctx, models.SyncTypeLocation, s.opts.LocationDelay, s.opts.LocationInterval, s.cycles.RunLocationCycle)
	go s.loop(ctx, models.SyncTypeVehicles, 0, s.opts.VehicleInterval, s.cycles.RunVehicleSync)
}

// Stop 停止调度并等待进行中的周期与后台任务结束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.logger.Info("Stopping sync scheduler")
	s.wg.Wait()
	s.cycles.Wait()
	s.logger.Info("Sync scheduler stopped")
}

// loop 首次在 delay 后执行，之后每轮结束再等满 interval
func (s *Scheduler) loop(ctx context.Context, syncType string, delay, interval time.Duration, run cycleFunc) {
	defer s.wg.Done()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.tick(ctx, syncType, run)
		timer.Reset(interval)
	}
}

// tick 对所有车队运行一次周期，错误只记录日志
func (s *Scheduler) tick(ctx context.Context, syncType string, run cycleFunc) {
	fleets, err := s.fleets.ListSyncFleets(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Failed to list fleets", zap.String("sync_type", syncType), zap.Error(err))
		}
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, fleet := range fleets {
		fleetID := fleet.ID
		g.Go(func() error {
			if _, err := run(gctx, fleetID); err != nil && gctx.Err() == nil {
				s.logger.Warn("Fleet sync failed",
					zap.String("sync_type", syncType),
					zap.Int64("fleet_id", fleetID),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
