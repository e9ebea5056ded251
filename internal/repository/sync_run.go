package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/fleetgazer/internal/models"
)

// SyncRunRepository 同步运行记录
type SyncRunRepository struct {
	db *DB
}

// NewSyncRunRepository 创建同步记录仓库
func NewSyncRunRepository(db *DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

// Start 记录一次同步开始
func (r *SyncRunRepository) Start(ctx context.Context, fleetID int64, syncType string) (int64, error) {
	query := `
		INSERT INTO sync_runs (fleet_id, sync_type, started_at, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	var id int64
	if err := r.db.Pool.QueryRow(ctx, query, fleetID, syncType, time.Now(), models.SyncRunning).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert sync run: %w", err)
	}
	return id, nil
}

// Complete 同步成功
func (r *SyncRunRepository) Complete(ctx context.Context, runID int64, counts models.SyncCounts) error {
	query := `
		UPDATE sync_runs SET completed_at = $2, fetched = $3, inserted = $4, updated = $5, status = $6
		WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query, runID, time.Now(), counts.Fetched, counts.Inserted, counts.Updated, models.SyncCompleted)
	if err != nil {
		return fmt.Errorf("complete sync run: %w", err)
	}
	return nil
}

// Fail 同步失败
func (r *SyncRunRepository) Fail(ctx context.Context, runID int64, message string) error {
	query := `UPDATE sync_runs SET completed_at = $2, status = $3, error_message = $4 WHERE id = $1`
	if _, err := r.db.Pool.Exec(ctx, query, runID, time.Now(), models.SyncFailed, message); err != nil {
		return fmt.Errorf("fail sync run: %w", err)
	}
	return nil
}

// ListByFleet 车队最近的同步记录
func (r *SyncRunRepository) ListByFleet(ctx context.Context, fleetID int64, limit, offset int) ([]*models.SyncRun, error) {
	query := `
		SELECT id, fleet_id, sync_type, started_at, completed_at, fetched, inserted, updated, status, error_message
		FROM sync_runs WHERE fleet_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Pool.Query(ctx, query, fleetID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		run := &models.SyncRun{}
		if err := rows.Scan(
			&run.ID,
			&run.FleetID,
			&run.SyncType,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Fetched,
			&run.Inserted,
			&run.Updated,
			&run.Status,
			&run.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
