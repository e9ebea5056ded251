package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/fleetgazer/internal/models"
)

// FleetRepository 车队与供应商凭据
type FleetRepository struct {
	db *DB
}

// NewFleetRepository 创建车队仓库
func NewFleetRepository(db *DB) *FleetRepository {
	return &FleetRepository{db: db}
}

// Create 创建车队
func (r *FleetRepository) Create(ctx context.Context, fleet *models.Fleet) error {
	query := `
		INSERT INTO fleets (name, provider, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	now := time.Now()
	if err := r.db.Pool.QueryRow(ctx, query, fleet.Name, fleet.Provider, now).Scan(&fleet.ID); err != nil {
		return fmt.Errorf("insert fleet: %w", err)
	}
	fleet.CreatedAt = now
	return nil
}

// GetByID 通过 ID 获取车队
func (r *FleetRepository) GetByID(ctx context.Context, id int64) (*models.Fleet, error) {
	query := `SELECT id, name, provider, created_at FROM fleets WHERE id = $1`
	fleet := &models.Fleet{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(&fleet.ID, &fleet.Name, &fleet.Provider, &fleet.CreatedAt)
	if err != nil {
		return nil, notFound("get fleet", err)
	}
	return fleet, nil
}

// List 获取所有车队
func (r *FleetRepository) List(ctx context.Context) ([]*models.Fleet, error) {
	return r.list(ctx, `SELECT id, name, provider, created_at FROM fleets ORDER BY id`)
}

// ListWithCredentials 已登录过供应商的车队，同步周期只处理这些车队
func (r *FleetRepository) ListWithCredentials(ctx context.Context) ([]*models.Fleet, error) {
	return r.list(ctx, `
		SELECT f.id, f.name, f.provider, f.created_at
		FROM fleets f
		JOIN vendor_credentials c ON c.fleet_id = f.id
		WHERE c.password_secret <> ''
		ORDER BY f.id
	`)
}

func (r *FleetRepository) list(ctx context.Context, query string) ([]*models.Fleet, error) {
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list fleets: %w", err)
	}
	defer rows.Close()

	var fleets []*models.Fleet
	for rows.Next() {
		fleet := &models.Fleet{}
		if err := rows.Scan(&fleet.ID, &fleet.Name, &fleet.Provider, &fleet.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fleet: %w", err)
		}
		fleets = append(fleets, fleet)
	}
	return fleets, rows.Err()
}

// GetCredential 获取车队凭据
func (r *FleetRepository) GetCredential(ctx context.Context, fleetID int64) (*models.VendorCredential, error) {
	query := `
		SELECT id, fleet_id, username, account_id, user_id, password_secret, cached_token, token_expires_at, updated_at
		FROM vendor_credentials WHERE fleet_id = $1
	`
	cred := &models.VendorCredential{}
	err := r.db.Pool.QueryRow(ctx, query, fleetID).Scan(
		&cred.ID,
		&cred.FleetID,
		&cred.Username,
		&cred.AccountID,
		&cred.UserID,
		&cred.PasswordSecret,
		&cred.CachedToken,
		&cred.TokenExpiresAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		return nil, notFound("get credential", err)
	}
	return cred, nil
}

// SaveCredential 创建或更新车队凭据（每个车队一条）
func (r *FleetRepository) SaveCredential(ctx context.Context, cred *models.VendorCredential) error {
	query := `
		INSERT INTO vendor_credentials (fleet_id, username, account_id, user_id, password_secret, cached_token, token_expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (fleet_id) DO UPDATE SET
			username = EXCLUDED.username,
			account_id = EXCLUDED.account_id,
			user_id = EXCLUDED.user_id,
			password_secret = EXCLUDED.password_secret,
			cached_token = EXCLUDED.cached_token,
			token_expires_at = EXCLUDED.token_expires_at,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`
	if cred.UpdatedAt.IsZero() {
		cred.UpdatedAt = time.Now()
	}
	err := r.db.Pool.QueryRow(ctx, query,
		cred.FleetID,
		cred.Username,
		cred.AccountID,
		cred.UserID,
		cred.PasswordSecret,
		cred.CachedToken,
		cred.TokenExpiresAt,
		cred.UpdatedAt,
	).Scan(&cred.ID)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}
