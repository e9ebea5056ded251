// Package credential 管理车队的供应商凭据与令牌缓存
package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/fleetgazer/internal/api/vendor"
	"github.com/langchou/fleetgazer/internal/models"
	"github.com/langchou/fleetgazer/internal/repository"
)

// ErrAuthenticationRequired 没有可用凭据，需要操作员重新登录
var ErrAuthenticationRequired = errors.New("vendor authentication required")

// Persistence 凭据持久化
type Persistence interface {
	GetFleet(ctx context.Context, fleetID int64) (*models.Fleet, error)
	GetCredential(ctx context.Context, fleetID int64) (*models.VendorCredential, error)
	SaveCredential(ctx context.Context, cred *models.VendorCredential) error
}

// Authenticators 按提供商取得供应商客户端，*vendor.Registry 满足该接口
type Authenticators interface {
	Client(provider string) (vendor.API, error)
}

// Options 令牌策略
type Options struct {
	PasswordKey     string
	SessionTokenTTL time.Duration
	SecretTokenTTL  time.Duration
}

// Store 凭据存储，同一车队的登录与刷新互斥
type Store struct {
	persist Persistence
	vendors Authenticators
	opts    Options
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewStore 创建凭据存储
func NewStore(persist Persistence, vendors Authenticators, opts Options, logger *zap.Logger) *Store {
	return &Store{
		persist: persist,
		vendors: vendors,
		opts:    opts,
		logger:  logger.Named("credential"),
		now:     time.Now,
		locks:   make(map[int64]*sync.Mutex),
	}
}

func (s *Store) lock(fleetID int64) func() {
	s.mu.Lock()
	l, ok := s.locks[fleetID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[fleetID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// DeriveSecret 把明文密码变换为供应商要求的派生密钥
func (s *Store) DeriveSecret(password string) string {
	return vendor.DeriveSecret(s.opts.PasswordKey, password)
}

// Login 操作员提交用户名和密码，登录成功后保存凭据
// 明文密码只用于派生，不会落库
func (s *Store) Login(ctx context.Context, fleetID int64, username, password string) (*models.VendorCredential, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", vendor.ErrLoginFailed)
	}

	unlock := s.lock(fleetID)
	defer unlock()

	cred, err := s.persist.GetCredential(ctx, fleetID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	if cred == nil {
		cred = &models.VendorCredential{FleetID: fleetID}
	}
	cred.Username = username
	cred.PasswordSecret = s.DeriveSecret(password)

	if err := s.authenticate(ctx, cred); err != nil {
		return nil, err
	}

	s.logger.Info("Vendor login succeeded",
		zap.Int64("fleet_id", fleetID),
		zap.Int64("account_id", cred.AccountID))
	return cred, nil
}

// GetValidCredential 返回可用于签名的凭据
// 缓存令牌有效时直接返回，否则用已保存的派生密钥重新登录
func (s *Store) GetValidCredential(ctx context.Context, fleetID int64) (*models.VendorCredential, error) {
	unlock := s.lock(fleetID)
	defer unlock()

	cred, err := s.persist.GetCredential(ctx, fleetID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAuthenticationRequired
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}

	if cred.CanSign() && cred.TokenValid(s.now()) {
		return cred, nil
	}

	if cred.Username == "" || cred.PasswordSecret == "" {
		return nil, ErrAuthenticationRequired
	}

	s.logger.Info("Refreshing vendor token", zap.Int64("fleet_id", fleetID))
	if err := s.authenticate(ctx, cred); err != nil {
		if vendor.IsTransient(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationRequired, err)
	}
	return cred, nil
}

// Invalidate 供应商拒绝签名后清除缓存令牌，下次使用时重新登录
func (s *Store) Invalidate(ctx context.Context, fleetID int64) error {
	unlock := s.lock(fleetID)
	defer unlock()

	cred, err := s.persist.GetCredential(ctx, fleetID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get credential: %w", err)
	}

	cred.ClearToken()
	if err := s.persist.SaveCredential(ctx, cred); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// Clear 登出，只清除缓存令牌与过期时间
// 账号身份与派生密钥保留，下次使用时用已保存的密钥重新登录
func (s *Store) Clear(ctx context.Context, fleetID int64) error {
	unlock := s.lock(fleetID)
	defer unlock()

	cred, err := s.persist.GetCredential(ctx, fleetID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get credential: %w", err)
	}

	cred.ClearToken()
	cred.UpdatedAt = s.now()
	if err := s.persist.SaveCredential(ctx, cred); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	s.logger.Info("Vendor credential cleared", zap.Int64("fleet_id", fleetID))
	return nil
}

// authenticate 调用供应商登录并保存结果，调用方持有车队锁
func (s *Store) authenticate(ctx context.Context, cred *models.VendorCredential) error {
	fleet, err := s.persist.GetFleet(ctx, cred.FleetID)
	if err != nil {
		return fmt.Errorf("get fleet: %w", err)
	}
	client, err := s.vendors.Client(fleet.Provider)
	if err != nil {
		return err
	}

	result, err := client.Login(ctx, cred.Username, cred.PasswordSecret)
	if err != nil {
		s.logger.Warn("Vendor login failed", zap.Int64("fleet_id", cred.FleetID), zap.Error(err))
		return err
	}

	now := s.now()
	cred.AccountID = result.AccountID
	cred.UserID = result.UserID
	if result.SessionToken != "" {
		token := result.SessionToken
		expires := now.Add(s.opts.SessionTokenTTL)
		cred.CachedToken = &token
		cred.TokenExpiresAt = &expires
	} else {
		// 没有会话令牌时以派生密钥标记本次登录
		token := cred.PasswordSecret
		expires := now.Add(s.opts.SecretTokenTTL)
		cred.CachedToken = &token
		cred.TokenExpiresAt = &expires
	}
	cred.UpdatedAt = now

	if err := s.persist.SaveCredential(ctx, cred); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}
