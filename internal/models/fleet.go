package models

import "time"

// 车队平台提供商，两家接口协议一致，仅地址不同
const (
	ProviderDatatrack247 = "datatrack247"
	ProviderFleet77      = "fleet77"
)

// Fleet 车队（对应一个供应商账号）
type Fleet struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Provider  string    `json:"provider" db:"provider"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// VendorCredential 车队的供应商凭据
// PasswordSecret 是派生后的哈希，不保存明文密码
type VendorCredential struct {
	ID             int64      `json:"id" db:"id"`
	FleetID        int64      `json:"fleet_id" db:"fleet_id"`
	Username       string     `json:"username" db:"username"`
	AccountID      int64      `json:"account_id" db:"account_id"`
	UserID         int64      `json:"user_id" db:"user_id"`
	PasswordSecret string     `json:"-" db:"password_secret"`
	CachedToken    *string    `json:"-" db:"cached_token"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty" db:"token_expires_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// CanSign accountId 与 userId 均非零才能签名
func (c *VendorCredential) CanSign() bool {
	return c.AccountID != 0 && c.UserID != 0
}

// TokenValid 缓存令牌在 now 时刻是否仍有效
func (c *VendorCredential) TokenValid(now time.Time) bool {
	return c.CachedToken != nil && *c.CachedToken != "" &&
		c.TokenExpiresAt != nil && c.TokenExpiresAt.After(now)
}

// SigningKey 请求签名使用的密钥，始终是派生密钥
// 缓存令牌只用于判断登录是否过期，不参与签名
func (c *VendorCredential) SigningKey() string {
	return c.PasswordSecret
}

// ClearToken 登出时清空令牌字段，保留账号身份
func (c *VendorCredential) ClearToken() {
	c.CachedToken = nil
	c.TokenExpiresAt = nil
}
