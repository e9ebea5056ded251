// Package geocoder 行程起止点的逆地理编码
package geocoder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/langchou/fleetgazer/internal/models"
)

const (
	defaultAmapURL      = "https://restapi.amap.com/v3/geocode/regeo"
	defaultNominatimURL = "https://nominatim.openstreetmap.org/reverse"
	maxCacheEntries     = 10000
)

// Client 逆地理编码客户端
// 配置了高德 API Key 时使用高德，否则使用 Nominatim（OpenStreetMap）
type Client struct {
	amapAPIKey   string
	amapURL      string
	nominatimURL string
	httpClient   *http.Client
	logger       *zap.Logger

	// 缓存：避免重复请求相同坐标
	cache   map[string]*models.Address
	cacheMu sync.RWMutex

	// Nominatim 使用策略要求每秒最多 1 次请求
	nominatimLimiter *rate.Limiter
}

// NewClient 创建逆地理编码客户端
func NewClient(amapAPIKey string, logger *zap.Logger) *Client {
	return &Client{
		amapAPIKey:   amapAPIKey,
		amapURL:      defaultAmapURL,
		nominatimURL: defaultNominatimURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:           logger.Named("geocoder"),
		cache:            make(map[string]*models.Address),
		nominatimLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// ReverseGeocode 根据经纬度获取结构化地址
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (*models.Address, error) {
	// 精确到小数点后 4 位，约 11 米
	cacheKey := fmt.Sprintf("%.4f,%.4f", lat, lng)

	c.cacheMu.RLock()
	if addr, ok := c.cache[cacheKey]; ok {
		c.cacheMu.RUnlock()
		return addr, nil
	}
	c.cacheMu.RUnlock()

	var address *models.Address
	var err error
	if c.amapAPIKey != "" {
		address, err = c.reverseGeocodeAmap(ctx, lat, lng)
	} else {
		address, err = c.reverseGeocodeNominatim(ctx, lat, lng)
	}
	if err != nil {
		return nil, err
	}

	c.cacheMu.Lock()
	if len(c.cache) >= maxCacheEntries {
		c.cache = make(map[string]*models.Address)
	}
	c.cache[cacheKey] = address
	c.cacheMu.Unlock()

	return address, nil
}

// Provider 当前使用的服务提供商
func (c *Client) Provider() string {
	if c.amapAPIKey != "" {
		return "amap"
	}
	return "nominatim"
}

// CacheSize 缓存条目数
func (c *Client) CacheSize() int {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return len(c.cache)
}

func (c *Client) getJSON(ctx context.Context, apiURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	// Nominatim 要求设置 User-Agent
	req.Header.Set("User-Agent", "Fleetgazer/1.0 (fleet tracking)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", c.Provider(), resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ============ 高德地图 ============

type amapRegeoResponse struct {
	Status    string         `json:"status"`
	Info      string         `json:"info"`
	InfoCode  string         `json:"infocode"`
	Regeocode *amapRegeocode `json:"regeocode"`
}

type amapRegeocode struct {
	FormattedAddress string               `json:"formatted_address"`
	AddressComponent amapAddressComponent `json:"addressComponent"`
}

// 高德的部分字段为空时返回 []，因此用 interface{} 接收
type amapAddressComponent struct {
	Country      string      `json:"country"`
	Province     string      `json:"province"`
	City         interface{} `json:"city"`
	District     interface{} `json:"district"`
	Township     interface{} `json:"township"`
	Street       interface{} `json:"street"`
	StreetNumber interface{} `json:"streetNumber"`
}

func (c *Client) reverseGeocodeAmap(ctx context.Context, lat, lng float64) (*models.Address, error) {
	// 高德要求经度在前
	location := fmt.Sprintf("%.6f,%.6f", lng, lat)
	apiURL := fmt.Sprintf("%s?key=%s&location=%s&extensions=base&output=JSON",
		c.amapURL, url.QueryEscape(c.amapAPIKey), url.QueryEscape(location))

	var result amapRegeoResponse
	if err := c.getJSON(ctx, apiURL, &result); err != nil {
		return nil, err
	}
	if result.Status != "1" {
		return nil, fmt.Errorf("amap api error: %s (code: %s)", result.Info, result.InfoCode)
	}
	if result.Regeocode == nil {
		return nil, fmt.Errorf("no regeocode result")
	}

	comp := result.Regeocode.AddressComponent
	address := &models.Address{
		FormattedAddress: result.Regeocode.FormattedAddress,
		Country:          comp.Country,
		Province:         comp.Province,
		City:             interfaceToString(comp.City),
		District:         interfaceToString(comp.District),
		Township:         interfaceToString(comp.Township),
		Street:           interfaceToString(comp.Street),
		StreetNumber:     interfaceToString(comp.StreetNumber),
	}

	c.logger.Debug("Geocoded via Amap",
		zap.Float64("lat", lat),
		zap.Float64("lng", lng),
		zap.String("address", address.FormattedAddress))
	return address, nil
}

// ============ Nominatim ============

type nominatimResponse struct {
	DisplayName string           `json:"display_name"`
	Address     nominatimAddress `json:"address"`
}

type nominatimAddress struct {
	HouseNumber string `json:"house_number"`
	Road        string `json:"road"`
	Suburb      string `json:"suburb"`
	City        string `json:"city"`
	Town        string `json:"town"`
	Village     string `json:"village"`
	County      string `json:"county"`
	State       string `json:"state"`
	Country     string `json:"country"`
}

func (c *Client) reverseGeocodeNominatim(ctx context.Context, lat, lng float64) (*models.Address, error) {
	if err := c.nominatimLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("nominatim rate limit: %w", err)
	}

	apiURL := fmt.Sprintf("%s?lat=%.6f&lon=%.6f&format=json", c.nominatimURL, lat, lng)

	var result nominatimResponse
	if err := c.getJSON(ctx, apiURL, &result); err != nil {
		return nil, err
	}

	// 城市可能出现在 city/town/village 中
	city := result.Address.City
	if city == "" {
		city = result.Address.Town
	}
	if city == "" {
		city = result.Address.Village
	}

	address := &models.Address{
		FormattedAddress: result.DisplayName,
		Country:          result.Address.Country,
		Province:         result.Address.State,
		City:             city,
		District:         result.Address.County,
		Township:         result.Address.Suburb,
		Street:           result.Address.Road,
		StreetNumber:     result.Address.HouseNumber,
	}

	c.logger.Debug("Geocoded via Nominatim",
		zap.Float64("lat", lat),
		zap.Float64("lng", lng),
		zap.String("address", address.FormattedAddress))
	return address, nil
}

func interfaceToString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
