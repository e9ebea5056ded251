package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Address 逆地理编码得到的结构化地址（行程起止点）
type Address struct {
	FormattedAddress string `json:"formatted_address,omitempty"`
	Country          string `json:"country,omitempty"`
	Province         string `json:"province,omitempty"`
	City             string `json:"city,omitempty"`
	District         string `json:"district,omitempty"`
	Township         string `json:"township,omitempty"`
	Street           string `json:"street,omitempty"`
	StreetNumber     string `json:"street_number,omitempty"`
}

// Value 写入 JSONB 列
func (a Address) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan 从 JSONB 列读取
func (a *Address) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("scan address: unsupported type %T", value)
	}
}
