package models

import "time"

// Vehicle 运营方维护的车辆档案
type Vehicle struct {
	ID        int64     `json:"id" db:"id"`
	FleetID   int64     `json:"fleet_id" db:"fleet_id"`
	Name      string    `json:"name" db:"name"`
	Plate     string    `json:"plate" db:"plate"`
	VIN       string    `json:"vin" db:"vin"`
	Make      string    `json:"make" db:"make"`
	Model     string    `json:"model" db:"model"`
	Year      int       `json:"year" db:"year"`
	Color     string    `json:"color" db:"color"`
	Notes     string    `json:"notes" db:"notes"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Device 供应商上报的车载设备，以 (credential_id, vendor_serial) 唯一
// VehicleID 为空表示尚未关联到车辆档案
type Device struct {
	ID           int64      `json:"id" db:"id"`
	CredentialID int64      `json:"credential_id" db:"credential_id"`
	VendorSerial string     `json:"vendor_serial" db:"vendor_serial"`
	VehicleID    *int64     `json:"vehicle_id,omitempty" db:"vehicle_id"`
	Name         string     `json:"name" db:"name"`
	VIN          string     `json:"vin" db:"vin"`
	Plate        string     `json:"plate" db:"plate"`
	Make         string     `json:"make" db:"make"`
	Model        string     `json:"model" db:"model"`
	Year         int        `json:"year" db:"year"`
	ColorCode    int        `json:"color_code" db:"color_code"`
	Notes        string     `json:"notes" db:"notes"`
	Active       bool       `json:"active" db:"active"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty" db:"last_synced_at"`
}

// Color 颜色名称
func (d *Device) Color() string {
	return ColorName(d.ColorCode)
}

var colorNames = map[int]string{
	1:  "White",
	2:  "Black",
	3:  "Silver",
	4:  "Blue",
	5:  "Red",
	6:  "Gray",
	7:  "Green",
	8:  "Yellow",
	9:  "Orange",
	10: "Brown",
	11: "Gold",
	12: "Beige",
	13: "Purple",
}

// ColorName 供应商颜色代码转颜色名称，未知代码返回 Unknown
func ColorName(code int) string {
	if name, ok := colorNames[code]; ok {
		return name
	}
	return "Unknown"
}
