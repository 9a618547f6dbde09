package models

import "time"

// 电池充电状态，对应上报 payload 的 bs 字段
const (
	BatteryStatusUnknown   = 0
	BatteryStatusUnplugged = 1
	BatteryStatusCharging  = 2
	BatteryStatusFull      = 3
)

// Location 一条已入库的 GPS 定位记录，写入后不再修改
type Location struct {
	ID            int64     `json:"id" db:"id"`
	Latitude      float64   `json:"latitude" db:"latitude"`
	Longitude     float64   `json:"longitude" db:"longitude"`
	Accuracy      float64   `json:"accuracy" db:"accuracy"`
	Altitude      *float64  `json:"altitude,omitempty" db:"altitude"`
	Speed         *float64  `json:"speed,omitempty" db:"speed"`     // m/s
	Bearing       *float64  `json:"bearing,omitempty" db:"bearing"` // 0-360 度
	Battery       int       `json:"battery" db:"battery"`
	BatteryStatus int       `json:"battery_status" db:"battery_status"`
	Timestamp     int64     `json:"timestamp" db:"timestamp"` // unix 秒
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Fix 定位源上报的一次原始定位，字段名与出站 payload 保持一致
type Fix struct {
	Latitude      float64  `json:"lat"`
	Longitude     float64  `json:"lon"`
	Accuracy      float64  `json:"acc"`
	Altitude      *float64 `json:"alt,omitempty"`
	Speed         *float64 `json:"vel,omitempty"`  // m/s
	Bearing       *float64 `json:"bear,omitempty"` // 0-360 度
	Battery       *int     `json:"batt,omitempty"`
	BatteryStatus *int     `json:"bs,omitempty"`
	Timestamp     int64    `json:"tst,omitempty"` // unix 秒，缺省用服务器时间
}
