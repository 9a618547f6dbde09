package models

import "time"

// Geofence 圆形地理围栏，enabled 且 pause_tracking 的围栏内暂停采集
type Geofence struct {
	ID            int64     `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Latitude      float64   `json:"latitude" db:"latitude"`
	Longitude     float64   `json:"longitude" db:"longitude"`
	Radius        float64   `json:"radius" db:"radius"` // 米
	Enabled       bool      `json:"enabled" db:"enabled"`
	PauseTracking bool      `json:"pause_tracking" db:"pause_tracking"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
