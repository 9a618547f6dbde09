package models

import "time"

// Setting 持久化的键值配置项，所有类型化配置都序列化成字符串保存
type Setting struct {
	Key   string `json:"key" db:"key"`
	Value string `json:"value" db:"value"`
}

// DayStats 单日定位统计
type DayStats struct {
	Date           string     `json:"date"`
	Count          int        `json:"count"`
	FirstFixAt     *time.Time `json:"first_fix_at,omitempty"`
	LastFixAt      *time.Time `json:"last_fix_at,omitempty"`
	DistanceMeters float64    `json:"distance_meters"`
	TripCount      int        `json:"trip_count"`
}
