package models

import "time"

// 跟踪配置档的触发条件类型
const (
	ConditionCharging    = "charging"
	ConditionVehicleMode = "vehicle-mode"
	ConditionSpeedAbove  = "speed-above"
	ConditionSpeedBelow  = "speed-below"
)

// TrackingProfile 条件触发的跟踪参数覆盖规则。
// 多条规则同时匹配时 priority 高者生效，相同 priority 取 id 小者。
type TrackingProfile struct {
	ID                       int64     `json:"id" db:"id"`
	Name                     string    `json:"name" db:"name"`
	IntervalMs               int       `json:"interval_ms" db:"interval_ms"`
	MinDistance              float64   `json:"min_update_distance" db:"min_update_distance"` // 米
	SyncIntervalSeconds      int       `json:"sync_interval_seconds" db:"sync_interval_seconds"`
	Priority                 int       `json:"priority" db:"priority"`
	ConditionType            string    `json:"condition_type" db:"condition_type"`
	SpeedThreshold           *float64  `json:"speed_threshold,omitempty" db:"speed_threshold"` // m/s
	DeactivationDelaySeconds int       `json:"deactivation_delay_seconds" db:"deactivation_delay_seconds"`
	Enabled                  bool      `json:"enabled" db:"enabled"`
	CreatedAt                time.Time `json:"created_at" db:"created_at"`
}

// Conditions 条件源上报的设备状态快照
type Conditions struct {
	Charging    bool `json:"charging"`
	VehicleMode bool `json:"vehicle_mode"`
	Metered     bool `json:"metered"`
}
