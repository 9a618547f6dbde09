package models

import "time"

// QueueItem 等待上传的定位，成功发送或重试耗尽后删除
type QueueItem struct {
	ID         int64     `json:"id" db:"id"`
	LocationID int64     `json:"location_id" db:"location_id"`
	Payload    string    `json:"payload" db:"payload"`
	RetryCount int       `json:"retry_count" db:"retry_count"`
	LastError  *string   `json:"last_error,omitempty" db:"last_error"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
