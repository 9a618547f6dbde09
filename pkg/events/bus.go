package events

import "sync"

// 管线对外发布的事件名
const (
	TypeLocationUpdate  = "locationUpdate"
	TypeTrackingStopped = "trackingStopped"
	TypeSyncError       = "syncError"
	TypeSyncProgress    = "syncProgress"
	TypeProfileSwitch   = "profileSwitch"
	TypePauseZoneChange = "pauseZoneChange"
)

// Event 总线上的一条事件
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// SyncErrorData syncError 事件内容，连续同步失败达到阈值时发布
type SyncErrorData struct {
	QueuedCount int    `json:"queued_count"`
	DeviceID    string `json:"device_id,omitempty"`
	Message     string `json:"message"`
}

// SyncProgressData syncProgress 事件内容，手动刷新时增量发布
type SyncProgressData struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// ProfileSwitchData profileSwitch 事件内容，ProfileID 为空表示回到默认参数
type ProfileSwitchData struct {
	ProfileID   *int64  `json:"profile_id"`
	ProfileName *string `json:"profile_name"`
}

// PauseZoneChangeData pauseZoneChange 事件内容，Zone 为空表示离开暂停区域
type PauseZoneChangeData struct {
	Zone   *string `json:"zone"`
	Paused bool    `json:"paused"`
}

// Bus 进程内发布订阅总线。
// Publish 从不阻塞，订阅者积压时丢事件，有没有人订阅都照常发布。
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
}

// NewBus 创建总线
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe 新增一个订阅通道
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 64)
	b.subs = append(b.subs, ch)
	return ch
}

// Unsubscribe 移除订阅并关闭通道
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// Publish 发布事件
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub <- e:
		default:
		}
	}
}
