package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dietrichmax/colota-sub003/internal/geo"
	"github.com/dietrichmax/colota-sub003/internal/geofence"
	"github.com/dietrichmax/colota-sub003/internal/models"
	"github.com/dietrichmax/colota-sub003/internal/payload"
	"github.com/dietrichmax/colota-sub003/internal/profile"
	"github.com/dietrichmax/colota-sub003/internal/syncer"
	"github.com/dietrichmax/colota-sub003/pkg/events"
	"go.uber.org/zap"
)

// 一次定位被丢弃的原因
const (
	DropStopped  = "stopped"
	DropPaused   = "paused"
	DropDistance = "min_distance"
)

// LocationStore 采集路径需要的定位持久化操作
type LocationStore interface {
	CreateWithQueue(ctx context.Context, loc *models.Location, payload string) (int64, error)
	GetLatest(ctx context.Context) (*models.Location, error)
}

// QueueCounter 队列积压查询
type QueueCounter interface {
	Count(ctx context.Context) (int, error)
}

// SyncControl 采集路径对同步调度器的控制面
type SyncControl interface {
	Apply(cfg *syncer.Config)
	Start()
	Stop()
	NotifyLocation(queueID int64, payload string)
	SetDeviceID(id string)
	Running() bool
	ConsecutiveFailures() int
}

// MeteredControl 网络计费状态上报
type MeteredControl interface {
	SetMetered(metered bool)
}

// TrackingStatus 跟踪管线的当前状态
type TrackingStatus struct {
	Running       bool           `json:"running"`
	DeviceID      string         `json:"device_id"`
	Params        profile.Params `json:"params"`
	ActiveProfile *string        `json:"active_profile"`
	ProfileState  string         `json:"profile_state"`
	PausedZone    *string        `json:"paused_zone"`
	QueuedCount   int            `json:"queued_count"`
	SyncFailures  int            `json:"sync_failures"`
	LastFixAt     *int64         `json:"last_fix_at,omitempty"`
}

// Tracker 采集管线。
// 每条定位依次过暂停区域、最小距离过滤，入库的同时入队，
// 再喂给配置档引擎决定后续参数。
type Tracker struct {
	locations LocationStore
	queue     QueueCounter
	settings  *SettingsService
	zones     *geofence.Engine
	profiles  *profile.Engine
	sync      SyncControl
	network   MeteredControl
	bus       *events.Bus
	logger    *zap.Logger

	mu       sync.Mutex
	running  bool
	lastFix  *models.Location
	lastZone *models.Geofence
	cond     models.Conditions
	deviceID string
}

// NewTracker 创建采集管线并挂好配置档切换回调
func NewTracker(
	locations LocationStore,
	queue QueueCounter,
	settings *SettingsService,
	zones *geofence.Engine,
	profiles *profile.Engine,
	syncCtl SyncControl,
	network MeteredControl,
	bus *events.Bus,
	logger *zap.Logger,
) *Tracker {
	t := &Tracker{
		locations: locations,
		queue:     queue,
		settings:  settings,
		zones:     zones,
		profiles:  profiles,
		sync:      syncCtl,
		network:   network,
		bus:       bus,
		logger:    logger,
	}

	// 配置档切换时把新的同步间隔热应用到调度器
	profiles.OnApply(func(p profile.Params) {
		cfg := settings.SyncConfig(context.Background())
		cfg.SyncIntervalSeconds = p.SyncIntervalSeconds
		syncCtl.Apply(cfg)
	})

	return t
}

// Start 启动跟踪：恢复最后定位、应用配置、拉起同步循环
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = true
	t.mu.Unlock()

	// 续上最后一次定位，距离过滤不因进程重启失忆
	if last, err := t.locations.GetLatest(ctx); err == nil {
		t.mu.Lock()
		t.lastFix = last
		t.mu.Unlock()
	}

	t.ApplyConfig(ctx)
	t.sync.Start()
	t.logger.Info("Tracking started")
	return nil
}

// Stop 停止跟踪和同步循环
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.mu.Unlock()

	t.sync.Stop()
	t.bus.Publish(events.Event{Type: events.TypeTrackingStopped})
	t.logger.Info("Tracking stopped")
}

// Running 跟踪是否进行中
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// ApplyConfig 重新装载配置并热应用到各组件，配置写入后由回调触发
func (t *Tracker) ApplyConfig(ctx context.Context) {
	t.profiles.SetDefaults(t.settings.TrackingParams(ctx))

	cfg := t.settings.SyncConfig(ctx)
	cfg.SyncIntervalSeconds = t.profiles.EffectiveParams().SyncIntervalSeconds
	t.sync.Apply(cfg)

	id := t.settings.DeviceID(ctx)
	t.sync.SetDeviceID(id)

	t.mu.Lock()
	t.deviceID = id
	t.mu.Unlock()
}

// HandleFix 处理一条上报定位。
// 返回入库的记录，被过滤时返回丢弃原因，两者互斥。
func (t *Tracker) HandleFix(ctx context.Context, fix *models.Fix) (*models.Location, string, error) {
	if !t.Running() {
		return nil, DropStopped, nil
	}

	zone, err := t.zones.ActiveZoneContaining(ctx, fix.Latitude, fix.Longitude)
	if err != nil {
		// 区域读不出来时放行，宁可多存一条也不丢数据
		t.logger.Error("Failed to check pause zones", zap.Error(err))
		zone = nil
	}
	t.updateZone(zone)
	if zone != nil {
		return nil, DropPaused, nil
	}

	params := t.profiles.EffectiveParams()
	t.mu.Lock()
	last := t.lastFix
	t.mu.Unlock()
	if last != nil && params.MinDistance > 0 {
		d := geo.Haversine(last.Latitude, last.Longitude, fix.Latitude, fix.Longitude)
		if d < params.MinDistance {
			return nil, DropDistance, nil
		}
	}

	loc := locationFromFix(fix)

	fieldMap, custom := t.settings.PayloadConfig(ctx)
	raw, err := payload.Marshal(payload.Build(loc, fieldMap, custom))
	if err != nil {
		return nil, "", fmt.Errorf("marshal payload: %w", err)
	}

	queueID, err := t.locations.CreateWithQueue(ctx, loc, raw)
	if err != nil {
		return nil, "", err
	}

	t.mu.Lock()
	t.lastFix = loc
	t.mu.Unlock()

	t.bus.Publish(events.Event{Type: events.TypeLocationUpdate, Data: loc})
	t.sync.NotifyLocation(queueID, raw)

	if loc.Speed != nil {
		t.profiles.RecordSpeed(*loc.Speed)
	}
	cond := t.refreshCharging(fix)
	if err := t.profiles.Evaluate(ctx, cond); err != nil {
		t.logger.Error("Failed to evaluate tracking profiles", zap.Error(err))
	}

	return loc, "", nil
}

// UpdateConditions 条件源上报设备状态，立刻重估配置档
func (t *Tracker) UpdateConditions(ctx context.Context, cond models.Conditions) error {
	t.mu.Lock()
	t.cond = cond
	t.mu.Unlock()

	t.network.SetMetered(cond.Metered)
	return t.profiles.Evaluate(ctx, cond)
}

// RecheckZoneSettings 暂停区域增删改后让缓存失效，下一条定位用新区域
func (t *Tracker) RecheckZoneSettings() {
	t.zones.Invalidate()
}

// RecheckProfiles 配置档增删改后重新装载并按当前条件评估
func (t *Tracker) RecheckProfiles(ctx context.Context) error {
	t.mu.Lock()
	cond := t.cond
	t.mu.Unlock()
	return t.profiles.Recheck(ctx, cond)
}

// Status 汇总管线状态
func (t *Tracker) Status(ctx context.Context) (*TrackingStatus, error) {
	queued, err := t.queue.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count queue: %w", err)
	}

	t.mu.Lock()
	st := &TrackingStatus{
		Running:      t.running,
		DeviceID:     t.deviceID,
		QueuedCount:  queued,
		SyncFailures: t.sync.ConsecutiveFailures(),
	}
	if t.lastZone != nil {
		name := t.lastZone.Name
		st.PausedZone = &name
	}
	if t.lastFix != nil {
		ts := t.lastFix.Timestamp
		st.LastFixAt = &ts
	}
	t.mu.Unlock()

	st.Params = t.profiles.EffectiveParams()
	st.ProfileState = t.profiles.State()
	if active := t.profiles.Active(); active != nil {
		name := active.Name
		st.ActiveProfile = &name
	}

	return st, nil
}

// updateZone 记录当前所在暂停区域，跨越边界时发事件
func (t *Tracker) updateZone(zone *models.Geofence) {
	t.mu.Lock()
	prev := t.lastZone
	t.lastZone = zone
	t.mu.Unlock()

	switch {
	case zone != nil && (prev == nil || prev.ID != zone.ID):
		name := zone.Name
		t.bus.Publish(events.Event{Type: events.TypePauseZoneChange, Data: events.PauseZoneChangeData{
			Zone:   &name,
			Paused: true,
		}})
		t.logger.Info("Entered pause zone", zap.String("zone", zone.Name))
	case zone == nil && prev != nil:
		t.bus.Publish(events.Event{Type: events.TypePauseZoneChange, Data: events.PauseZoneChangeData{
			Paused: false,
		}})
		t.logger.Info("Left pause zone", zap.String("zone", prev.Name))
	}
}

// refreshCharging 定位自带电池状态时一并更新充电条件
func (t *Tracker) refreshCharging(fix *models.Fix) models.Conditions {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fix.BatteryStatus != nil {
		bs := *fix.BatteryStatus
		t.cond.Charging = bs == models.BatteryStatusCharging || bs == models.BatteryStatusFull
	}
	return t.cond
}

// locationFromFix 原始定位转入库记录，缺时间戳用服务器时间补
func locationFromFix(fix *models.Fix) *models.Location {
	loc := &models.Location{
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Accuracy:  fix.Accuracy,
		Altitude:  fix.Altitude,
		Speed:     fix.Speed,
		Bearing:   fix.Bearing,
		Timestamp: fix.Timestamp,
	}
	if fix.Battery != nil {
		loc.Battery = *fix.Battery
	}
	if fix.BatteryStatus != nil {
		loc.BatteryStatus = *fix.BatteryStatus
	}
	if loc.Timestamp == 0 {
		loc.Timestamp = time.Now().Unix()
	}
	return loc
}
