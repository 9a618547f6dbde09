package profile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dietrichmax/colota-sub003/internal/cache"
	"github.com/dietrichmax/colota-sub003/internal/models"
	"github.com/dietrichmax/colota-sub003/pkg/events"
	"go.uber.org/zap"
)

// 配置档缓存时长，增删改时显式失效
const profileCacheTTL = 30 * time.Second

// 速度滚动平均的样本窗口
const speedWindowSize = 5

// Store 配置档数据来源
type Store interface {
	ListEnabled(ctx context.Context) ([]*models.TrackingProfile, error)
}

// Params 生效中的跟踪参数
type Params struct {
	IntervalMs          int     `json:"interval_ms"`
	MinDistance         float64 `json:"min_update_distance"`
	SyncIntervalSeconds int     `json:"sync_interval_seconds"`
}

// Engine 跟踪配置档引擎。
// 按条件选出最高优先级的配置档，切换生效参数，
// 条件失配后按配置档各自的延迟做滞回再回退。
type Engine struct {
	store    Store
	profiles *cache.Value[[]*models.TrackingProfile]
	bus      *events.Bus
	logger   *zap.Logger

	mu       sync.Mutex
	machine  *Machine
	defaults Params
	active   *models.TrackingProfile
	pending  *time.Timer
	deadline time.Time
	speeds   []float64
	onApply  func(Params)
	now      func() time.Time
}

// NewEngine 创建配置档引擎
func NewEngine(store Store, bus *events.Bus, logger *zap.Logger) *Engine {
	e := &Engine{
		store:    store,
		profiles: cache.NewValue[[]*models.TrackingProfile](profileCacheTTL),
		bus:      bus,
		logger:   logger,
		now:      time.Now,
	}
	e.machine = NewMachine(func(from, to string) {
		logger.Debug("Profile state changed", zap.String("from", from), zap.String("to", to))
	})
	return e
}

// SetDefaults 设置无配置档命中时的默认参数
func (e *Engine) SetDefaults(p Params) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defaults = p
}

// OnApply 注册参数切换回调，激活、切换、回退时都会带上生效参数调用。
// 回调在引擎锁内执行，回调里不能再调用引擎方法。
func (e *Engine) OnApply(fn func(Params)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onApply = fn
}

// RecordSpeed 记录一次定位速度样本 (m/s)，超出窗口的旧样本滑出
func (e *Engine) RecordSpeed(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.speeds = append(e.speeds, v)
	if len(e.speeds) > speedWindowSize {
		e.speeds = e.speeds[len(e.speeds)-speedWindowSize:]
	}
}

// Evaluate 用当前条件快照评估配置档。
// 条件源不可用时调用方传零值快照即可，对应条件按不命中处理。
func (e *Engine) Evaluate(ctx context.Context, cond models.Conditions) error {
	profiles, err := e.loadProfiles(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	match := e.selectMatchLocked(profiles, cond)

	switch e.machine.CurrentState() {
	case StateDefault:
		if match != nil {
			e.activateLocked(match)
		}
	case StateActive:
		if match == nil {
			e.holdLocked()
		} else if match.ID != e.active.ID {
			// 激活中换档不经过状态机，直接切换
			e.swapLocked(match)
		}
	case StateDeactivating:
		if match != nil {
			e.resumeLocked(match)
		} else if !e.now().Before(e.deadline) {
			e.revertLocked()
		}
	}
	return nil
}

// Recheck 配置档增删改后调用，强制回源并立即重新评估
func (e *Engine) Recheck(ctx context.Context, cond models.Conditions) error {
	e.profiles.Invalidate()
	return e.Evaluate(ctx, cond)
}

// Invalidate 只失效缓存，评估留到下一个定位
func (e *Engine) Invalidate() {
	e.profiles.Invalidate()
}

// Active 当前激活的配置档，默认状态下为 nil
func (e *Engine) Active() *models.TrackingProfile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// State 状态机当前状态
func (e *Engine) State() string {
	return e.machine.CurrentState()
}

// EffectiveParams 当前生效的跟踪参数
func (e *Engine) EffectiveParams() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.effectiveParamsLocked()
}

func (e *Engine) effectiveParamsLocked() Params {
	if e.active == nil {
		return e.defaults
	}
	return Params{
		IntervalMs:          e.active.IntervalMs,
		MinDistance:         e.active.MinDistance,
		SyncIntervalSeconds: e.active.SyncIntervalSeconds,
	}
}

func (e *Engine) loadProfiles(ctx context.Context) ([]*models.TrackingProfile, error) {
	if cached, ok := e.profiles.Get(); ok {
		return cached, nil
	}

	profiles, err := e.store.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tracking profiles: %w", err)
	}
	e.profiles.Set(profiles)
	return profiles, nil
}

// selectMatchLocked 过滤命中条件的配置档，取最高优先级，同优先级取 id 小者
func (e *Engine) selectMatchLocked(profiles []*models.TrackingProfile, cond models.Conditions) *models.TrackingProfile {
	avg, hasAvg := e.averageSpeedLocked()

	var best *models.TrackingProfile
	for _, p := range profiles {
		if !matches(p, cond, avg, hasAvg) {
			continue
		}
		if best == nil || p.Priority > best.Priority || (p.Priority == best.Priority && p.ID < best.ID) {
			best = p
		}
	}
	return best
}

func matches(p *models.TrackingProfile, cond models.Conditions, avgSpeed float64, hasAvg bool) bool {
	switch p.ConditionType {
	case models.ConditionCharging:
		return cond.Charging
	case models.ConditionVehicleMode:
		return cond.VehicleMode
	case models.ConditionSpeedAbove:
		return hasAvg && p.SpeedThreshold != nil && avgSpeed > *p.SpeedThreshold
	case models.ConditionSpeedBelow:
		return hasAvg && p.SpeedThreshold != nil && avgSpeed < *p.SpeedThreshold
	default:
		return false
	}
}

func (e *Engine) averageSpeedLocked() (float64, bool) {
	if len(e.speeds) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range e.speeds {
		sum += v
	}
	return sum / float64(len(e.speeds)), true
}

func (e *Engine) activateLocked(p *models.TrackingProfile) {
	if err := e.machine.Trigger(EventActivate); err != nil {
		e.logger.Warn("Profile activation rejected", zap.Error(err))
		return
	}
	e.stopTimerLocked()
	e.active = p
	e.logger.Info("Tracking profile activated", zap.String("profile", p.Name), zap.Int64("id", p.ID))
	e.publishSwitchLocked()
	e.applyLocked()
}

func (e *Engine) swapLocked(p *models.TrackingProfile) {
	e.active = p
	e.logger.Info("Tracking profile switched", zap.String("profile", p.Name), zap.Int64("id", p.ID))
	e.publishSwitchLocked()
	e.applyLocked()
}

// holdLocked 条件失配，按激活中配置档自己的延迟进入滞回等待
func (e *Engine) holdLocked() {
	delay := time.Duration(e.active.DeactivationDelaySeconds) * time.Second

	if err := e.machine.Trigger(EventHold); err != nil {
		e.logger.Warn("Profile hold rejected", zap.Error(err))
		return
	}

	if delay <= 0 {
		e.revertLocked()
		return
	}

	e.deadline = e.now().Add(delay)
	e.stopTimerLocked()
	e.pending = time.AfterFunc(delay, e.onDelayExpired)
	e.logger.Debug("Profile deactivation delayed",
		zap.String("profile", e.active.Name),
		zap.Duration("delay", delay))
}

// resumeLocked 延迟期内条件重新命中，取消回退立即切换
func (e *Engine) resumeLocked(p *models.TrackingProfile) {
	if err := e.machine.Trigger(EventActivate); err != nil {
		e.logger.Warn("Profile resume rejected", zap.Error(err))
		return
	}
	e.stopTimerLocked()

	if e.active != nil && e.active.ID == p.ID {
		// 同一配置档恢复，参数没变不重复发事件
		return
	}
	e.active = p
	e.logger.Info("Tracking profile switched during delay", zap.String("profile", p.Name))
	e.publishSwitchLocked()
	e.applyLocked()
}

func (e *Engine) revertLocked() {
	if err := e.machine.Trigger(EventRevert); err != nil {
		e.logger.Warn("Profile revert rejected", zap.Error(err))
		return
	}
	e.stopTimerLocked()
	previous := e.active
	e.active = nil
	if previous != nil {
		e.logger.Info("Tracking profile deactivated", zap.String("profile", previous.Name))
	}
	e.publishSwitchLocked()
	e.applyLocked()
}

func (e *Engine) onDelayExpired() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.machine.CurrentState() != StateDeactivating {
		return
	}
	if e.now().Before(e.deadline) {
		return
	}
	e.revertLocked()
}

func (e *Engine) stopTimerLocked() {
	if e.pending != nil {
		e.pending.Stop()
		e.pending = nil
	}
}

func (e *Engine) publishSwitchLocked() {
	data := events.ProfileSwitchData{}
	if e.active != nil {
		data.ProfileID = &e.active.ID
		data.ProfileName = &e.active.Name
	}
	e.bus.Publish(events.Event{Type: events.TypeProfileSwitch, Data: data})
}

func (e *Engine) applyLocked() {
	if e.onApply != nil {
		e.onApply(e.effectiveParamsLocked())
	}
}
