package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dietrichmax/colota-sub003/internal/dispatch"
	"github.com/dietrichmax/colota-sub003/internal/payload"
	"github.com/dietrichmax/colota-sub003/internal/profile"
	"github.com/dietrichmax/colota-sub003/internal/repository"
	"github.com/dietrichmax/colota-sub003/internal/syncer"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 配置键，settings 表里的所有已知条目
const (
	SettingEndpoint      = "sync.endpoint"
	SettingSyncInterval  = "sync.interval_seconds"
	SettingRetryInterval = "sync.retry_interval_seconds"
	SettingMaxRetries    = "sync.max_retries"
	SettingOffline       = "sync.offline"
	SettingWifiOnly      = "sync.wifi_only"
	SettingMethod        = "sync.method"
	SettingHeaders       = "sync.headers"
	SettingFieldMap      = "payload.field_map"
	SettingCustomFields  = "payload.custom_fields"
	SettingIntervalMs    = "tracking.interval_ms"
	SettingMinDistance   = "tracking.min_distance"
	SettingDeviceID      = "device.id"
)

// 已知键的类型化默认值
const (
	defaultSyncIntervalSeconds  = 0 // 即时模式
	defaultRetryIntervalSeconds = 30
	defaultMaxRetries           = 5
	defaultIntervalMs           = 60000
	defaultMinDistance          = 0.0
)

// defaultSettings 首次启动写入的默认配置，device.id 单独铸造
var defaultSettings = map[string]string{
	SettingEndpoint:      "",
	SettingSyncInterval:  "0",
	SettingRetryInterval: "30",
	SettingMaxRetries:    "5",
	SettingOffline:       "false",
	SettingWifiOnly:      "false",
	SettingMethod:        http.MethodPost,
	SettingHeaders:       "{}",
	SettingFieldMap:      "{}",
	SettingCustomFields:  "{}",
	SettingIntervalMs:    "60000",
	SettingMinDistance:   "0",
}

// SettingStore 配置服务需要的持久化操作
type SettingStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	GetAll(ctx context.Context) (map[string]string, error)
}

// SettingsService 配置服务。
// 所有配置以字符串落库，这里负责类型化读取和装配快照，
// 坏值回落到默认值，不让持久层的脏数据打断管线。
type SettingsService struct {
	repo   SettingStore
	logger *zap.Logger

	// wiring 阶段设置一次，启动后只读
	onChange func()
}

// NewSettingsService 创建配置服务
func NewSettingsService(repo SettingStore, logger *zap.Logger) *SettingsService {
	return &SettingsService{repo: repo, logger: logger}
}

// OnChange 注册配置写入后的回调，用来热应用新配置
func (s *SettingsService) OnChange(fn func()) {
	s.onChange = fn
}

// Seed 补齐缺失的默认配置，首次启动时铸造设备标识
func (s *SettingsService) Seed(ctx context.Context) error {
	existing, err := s.repo.GetAll(ctx)
	if err != nil {
		return err
	}

	for key, value := range defaultSettings {
		if _, ok := existing[key]; ok {
			continue
		}
		if err := s.repo.Set(ctx, key, value); err != nil {
			return err
		}
	}

	if _, ok := existing[SettingDeviceID]; !ok {
		id := uuid.NewString()
		if err := s.repo.Set(ctx, SettingDeviceID, id); err != nil {
			return err
		}
		s.logger.Info("Device id minted", zap.String("device_id", id))
	}

	return nil
}

// Get 读取单个配置项
func (s *SettingsService) Get(ctx context.Context, key string) (string, error) {
	return s.repo.Get(ctx, key)
}

// Set 写入配置项并触发热应用回调
func (s *SettingsService) Set(ctx context.Context, key, value string) error {
	if err := s.repo.Set(ctx, key, value); err != nil {
		return err
	}
	// 值里可能有凭据，只记键名
	s.logger.Info("Setting updated", zap.String("key", key))

	if s.onChange != nil {
		s.onChange()
	}
	return nil
}

// SetMany 批量写入配置项，全部落库后只触发一次回调
func (s *SettingsService) SetMany(ctx context.Context, values map[string]string) error {
	for key, value := range values {
		if err := s.repo.Set(ctx, key, value); err != nil {
			return err
		}
		s.logger.Info("Setting updated", zap.String("key", key))
	}

	if len(values) > 0 && s.onChange != nil {
		s.onChange()
	}
	return nil
}

// List 列出全部配置，认证头的值做掩码处理
func (s *SettingsService) List(ctx context.Context) (map[string]string, error) {
	all, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	if raw, ok := all[SettingHeaders]; ok {
		masked := dispatch.MaskHeaders(s.parseHeaders(raw))
		b, err := json.Marshal(masked)
		if err != nil {
			return nil, err
		}
		all[SettingHeaders] = string(b)
	}

	return all, nil
}

// DeviceID 设备标识，Seed 之后总是存在
func (s *SettingsService) DeviceID(ctx context.Context) string {
	id, err := s.repo.Get(ctx, SettingDeviceID)
	if err != nil {
		return ""
	}
	return id
}

// SyncConfig 装配同步配置快照
func (s *SettingsService) SyncConfig(ctx context.Context) *syncer.Config {
	endpoint, err := s.repo.Get(ctx, SettingEndpoint)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Error("Failed to read endpoint setting", zap.Error(err))
	}

	method := http.MethodPost
	if m, err := s.repo.Get(ctx, SettingMethod); err == nil && m != "" {
		method = m
	}

	return &syncer.Config{
		Endpoint:             endpoint,
		SyncIntervalSeconds:  s.intSetting(ctx, SettingSyncInterval, defaultSyncIntervalSeconds),
		RetryIntervalSeconds: s.intSetting(ctx, SettingRetryInterval, defaultRetryIntervalSeconds),
		MaxRetries:           s.intSetting(ctx, SettingMaxRetries, defaultMaxRetries),
		Offline:              s.boolSetting(ctx, SettingOffline, false),
		WifiOnly:             s.boolSetting(ctx, SettingWifiOnly, false),
		Method:               method,
		Headers:              s.AuthHeaders(ctx),
	}
}

// TrackingParams 装配默认跟踪参数
func (s *SettingsService) TrackingParams(ctx context.Context) profile.Params {
	return profile.Params{
		IntervalMs:          s.intSetting(ctx, SettingIntervalMs, defaultIntervalMs),
		MinDistance:         s.floatSetting(ctx, SettingMinDistance, defaultMinDistance),
		SyncIntervalSeconds: s.intSetting(ctx, SettingSyncInterval, defaultSyncIntervalSeconds),
	}
}

// PayloadConfig 装配 payload 字段映射和自定义字段快照
func (s *SettingsService) PayloadConfig(ctx context.Context) (payload.FieldMap, map[string]string) {
	fm := payload.DefaultFieldMap()
	if raw, err := s.repo.Get(ctx, SettingFieldMap); err == nil {
		fm = payload.ParseFieldMap(raw)
	}

	custom := map[string]string{}
	if raw, err := s.repo.Get(ctx, SettingCustomFields); err == nil {
		custom = payload.ParseCustomFields(raw)
	}

	return fm, custom
}

// AuthHeaders 出站请求要带的认证头，未掩码
func (s *SettingsService) AuthHeaders(ctx context.Context) map[string]string {
	raw, err := s.repo.Get(ctx, SettingHeaders)
	if err != nil {
		return map[string]string{}
	}
	return s.parseHeaders(raw)
}

// parseHeaders 解析持久化的请求头 JSON，坏数据回落为空
func (s *SettingsService) parseHeaders(raw string) map[string]string {
	headers := map[string]string{}
	if raw == "" {
		return headers
	}
	if err := json.Unmarshal([]byte(raw), &headers); err != nil {
		s.logger.Warn("Malformed headers setting, ignoring", zap.Error(err))
		return map[string]string{}
	}
	return headers
}

func (s *SettingsService) intSetting(ctx context.Context, key string, fallback int) int {
	raw, err := s.repo.Get(ctx, key)
	if err != nil {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		s.logger.Warn("Invalid setting value, using default",
			zap.String("key", key), zap.String("value", raw))
		return fallback
	}
	return n
}

func (s *SettingsService) floatSetting(ctx context.Context, key string, fallback float64) float64 {
	raw, err := s.repo.Get(ctx, key)
	if err != nil {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.logger.Warn("Invalid setting value, using default",
			zap.String("key", key), zap.String("value", raw))
		return fallback
	}
	return f
}

func (s *SettingsService) boolSetting(ctx context.Context, key string, fallback bool) bool {
	raw, err := s.repo.Get(ctx, key)
	if err != nil {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		s.logger.Warn("Invalid setting value, using default",
			zap.String("key", key), zap.String("value", raw))
		return fallback
	}
	return b
}
