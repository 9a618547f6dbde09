package geofence

import (
	"context"
	"fmt"
	"time"

	"github.com/dietrichmax/colota-sub003/internal/cache"
	"github.com/dietrichmax/colota-sub003/internal/geo"
	"github.com/dietrichmax/colota-sub003/internal/models"
	"go.uber.org/zap"
)

// 围栏缓存时长，增删改时会显式失效，不依赖 TTL 保证正确性
const zoneCacheTTL = 30 * time.Second

// Store 围栏数据来源
type Store interface {
	ListActive(ctx context.Context) ([]*models.Geofence, error)
}

// Engine 暂停区域判定引擎，每个定位都会经过这里
type Engine struct {
	store  Store
	zones  *cache.Value[[]*models.Geofence]
	logger *zap.Logger
}

// NewEngine 创建围栏引擎
func NewEngine(store Store, logger *zap.Logger) *Engine {
	return &Engine{
		store:  store,
		zones:  cache.NewValue[[]*models.Geofence](zoneCacheTTL),
		logger: logger,
	}
}

// ActiveZoneContaining 返回包含该点的第一个暂停区域，不在任何区域内时返回 nil。
// 每个围栏先做包围盒粗筛再做 Haversine 精确判定，距离等于半径算在内。
func (e *Engine) ActiveZoneContaining(ctx context.Context, lat, lon float64) (*models.Geofence, error) {
	zones, ok := e.zones.Get()
	if !ok {
		var err error
		zones, err = e.store.ListActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("load pause zones: %w", err)
		}
		e.zones.Set(zones)
		e.logger.Debug("Pause zone cache refreshed", zap.Int("zones", len(zones)))
	}

	for _, z := range zones {
		if geo.WithinRadius(lat, lon, z.Latitude, z.Longitude, z.Radius) {
			return z, nil
		}
	}
	return nil, nil
}

// Invalidate 围栏增删改之后调用，下一次判定强制回源
func (e *Engine) Invalidate() {
	e.zones.Invalidate()
}
