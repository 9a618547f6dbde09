package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dietrichmax/colota-sub003/internal/geo"
	"github.com/dietrichmax/colota-sub003/internal/models"
)

// 相邻定位间隔超过该秒数视为一段行程结束
const tripGapSeconds = 900

// LocationReader 统计需要的定位查询
type LocationReader interface {
	ListByRange(ctx context.Context, from, to int64) ([]*models.Location, error)
}

// StatsService 定位统计
type StatsService struct {
	locations LocationReader
}

// NewStatsService 创建统计服务
func NewStatsService(locations LocationReader) *StatsService {
	return &StatsService{locations: locations}
}

// Day 统计某天（UTC，格式 2006-01-02）的定位数据。
// 行程按超过 tripGapSeconds 的空档切分，至少两个点才算一段，
// 里程只累计行程内相邻点的球面距离，跨空档不计。
func (s *StatsService) Day(ctx context.Context, date string) (*models.DayStats, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("parse date: %w", err)
	}

	from := day.Unix()
	to := day.Add(24*time.Hour).Unix() - 1

	locs, err := s.locations.ListByRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	stats := &models.DayStats{Date: date, Count: len(locs)}
	if len(locs) == 0 {
		return stats, nil
	}

	first := time.Unix(locs[0].Timestamp, 0).UTC()
	last := time.Unix(locs[len(locs)-1].Timestamp, 0).UTC()
	stats.FirstFixAt = &first
	stats.LastFixAt = &last

	inTrip := false
	for i := 1; i < len(locs); i++ {
		prev, cur := locs[i-1], locs[i]
		if cur.Timestamp-prev.Timestamp > tripGapSeconds {
			inTrip = false
			continue
		}
		if !inTrip {
			stats.TripCount++
			inTrip = true
		}
		stats.DistanceMeters += geo.Haversine(prev.Latitude, prev.Longitude, cur.Latitude, cur.Longitude)
	}

	return stats, nil
}
