package service

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/dietrichmax/colota-sub003/internal/models"
	"github.com/matryer/is"
)

type fakeLocReader struct {
	locs []*models.Location
	from int64
	to   int64
}

func (f *fakeLocReader) ListByRange(_ context.Context, from, to int64) ([]*models.Location, error) {
	f.from, f.to = from, to
	return f.locs, nil
}

func locAt(ts int64, lat float64) *models.Location {
	return &models.Location{Latitude: lat, Longitude: 13.4, Accuracy: 10, Timestamp: ts}
}

func TestDayStats(t *testing.T) {
	is := is.New(t)

	base := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC).Unix()
	reader := &fakeLocReader{locs: []*models.Location{
		// 第一段行程：三个点，每步约 111 米
		locAt(base, 52.500),
		locAt(base+60, 52.501),
		locAt(base+120, 52.502),
		// 超过 900 秒的空档，新行程
		locAt(base+2120, 52.510),
		locAt(base+2180, 52.511),
		// 再一个空档后的孤点，不算行程
		locAt(base+4180, 52.520),
	}}
	s := NewStatsService(reader)

	st, err := s.Day(context.Background(), "2024-03-15")
	is.NoErr(err)

	is.Equal(st.Date, "2024-03-15")
	is.Equal(st.Count, 6)
	is.Equal(st.TripCount, 2)
	// 行程内三段位移，跨空档的不计
	is.True(math.Abs(st.DistanceMeters-333.6) < 1.0)
	is.Equal(st.FirstFixAt.Unix(), base)
	is.Equal(st.LastFixAt.Unix(), base+4180)

	// 查询窗口精确覆盖当天
	dayStart := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC).Unix()
	is.Equal(reader.from, dayStart)
	is.Equal(reader.to, dayStart+86399)
}

func TestDayStatsEmpty(t *testing.T) {
	is := is.New(t)

	s := NewStatsService(&fakeLocReader{})
	st, err := s.Day(context.Background(), "2024-03-15")
	is.NoErr(err)

	is.Equal(st.Count, 0)
	is.Equal(st.TripCount, 0)
	is.Equal(st.DistanceMeters, 0.0)
	is.Equal(st.FirstFixAt, nil)
	is.Equal(st.LastFixAt, nil)
}

func TestDayStatsBadDate(t *testing.T) {
	is := is.New(t)

	s := NewStatsService(&fakeLocReader{})
	_, err := s.Day(context.Background(), "15.03.2024")
	is.True(err != nil)
}
