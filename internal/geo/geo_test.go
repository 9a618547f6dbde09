package geo

import (
	"math"
	"testing"

	"github.com/matryer/is"
)

func TestHaversineBerlinMunich(t *testing.T) {
	is := is.New(t)

	// 柏林到慕尼黑约 504 km，允许 1% 误差
	d := Haversine(52.52, 13.405, 48.1351, 11.582)
	is.True(math.Abs(d-504000) < 5040)
}

func TestHaversineSamePoint(t *testing.T) {
	is := is.New(t)

	is.Equal(Haversine(48.1351, 11.582, 48.1351, 11.582), 0.0)
}

func TestHaversineShortDistance(t *testing.T) {
	is := is.New(t)

	// 0.001 度纬度差约 111 米
	d := Haversine(52.52, 13.405, 52.521, 13.405)
	is.True(d > 110 && d < 112)
}

func TestWithinRadius(t *testing.T) {
	is := is.New(t)

	center := struct{ lat, lon float64 }{52.52, 13.405}

	is.True(WithinRadius(52.5205, 13.405, center.lat, center.lon, 100))   // 约 56 米，在内
	is.True(!WithinRadius(52.522, 13.405, center.lat, center.lon, 100))   // 约 222 米，在外
	is.True(!WithinRadius(48.1351, 11.582, center.lat, center.lon, 5000)) // 另一座城市
}

func TestWithinRadiusBoundary(t *testing.T) {
	is := is.New(t)

	// 半径恰好等于两点距离时，边界点算在内
	d := Haversine(52.5205, 13.4057, 52.52, 13.405)
	is.True(WithinRadius(52.5205, 13.4057, 52.52, 13.405, d))
	is.True(!WithinRadius(52.5205, 13.4057, 52.52, 13.405, d-0.5))
}

func TestBoundingBoxExcludes(t *testing.T) {
	is := is.New(t)

	// 远点直接被粗筛拒绝
	is.True(BoundingBoxExcludes(53.0, 13.405, 52.52, 13.405, 100))
	is.True(BoundingBoxExcludes(52.52, 14.0, 52.52, 13.405, 100))

	// 圆内的点不会被粗筛误拒
	is.True(!BoundingBoxExcludes(52.5205, 13.405, 52.52, 13.405, 100))
	is.True(!BoundingBoxExcludes(52.52, 13.4057, 52.52, 13.405, 100))
}
