package geo

import "math"

// earthRadius 地球平均半径 (米)
const earthRadius = 6371000.0

// metersPerDegreeLat 每一度纬度约等于的米数，用于包围盒粗筛
const metersPerDegreeLat = 111000.0

// Haversine 计算两个坐标点之间的大圆距离 (米)
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1Rad)*math.Cos(lat2Rad)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}

// BoundingBoxExcludes 包围盒粗筛：点明显落在半径之外时返回 true，
// 粗筛通过的点再做完整的 Haversine 精确判断
func BoundingBoxExcludes(lat, lon, centerLat, centerLon, radius float64) bool {
	if math.Abs(lat-centerLat) > radius/metersPerDegreeLat {
		return true
	}
	cosLat := math.Cos(centerLat * math.Pi / 180)
	if cosLat <= 0 {
		// 极点附近经度间距退化，直接交给精确判断
		return false
	}
	return math.Abs(lon-centerLon) > radius/(metersPerDegreeLat*cosLat)
}

// WithinRadius 判断点是否落在圆形区域内，边界点算在内
func WithinRadius(lat, lon, centerLat, centerLon, radius float64) bool {
	if BoundingBoxExcludes(lat, lon, centerLat, centerLon, radius) {
		return false
	}
	return Haversine(lat, lon, centerLat, centerLon) <= radius
}
