package payload

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/dietrichmax/colota-sub003/internal/models"
)

// 内部字段名，FieldMap 的 key 固定取自这里
const (
	FieldLat     = "lat"
	FieldLon     = "lon"
	FieldAcc     = "acc"
	FieldAlt     = "alt"
	FieldVel     = "vel"
	FieldBatt    = "batt"
	FieldBs      = "bs"
	FieldTst     = "tst"
	FieldBearing = "bear"
)

// FieldMap 出站字段名映射，没有覆盖的字段沿用内部字段名
type FieldMap map[string]string

// DefaultFieldMap 内置默认映射，全部字段按原名输出
func DefaultFieldMap() FieldMap {
	return FieldMap{
		FieldLat:     FieldLat,
		FieldLon:     FieldLon,
		FieldAcc:     FieldAcc,
		FieldAlt:     FieldAlt,
		FieldVel:     FieldVel,
		FieldBatt:    FieldBatt,
		FieldBs:      FieldBs,
		FieldTst:     FieldTst,
		FieldBearing: FieldBearing,
	}
}

// Key 查出站字段名
func (m FieldMap) Key(field string) string {
	if m != nil {
		if v, ok := m[field]; ok && v != "" {
			return v
		}
	}
	return field
}

// ParseFieldMap 解析持久化的字段映射 JSON。
// 输入为空或无法解析时回退到默认映射，绝不返回错误。
func ParseFieldMap(s string) FieldMap {
	if s == "" {
		return DefaultFieldMap()
	}

	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil || len(m) == 0 {
		return DefaultFieldMap()
	}
	return FieldMap(m)
}

// ParseCustomFields 解析持久化的自定义字段 JSON。
// 输入为空或无法解析时返回空集合，绝不返回错误。
func ParseCustomFields(s string) map[string]string {
	if s == "" {
		return map[string]string{}
	}

	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return map[string]string{}
	}
	return m
}

// Build 把定位记录转换成出站 payload。
// 先写入自定义字段（一律字符串），再写入定位字段，
// key 撞上时定位字段的类型化值覆盖自定义字符串，顺序不能反。
func Build(loc *models.Location, fm FieldMap, custom map[string]string) map[string]any {
	p := make(map[string]any, len(custom)+9)

	for k, v := range custom {
		p[k] = v
	}

	p[fm.Key(FieldLat)] = loc.Latitude
	p[fm.Key(FieldLon)] = loc.Longitude
	p[fm.Key(FieldAcc)] = int(math.Round(loc.Accuracy))
	if loc.Altitude != nil {
		p[fm.Key(FieldAlt)] = int(math.Round(*loc.Altitude))
	}
	if loc.Speed != nil {
		p[fm.Key(FieldVel)] = int(math.Round(*loc.Speed))
	}
	p[fm.Key(FieldBatt)] = loc.Battery
	p[fm.Key(FieldBs)] = loc.BatteryStatus
	p[fm.Key(FieldTst)] = loc.Timestamp
	if loc.Bearing != nil {
		p[fm.Key(FieldBearing)] = *loc.Bearing
	}

	return p
}

// Marshal 序列化 payload，入队时保存的就是这个字符串
func Marshal(p map[string]any) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}
