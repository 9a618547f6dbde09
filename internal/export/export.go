package export

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dietrichmax/colota-sub003/internal/models"
)

// 相邻点间隔超过该秒数时另起一段 trkseg
const segmentGapSeconds = 900

// CSV 写出 CSV 轨迹，可选字段缺省时留空
func CSV(w io.Writer, locs []*models.Location) error {
	cw := csv.NewWriter(w)

	header := []string{"id", "time", "latitude", "longitude", "accuracy", "altitude", "speed", "bearing", "battery", "battery_status"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, loc := range locs {
		row := []string{
			strconv.FormatInt(loc.ID, 10),
			time.Unix(loc.Timestamp, 0).UTC().Format(time.RFC3339),
			formatFloat(loc.Latitude),
			formatFloat(loc.Longitude),
			formatFloat(loc.Accuracy),
			formatOptFloat(loc.Altitude),
			formatOptFloat(loc.Speed),
			formatOptFloat(loc.Bearing),
			strconv.Itoa(loc.Battery),
			strconv.Itoa(loc.BatteryStatus),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

type gpxFile struct {
	XMLName xml.Name `xml:"gpx"`
	Version string   `xml:"version,attr"`
	Creator string   `xml:"creator,attr"`
	Xmlns   string   `xml:"xmlns,attr"`
	Trk     gpxTrack `xml:"trk"`
}

type gpxTrack struct {
	Name     string       `xml:"name,omitempty"`
	Segments []gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

type gpxPoint struct {
	Lat  float64  `xml:"lat,attr"`
	Lon  float64  `xml:"lon,attr"`
	Ele  *float64 `xml:"ele,omitempty"`
	Time string   `xml:"time,omitempty"`
}

// GPX 写出 GPX 1.1 轨迹，长时间空档切分轨迹段
func GPX(w io.Writer, name string, locs []*models.Location) error {
	doc := gpxFile{
		Version: "1.1",
		Creator: "colota",
		Xmlns:   "http://www.topografix.com/GPX/1/1",
		Trk:     gpxTrack{Name: name},
	}

	var seg gpxSegment
	var prev *models.Location
	for _, loc := range locs {
		if prev != nil && loc.Timestamp-prev.Timestamp > segmentGapSeconds {
			doc.Trk.Segments = append(doc.Trk.Segments, seg)
			seg = gpxSegment{}
		}
		seg.Points = append(seg.Points, gpxPoint{
			Lat:  loc.Latitude,
			Lon:  loc.Longitude,
			Ele:  loc.Altitude,
			Time: time.Unix(loc.Timestamp, 0).UTC().Format(time.RFC3339),
		})
		prev = loc
	}
	if len(seg.Points) > 0 {
		doc.Trk.Segments = append(doc.Trk.Segments, seg)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("write gpx header: %w", err)
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode gpx: %w", err)
	}
	return nil
}

type geoJSONGeometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

type geoJSONFeature struct {
	Type       string          `json:"type"`
	Geometry   geoJSONGeometry `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

type geoJSONCollection struct {
	Type     string           `json:"type"`
	Features []geoJSONFeature `json:"features"`
}

// GeoJSON 写出 FeatureCollection：一条整轨 LineString，
// 外加每个定位一个带属性的 Point。
func GeoJSON(w io.Writer, locs []*models.Location) error {
	line := make([][2]float64, 0, len(locs))
	for _, loc := range locs {
		line = append(line, [2]float64{loc.Longitude, loc.Latitude})
	}

	features := make([]geoJSONFeature, 0, len(locs)+1)
	features = append(features, geoJSONFeature{
		Type:     "Feature",
		Geometry: geoJSONGeometry{Type: "LineString", Coordinates: line},
		Properties: map[string]any{
			"point_count": len(locs),
		},
	})

	for _, loc := range locs {
		props := map[string]any{
			"time":           time.Unix(loc.Timestamp, 0).UTC().Format(time.RFC3339),
			"accuracy":       loc.Accuracy,
			"battery":        loc.Battery,
			"battery_status": loc.BatteryStatus,
		}
		if loc.Altitude != nil {
			props["altitude"] = *loc.Altitude
		}
		if loc.Speed != nil {
			props["speed"] = *loc.Speed
		}
		if loc.Bearing != nil {
			props["bearing"] = *loc.Bearing
		}
		features = append(features, geoJSONFeature{
			Type:       "Feature",
			Geometry:   geoJSONGeometry{Type: "Point", Coordinates: [2]float64{loc.Longitude, loc.Latitude}},
			Properties: props,
		})
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(geoJSONCollection{Type: "FeatureCollection", Features: features}); err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
