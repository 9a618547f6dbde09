package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"strings"
	"testing"

	"github.com/dietrichmax/colota-sub003/internal/models"
	"github.com/matryer/is"
)

func sampleLocations() []*models.Location {
	ele := 34.5
	vel := 12.3
	return []*models.Location{
		{ID: 1, Latitude: 52.520, Longitude: 13.405, Accuracy: 10, Altitude: &ele, Speed: &vel, Battery: 80, BatteryStatus: 2, Timestamp: 1710489600},
		{ID: 2, Latitude: 52.521, Longitude: 13.406, Accuracy: 8, Battery: 79, BatteryStatus: 2, Timestamp: 1710489660},
		// 超过 900 秒的空档
		{ID: 3, Latitude: 52.530, Longitude: 13.410, Accuracy: 12, Battery: 78, BatteryStatus: 1, Timestamp: 1710493600},
	}
}

func TestCSV(t *testing.T) {
	is := is.New(t)

	var buf bytes.Buffer
	is.NoErr(CSV(&buf, sampleLocations()))

	rows, err := csv.NewReader(&buf).ReadAll()
	is.NoErr(err)
	is.Equal(len(rows), 4) // 表头加三行数据

	is.Equal(rows[0][0], "id")
	is.Equal(rows[1][2], "52.52")
	is.Equal(rows[1][5], "34.5")
	is.Equal(rows[1][6], "12.3")
	is.Equal(rows[2][5], "") // 缺省的海拔留空
	is.Equal(rows[1][1], "2024-03-15T08:00:00Z")
}

func TestCSVEmpty(t *testing.T) {
	is := is.New(t)

	var buf bytes.Buffer
	is.NoErr(CSV(&buf, nil))

	rows, err := csv.NewReader(&buf).ReadAll()
	is.NoErr(err)
	is.Equal(len(rows), 1)
}

func TestGPXSegmentsOnGap(t *testing.T) {
	is := is.New(t)

	var buf bytes.Buffer
	is.NoErr(GPX(&buf, "morning", sampleLocations()))

	out := buf.String()
	is.True(strings.HasPrefix(out, xml.Header))

	var doc gpxFile
	is.NoErr(xml.Unmarshal(buf.Bytes(), &doc))

	is.Equal(doc.Version, "1.1")
	is.Equal(doc.Trk.Name, "morning")
	is.Equal(len(doc.Trk.Segments), 2) // 空档切成两段
	is.Equal(len(doc.Trk.Segments[0].Points), 2)
	is.Equal(len(doc.Trk.Segments[1].Points), 1)

	pt := doc.Trk.Segments[0].Points[0]
	is.Equal(pt.Lat, 52.520)
	is.Equal(pt.Lon, 13.405)
	is.True(pt.Ele != nil)
	is.Equal(*pt.Ele, 34.5)
	is.Equal(pt.Time, "2024-03-15T08:00:00Z")

	// 没有海拔的点不该出现 ele 元素
	is.True(!strings.Contains(out, "<ele>0</ele>"))
}

func TestGPXEmpty(t *testing.T) {
	is := is.New(t)

	var buf bytes.Buffer
	is.NoErr(GPX(&buf, "", nil))

	var doc gpxFile
	is.NoErr(xml.Unmarshal(buf.Bytes(), &doc))
	is.Equal(len(doc.Trk.Segments), 0)
}

func TestGeoJSON(t *testing.T) {
	is := is.New(t)

	var buf bytes.Buffer
	is.NoErr(GeoJSON(&buf, sampleLocations()))

	var doc struct {
		Type     string `json:"type"`
		Features []struct {
			Type     string `json:"type"`
			Geometry struct {
				Type        string          `json:"type"`
				Coordinates json.RawMessage `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	is.NoErr(json.Unmarshal(buf.Bytes(), &doc))

	is.Equal(doc.Type, "FeatureCollection")
	is.Equal(len(doc.Features), 4) // 整轨加三个点

	is.Equal(doc.Features[0].Geometry.Type, "LineString")
	is.Equal(doc.Features[0].Properties["point_count"], float64(3))

	first := doc.Features[1]
	is.Equal(first.Geometry.Type, "Point")
	var coords [2]float64
	is.NoErr(json.Unmarshal(first.Geometry.Coordinates, &coords))
	is.Equal(coords, [2]float64{13.405, 52.520}) // GeoJSON 先经度后纬度
	is.Equal(first.Properties["speed"], 12.3)
	is.Equal(first.Properties["time"], "2024-03-15T08:00:00Z")

	// 缺省字段不写进属性
	_, hasSpeed := doc.Features[2].Properties["speed"]
	is.True(!hasSpeed)
}
