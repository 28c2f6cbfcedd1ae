package model

const (
	GeometryPoint      = "Point"
	GeometryLineString = "LineString"
	GeometryPolygon    = "Polygon"
)

type FeatureCollection struct {
	Type     string         `json:"type"`
	Features []Feature      `json:"features"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// Geometry keeps coordinates raw so points, lines and polygons share one type.
type Geometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

func NewFeatureCollection() FeatureCollection {
	return FeatureCollection{Type: "FeatureCollection", Features: []Feature{}}
}

func PointFeature(lon, lat float64, props map[string]any) Feature {
	return Feature{
		Type:       "Feature",
		Geometry:   Geometry{Type: GeometryPoint, Coordinates: []float64{lon, lat}},
		Properties: props,
	}
}

func LineFeature(from, to [2]float64, props map[string]any) Feature {
	return Feature{
		Type: "Feature",
		Geometry: Geometry{
			Type:        GeometryLineString,
			Coordinates: [][]float64{{from[0], from[1]}, {to[0], to[1]}},
		},
		Properties: props,
	}
}

// PointCoordinates returns lon, lat for a Point geometry decoded from JSON or built in code.
func (g Geometry) PointCoordinates() (lon, lat float64, ok bool) {
	if g.Type != GeometryPoint {
		return 0, 0, false
	}
	switch c := g.Coordinates.(type) {
	case []float64:
		if len(c) >= 2 {
			return c[0], c[1], true
		}
	case []any:
		if len(c) >= 2 {
			x, okx := c[0].(float64)
			y, oky := c[1].(float64)
			if okx && oky {
				return x, y, true
			}
		}
	}
	return 0, 0, false
}

// Clone copies the feature with a fresh properties map.
func (f Feature) Clone() Feature {
	props := make(map[string]any, len(f.Properties)+2)
	for k, v := range f.Properties {
		props[k] = v
	}
	return Feature{Type: f.Type, Geometry: f.Geometry, Properties: props}
}
