package gis

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"hydrotwin/internal/model"
)

// DefaultLeakLocation is used when no anomaly source is available.
var DefaultLeakLocation = model.LeakLocation{Lat: 26.9144, Lon: 75.7833}

// LoadFeatures reads a GeoJSON feature collection of satellite moisture anomalies.
func LoadFeatures(path string) (model.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.FeatureCollection{}, fmt.Errorf("satellite features %s: %w", path, model.ErrMissingInput)
		}
		return model.FeatureCollection{}, err
	}
	fc := model.NewFeatureCollection()
	if err := json.Unmarshal(data, &fc); err != nil {
		return model.FeatureCollection{}, fmt.Errorf("decode satellite features: %w", err)
	}
	if fc.Features == nil {
		fc.Features = []model.Feature{}
	}
	return fc, nil
}

// LeakFromFeatures returns the first Point geometry. GeoJSON stores lon before lat.
func LeakFromFeatures(fc model.FeatureCollection) (model.LeakLocation, bool) {
	for _, f := range fc.Features {
		if lon, lat, ok := f.Geometry.PointCoordinates(); ok {
			return model.LeakLocation{Lat: lat, Lon: lon}, true
		}
	}
	return model.LeakLocation{}, false
}

// LoadLeakLocation falls back to DefaultLeakLocation when the file is absent
// or carries no point; the error is returned alongside for logging.
func LoadLeakLocation(path string) (model.LeakLocation, error) {
	fc, err := LoadFeatures(path)
	if err != nil {
		return DefaultLeakLocation, err
	}
	loc, ok := LeakFromFeatures(fc)
	if !ok {
		return DefaultLeakLocation, fmt.Errorf("no point feature in %s: %w", path, model.ErrMissingInput)
	}
	return loc, nil
}
