package gis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydrotwin/internal/model"
)

func TestHaversineProperties(t *testing.T) {
	assert.Equal(t, 0.0, Haversine(26.9, 75.8, 26.9, 75.8))
	assert.InDelta(t, 111.19, Haversine(0, 0, 0, 1), 0.01)

	a := Haversine(26.9124, 75.7873, 26.9344, 75.7673)
	b := Haversine(26.9344, 75.7673, 26.9124, 75.7873)
	assert.Equal(t, a, b)
}

func registry() []model.Consumer {
	return []model.Consumer{
		{ID: "far", Name: "Far", Lat: 26.95, Lon: 75.83},
		{ID: "near", Name: "Near", Lat: 26.9145, Lon: 75.7834},
		{ID: "mid", Name: "Mid", Lat: 26.9160, Lon: 75.7850},
	}
}

func TestFindNearSortsAndFilters(t *testing.T) {
	got, err := FindNear(DefaultLeakLocation, registry(), 0.5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)
	assert.LessOrEqual(t, got[0].ExactDistanceKM(), got[1].ExactDistanceKM())
	assert.Equal(t, roundTo(got[1].ExactDistanceKM(), 3), got[1].DistanceToLeakKM)
}

func TestFindNearFallsBackToNearest(t *testing.T) {
	far := []model.Consumer{
		{ID: "a", Lat: 27.5, Lon: 76.0},
		{ID: "b", Lat: 27.0, Lon: 75.9},
	}
	got, err := FindNear(DefaultLeakLocation, far, 0.5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
	assert.Greater(t, got[0].DistanceToLeakKM, 0.5)
}

func TestFindNearEmptyRegistry(t *testing.T) {
	_, err := FindNear(DefaultLeakLocation, nil, 0.5)
	require.ErrorIs(t, err, model.ErrEmptyRegistry)
}

func TestNearest(t *testing.T) {
	got, err := Nearest(DefaultLeakLocation, registry())
	require.NoError(t, err)
	assert.Equal(t, "near", got.ID)
}

func TestLoadLeakLocation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "satellite.json")
	body := `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[75.0,26.0],[75.1,26.0],[75.1,26.1],[75.0,26.0]]]},"properties":{}},
		{"type":"Feature","geometry":{"type":"Point","coordinates":[75.79,26.91]},"properties":{"moisture_index":0.87}}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	loc, err := LoadLeakLocation(path)
	require.NoError(t, err)
	assert.Equal(t, model.LeakLocation{Lat: 26.91, Lon: 75.79}, loc)

	loc, err = LoadLeakLocation(filepath.Join(dir, "missing.json"))
	require.ErrorIs(t, err, model.ErrMissingInput)
	assert.Equal(t, DefaultLeakLocation, loc)
}

func TestFileRegistry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"JA-1","name":"Asha","locality":"Bani Park","lat":26.93,"lon":75.79,"avg_daily_usage_liters":540,"phone":"98290"}]`), 0o644))

	reg, err := OpenRegistry(context.Background(), "file", "", path)
	require.NoError(t, err)
	consumers, err := reg.Consumers(context.Background())
	require.NoError(t, err)
	require.Len(t, consumers, 1)
	assert.Equal(t, 540.0, consumers[0].AvgDailyUsageLiters)

	_, err = NewFileRegistry(filepath.Join(dir, "none.json")).Consumers(context.Background())
	require.ErrorIs(t, err, model.ErrMissingInput)

	_, err = OpenRegistry(context.Background(), "mongo", "", "")
	require.Error(t, err)
}

func TestUnavailableRegistryReportsMissingInput(t *testing.T) {
	reg := UnavailableRegistry{Err: errors.New("dial tcp 127.0.0.1:1: connection refused")}
	_, err := reg.Consumers(context.Background())
	require.ErrorIs(t, err, model.ErrMissingInput)
	assert.Contains(t, err.Error(), "connection refused")

	_, err = UnavailableRegistry{}.Consumers(context.Background())
	require.ErrorIs(t, err, model.ErrMissingInput)
}
