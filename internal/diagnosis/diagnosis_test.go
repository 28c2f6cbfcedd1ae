package diagnosis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydrotwin/internal/model"
)

func moisture() model.FeatureCollection {
	fc := model.NewFeatureCollection()
	fc.Features = append(fc.Features,
		model.PointFeature(75.7833, 26.9144, map[string]any{"moisture_index": 0.87, "node": "J5"}),
		model.PointFeature(75.79, 26.92, map[string]any{"moisture_index": 0.61}),
	)
	return fc
}

func TestRainSuppressesEverything(t *testing.T) {
	res := Diagnose(Rain, moisture())
	assert.Equal(t, ActionSuppress, res.Report.Action)
	assert.Equal(t, SignalCommonMode, res.Report.SignalClass)
	assert.Equal(t, 0.92, res.Report.GlobalMoistureIndex)
	assert.Equal(t, "FeatureCollection", res.Geometry.Type)
	assert.NotNil(t, res.Geometry.Features)
	assert.Empty(t, res.Geometry.Features)
	assert.Equal(t, 2, res.Report.InputFeatures)
}

func TestClearTriggersWithEnrichedFeatures(t *testing.T) {
	in := moisture()
	res := Diagnose(Clear, in)
	assert.Equal(t, ActionTrigger, res.Report.Action)
	assert.Equal(t, SignalDifferential, res.Report.SignalClass)
	assert.Equal(t, 0.05, res.Report.GlobalMoistureIndex)
	require.Len(t, res.Geometry.Features, 2)

	for i, f := range res.Geometry.Features {
		assert.Equal(t, in.Features[i].Geometry, f.Geometry)
		assert.Equal(t, "PERSISTENT", f.Properties["persistence"])
		assert.Equal(t, in.Features[i].Properties["moisture_index"], f.Properties["moisture_index"])
	}
	_, mutated := in.Features[0].Properties["persistence"]
	assert.False(t, mutated)
}

func TestParseWeather(t *testing.T) {
	w, err := ParseWeather(" rain ")
	require.NoError(t, err)
	assert.Equal(t, Rain, w)

	_, err = ParseWeather("FOG")
	require.ErrorIs(t, err, model.ErrUnknownWeather)

	_, err = DiagnoseRaw("", moisture())
	require.ErrorIs(t, err, model.ErrUnknownWeather)
}

func TestUnknownWeatherSuppresses(t *testing.T) {
	for _, w := range []Weather{"", "FOG", "clear"} {
		res := Diagnose(w, moisture())
		assert.Equal(t, ActionSuppress, res.Report.Action, "weather %q", w)
		assert.Equal(t, SignalUnclassified, res.Report.SignalClass)
		assert.NotNil(t, res.Geometry.Features)
		assert.Empty(t, res.Geometry.Features)
		assert.Equal(t, 0, res.Report.EmittedFeatures)
		assert.Equal(t, 2, res.Report.InputFeatures)
	}
}
