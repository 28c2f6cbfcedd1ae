package classifier

import (
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydrotwin/internal/model"
)

func normalReadings(n int, seed int64) []model.TelemetryReading {
	rng := rand.New(rand.NewSource(seed))
	out := make([]model.TelemetryReading, n)
	for i := range out {
		power := 45 + rng.NormFloat64()*2
		out[i] = model.TelemetryReading{
			PowerKW:     power,
			VoltageV:    395 + rng.Float64()*10,
			CurrentA:    power / 400 * 1000,
			FrequencyHz: 49.8 + rng.Float64()*0.4,
			PowerFactor: 0.85 + rng.Float64()*0.1,
		}
	}
	return out
}

func spike() model.TelemetryReading {
	return model.TelemetryReading{PowerKW: 130, VoltageV: 360, CurrentA: 325, PowerFactor: 0.55}
}

func centre() model.TelemetryReading {
	return model.TelemetryReading{PowerKW: 45, VoltageV: 400, CurrentA: 112.5, PowerFactor: 0.9}
}

func TestTrainedClassifierFlagsSpike(t *testing.T) {
	c := New(DefaultOptions(), nil)
	require.NoError(t, c.Train(normalReadings(300, 1)))
	assert.Equal(t, Trained, c.State())

	labels := c.Score([]model.TelemetryReading{centre(), spike()})
	require.Len(t, labels, 2)
	assert.False(t, labels[0].IsAnomaly, "centre score %v", labels[0].AnomalyScore)
	assert.True(t, labels[1].IsAnomaly, "spike score %v", labels[1].AnomalyScore)
	assert.Less(t, labels[1].AnomalyScore, labels[0].AnomalyScore)
}

func TestContaminationFractionOnTrainingSet(t *testing.T) {
	train := normalReadings(400, 2)
	c := New(DefaultOptions(), nil)
	require.NoError(t, c.Train(train))
	flagged := 0
	for _, l := range c.Score(train) {
		if l.IsAnomaly {
			flagged++
		}
	}
	// offset is the 5th percentile of training scores
	assert.InDelta(t, 20, flagged, 2)
}

func TestSeededTrainingIsReproducible(t *testing.T) {
	train := normalReadings(200, 3)
	a := New(DefaultOptions(), nil)
	b := New(DefaultOptions(), nil)
	require.NoError(t, a.Train(train))
	require.NoError(t, b.Train(train))
	batch := []model.TelemetryReading{centre(), spike(), train[17]}
	assert.Equal(t, a.Score(batch), b.Score(batch))
}

func TestTrainWithoutDataFails(t *testing.T) {
	c := New(DefaultOptions(), nil)
	err := c.Train(nil)
	require.ErrorIs(t, err, model.ErrMissingInput)
	assert.Equal(t, Untrained, c.State())
	assert.False(t, c.Ready())
}

func TestUntrainedClassifierFitsOnRequestBatch(t *testing.T) {
	c := New(DefaultOptions(), nil)
	batch := append(normalReadings(150, 4), spike())
	labels := c.Score(batch)
	require.Len(t, labels, len(batch))
	assert.Equal(t, DegradedTrainedOnRequest, c.State())
	assert.Equal(t, len(batch), c.TrainedSamples())
	assert.True(t, labels[len(labels)-1].IsAnomaly)

	// the fallback fit happens once; later batches reuse it
	again := c.Score([]model.TelemetryReading{centre()})
	assert.False(t, again[0].IsAnomaly)
	assert.Equal(t, DegradedTrainedOnRequest, c.State())
}

func TestConcurrentScoring(t *testing.T) {
	c := New(DefaultOptions(), nil)
	require.NoError(t, c.Train(normalReadings(200, 5)))
	want := c.ScoreOne(spike())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := c.ScoreOne(spike())
			if got != want {
				t.Errorf("score drifted under concurrency: %v != %v", got, want)
			}
		}()
	}
	wg.Wait()
}

func TestEmptyBatch(t *testing.T) {
	c := New(DefaultOptions(), nil)
	assert.Empty(t, c.Score(nil))
	assert.Equal(t, Untrained, c.State())
}

func TestPercentileInterpolates(t *testing.T) {
	assert.InDelta(t, 1.5, percentile([]float64{4, 1, 2, 3}, 100.0/6), 1e-9)
	assert.Equal(t, 1.0, percentile([]float64{3, 1, 2}, 0))
	assert.Equal(t, 3.0, percentile([]float64{3, 1, 2}, 100))
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 10.24, averagePathLength(256), 0.01)
}

func TestSingleReadingBatchLeavesClassifierUntrained(t *testing.T) {
	c := New(DefaultOptions(), nil)
	label := c.ScoreOne(centre())
	assert.True(t, label.Unscored)
	assert.False(t, label.IsAnomaly)
	assert.False(t, math.IsNaN(label.AnomalyScore))
	assert.Equal(t, Untrained, c.State())
	assert.Equal(t, 0, c.TrainedSamples())

	_, err := json.Marshal(label)
	require.NoError(t, err)

	// a real batch afterwards still gets its fallback fit
	batch := append(normalReadings(150, 6), model.TelemetryReading{PowerKW: 95, VoltageV: 370, CurrentA: 240, PowerFactor: 0.6})
	labels := c.Score(batch)
	assert.Equal(t, DegradedTrainedOnRequest, c.State())
	last := labels[len(labels)-1]
	assert.False(t, last.Unscored)
	assert.True(t, last.IsAnomaly, "spike score %v", last.AnomalyScore)
}

func TestIdenticalReadingsAreNotFitted(t *testing.T) {
	c := New(DefaultOptions(), nil)
	flat := []model.TelemetryReading{centre(), centre(), centre()}
	for _, l := range c.Score(flat) {
		assert.True(t, l.Unscored)
	}
	assert.Equal(t, Untrained, c.State())
	require.ErrorIs(t, c.Train(flat), ErrInsufficientSpread)
	require.ErrorIs(t, c.Train(flat[:1]), ErrInsufficientSpread)
}

func TestSingleSampleForestScoresFinite(t *testing.T) {
	f := fitForest([][]float64{{1, 2, 3, 4}}, 10, 256, 0.05, rand.New(rand.NewSource(1)))
	d := f.Decision([]float64{1, 2, 3, 4})
	assert.False(t, math.IsNaN(d) || math.IsInf(d, 0))
}
