package hydraulics

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedNoise always returns the midpoint so the noise factor is exactly 1.
type fixedNoise float64

func (f fixedNoise) Float64() float64 { return float64(f) }

func TestEfficiencyBands(t *testing.T) {
	cases := []struct {
		power float64
		want  float64
	}{
		{0, 0.55},
		{29.9, 0.55},
		{30, 0.78},
		{49.9, 0.78},
		{50, 0.72},
		{69.9, 0.72},
		{70, 0.60},
		{150, 0.60},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Efficiency(tc.power), "power %v", tc.power)
	}
}

func TestSimulateNormalMode(t *testing.T) {
	tank := NewTank(8.0, DefaultTankParams())
	sim := NewSimulator(DefaultParams(), tank, fixedNoise(0.5))

	res := sim.Simulate(45, false)
	// head uses the level before the step: 25 + (10 - 8)
	assert.InDelta(t, 27.0, res.HeadM, 1e-9)
	assert.Equal(t, 0.78, res.Efficiency)
	assert.InDelta(t, 8.05, res.TankLevelM, 1e-9)

	lps := 45 * 1000 * 0.78 / (1000 * 9.81 * 27.0) * 50
	assert.Equal(t, int(lps*60), res.FlowLPM)
}

func TestSimulateLeakMode(t *testing.T) {
	tank := NewTank(8.0, DefaultTankParams())
	sim := NewSimulator(DefaultParams(), tank, fixedNoise(0.5))

	res := sim.Simulate(75, true)
	assert.InDelta(t, 0.60*0.7, res.Efficiency, 1e-9)
	assert.InDelta(t, 7.85, res.TankLevelM, 1e-9)
	assert.Equal(t, 65.0, tank.Snapshot().OutflowLPS)

	lps := 75 * 1000 * 0.60 / (1000 * 9.81 * 27.0) * 50 * 0.6
	assert.Equal(t, int(lps*60), res.FlowLPM)
}

func TestNoiseStaysWithinBounds(t *testing.T) {
	p := DefaultParams()
	base := 45 * 1000 * 0.78 / (1000 * 9.81 * 25.0) * 50 * 60
	for _, u := range []float64{0, 0.25, 0.999999} {
		tank := NewTank(10.0, DefaultTankParams())
		// inflow exceeds outflow so the level stays pinned at max and head at 25
		sim := NewSimulator(p, tank, fixedNoise(u))
		res := sim.Simulate(45, false)
		assert.GreaterOrEqual(t, float64(res.FlowLPM), base*0.95-1)
		assert.LessOrEqual(t, float64(res.FlowLPM), base*1.05)
	}
}

func TestTankLevelStaysClamped(t *testing.T) {
	params := DefaultTankParams()
	params.SafeguardThresholdM = 0
	tank := NewTank(9.9, params)
	for i := 0; i < 50; i++ {
		_, s := tank.Advance(false)
		require.LessOrEqual(t, s.LevelM, params.MaxLevelM)
	}
	for i := 0; i < 200; i++ {
		_, s := tank.Advance(true)
		require.GreaterOrEqual(t, s.LevelM, params.MinLevelM)
	}
	assert.Equal(t, params.MinLevelM, tank.Snapshot().LevelM)
}

func TestSafeguardResetsToExactLevel(t *testing.T) {
	tank := NewTank(8.0, DefaultTankParams())
	prev := tank.Snapshot().LevelM
	for i := 0; i < 100; i++ {
		_, s := tank.Advance(true)
		if s.Reset {
			assert.Equal(t, 8.0, s.LevelM)
			assert.Less(t, prev-0.15, 2.0+1e-9)
			assert.Equal(t, uint64(1), tank.Resets())
			return
		}
		require.GreaterOrEqual(t, s.LevelM, 2.0)
		prev = s.LevelM
	}
	t.Fatalf("safeguard never triggered, level %v", prev)
}

func TestRestore(t *testing.T) {
	tank := NewTank(8.0, DefaultTankParams())
	tank.Advance(true)
	tank.Restore()
	snap := tank.Snapshot()
	assert.Equal(t, 8.0, snap.LevelM)
	assert.Equal(t, uint64(0), snap.Step)
}

func TestConcurrentSimulationCountsEveryStep(t *testing.T) {
	tank := NewTank(8.0, DefaultTankParams())
	sim := NewSimulator(DefaultParams(), tank, rand.New(rand.NewSource(7)))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(leak bool) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				res := sim.Simulate(60, leak)
				if res.TankLevelM < 0.5 || res.TankLevelM > 10 {
					t.Errorf("tank level out of bounds: %v", res.TankLevelM)
				}
			}
		}(i%2 == 0)
	}
	wg.Wait()
	assert.Equal(t, uint64(200), tank.Snapshot().Step)
}

func TestJitterAndIntn(t *testing.T) {
	sim := NewSimulator(DefaultParams(), nil, rand.New(rand.NewSource(3)))
	for i := 0; i < 100; i++ {
		v := sim.Jitter(100, 0.03)
		require.GreaterOrEqual(t, v, 97.0)
		require.LessOrEqual(t, v, 103.0)
		n := sim.Intn(3, 8)
		require.GreaterOrEqual(t, n, 3)
		require.Less(t, n, 8)
	}
}
