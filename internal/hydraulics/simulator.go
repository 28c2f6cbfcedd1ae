// Package hydraulics infers pump flow and head from electrical power draw
// (closed-form, single pass) and advances the shared tank state.
package hydraulics

import (
	"math"
	"math/rand"
	"sync"

	"hydrotwin/internal/model"
	"hydrotwin/internal/telemetry"
)

const (
	waterDensity = 1000.0
	gravity      = 9.81

	leakEfficiencyFactor = 0.7
	leakDeliveryFactor   = 0.6
)

type Params struct {
	StaticHeadM float64
	DemoScale   float64
	NoisePct    float64
}

func DefaultParams() Params {
	return Params{StaticHeadM: 25.0, DemoScale: 50.0, NoisePct: 0.05}
}

// NoiseSource yields uniform values in [0, 1). *rand.Rand satisfies it.
type NoiseSource interface {
	Float64() float64
}

type Simulator struct {
	params Params
	tank   *Tank
	mu     sync.Mutex
	noise  NoiseSource
}

func NewSimulator(params Params, tank *Tank, noise NoiseSource) *Simulator {
	if noise == nil {
		noise = rand.New(rand.NewSource(1))
	}
	if tank == nil {
		tank = NewTank(8.0, DefaultTankParams())
	}
	return &Simulator{params: params, tank: tank, noise: noise}
}

// Efficiency is the pump efficiency curve by power band.
func Efficiency(powerKW float64) float64 {
	switch {
	case powerKW < 30:
		return 0.55
	case powerKW < 50:
		return 0.78
	case powerKW < 70:
		return 0.72
	default:
		return 0.60
	}
}

// Simulate runs one step. Calls are serialized so that the noise draw and the
// tank update of one step never interleave with another.
func (s *Simulator) Simulate(powerKW float64, leakMode bool) model.FlowResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	efficiency := Efficiency(powerKW)
	drawdown, snap := s.tank.Advance(leakMode)
	head := s.params.StaticHeadM + drawdown

	flowLPS := (powerKW * 1000 * efficiency) / (waterDensity * gravity * head)
	flowLPS *= s.params.DemoScale
	flowLPS *= 1.0 + s.uniform(s.params.NoisePct)

	if leakMode {
		efficiency *= leakEfficiencyFactor
		flowLPS *= leakDeliveryFactor
	}
	telemetry.ObserveSimulation(leakMode, snap.LevelM, snap.Reset)

	return model.FlowResult{
		FlowLPM:    int(math.Floor(flowLPS * 60)),
		Efficiency: efficiency,
		TankLevelM: snap.LevelM,
		HeadM:      head,
	}
}

// Jitter perturbs value by a uniform factor in [-pct, +pct] from the same source.
func (s *Simulator) Jitter(value, pct float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return value * (1.0 + s.uniform(pct))
}

// Intn draws from the simulator's source; used for cosmetic fields that must stay reproducible.
func (s *Simulator) Intn(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + int(s.noise.Float64()*float64(hi-lo))
}

func (s *Simulator) uniform(pct float64) float64 {
	if pct <= 0 {
		return 0
	}
	return (2*s.noise.Float64() - 1) * pct
}

func (s *Simulator) Tank() *Tank {
	return s.tank
}
