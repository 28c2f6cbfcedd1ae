package hydraulics

import (
	"sync"
	"time"

	"hydrotwin/internal/model"
)

type TankParams struct {
	MaxLevelM        float64
	MinLevelM        float64
	InflowLPS        float64
	OutflowNormalLPS float64
	OutflowLeakLPS   float64
	Dt               float64
	// SafeguardThresholdM <= 0 disables the low-level reset.
	SafeguardThresholdM float64
	SafeguardResetM     float64
}

func DefaultTankParams() TankParams {
	return TankParams{
		MaxLevelM:           10.0,
		MinLevelM:           0.5,
		InflowLPS:           50.0,
		OutflowNormalLPS:    45.0,
		OutflowLeakLPS:      65.0,
		Dt:                  0.01,
		SafeguardThresholdM: 2.0,
		SafeguardResetM:     8.0,
	}
}

// Tank is the single reservoir state shared by every simulator call.
// All mutation goes through Advance, which is one atomic read-modify-write.
type Tank struct {
	mu      sync.Mutex
	params  TankParams
	initial float64
	level   float64
	outflow float64
	step    uint64
	resets  uint64
	updated time.Time
}

func NewTank(initialLevelM float64, params TankParams) *Tank {
	t := &Tank{params: params, initial: initialLevelM, outflow: params.OutflowNormalLPS}
	t.level = t.clamp(initialLevelM)
	return t
}

func (t *Tank) clamp(level float64) float64 {
	if level < t.params.MinLevelM {
		return t.params.MinLevelM
	}
	if level > t.params.MaxLevelM {
		return t.params.MaxLevelM
	}
	return level
}

// Advance applies one time step. The returned head term uses the level before
// the step; the snapshot is the state after it.
func (t *Tank) Advance(leakMode bool) (drawdownM float64, snap model.TankSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	drawdownM = t.params.MaxLevelM - t.level

	if leakMode {
		t.outflow = t.params.OutflowLeakLPS
	} else {
		t.outflow = t.params.OutflowNormalLPS
	}
	next := t.clamp(t.level + (t.params.InflowLPS-t.outflow)*t.params.Dt)
	reset := false
	if t.params.SafeguardThresholdM > 0 && next < t.params.SafeguardThresholdM {
		// keeps the demo out of a permanent low-pressure state
		next = t.clamp(t.params.SafeguardResetM)
		reset = true
		t.resets++
	}
	t.level = next
	t.step++
	t.updated = time.Now().UTC()
	snap = t.snapshotLocked()
	snap.Reset = reset
	return drawdownM, snap
}

func (t *Tank) Snapshot() model.TankSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tank) snapshotLocked() model.TankSnapshot {
	return model.TankSnapshot{
		LevelM:     t.level,
		MaxLevelM:  t.params.MaxLevelM,
		InflowLPS:  t.params.InflowLPS,
		OutflowLPS: t.outflow,
		Step:       t.step,
		UpdatedAt:  t.updated,
	}
}

func (t *Tank) Resets() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resets
}

// Restore returns the tank to its initial level. Only the admin restart path uses it.
func (t *Tank) Restore() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.level = t.clamp(t.initial)
	t.outflow = t.params.OutflowNormalLPS
	t.step = 0
	t.resets = 0
}

func (t *Tank) Params() TankParams {
	return t.params
}
