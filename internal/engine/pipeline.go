package engine

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"hydrotwin/internal/model"
	"hydrotwin/internal/telemetry"
)

// ScoreTelemetry labels a batch with the fitted classifier. Order is kept.
func (e *Engine) ScoreTelemetry(readings []model.TelemetryReading) []model.LabeledReading {
	labeled := e.classifier.Label(readings)
	for _, lr := range labeled {
		telemetry.ObserveScore(lr.IsAnomaly)
	}
	return labeled
}

func (e *Engine) SimulateFlow(powerKW float64, leakMode bool) model.FlowResult {
	return e.sim.Simulate(powerKW, leakMode)
}

// AnalyzeEnergy replays the historical batch through the classifier and the
// simulator. In leak mode the leak-spike column drives the pump. Every row
// advances the shared tank; limit keeps only the newest rows.
func (e *Engine) AnalyzeEnergy(ctx context.Context, leakMode bool, limit int) ([]model.AnalyzedReading, error) {
	if e.source == nil {
		return nil, fmt.Errorf("analyze energy: no telemetry source: %w", model.ErrMissingInput)
	}
	readings, err := e.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("analyze energy: %w", err)
	}
	cfg := e.config()
	labeled := e.ScoreTelemetry(readings)
	out := make([]model.AnalyzedReading, 0, len(labeled))
	for _, lr := range labeled {
		power := lr.PowerKW
		if leakMode && lr.LeakSpikeKW > 0 {
			power = lr.LeakSpikeKW
		}
		power = e.sim.Jitter(power, cfg.Simulation.PowerNoisePct)
		flow := e.sim.Simulate(power, leakMode)
		out = append(out, analyzedRow(lr.TelemetryReading, lr.AnomalyLabel, power, flow, leakMode))
	}
	if limit > 0 && limit < len(out) {
		out = out[len(out)-limit:]
	}
	if e.store != nil {
		_ = e.store.SaveReadings(ctx, out)
		_ = e.store.SaveTankSnapshot(ctx, e.sim.Tank().Snapshot())
	}
	return out, nil
}

// analyzedRow rounds for presentation only; unrounded values never leave here.
func analyzedRow(r model.TelemetryReading, label model.AnomalyLabel, power float64, flow model.FlowResult, leakMode bool) model.AnalyzedReading {
	return model.AnalyzedReading{
		Timestamp:    r.Timestamp,
		StationID:    r.StationID,
		PowerKW:      round(power, 1),
		VoltageV:     r.VoltageV,
		CurrentA:     r.CurrentA,
		FrequencyHz:  r.FrequencyHz,
		PowerFactor:  r.PowerFactor,
		FlowLPM:      flow.FlowLPM,
		Efficiency:   round(flow.Efficiency, 2),
		TankLevelM:   round(flow.TankLevelM, 2),
		HeadM:        round(flow.HeadM, 1),
		IsAnomaly:    label.IsAnomaly,
		AnomalyScore: round(label.AnomalyScore, 3),
		LeakMode:     leakMode,
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func formatFloat(v float64, places int) string {
	return strconv.FormatFloat(v, 'f', places, 64)
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
