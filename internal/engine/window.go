package engine

import (
	"math"
	"time"

	"hydrotwin/internal/model"
)

type ReadingEntry struct {
	Timestamp time.Time
	PowerKW   float64
	FlowLPM   int
	Anomaly   bool
	Score     float64
}

// WindowState is a time-bounded FIFO of scored readings with running sums.
type WindowState struct {
	duration  time.Duration
	entries   []ReadingEntry
	head      int
	readings  int
	anomalies int
	powerSum  float64
	flowSum   float64
}

func NewWindowState(duration time.Duration) *WindowState {
	return &WindowState{
		duration: duration,
		entries:  make([]ReadingEntry, 0, 128),
	}
}

func (w *WindowState) Add(e ReadingEntry) {
	w.entries = append(w.entries, e)
	w.readings++
	if e.Anomaly {
		w.anomalies++
	}
	w.powerSum += e.PowerKW
	w.flowSum += float64(e.FlowLPM)
}

func (w *WindowState) Evict(cutoff time.Time) {
	for w.head < len(w.entries) {
		e := w.entries[w.head]
		if !e.Timestamp.Before(cutoff) {
			break
		}
		w.readings--
		if e.Anomaly {
			w.anomalies--
		}
		w.powerSum -= e.PowerKW
		w.flowSum -= float64(e.FlowLPM)
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.entries) {
		w.entries = append([]ReadingEntry{}, w.entries[w.head:]...)
		w.head = 0
	}
}

func (w *WindowState) Metrics() model.StationMetrics {
	m := model.StationMetrics{
		WindowSec: int(w.duration.Seconds()),
		Readings:  w.readings,
		Anomalies: w.anomalies,
	}
	if w.readings == 0 {
		return m
	}
	n := float64(w.readings)
	m.AnomalyRatio = float64(w.anomalies) / n
	m.MeanPowerKW = w.powerSum / n
	m.MeanFlowLPM = w.flowSum / n
	m.MinScore = math.Inf(1)
	for _, e := range w.entries[w.head:] {
		if e.Score < m.MinScore {
			m.MinScore = e.Score
		}
	}
	return m
}
