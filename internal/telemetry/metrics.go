// Package telemetry holds the process-wide Prometheus collectors.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SimulationSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hydrotwin_simulation_steps_total",
		Help: "Flow simulator invocations",
	}, []string{"leak_mode"})

	TankLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hydrotwin_tank_level_meters",
		Help: "Tank level after the latest simulator step",
	})

	TankSafeguardResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hydrotwin_tank_safeguard_resets_total",
		Help: "Times the low-level safeguard reset the tank",
	})

	ReadingsScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hydrotwin_readings_scored_total",
		Help: "Telemetry readings scored by the classifier",
	}, []string{"anomaly"})

	ReadingsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hydrotwin_readings_ingested_total",
		Help: "Telemetry readings accepted per ingest source",
	}, []string{"source"})

	ReadingsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hydrotwin_readings_dropped_total",
		Help: "Telemetry readings dropped before reaching the engine",
	}, []string{"reason"})

	AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hydrotwin_alerts_total",
		Help: "Alerts raised by type and severity",
	}, []string{"alert_type", "severity"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hydrotwin_http_request_duration_seconds",
		Help:    "API request latency",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"route", "status"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func ObserveSimulation(leakMode bool, levelM float64, reset bool) {
	SimulationSteps.WithLabelValues(boolLabel(leakMode)).Inc()
	TankLevel.Set(levelM)
	if reset {
		TankSafeguardResets.Inc()
	}
}

func ObserveScore(anomaly bool) {
	ReadingsScored.WithLabelValues(boolLabel(anomaly)).Inc()
}
