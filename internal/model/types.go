package model

import "time"

type TelemetryReading struct {
	Timestamp   string  `json:"timestamp"`
	StationID   string  `json:"station_id,omitempty"`
	PowerKW     float64 `json:"power_kw"`
	LeakSpikeKW float64 `json:"leak_spike_kw,omitempty"`
	VoltageV    float64 `json:"voltage_v"`
	CurrentA    float64 `json:"current_a"`
	FrequencyHz float64 `json:"frequency_hz"`
	PowerFactor float64 `json:"power_factor"`
	Source      string  `json:"source,omitempty"`
}

// Features is the classifier input vector, in fixed order.
func (r TelemetryReading) Features() []float64 {
	return []float64{r.PowerKW, r.VoltageV, r.CurrentA, r.PowerFactor}
}

type AnomalyLabel struct {
	IsAnomaly    bool    `json:"is_anomaly"`
	AnomalyScore float64 `json:"anomaly_score"`
	// Unscored is set when no forest could be fitted yet.
	Unscored bool `json:"unscored,omitempty"`
}

type LabeledReading struct {
	TelemetryReading
	AnomalyLabel
}

type FlowResult struct {
	FlowLPM    int     `json:"flow_lpm"`
	Efficiency float64 `json:"efficiency"`
	TankLevelM float64 `json:"tank_level_m"`
	HeadM      float64 `json:"head_m"`
}

type AnalyzedReading struct {
	Timestamp    string  `json:"timestamp"`
	StationID    string  `json:"station_id,omitempty"`
	PowerKW      float64 `json:"power_kw"`
	VoltageV     float64 `json:"voltage_v"`
	CurrentA     float64 `json:"current_a"`
	FrequencyHz  float64 `json:"frequency_hz"`
	PowerFactor  float64 `json:"power_factor"`
	FlowLPM      int     `json:"flow_lpm"`
	Efficiency   float64 `json:"efficiency"`
	TankLevelM   float64 `json:"tank_level_m"`
	HeadM        float64 `json:"head_m"`
	IsAnomaly    bool    `json:"is_anomaly"`
	AnomalyScore float64 `json:"anomaly_score"`
	LeakMode     bool    `json:"leak_mode"`
}

type TankSnapshot struct {
	LevelM     float64   `json:"level_m"`
	MaxLevelM  float64   `json:"max_level_m"`
	InflowLPS  float64   `json:"inflow_lps"`
	OutflowLPS float64   `json:"outflow_lps"`
	Step       uint64    `json:"step"`
	Reset      bool      `json:"reset,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Consumer struct {
	ID                  string  `json:"id" db:"id"`
	Name                string  `json:"name" db:"name"`
	Locality            string  `json:"locality" db:"locality"`
	Lat                 float64 `json:"lat" db:"lat"`
	Lon                 float64 `json:"lon" db:"lon"`
	AvgDailyUsageLiters float64 `json:"avg_daily_usage_liters" db:"avg_daily_usage_liters"`
	Phone               string  `json:"phone" db:"phone"`
	ConnectionType      string  `json:"connection_type,omitempty" db:"connection_type"`
	MeterID             string  `json:"meter_id,omitempty" db:"meter_id"`
}

type AffectedConsumer struct {
	Consumer
	DistanceToLeakKM float64 `json:"distance_to_leak_km"`
	distanceExact    float64
}

func NewAffectedConsumer(c Consumer, exactKM, roundedKM float64) AffectedConsumer {
	return AffectedConsumer{Consumer: c, DistanceToLeakKM: roundedKM, distanceExact: exactKM}
}

// ExactDistanceKM is the unrounded distance used for ordering.
func (a AffectedConsumer) ExactDistanceKM() float64 {
	return a.distanceExact
}

type LeakLocation struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type StationMetrics struct {
	WindowSec    int     `json:"window_sec"`
	Readings     int     `json:"readings"`
	Anomalies    int     `json:"anomalies"`
	AnomalyRatio float64 `json:"anomaly_ratio"`
	MeanPowerKW  float64 `json:"mean_power_kw"`
	MeanFlowLPM  float64 `json:"mean_flow_lpm"`
	MinScore     float64 `json:"min_score"`
}

type Alert struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	StationID string            `json:"station_id"`
	Severity  string            `json:"severity"`
	AlertType string            `json:"alert_type"`
	WindowSec int               `json:"window_sec"`
	Metrics   StationMetrics    `json:"metrics"`
	Score     float64           `json:"score"`
	Rules     []string          `json:"rules"`
	Context   map[string]string `json:"context,omitempty"`
}

type CostBreakdown struct {
	Material    float64 `json:"material"`
	Labor       float64 `json:"labor"`
	Contingency int     `json:"contingency"`
}

type CostEstimate struct {
	Code        string        `json:"bsr_code"`
	Description string        `json:"bsr_description"`
	Total       float64       `json:"est_total"`
	EstCost     string        `json:"est_cost"`
	Breakdown   CostBreakdown `json:"breakdown"`
}
