package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"hydrotwin/internal/config"
	"hydrotwin/internal/model"
)

// influxStore writes time series points; it has no schema to create.
type influxStore struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

func NewInflux(cfg config.InfluxConfig) Store {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &influxStore{client: client, writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket)}
}

func (s *influxStore) Init(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influx ping: %w", err)
	}
	if !ok {
		return fmt.Errorf("influx not ready")
	}
	return nil
}

func (s *influxStore) Close() error {
	s.client.Close()
	return nil
}

func (s *influxStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	p := influxdb2.NewPointWithMeasurement("alerts").
		AddTag("station_id", alert.StationID).
		AddTag("alert_type", alert.AlertType).
		AddTag("severity", alert.Severity).
		AddTag("window_sec", strconv.Itoa(alert.WindowSec)).
		AddField("id", alert.ID).
		AddField("score", alert.Score).
		AddField("anomaly_ratio", alert.Metrics.AnomalyRatio).
		SetTime(alert.Timestamp)
	return s.writeAPI.WritePoint(ctx, p)
}

func (s *influxStore) SaveMetrics(ctx context.Context, stationID string, metrics []model.StationMetrics) error {
	if len(metrics) == 0 {
		return nil
	}
	now := nowUTC()
	points := make([]*write.Point, 0, len(metrics))
	for _, m := range metrics {
		points = append(points, influxdb2.NewPointWithMeasurement("station_metrics").
			AddTag("station_id", stationID).
			AddTag("window_sec", strconv.Itoa(m.WindowSec)).
			AddField("readings", m.Readings).
			AddField("anomalies", m.Anomalies).
			AddField("anomaly_ratio", m.AnomalyRatio).
			AddField("mean_power_kw", m.MeanPowerKW).
			AddField("mean_flow_lpm", m.MeanFlowLPM).
			AddField("min_score", m.MinScore).
			SetTime(now))
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

func (s *influxStore) SaveReadings(ctx context.Context, readings []model.AnalyzedReading) error {
	if len(readings) == 0 {
		return nil
	}
	// reading timestamps are display labels, so points are spaced from now
	base := nowUTC().Add(-time.Duration(len(readings)) * time.Millisecond)
	points := make([]*write.Point, 0, len(readings))
	for i, r := range readings {
		station := r.StationID
		if station == "" {
			station = "unknown"
		}
		points = append(points, influxdb2.NewPointWithMeasurement("pump_telemetry").
			AddTag("station_id", station).
			AddTag("leak_mode", strconv.FormatBool(r.LeakMode)).
			AddField("label", r.Timestamp).
			AddField("power_kw", r.PowerKW).
			AddField("voltage_v", r.VoltageV).
			AddField("current_a", r.CurrentA).
			AddField("power_factor", r.PowerFactor).
			AddField("flow_lpm", r.FlowLPM).
			AddField("efficiency", r.Efficiency).
			AddField("tank_level_m", r.TankLevelM).
			AddField("head_m", r.HeadM).
			AddField("is_anomaly", r.IsAnomaly).
			AddField("anomaly_score", r.AnomalyScore).
			SetTime(base.Add(time.Duration(i) * time.Millisecond)))
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

func (s *influxStore) SaveTankSnapshot(ctx context.Context, snap model.TankSnapshot) error {
	ts := snap.UpdatedAt
	if ts.IsZero() {
		ts = nowUTC()
	}
	p := influxdb2.NewPointWithMeasurement("tank").
		AddField("level_m", snap.LevelM).
		AddField("max_level_m", snap.MaxLevelM).
		AddField("outflow_lps", snap.OutflowLPS).
		AddField("step", int64(snap.Step)).
		AddField("safeguard_reset", snap.Reset).
		SetTime(ts)
	return s.writeAPI.WritePoint(ctx, p)
}
