package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"hydrotwin/internal/config"
	"hydrotwin/internal/model"
)

// Store persists pipeline output. Writes are best effort from the engine's
// point of view; a failing store never blocks detection.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveAlert(ctx context.Context, alert model.Alert) error
	SaveMetrics(ctx context.Context, stationID string, metrics []model.StationMetrics) error
	SaveReadings(ctx context.Context, readings []model.AnalyzedReading) error
	SaveTankSnapshot(ctx context.Context, snap model.TankSnapshot) error
}

// NewStore opens the relational store and, if enabled, the InfluxDB sink.
// It returns nil when both are disabled.
func NewStore(cfg config.StorageConfig) (Store, error) {
	var stores []Store
	if cfg.Enabled {
		var (
			s   Store
			err error
		)
		switch strings.ToLower(cfg.Driver) {
		case "sqlite":
			s, err = NewSQLite(cfg.DSN)
		case "postgres", "postgresql":
			s, err = NewPostgres(cfg.DSN)
		default:
			return nil, errors.New("unsupported storage driver")
		}
		if err != nil {
			return nil, err
		}
		stores = append(stores, s)
	}
	if cfg.Influx.Enabled {
		stores = append(stores, NewInflux(cfg.Influx))
	}
	switch len(stores) {
	case 0:
		return nil, nil
	case 1:
		return stores[0], nil
	}
	return Multi(stores), nil
}

// dialect captures what differs between the SQL backends.
type dialect struct {
	name   string
	schema []string
	// bind renders the n-th (1-based) placeholder.
	bind func(n int) string
}

type sqlStore struct {
	db *sql.DB
	d  dialect
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqlStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s schema: %w", s.d.name, err)
		}
	}
	return nil
}

func (s *sqlStore) insert(table string, columns ...string) string {
	marks := make([]string, len(columns))
	for i := range columns {
		marks[i] = s.d.bind(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), strings.Join(marks, ", "))
}

func (s *sqlStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		s.insert("alerts", "id", "ts", "station_id", "severity", "alert_type", "window_sec", "score", "rules_json", "metrics_json", "context_json"),
		alert.ID,
		alert.Timestamp.UTC(),
		alert.StationID,
		alert.Severity,
		alert.AlertType,
		alert.WindowSec,
		alert.Score,
		encodeJSON(alert.Rules),
		encodeJSON(alert.Metrics),
		encodeJSON(alert.Context),
	)
	return err
}

func (s *sqlStore) SaveMetrics(ctx context.Context, stationID string, metrics []model.StationMetrics) error {
	if s.db == nil || stationID == "" || len(metrics) == 0 {
		return nil
	}
	return s.batch(ctx,
		s.insert("station_metrics", "ts", "station_id", "window_sec", "readings", "anomalies", "anomaly_ratio", "mean_power_kw", "mean_flow_lpm", "min_score"),
		len(metrics),
		func(i int) []any {
			m := metrics[i]
			return []any{nowUTC(), stationID, m.WindowSec, m.Readings, m.Anomalies, m.AnomalyRatio, m.MeanPowerKW, m.MeanFlowLPM, m.MinScore}
		})
}

func (s *sqlStore) SaveReadings(ctx context.Context, readings []model.AnalyzedReading) error {
	if s.db == nil || len(readings) == 0 {
		return nil
	}
	recorded := nowUTC()
	return s.batch(ctx,
		s.insert("readings", "recorded_at", "reading_ts", "station_id", "power_kw", "voltage_v", "current_a", "power_factor",
			"flow_lpm", "efficiency", "tank_level_m", "head_m", "is_anomaly", "anomaly_score", "leak_mode"),
		len(readings),
		func(i int) []any {
			r := readings[i]
			return []any{recorded, r.Timestamp, r.StationID, r.PowerKW, r.VoltageV, r.CurrentA, r.PowerFactor,
				r.FlowLPM, r.Efficiency, r.TankLevelM, r.HeadM, r.IsAnomaly, r.AnomalyScore, r.LeakMode}
		})
}

func (s *sqlStore) SaveTankSnapshot(ctx context.Context, snap model.TankSnapshot) error {
	if s.db == nil {
		return nil
	}
	ts := snap.UpdatedAt
	if ts.IsZero() {
		ts = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		s.insert("tank_snapshots", "ts", "step", "level_m", "max_level_m", "inflow_lps", "outflow_lps", "safeguard_reset"),
		ts.UTC(), int64(snap.Step), snap.LevelM, snap.MaxLevelM, snap.InflowLPS, snap.OutflowLPS, snap.Reset,
	)
	return err
}

func (s *sqlStore) batch(ctx context.Context, query string, n int, row func(i int) []any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, row(i)...); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Multi fans every write out to all stores and joins their errors.
type Multi []Store

func (m Multi) Init(ctx context.Context) error {
	return m.each(func(s Store) error { return s.Init(ctx) })
}

func (m Multi) Close() error {
	return m.each(func(s Store) error { return s.Close() })
}

func (m Multi) SaveAlert(ctx context.Context, alert model.Alert) error {
	return m.each(func(s Store) error { return s.SaveAlert(ctx, alert) })
}

func (m Multi) SaveMetrics(ctx context.Context, stationID string, metrics []model.StationMetrics) error {
	return m.each(func(s Store) error { return s.SaveMetrics(ctx, stationID, metrics) })
}

func (m Multi) SaveReadings(ctx context.Context, readings []model.AnalyzedReading) error {
	return m.each(func(s Store) error { return s.SaveReadings(ctx, readings) })
}

func (m Multi) SaveTankSnapshot(ctx context.Context, snap model.TankSnapshot) error {
	return m.each(func(s Store) error { return s.SaveTankSnapshot(ctx, snap) })
}

func (m Multi) each(fn func(Store) error) error {
	var errs []error
	for _, s := range m {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
