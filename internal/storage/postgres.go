package storage

import (
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresDialect = dialect{
	name: "postgres",
	bind: func(n int) string { return "$" + strconv.Itoa(n) },
	schema: []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id UUID PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			station_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			window_sec INTEGER NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			rules_json JSONB NOT NULL,
			metrics_json JSONB NOT NULL,
			context_json JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS station_metrics (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			station_id TEXT NOT NULL,
			window_sec INTEGER NOT NULL,
			readings INTEGER NOT NULL,
			anomalies INTEGER NOT NULL,
			anomaly_ratio DOUBLE PRECISION NOT NULL,
			mean_power_kw DOUBLE PRECISION NOT NULL,
			mean_flow_lpm DOUBLE PRECISION NOT NULL,
			min_score DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_station_metrics_window ON station_metrics(station_id, window_sec)`,
		`CREATE TABLE IF NOT EXISTS readings (
			id BIGSERIAL PRIMARY KEY,
			recorded_at TIMESTAMPTZ NOT NULL,
			reading_ts TEXT NOT NULL,
			station_id TEXT,
			power_kw DOUBLE PRECISION NOT NULL,
			voltage_v DOUBLE PRECISION NOT NULL,
			current_a DOUBLE PRECISION NOT NULL,
			power_factor DOUBLE PRECISION NOT NULL,
			flow_lpm INTEGER NOT NULL,
			efficiency DOUBLE PRECISION NOT NULL,
			tank_level_m DOUBLE PRECISION NOT NULL,
			head_m DOUBLE PRECISION NOT NULL,
			is_anomaly BOOLEAN NOT NULL,
			anomaly_score DOUBLE PRECISION NOT NULL,
			leak_mode BOOLEAN NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tank_snapshots (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			step BIGINT NOT NULL,
			level_m DOUBLE PRECISION NOT NULL,
			max_level_m DOUBLE PRECISION NOT NULL,
			inflow_lps DOUBLE PRECISION NOT NULL,
			outflow_lps DOUBLE PRECISION NOT NULL,
			safeguard_reset BOOLEAN NOT NULL
		)`,
	},
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/hydrotwin?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlStore{db: db, d: postgresDialect}, nil
}
