package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	bind: func(int) string { return "?" },
	schema: []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			station_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			window_sec INTEGER NOT NULL,
			score REAL NOT NULL,
			rules_json TEXT NOT NULL,
			metrics_json TEXT NOT NULL,
			context_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE TABLE IF NOT EXISTS station_metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			station_id TEXT NOT NULL,
			window_sec INTEGER NOT NULL,
			readings INTEGER NOT NULL,
			anomalies INTEGER NOT NULL,
			anomaly_ratio REAL NOT NULL,
			mean_power_kw REAL NOT NULL,
			mean_flow_lpm REAL NOT NULL,
			min_score REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_station_metrics_window ON station_metrics(station_id, window_sec)`,
		`CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recorded_at TEXT NOT NULL,
			reading_ts TEXT NOT NULL,
			station_id TEXT,
			power_kw REAL NOT NULL,
			voltage_v REAL NOT NULL,
			current_a REAL NOT NULL,
			power_factor REAL NOT NULL,
			flow_lpm INTEGER NOT NULL,
			efficiency REAL NOT NULL,
			tank_level_m REAL NOT NULL,
			head_m REAL NOT NULL,
			is_anomaly INTEGER NOT NULL,
			anomaly_score REAL NOT NULL,
			leak_mode INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tank_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			step INTEGER NOT NULL,
			level_m REAL NOT NULL,
			max_level_m REAL NOT NULL,
			inflow_lps REAL NOT NULL,
			outflow_lps REAL NOT NULL,
			safeguard_reset INTEGER NOT NULL
		)`,
	},
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:hydrotwin.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlStore{db: db, d: sqliteDialect}, nil
}
