package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"hydrotwin/internal/config"
	"hydrotwin/internal/model"
)

func openTestSQLite(t *testing.T) *sqlStore {
	t.Helper()
	s, err := NewSQLite("file:" + filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s.(*sqlStore)
}

func count(t *testing.T, s *sqlStore, table string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	alert := model.Alert{
		ID:        "7b0b7c5e-1f7e-4a4c-9f55-2f0f3f4a1c10",
		Timestamp: time.Now().UTC(),
		StationID: "P1",
		Severity:  "high",
		AlertType: "suspected_leak",
		WindowSec: 300,
		Score:     -0.12,
		Rules:     []string{"anomaly_ratio"},
	}
	if err := s.SaveAlert(ctx, alert); err != nil {
		t.Fatalf("save alert: %v", err)
	}
	readings := []model.AnalyzedReading{
		{Timestamp: "10:00", PowerKW: 45.2, FlowLPM: 397, Efficiency: 0.78, TankLevelM: 8.05, HeadM: 27},
		{Timestamp: "10:05", PowerKW: 74.9, FlowLPM: 305, Efficiency: 0.42, TankLevelM: 7.9, HeadM: 27.1, IsAnomaly: true, LeakMode: true},
	}
	if err := s.SaveReadings(ctx, readings); err != nil {
		t.Fatalf("save readings: %v", err)
	}
	if err := s.SaveTankSnapshot(ctx, model.TankSnapshot{LevelM: 7.9, MaxLevelM: 10, Step: 2}); err != nil {
		t.Fatalf("save tank: %v", err)
	}
	if err := s.SaveMetrics(ctx, "P1", []model.StationMetrics{{WindowSec: 300, Readings: 10, Anomalies: 3, AnomalyRatio: 0.3}}); err != nil {
		t.Fatalf("save metrics: %v", err)
	}

	if n := count(t, s, "alerts"); n != 1 {
		t.Fatalf("expected 1 alert row, got %d", n)
	}
	if n := count(t, s, "readings"); n != 2 {
		t.Fatalf("expected 2 reading rows, got %d", n)
	}
	if n := count(t, s, "tank_snapshots"); n != 1 {
		t.Fatalf("expected 1 tank row, got %d", n)
	}
	if n := count(t, s, "station_metrics"); n != 1 {
		t.Fatalf("expected 1 metrics row, got %d", n)
	}
}

func TestPlaceholders(t *testing.T) {
	pg := &sqlStore{d: postgresDialect}
	got := pg.insert("alerts", "id", "ts")
	if got != "INSERT INTO alerts (id, ts) VALUES ($1, $2)" {
		t.Fatalf("unexpected postgres insert: %s", got)
	}
	lite := &sqlStore{d: sqliteDialect}
	if got := lite.insert("alerts", "id", "ts"); got != "INSERT INTO alerts (id, ts) VALUES (?, ?)" {
		t.Fatalf("unexpected sqlite insert: %s", got)
	}
}

func TestNewStoreDisabled(t *testing.T) {
	s, err := NewStore(config.StorageConfig{})
	if err != nil || s != nil {
		t.Fatalf("expected nil store, got %v %v", s, err)
	}
	if _, err := NewStore(config.StorageConfig{Enabled: true, Driver: "oracle"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}
