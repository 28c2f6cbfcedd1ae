package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hydrotwin.yaml")
	content := `
log_level: debug
network:
  leak_node_id: J7
  leak_node_strategy: nearest
detection:
  windows: [1m, 10m]
  anomaly_ratio_threshold: 0.3
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level: %s", cfg.LogLevel)
	}
	if cfg.Network.LeakNodeID != "J7" || cfg.Network.LeakNodeStrategy != "nearest" {
		t.Fatalf("network: %+v", cfg.Network)
	}
	if len(cfg.Detection.Windows) != 2 || cfg.Detection.Windows[1] != 10*time.Minute {
		t.Fatalf("windows: %v", cfg.Detection.Windows)
	}
	if cfg.Simulation.Tank.MaxLevelM != 10 {
		t.Fatalf("expected default tank to survive partial config, got %+v", cfg.Simulation.Tank)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hydrotwin.json")
	if err := os.WriteFile(path, []byte(`{"gis":{"max_distance_km":1.5}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GIS.MaxDistanceKM != 1.5 {
		t.Fatalf("max distance: %v", cfg.GIS.MaxDistanceKM)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(path, []byte("  \n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for empty config")
	}
}

func TestValidateRejectsBadStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network.LeakNodeStrategy = "substring"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidateRejectsTankOutsideBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Simulation.Tank.InitialLevelM = 12
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hydrotwin.yaml")
	cfg := DefaultConfig()
	cfg.GIS.DefaultZone = "ZONE_1"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if m.Get().GIS.DefaultZone != "ZONE_1" {
		t.Fatalf("zone: %s", m.Get().GIS.DefaultZone)
	}
	needs, err := m.NeedsReload()
	if err != nil || needs {
		t.Fatalf("unexpected reload state: %v %v", needs, err)
	}
}

func TestStaticManager(t *testing.T) {
	m := NewStaticManager(nil)
	if m.Get() == nil {
		t.Fatalf("expected default config")
	}
	if needs, err := m.NeedsReload(); needs || err != nil {
		t.Fatalf("static manager should never reload")
	}
}
