package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	LogFormat  string           `json:"log_format" yaml:"log_format"`
	Data       DataConfig       `json:"data" yaml:"data"`
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`
	Classifier ClassifierConfig `json:"classifier" yaml:"classifier"`
	Network    NetworkConfig    `json:"network" yaml:"network"`
	GIS        GISConfig        `json:"gis" yaml:"gis"`
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
	Detection  DetectionConfig  `json:"detection" yaml:"detection"`
	API        APIConfig        `json:"api" yaml:"api"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Registry   RegistryConfig   `json:"registry" yaml:"registry"`
	Notify     NotifyConfig     `json:"notify" yaml:"notify"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Alerts     AlertsConfig     `json:"alerts" yaml:"alerts"`
}

type DataConfig struct {
	EnergyCSV        string `json:"energy_csv" yaml:"energy_csv"`
	ConsumersJSON    string `json:"consumers_json" yaml:"consumers_json"`
	SatelliteGeoJSON string `json:"satellite_geojson" yaml:"satellite_geojson"`
	Topology         string `json:"topology" yaml:"topology"`
}

type SimulationConfig struct {
	Seed          int64      `json:"seed" yaml:"seed"`
	StaticHeadM   float64    `json:"static_head_m" yaml:"static_head_m"`
	DemoScale     float64    `json:"demo_scale" yaml:"demo_scale"`
	NoisePct      float64    `json:"noise_pct" yaml:"noise_pct"`
	PowerNoisePct float64    `json:"power_noise_pct" yaml:"power_noise_pct"`
	Tank          TankConfig `json:"tank" yaml:"tank"`
}

type TankConfig struct {
	InitialLevelM       float64 `json:"initial_level_m" yaml:"initial_level_m"`
	MaxLevelM           float64 `json:"max_level_m" yaml:"max_level_m"`
	MinLevelM           float64 `json:"min_level_m" yaml:"min_level_m"`
	InflowLPS           float64 `json:"inflow_lps" yaml:"inflow_lps"`
	OutflowNormalLPS    float64 `json:"outflow_normal_lps" yaml:"outflow_normal_lps"`
	OutflowLeakLPS      float64 `json:"outflow_leak_lps" yaml:"outflow_leak_lps"`
	Dt                  float64 `json:"dt" yaml:"dt"`
	SafeguardThresholdM float64 `json:"safeguard_threshold_m" yaml:"safeguard_threshold_m"`
	SafeguardResetM     float64 `json:"safeguard_reset_m" yaml:"safeguard_reset_m"`
}

type ClassifierConfig struct {
	Contamination float64 `json:"contamination" yaml:"contamination"`
	Trees         int     `json:"trees" yaml:"trees"`
	MaxSamples    int     `json:"max_samples" yaml:"max_samples"`
	Seed          int64   `json:"seed" yaml:"seed"`
}

type NetworkConfig struct {
	LeakNodeID       string  `json:"leak_node_id" yaml:"leak_node_id"`
	LeakNodeStrategy string  `json:"leak_node_strategy" yaml:"leak_node_strategy"`
	NormalPowerKW    float64 `json:"normal_power_kw" yaml:"normal_power_kw"`
	LeakPowerKW      float64 `json:"leak_power_kw" yaml:"leak_power_kw"`
}

type GISConfig struct {
	MaxDistanceKM float64 `json:"max_distance_km" yaml:"max_distance_km"`
	DefaultZone   string  `json:"default_zone" yaml:"default_zone"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	UDP           UDPConfig       `json:"udp" yaml:"udp"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	Parser        ParserConfig    `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type UDPConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type ParserConfig struct {
	DefaultStationID string `json:"default_station_id" yaml:"default_station_id"`
	Timezone         string `json:"timezone" yaml:"timezone"`
}

type DetectionConfig struct {
	Windows               []time.Duration `json:"windows" yaml:"windows"`
	AnomalyRatioThreshold float64         `json:"anomaly_ratio_threshold" yaml:"anomaly_ratio_threshold"`
	MinReadings           int             `json:"min_readings" yaml:"min_readings"`
	AnomalyStreak         int             `json:"anomaly_streak" yaml:"anomaly_streak"`
	LeakMode              bool            `json:"leak_mode" yaml:"leak_mode"`
	AlertCooldown         time.Duration   `json:"alert_cooldown" yaml:"alert_cooldown"`
	DedupeWindow          time.Duration   `json:"dedupe_window" yaml:"dedupe_window"`
}

type APIConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	Addr           string   `json:"addr" yaml:"addr"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

type StorageConfig struct {
	Enabled bool         `json:"enabled" yaml:"enabled"`
	Driver  string       `json:"driver" yaml:"driver"`
	DSN     string       `json:"dsn" yaml:"dsn"`
	Influx  InfluxConfig `json:"influx" yaml:"influx"`
}

type InfluxConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
	Token   string `json:"token" yaml:"token"`
	Org     string `json:"org" yaml:"org"`
	Bucket  string `json:"bucket" yaml:"bucket"`
}

type RegistryConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type NotifyConfig struct {
	Kafka KafkaWriterConfig `json:"kafka" yaml:"kafka"`
}

type KafkaWriterConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type MetricsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Data: DataConfig{
			EnergyCSV:        "data/energy_data.csv",
			ConsumersJSON:    "data/janaadhaar_users.json",
			SatelliteGeoJSON: "data/satellite.json",
			Topology:         "data/network.graphml",
		},
		Simulation: SimulationConfig{
			Seed:          42,
			StaticHeadM:   25.0,
			DemoScale:     50.0,
			NoisePct:      0.05,
			PowerNoisePct: 0.03,
			Tank:          defaultTank(),
		},
		Classifier: ClassifierConfig{Contamination: 0.05, Trees: 100, MaxSamples: 256, Seed: 42},
		Network: NetworkConfig{
			LeakNodeID:       "J5",
			LeakNodeStrategy: "fixed",
			NormalPowerKW:    45,
			LeakPowerKW:      75,
		},
		GIS: GISConfig{MaxDistanceKM: 0.5, DefaultZone: "ZONE_4_SECTOR_B"},
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8090"},
			UDP:           UDPConfig{Enabled: false, Addr: ":5515"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
			Parser:        ParserConfig{DefaultStationID: "P1"},
		},
		Detection: DetectionConfig{
			Windows:               []time.Duration{5 * time.Minute, 30 * time.Minute},
			AnomalyRatioThreshold: 0.2,
			MinReadings:           5,
			AnomalyStreak:         3,
			AlertCooldown:         time.Minute,
			DedupeWindow:          time.Second,
		},
		API: APIConfig{
			Enabled:        true,
			Addr:           ":8000",
			AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000", "http://localhost:3001"},
		},
		Storage: StorageConfig{
			Enabled: false,
			Driver:  "sqlite",
			DSN:     "file:hydrotwin.db?_pragma=busy_timeout(5000)",
			Influx:  InfluxConfig{Enabled: false, URL: "http://localhost:8086", Org: "hydrotwin", Bucket: "telemetry"},
		},
		Registry: RegistryConfig{Driver: "file"},
		Metrics:  MetricsConfig{StoreLimit: 5000},
		Alerts:   AlertsConfig{StoreLimit: 1000},
	}
}

func defaultTank() TankConfig {
	return TankConfig{
		InitialLevelM:       8.0,
		MaxLevelM:           10.0,
		MinLevelM:           0.5,
		InflowLPS:           50.0,
		OutflowNormalLPS:    45.0,
		OutflowLeakLPS:      65.0,
		Dt:                  0.01,
		SafeguardThresholdM: 2.0,
		SafeguardResetM:     8.0,
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault falls back to DefaultConfig when path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultConfig(), nil
	}
	return Load(path)
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if len(cfg.Detection.Windows) == 0 {
		cfg.Detection.Windows = def.Detection.Windows
	}
	if cfg.Detection.AnomalyStreak <= 0 {
		cfg.Detection.AnomalyStreak = def.Detection.AnomalyStreak
	}
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = def.Metrics.StoreLimit
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = def.Alerts.StoreLimit
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if cfg.Ingest.Parser.DefaultStationID == "" {
		cfg.Ingest.Parser.DefaultStationID = def.Ingest.Parser.DefaultStationID
	}
	if cfg.Classifier.Trees <= 0 {
		cfg.Classifier.Trees = def.Classifier.Trees
	}
	if cfg.Classifier.MaxSamples <= 0 {
		cfg.Classifier.MaxSamples = def.Classifier.MaxSamples
	}
	if cfg.Classifier.Contamination <= 0 {
		cfg.Classifier.Contamination = def.Classifier.Contamination
	}
	if cfg.Simulation.Tank.MaxLevelM <= 0 {
		cfg.Simulation.Tank = def.Simulation.Tank
	}
	if cfg.Simulation.Tank.Dt <= 0 {
		cfg.Simulation.Tank.Dt = def.Simulation.Tank.Dt
	}
	if cfg.Simulation.StaticHeadM <= 0 {
		cfg.Simulation.StaticHeadM = def.Simulation.StaticHeadM
	}
	if cfg.Simulation.DemoScale <= 0 {
		cfg.Simulation.DemoScale = def.Simulation.DemoScale
	}
	if cfg.GIS.MaxDistanceKM <= 0 {
		cfg.GIS.MaxDistanceKM = def.GIS.MaxDistanceKM
	}
	if cfg.Network.LeakNodeStrategy == "" {
		cfg.Network.LeakNodeStrategy = def.Network.LeakNodeStrategy
	}
	if cfg.Registry.Driver == "" {
		cfg.Registry.Driver = def.Registry.Driver
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.UDP.Enabled && cfg.Ingest.UDP.Addr == "" {
		return errors.New("ingest.udp.addr required when ingest.udp.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Notify.Kafka.Enabled && (len(cfg.Notify.Kafka.Brokers) == 0 || cfg.Notify.Kafka.Topic == "") {
		return errors.New("notify.kafka requires brokers and topic")
	}
	if cfg.Classifier.Contamination <= 0 || cfg.Classifier.Contamination > 0.5 {
		return fmt.Errorf("classifier.contamination must be in (0, 0.5], got %v", cfg.Classifier.Contamination)
	}
	tank := cfg.Simulation.Tank
	if tank.MinLevelM < 0 || tank.MinLevelM >= tank.MaxLevelM {
		return errors.New("simulation.tank.min_level_m must be >= 0 and below max_level_m")
	}
	if tank.InitialLevelM < tank.MinLevelM || tank.InitialLevelM > tank.MaxLevelM {
		return errors.New("simulation.tank.initial_level_m must lie within [min_level_m, max_level_m]")
	}
	if tank.SafeguardResetM > tank.MaxLevelM {
		return errors.New("simulation.tank.safeguard_reset_m must not exceed max_level_m")
	}
	if cfg.Simulation.NoisePct < 0 || cfg.Simulation.PowerNoisePct < 0 {
		return errors.New("simulation noise percentages must be >= 0")
	}
	switch strings.ToLower(cfg.Network.LeakNodeStrategy) {
	case "fixed", "nearest":
	default:
		return fmt.Errorf("network.leak_node_strategy must be fixed or nearest, got %q", cfg.Network.LeakNodeStrategy)
	}
	switch strings.ToLower(cfg.Registry.Driver) {
	case "file", "postgres", "postgresql":
	default:
		return fmt.Errorf("registry.driver must be file or postgres, got %q", cfg.Registry.Driver)
	}
	if cfg.Detection.AnomalyRatioThreshold <= 0 || cfg.Detection.AnomalyRatioThreshold > 1 {
		return errors.New("detection.anomaly_ratio_threshold must be in (0, 1]")
	}
	for _, win := range cfg.Detection.Windows {
		if win <= 0 {
			return fmt.Errorf("detection.windows contains non-positive duration: %s", win)
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config; Reload and Watch are no-ops without a path.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
