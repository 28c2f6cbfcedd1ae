// Package engine wires the digital twin together: it scores telemetry, drives
// the flow simulator, folds live readings into per-station windows and raises
// suspected-leak alerts.
package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"hydrotwin/internal/alerts"
	"hydrotwin/internal/classifier"
	"hydrotwin/internal/config"
	"hydrotwin/internal/gis"
	"hydrotwin/internal/hydraulics"
	"hydrotwin/internal/metrics"
	"hydrotwin/internal/model"
	"hydrotwin/internal/normalize"
	"hydrotwin/internal/notify"
	"hydrotwin/internal/propagation"
	"hydrotwin/internal/storage"
	"hydrotwin/internal/telemetry"
)

const AlertSuspectedLeak = "suspected_leak"

const AlertSustainedAnomaly = "sustained_anomaly"

// TelemetrySource yields the historical telemetry batch.
type TelemetrySource interface {
	Load(ctx context.Context) ([]model.TelemetryReading, error)
}

type Deps struct {
	Classifier *classifier.Classifier
	Simulator  *hydraulics.Simulator
	Network    *propagation.Engine
	Registry   gis.Registry
	Telemetry  TelemetrySource
	Metrics    *metrics.Store
	Alerts     *alerts.Store
	Store      storage.Store
	Publisher  notify.Publisher
}

type Engine struct {
	logger     *slog.Logger
	classifier *classifier.Classifier
	sim        *hydraulics.Simulator
	network    *propagation.Engine
	registry   gis.Registry
	source     TelemetrySource
	metrics    *metrics.Store
	alerts     *alerts.Store
	store      storage.Store
	publisher  notify.Publisher

	cfg      atomic.Value
	leak     atomic.Value
	stations map[string]*StationState
	mu       sync.Mutex
	started  time.Time
	cooldown *Cooldown
	dedupe   *DedupeCache
}

type StationState struct {
	mu      sync.Mutex
	id      string
	windows map[int]*WindowState
	streak  int
}

func NewEngine(cfg *config.Config, logger *slog.Logger, deps Deps) *Engine {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewStore(cfg.Metrics.StoreLimit)
	}
	if deps.Alerts == nil {
		deps.Alerts = alerts.NewStore(cfg.Alerts.StoreLimit)
	}
	e := &Engine{
		logger:     logger,
		classifier: deps.Classifier,
		sim:        deps.Simulator,
		network:    deps.Network,
		registry:   deps.Registry,
		source:     deps.Telemetry,
		metrics:    deps.Metrics,
		alerts:     deps.Alerts,
		store:      deps.Store,
		publisher:  deps.Publisher,
		stations:   make(map[string]*StationState),
		started:    time.Now().UTC(),
		cooldown:   NewCooldown(),
		dedupe:     NewDedupeCache(),
	}
	e.cfg.Store(cfg)
	e.leak.Store(gis.DefaultLeakLocation)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) SetLeakLocation(loc model.LeakLocation) {
	e.leak.Store(loc)
}

func (e *Engine) LeakLocation() model.LeakLocation {
	return e.leak.Load().(model.LeakLocation)
}

func (e *Engine) Metrics() *metrics.Store { return e.metrics }

func (e *Engine) Alerts() *alerts.Store { return e.alerts }

// Start consumes live readings until ctx is cancelled.
func (e *Engine) Start(ctx context.Context, in <-chan model.TelemetryReading) {
	go func() {
		for {
			select {
			case r := <-in:
				e.ProcessReading(r)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ProcessReading scores one live reading, advances the simulator with it and
// evaluates every rolling window of its station.
func (e *Engine) ProcessReading(r model.TelemetryReading) []model.Alert {
	cfg := e.config()
	now := time.Now().UTC()
	if r.StationID == "" {
		r.StationID = cfg.Ingest.Parser.DefaultStationID
	}
	if cfg.Detection.DedupeWindow > 0 && e.dedupe.Seen(hashReading(r), now, cfg.Detection.DedupeWindow) {
		telemetry.ReadingsDropped.WithLabelValues("duplicate").Inc()
		return nil
	}

	label := e.classifier.ScoreOne(r)
	if !label.Unscored {
		telemetry.ObserveScore(label.IsAnomaly)
	}
	leakMode := cfg.Detection.LeakMode
	power := r.PowerKW
	if leakMode && r.LeakSpikeKW > 0 {
		power = r.LeakSpikeKW
	}
	flow := e.sim.Simulate(power, leakMode)
	analyzed := analyzedRow(r, label, power, flow, leakMode)
	ts := readingTime(r.Timestamp, now, normalize.Location(cfg))

	station := e.getStation(r.StationID, cfg)
	station.mu.Lock()
	out := make([]model.Alert, 0)
	if alert, ok := e.evaluateStreak(cfg, station, label, flow); ok {
		out = append(out, alert)
	}
	metricsList := make([]model.StationMetrics, 0, len(station.windows))
	for _, window := range station.sortedWindows() {
		window.Evict(ts.Add(-window.duration))
		window.Add(ReadingEntry{Timestamp: ts, PowerKW: power, FlowLPM: flow.FlowLPM, Anomaly: label.IsAnomaly, Score: label.AnomalyScore})
		sm := window.Metrics()
		metricsList = append(metricsList, sm)
		if alert, ok := e.evaluate(cfg, station.id, sm, flow); ok {
			out = append(out, alert)
		}
	}
	station.mu.Unlock()

	for _, alert := range out {
		e.emit(alert)
	}
	if len(metricsList) > 0 {
		e.metrics.Update(station.id, metricsList)
	}
	if e.store != nil {
		ctx := context.Background()
		_ = e.store.SaveMetrics(ctx, station.id, metricsList)
		_ = e.store.SaveReadings(ctx, []model.AnalyzedReading{analyzed})
	}
	return out
}

func (e *Engine) evaluate(cfg *config.Config, stationID string, sm model.StationMetrics, flow model.FlowResult) (model.Alert, bool) {
	if sm.Readings < cfg.Detection.MinReadings || sm.AnomalyRatio <= cfg.Detection.AnomalyRatioThreshold {
		return model.Alert{}, false
	}
	rules := []string{"anomaly_ratio"}
	if sm.MinScore < -0.1 {
		rules = append(rules, "deep_outlier")
	}
	if !e.cooldown.Allow(stationID, sm.WindowSec, cfg.Detection.AlertCooldown) {
		return model.Alert{}, false
	}
	severity := "medium"
	if sm.AnomalyRatio > cfg.Detection.AnomalyRatioThreshold*2 {
		severity = "critical"
	} else if len(rules) >= 2 {
		severity = "high"
	}
	return model.Alert{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		StationID: stationID,
		Severity:  severity,
		AlertType: AlertSuspectedLeak,
		WindowSec: sm.WindowSec,
		Metrics:   sm,
		Score:     sm.AnomalyRatio,
		Rules:     rules,
		Context:   alertContext(cfg, flow),
	}, true
}

// evaluateStreak fires once a station reports AnomalyStreak anomalous readings in a row.
func (e *Engine) evaluateStreak(cfg *config.Config, station *StationState, label model.AnomalyLabel, flow model.FlowResult) (model.Alert, bool) {
	if label.Unscored {
		return model.Alert{}, false
	}
	if !label.IsAnomaly {
		station.streak = 0
		return model.Alert{}, false
	}
	station.streak++
	if station.streak < cfg.Detection.AnomalyStreak {
		return model.Alert{}, false
	}
	if !e.cooldown.AllowKey("streak|"+station.id, cfg.Detection.AlertCooldown) {
		return model.Alert{}, false
	}
	ctx := alertContext(cfg, flow)
	ctx["streak"] = itoa(station.streak)
	return model.Alert{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		StationID: station.id,
		Severity:  "medium",
		AlertType: AlertSustainedAnomaly,
		Score:     label.AnomalyScore,
		Rules:     []string{"anomaly_streak"},
		Context:   ctx,
	}, true
}

func (e *Engine) emit(alert model.Alert) {
	e.alerts.Add(alert)
	telemetry.AlertsRaised.WithLabelValues(alert.AlertType, alert.Severity).Inc()
	if e.logger != nil {
		e.logger.Warn("alert triggered",
			"station_id", alert.StationID,
			"alert_type", alert.AlertType,
			"window_sec", alert.WindowSec,
			"severity", alert.Severity,
			"rules", alert.Rules,
			"score", alert.Score,
		)
	}
	ctx := context.Background()
	if e.store != nil {
		_ = e.store.SaveAlert(ctx, alert)
	}
	if e.publisher != nil {
		_ = e.publisher.Publish(ctx, alert)
	}
}

func alertContext(cfg *config.Config, flow model.FlowResult) map[string]string {
	leak := "false"
	if cfg.Detection.LeakMode {
		leak = "true"
	}
	return map[string]string{
		"engine":       "hydrotwin",
		"leak_mode":    leak,
		"flow_lpm":     itoa(flow.FlowLPM),
		"tank_level_m": formatFloat(flow.TankLevelM, 2),
	}
}

// Reset drops all station windows, cooldowns and dedupe history.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.stations = make(map[string]*StationState)
	e.mu.Unlock()
	e.cooldown.Clear()
	e.dedupe.Clear()
}

func (e *Engine) getStation(stationID string, cfg *config.Config) *StationState {
	if stationID == "" {
		stationID = "unknown"
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.stations[stationID]
	if !ok {
		s = &StationState{id: stationID, windows: make(map[int]*WindowState)}
		e.stations[stationID] = s
	}
	s.mu.Lock()
	for _, win := range cfg.Detection.Windows {
		sec := int(win.Seconds())
		if _, exists := s.windows[sec]; !exists {
			s.windows[sec] = NewWindowState(win)
		}
	}
	s.mu.Unlock()
	return s
}

func (s *StationState) sortedWindows() []*WindowState {
	keys := make([]int, 0, len(s.windows))
	for k := range s.windows {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]*WindowState, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.windows[k])
	}
	return out
}

// readingTime places a reading on the window clock. Clock-only labels such as
// "14:05" carry no date, so arrival time is used for them.
func readingTime(raw string, now time.Time, loc *time.Location) time.Time {
	if ts, err := normalize.ParseTimestamp(raw, loc); err == nil {
		return ts.UTC()
	}
	return now
}
