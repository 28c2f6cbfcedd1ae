package engine

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"hydrotwin/internal/cost"
	"hydrotwin/internal/diagnosis"
	"hydrotwin/internal/gis"
	"hydrotwin/internal/model"
	"hydrotwin/internal/propagation"
	"hydrotwin/internal/topology"
)

type AffectedUser struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Location         string             `json:"location"`
	Locality         string             `json:"locality"`
	Coordinates      model.LeakLocation `json:"coordinates"`
	DistanceToLeakKM float64            `json:"distance_to_leak_km"`
	LeakCoordinates  model.LeakLocation `json:"leak_coordinates"`
	Status           string             `json:"status"`
	LastUpdate       string             `json:"last_update"`
	FamilyMembers    int                `json:"family_members"`
	WaterUsage       string             `json:"water_usage"`
	Phone            string             `json:"phone"`
	model.CostEstimate
	Contractor     string `json:"contractor"`
	RepairPriority string `json:"repair_priority"`
	GISNote        string `json:"_gis_note"`
}

type TankStatus struct {
	LevelM       float64   `json:"level_m"`
	MaxLevelM    float64   `json:"max_level_m"`
	LevelPercent int       `json:"level_percent"`
	OutflowLPS   float64   `json:"outflow_lps"`
	Status       string    `json:"status"`
	Step         uint64    `json:"step"`
	Resets       uint64    `json:"safeguard_resets"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type PumpStatus struct {
	Online int    `json:"online"`
	Total  int    `json:"total"`
	Status string `json:"status"`
}

type NetworkStatus struct {
	PumpStations PumpStatus `json:"pump_stations"`
	Tank         TankStatus `json:"tank"`
	TankNodes    []string   `json:"tank_nodes"`
	ActiveAlerts int        `json:"active_alerts"`
	LastSync     time.Time  `json:"last_sync"`
}

type Health struct {
	Status          string  `json:"status"`
	DataAvailable   bool    `json:"data_available"`
	ModelLoaded     bool    `json:"model_loaded"`
	ModelState      string  `json:"model_state"`
	TrainedSamples  int     `json:"trained_samples"`
	TopologyLoaded  bool    `json:"topology_loaded"`
	TankLevelM      float64 `json:"tank_level_m"`
	UptimeSec       int64   `json:"uptime_sec"`
	StationsTracked int     `json:"stations_tracked"`
}

const activeAlertWindow = time.Hour

func (e *Engine) Consumers(ctx context.Context) ([]model.Consumer, error) {
	if e.registry == nil {
		return nil, fmt.Errorf("consumer registry not configured: %w", model.ErrMissingInput)
	}
	return e.registry.Consumers(ctx)
}

// AffectedConsumers resolves consumers around the current leak location.
func (e *Engine) AffectedConsumers(ctx context.Context, maxDistanceKM float64) ([]model.AffectedConsumer, error) {
	consumers, err := e.Consumers(ctx)
	if err != nil {
		return nil, err
	}
	if maxDistanceKM <= 0 {
		maxDistanceKM = e.config().GIS.MaxDistanceKM
	}
	return gis.FindNear(e.LeakLocation(), consumers, maxDistanceKM)
}

// AffectedUser is the field-crew card for the consumer closest to the leak.
func (e *Engine) AffectedUser(ctx context.Context, zone string) (AffectedUser, error) {
	cfg := e.config()
	if zone == "" {
		zone = cfg.GIS.DefaultZone
	}
	near, err := e.AffectedConsumers(ctx, cfg.GIS.MaxDistanceKM)
	if err != nil {
		return AffectedUser{}, err
	}
	c := near[0]
	return AffectedUser{
		ID:               c.ID,
		Name:             strings.ToUpper(c.Name),
		Location:         zone,
		Locality:         c.Locality,
		Coordinates:      model.LeakLocation{Lat: c.Lat, Lon: c.Lon},
		DistanceToLeakKM: c.DistanceToLeakKM,
		LeakCoordinates:  e.LeakLocation(),
		Status:           "CRITICAL_PRESSURE_DROP",
		LastUpdate:       "T-MINUS 00:02:00",
		FamilyMembers:    e.sim.Intn(3, 8),
		WaterUsage:       fmt.Sprintf("%d L/DAY", int(c.AvgDailyUsageLiters)),
		Phone:            c.Phone,
		CostEstimate:     cost.Estimate(cost.DefaultSeverity),
		Contractor:       "L&T Civil (Auto-Assigned)",
		RepairPriority:   "P1 - IMMEDIATE",
		GISNote:          "Consumer selected by haversine distance from the satellite leak point",
	}, nil
}

func (e *Engine) SatelliteZones() (model.FeatureCollection, error) {
	return gis.LoadFeatures(e.config().Data.SatelliteGeoJSON)
}

// Diagnose runs the differential filter. Without explicit features the
// satellite anomaly file is used.
func (e *Engine) Diagnose(weather string, features *model.FeatureCollection) (diagnosis.Result, error) {
	w, err := diagnosis.ParseWeather(weather)
	if err != nil {
		return diagnosis.Result{}, err
	}
	var fc model.FeatureCollection
	if features != nil {
		fc = *features
	} else {
		fc, err = e.SatelliteZones()
		if err != nil {
			return diagnosis.Result{}, err
		}
	}
	res := diagnosis.Diagnose(w, fc)
	if e.logger != nil {
		e.logger.Info("signal diagnosed", "weather", w, "signal", res.Report.SignalClass, "action", res.Report.Action, "features", res.Report.EmittedFeatures)
	}
	return res, nil
}

func (e *Engine) NetworkGeometry(leakMode bool) propagation.Geometry {
	return e.network.Geometry(leakMode)
}

func (e *Engine) EstimateCost(severity string) model.CostEstimate {
	return cost.Estimate(severity)
}

// NetworkStatus reports the live tank instead of fixed percentages.
func (e *Engine) NetworkStatus() NetworkStatus {
	snap := e.sim.Tank().Snapshot()
	pct := 0
	if snap.MaxLevelM > 0 {
		pct = int(math.Round(snap.LevelM / snap.MaxLevelM * 100))
	}
	tankStatus := "NORMAL"
	switch {
	case pct < 25:
		tankStatus = "CRITICAL"
	case pct < 50:
		tankStatus = "LOW"
	}

	status := NetworkStatus{
		Tank: TankStatus{
			LevelM:       round(snap.LevelM, 2),
			MaxLevelM:    snap.MaxLevelM,
			LevelPercent: pct,
			OutflowLPS:   snap.OutflowLPS,
			Status:       tankStatus,
			Step:         snap.Step,
			Resets:       e.sim.Tank().Resets(),
			UpdatedAt:    snap.UpdatedAt,
		},
		TankNodes:    []string{},
		ActiveAlerts: len(e.alerts.Since(time.Now().UTC().Add(-activeAlertWindow))),
		LastSync:     time.Now().UTC(),
	}

	pumps := 0
	if topo := e.networkTopology(); topo != nil {
		for _, n := range topo.Nodes {
			switch n.Type {
			case topology.NodePump:
				pumps++
			case topology.NodeTank:
				status.TankNodes = append(status.TankNodes, n.ID)
			}
		}
	}
	online := pumps
	for _, id := range e.metrics.Stations() {
		if len(e.alerts.ForStation(id)) > 0 && online > 0 {
			online--
		}
	}
	status.PumpStations = PumpStatus{Online: online, Total: pumps, Status: "NOMINAL"}
	if online < pumps {
		status.PumpStations.Status = "DEGRADED"
	}
	return status
}

func (e *Engine) networkTopology() *topology.Topology {
	return e.network.Topology()
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (e *Engine) Health() Health {
	cfg := e.config()
	h := Health{
		DataAvailable:   fileExists(cfg.Data.EnergyCSV),
		ModelLoaded:     e.classifier.Ready(),
		ModelState:      e.classifier.State().String(),
		TrainedSamples:  e.classifier.TrainedSamples(),
		TankLevelM:      round(e.sim.Tank().Snapshot().LevelM, 2),
		UptimeSec:       int64(time.Since(e.started).Seconds()),
		StationsTracked: len(e.metrics.Stations()),
	}
	topo := e.networkTopology()
	h.TopologyLoaded = topo != nil && !topo.IsEmpty()
	h.Status = "degraded"
	if h.DataAvailable && h.ModelLoaded {
		h.Status = "healthy"
	}
	return h
}

// RestoreTank puts the shared tank back to its configured initial level.
func (e *Engine) RestoreTank() model.TankSnapshot {
	e.sim.Tank().Restore()
	return e.sim.Tank().Snapshot()
}
