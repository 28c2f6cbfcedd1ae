package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"hydrotwin/internal/api"
	"hydrotwin/internal/config"
	"hydrotwin/internal/logging"
	"hydrotwin/internal/model"
)

func TestBuildTwinSurvivesRegistryConnectFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Data.EnergyCSV = filepath.Join(dir, "energy.csv")
	cfg.Data.SatelliteGeoJSON = filepath.Join(dir, "satellite.json")
	cfg.Data.Topology = filepath.Join(dir, "network.graphml")
	cfg.Registry.Driver = "postgres"
	cfg.Registry.DSN = "postgres://hydrotwin@127.0.0.1:1/hydrotwin?sslmode=disable&connect_timeout=2"
	manager := config.NewStaticManager(cfg)
	logger := logging.NewLoggerTo(io.Discard, "error", "json")

	tw, err := buildTwin(context.Background(), manager, logger, false)
	if err != nil {
		t.Fatalf("registry outage must not fail startup: %v", err)
	}
	defer tw.Close()

	if _, err := tw.engine.AffectedUser(context.Background(), ""); !errors.Is(err, model.ErrMissingInput) {
		t.Fatalf("expected missing input from affected user, got %v", err)
	}

	h := api.NewServer(manager, tw.engine, tw.engine.Metrics(), tw.engine.Alerts(), logger, "test").Handler()
	for target, want := range map[string]int{
		"/affected-user":             http.StatusServiceUnavailable,
		"/simulate-flow?power_kw=45": http.StatusOK,
		"/bsr-estimate":              http.StatusOK,
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != want {
			t.Fatalf("%s: status %d, want %d (%s)", target, rec.Code, want, rec.Body.String())
		}
	}
}
