package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hydrotwin/internal/alerts"
	"hydrotwin/internal/config"
	"hydrotwin/internal/cost"
	"hydrotwin/internal/diagnosis"
	"hydrotwin/internal/engine"
	"hydrotwin/internal/metrics"
	"hydrotwin/internal/model"
	"hydrotwin/internal/propagation"
	"hydrotwin/internal/telemetry"
)

// Twin is the engine surface the HTTP layer needs.
type Twin interface {
	AnalyzeEnergy(ctx context.Context, leakMode bool, limit int) ([]model.AnalyzedReading, error)
	ScoreTelemetry(readings []model.TelemetryReading) []model.LabeledReading
	SimulateFlow(powerKW float64, leakMode bool) model.FlowResult
	NetworkGeometry(leakMode bool) propagation.Geometry
	Consumers(ctx context.Context) ([]model.Consumer, error)
	AffectedConsumers(ctx context.Context, maxDistanceKM float64) ([]model.AffectedConsumer, error)
	AffectedUser(ctx context.Context, zone string) (engine.AffectedUser, error)
	SatelliteZones() (model.FeatureCollection, error)
	Diagnose(weather string, features *model.FeatureCollection) (diagnosis.Result, error)
	EstimateCost(severity string) model.CostEstimate
	NetworkStatus() engine.NetworkStatus
	Health() engine.Health
	LeakLocation() model.LeakLocation
	RestoreTank() model.TankSnapshot
	Reset()
	UpdateConfig(cfg *config.Config)
}

type Server struct {
	cfg     *config.Manager
	twin    Twin
	metrics *metrics.Store
	alerts  *alerts.Store
	logger  *slog.Logger
	version string
}

func NewServer(cfg *config.Manager, twin Twin, metricsStore *metrics.Store, alertsStore *alerts.Store, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:     cfg,
		twin:    twin,
		metrics: metricsStore,
		alerts:  alertsStore,
		logger:  logger,
		version: version,
	}
}

func Start(ctx context.Context, server *Server) *http.Server {
	if server == nil || server.cfg == nil {
		return nil
	}
	logger := server.logger
	current := server.cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "/", s.handleRoot)
	s.handle(mux, "/health", s.handleHealth)
	s.handle(mux, "/analyze-energy", s.handleAnalyzeEnergy)
	s.handle(mux, "/score", s.handleScore)
	s.handle(mux, "/simulate-flow", s.handleSimulateFlow)
	s.handle(mux, "/affected-user", s.handleAffectedUser)
	s.handle(mux, "/affected-users", s.handleAffectedUsers)
	s.handle(mux, "/bsr-estimate", s.handleEstimate)
	s.handle(mux, "/users", s.handleUsers)
	s.handle(mux, "/satellite-zones", s.handleSatelliteZones)
	s.handle(mux, "/network-status", s.handleNetworkStatus)
	s.handle(mux, "/network-geometry", s.handleNetworkGeometry)
	s.handle(mux, "/diagnose", s.handleDiagnose)
	s.handle(mux, "/stations", s.handleStations)
	s.handle(mux, "/stations/", s.handleStations)
	s.handle(mux, "/alerts", s.handleAlerts)
	s.handle(mux, "/admin/clear", s.handleClear)
	s.handle(mux, "/admin/restart", s.handleRestart)
	mux.Handle("/prom", telemetry.Handler())
	return s.cors(mux)
}

func (s *Server) handle(mux *http.ServeMux, route string, h http.HandlerFunc) {
	mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		telemetry.RequestDuration.WithLabelValues(route, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.cfg.Get().API.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
		return
	}
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	health := s.twin.Health()
	writeJSON(w, http.StatusOK, map[string]any{
		"service":       "hydrotwin",
		"version":       s.version,
		"status":        "operational",
		"model_loaded":  health.ModelLoaded,
		"leak_location": s.twin.LeakLocation(),
		"endpoints": []string{
			"/analyze-energy", "/health", "/bsr-estimate", "/affected-user", "/users",
			"/satellite-zones", "/network-status", "/network-geometry", "/diagnose",
			"/simulate-flow", "/score", "/alerts", "/stations", "/prom",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.twin.Health())
}

func (s *Server) handleAnalyzeEnergy(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	leak, err := boolParam(q.Get("simulate_leak"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	rows, err := s.twin.AnalyzeEnergy(r.Context(), leak, limit)
	if err != nil {
		s.fail(w, "analyze energy failed", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var readings []model.TelemetryReading
	if err := json.Unmarshal(body, &readings); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.twin.ScoreTelemetry(readings))
}

func (s *Server) handleSimulateFlow(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	power, err := strconv.ParseFloat(q.Get("power_kw"), 64)
	if err != nil || power < 0 || math.IsNaN(power) || math.IsInf(power, 0) {
		writeError(w, http.StatusBadRequest, errors.New("power_kw must be a finite non-negative number"))
		return
	}
	leak, err := boolParam(q.Get("leak_mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.twin.SimulateFlow(power, leak))
}

func (s *Server) handleAffectedUser(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	user, err := s.twin.AffectedUser(r.Context(), r.URL.Query().Get("zone"))
	if err != nil {
		s.fail(w, "affected user lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleAffectedUsers(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	maxKM := 0.0
	if v := r.URL.Query().Get("max_distance_km"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("max_distance_km must be a positive number"))
			return
		}
		maxKM = f
	}
	list, err := s.twin.AffectedConsumers(r.Context(), maxKM)
	if err != nil {
		s.fail(w, "affected consumer lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"leak_coordinates": s.twin.LeakLocation(),
		"consumers":        list,
		"count":            len(list),
	})
}

// handleEstimate keeps the lenient medium fallback unless strict=true.
func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	severity := q.Get("severity")
	if severity == "" {
		severity = cost.DefaultSeverity
	}
	strict, _ := boolParam(q.Get("strict"))
	if strict {
		est, err := cost.EstimateStrict(severity)
		if err != nil {
			s.fail(w, "cost estimate rejected", err)
			return
		}
		writeJSON(w, http.StatusOK, est)
		return
	}
	writeJSON(w, http.StatusOK, s.twin.EstimateCost(severity))
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	users, err := s.twin.Consumers(r.Context())
	if err != nil {
		s.fail(w, "consumer registry unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleSatelliteZones(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	fc, err := s.twin.SatelliteZones()
	if err != nil {
		s.fail(w, "satellite zones unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, fc)
}

func (s *Server) handleNetworkStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.twin.NetworkStatus())
}

func (s *Server) handleNetworkGeometry(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	leak, err := boolParam(r.URL.Query().Get("leak_mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.twin.NetworkGeometry(leak))
}

// handleDiagnose reads features from a POST body; GET uses the satellite file.
func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	var features *model.FeatureCollection
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if len(strings.TrimSpace(string(body))) > 0 {
			var fc model.FeatureCollection
			if err := json.Unmarshal(body, &fc); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			features = &fc
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	weather := r.URL.Query().Get("weather")
	if weather == "" {
		weather = string(diagnosis.Clear)
	}
	res, err := s.twin.Diagnose(weather, features)
	if err != nil {
		s.fail(w, "diagnosis failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	id := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/stations"), "/")
	if id != "" {
		list, updated, ok := s.metrics.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, errors.New("unknown station "+id))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"station_id": id,
			"updated_at": updated.Format(time.RFC3339Nano),
			"metrics":    list,
		})
		return
	}
	all := s.metrics.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": all,
		"count":   len(all),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.Alert
	switch {
	case q.Get("since") != "":
		ts, err := time.Parse(time.RFC3339, q.Get("since"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		list = s.alerts.Since(ts)
	case q.Get("station_id") != "":
		list = s.alerts.ForStation(q.Get("station_id"))
	default:
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.metrics.Clear()
		s.alerts.Clear()
	case "alerts":
		s.alerts.Clear()
	case "metrics":
		s.metrics.Clear()
	default:
		writeError(w, http.StatusBadRequest, errors.New("target must be all, alerts or metrics"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleRestart drops streaming state and returns the tank to its initial level.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	s.twin.Reset()
	s.metrics.Clear()
	s.alerts.Clear()
	snap := s.twin.RestoreTank()
	if s.logger != nil {
		s.logger.Info("twin restarted", "tank_level_m", snap.LevelM)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "tank": snap})
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if s.logger != nil {
		if status >= http.StatusInternalServerError {
			s.logger.Error(msg, "err", err)
		} else {
			s.logger.Warn(msg, "err", err)
		}
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch model.NewErrorPayload(err).Kind {
	case model.ErrorKindMissingInput:
		return http.StatusServiceUnavailable
	case model.ErrorKindInvalidRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func boolParam(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.New("invalid boolean: " + v)
	}
	return b, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	payload := model.NewErrorPayload(err)
	if status == http.StatusBadRequest && payload.Kind == model.ErrorKindInternal {
		payload.Kind = model.ErrorKindInvalidRequest
	}
	writeJSON(w, status, payload)
}

// writeJSON encodes before writing the header so an unencodable payload still
// turns into a 500 instead of a truncated 200.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(model.ErrorPayload{
			Error: fmt.Sprintf("encode response: %v", err),
			Kind:  model.ErrorKindInternal,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
