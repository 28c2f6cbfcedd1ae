package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"hydrotwin/internal/classifier"
	"hydrotwin/internal/config"
	"hydrotwin/internal/engine"
	"hydrotwin/internal/gis"
	"hydrotwin/internal/hydraulics"
	"hydrotwin/internal/ingest"
	"hydrotwin/internal/model"
	"hydrotwin/internal/notify"
	"hydrotwin/internal/propagation"
	"hydrotwin/internal/storage"
	"hydrotwin/internal/topology"
)

type twin struct {
	engine  *engine.Engine
	closers []io.Closer
}

func (t *twin) Close() {
	for _, c := range t.closers {
		_ = c.Close()
	}
}

func newSimulator(cfg *config.Config) *hydraulics.Simulator {
	tc := cfg.Simulation.Tank
	tank := hydraulics.NewTank(tc.InitialLevelM, hydraulics.TankParams{
		MaxLevelM:           tc.MaxLevelM,
		MinLevelM:           tc.MinLevelM,
		InflowLPS:           tc.InflowLPS,
		OutflowNormalLPS:    tc.OutflowNormalLPS,
		OutflowLeakLPS:      tc.OutflowLeakLPS,
		Dt:                  tc.Dt,
		SafeguardThresholdM: tc.SafeguardThresholdM,
		SafeguardResetM:     tc.SafeguardResetM,
	})
	params := hydraulics.Params{
		StaticHeadM: cfg.Simulation.StaticHeadM,
		DemoScale:   cfg.Simulation.DemoScale,
		NoisePct:    cfg.Simulation.NoisePct,
	}
	return hydraulics.NewSimulator(params, tank, rand.New(rand.NewSource(cfg.Simulation.Seed)))
}

// buildTwin loads training data, the consumer registry and the leak point
// concurrently, then wires every component. Missing inputs degrade the twin
// instead of failing startup.
func buildTwin(ctx context.Context, manager *config.Manager, logger *slog.Logger, withSinks bool) (*twin, error) {
	cfg := manager.Get()
	source := ingest.NewCSVFile(cfg.Data.EnergyCSV, manager, logger)

	var (
		history  []model.TelemetryReading
		registry gis.Registry
		leak     = gis.DefaultLeakLocation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		readings, err := source.Load(gctx)
		if err != nil {
			if errors.Is(err, model.ErrMissingInput) {
				logger.Warn("no training telemetry, classifier will fit on first request", "path", cfg.Data.EnergyCSV, "err", err)
				return nil
			}
			return err
		}
		history = readings
		return nil
	})
	g.Go(func() error {
		r, err := gis.OpenRegistry(gctx, cfg.Registry.Driver, cfg.Registry.DSN, cfg.Data.ConsumersJSON)
		if err != nil {
			logger.Warn("consumer registry unavailable, consumer lookups disabled", "driver", cfg.Registry.Driver, "err", err)
			registry = gis.UnavailableRegistry{Err: err}
			return nil
		}
		registry = r
		return nil
	})
	g.Go(func() error {
		loc, err := gis.LoadLeakLocation(cfg.Data.SatelliteGeoJSON)
		if err != nil {
			logger.Warn("leak location unavailable, using default", "path", cfg.Data.SatelliteGeoJSON, "err", err)
		}
		leak = loc
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cls := classifier.New(classifier.Options{
		Trees:         cfg.Classifier.Trees,
		MaxSamples:    cfg.Classifier.MaxSamples,
		Contamination: cfg.Classifier.Contamination,
		Seed:          cfg.Classifier.Seed,
	}, logger)
	if len(history) > 0 {
		if err := cls.Train(history); err != nil {
			logger.Warn("classifier training failed", "samples", len(history), "err", err)
		}
	}

	sim := newSimulator(cfg)
	network := propagation.New(topology.NewStore(cfg.Data.Topology, logger), sim, propagation.Options{
		LeakNodeID:    cfg.Network.LeakNodeID,
		Strategy:      cfg.Network.LeakNodeStrategy,
		NormalPowerKW: cfg.Network.NormalPowerKW,
		LeakPowerKW:   cfg.Network.LeakPowerKW,
		LeakLocation:  leak,
	})

	out := &twin{}
	if c, ok := registry.(io.Closer); ok {
		out.closers = append(out.closers, c)
	}
	deps := engine.Deps{
		Classifier: cls,
		Simulator:  sim,
		Network:    network,
		Registry:   registry,
		Telemetry:  source,
	}
	if withSinks {
		store, err := storage.NewStore(cfg.Storage)
		if err != nil {
			out.Close()
			return nil, err
		}
		if store != nil {
			if err := store.Init(ctx); err != nil {
				_ = store.Close()
				out.Close()
				return nil, err
			}
			out.closers = append(out.closers, store)
			deps.Store = store
		}
		if pub := notify.NewPublisher(cfg.Notify.Kafka, logger); pub != nil {
			deps.Publisher = pub
			out.closers = append(out.closers, pub)
		}
	}
	out.engine = engine.NewEngine(cfg, logger, deps)
	out.engine.SetLeakLocation(leak)
	return out, nil
}
