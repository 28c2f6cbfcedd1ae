package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hydrotwin/internal/api"
	"hydrotwin/internal/config"
	"hydrotwin/internal/ingest"
	"hydrotwin/internal/logging"
	"hydrotwin/internal/model"
)

const configWatchInterval = 3 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	manager, err := loadManager()
	if err != nil {
		return err
	}
	cfg := manager.Get()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tw, err := buildTwin(ctx, manager, logger, true)
	if err != nil {
		return err
	}
	defer tw.Close()

	if manager.Path() != "" {
		go manager.Watch(configWatchInterval, func(next *config.Config) {
			tw.engine.UpdateConfig(next)
			logger.Info("config reloaded", "path", manager.Path())
		}, func(err error) {
			logger.Warn("config reload failed", "path", manager.Path(), "err", err)
		}, ctx.Done())
	}

	readings := make(chan model.TelemetryReading, cfg.Ingest.ChannelBuffer)
	tw.engine.Start(ctx, readings)

	ingest.StartREST(ctx, manager, readings, logger)
	ingest.StartFileTail(ctx, manager, readings, logger)
	ingest.StartTCPStream(ctx, manager, readings, logger)
	ingest.StartUDP(ctx, manager, readings, logger)
	ingest.StartKafka(ctx, manager, readings, logger)

	server := api.NewServer(manager, tw.engine, tw.engine.Metrics(), tw.engine.Alerts(), logger, version)
	api.Start(ctx, server)

	health := tw.engine.Health()
	logger.Info("hydrotwin started", "version", version, "status", health.Status, "model_loaded", health.ModelLoaded)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
