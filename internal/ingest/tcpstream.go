package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"hydrotwin/internal/config"
	"hydrotwin/internal/model"
)

// StartTCPStream accepts line-oriented telemetry connections, one pump
// station logger per connection.
func StartTCPStream(ctx context.Context, cfg *config.Manager, out chan<- model.TelemetryReading, logger *slog.Logger) {
	current := cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("tcp stream ingest enabled", "addr", current.Addr)
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp stream listen error", "err", err)
		}
		return
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				if logger != nil {
					logger.Warn("tcp stream accept error", "err", err)
				}
				continue
			}
			go serveTCPStream(ctx, conn, newLineSource(cfg, out, logger, "tcp_stream"))
		}
	}()
}

func serveTCPStream(ctx context.Context, conn net.Conn, src *lineSource) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		src.handle(ctx, scanner.Text())
	}
	if src.logger == nil {
		return
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		src.logger.Warn("tcp stream scanner error", "remote", conn.RemoteAddr().String(), "err", err)
	}
	src.logger.Debug("tcp stream closed", "remote", conn.RemoteAddr().String(), "accepted", src.accepted, "rejected", src.rejected)
}
