package ingest

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"hydrotwin/internal/config"
	"hydrotwin/internal/model"
)

const maxUDPPeers = 1024

// StartUDP listens for SCADA datagrams; one datagram may carry several
// newline-separated readings.
func StartUDP(ctx context.Context, cfg *config.Manager, out chan<- model.TelemetryReading, logger *slog.Logger) {
	current := cfg.Get().Ingest.UDP
	if !current.Enabled {
		if logger != nil {
			logger.Info("udp ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("udp ingest enabled", "addr", current.Addr)
	}
	go listenUDP(ctx, current.Addr, cfg, out, logger)
}

func listenUDP(ctx context.Context, addr string, cfg *config.Manager, out chan<- model.TelemetryReading, logger *slog.Logger) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		if logger != nil {
			logger.Error("udp resolve error", "err", err)
		}
		return
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		if logger != nil {
			logger.Error("udp listen error", "err", err)
		}
		return
	}
	defer conn.Close()
	buf := make([]byte, 8192)
	peers := make(map[string]*lineSource)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if logger != nil {
				logger.Warn("udp read error", "err", err)
			}
			continue
		}
		key := peer.String()
		src, ok := peers[key]
		if !ok {
			if len(peers) >= maxUDPPeers {
				clear(peers)
			}
			src = newLineSource(cfg, out, logger, "udp")
			peers[key] = src
		}
		for _, line := range strings.Split(string(buf[:n]), "\n") {
			src.handle(ctx, line)
		}
	}
}
