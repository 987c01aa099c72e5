package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aminsaiful/simplemux-go/internal/netio"
	"github.com/aminsaiful/simplemux-go/internal/rohc"
	"github.com/aminsaiful/simplemux-go/internal/tracelog"
	"github.com/aminsaiful/simplemux-go/internal/tunif"
)

// openTun allocates the virtual interface named by cfg.mux_iface
// (spec.md §6.2, §6.4). Opening and interface-index resolution are the
// one piece of "external collaborator" setup this binary performs
// itself, since something has to before the event loop can run.
func openTun(cfg *appConfig, l *slog.Logger) (*tunif.Device, error) {
	mode := tunif.ModeTun
	if cfg.mode == "l2" {
		mode = tunif.ModeTap
	}
	dev, err := tunif.Open(cfg.muxIface, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s (%s): %w", cfg.muxIface, mode, err)
	}
	l.Info("tun_open", "requested", cfg.muxIface, "assigned", dev.Name(), "mode", mode.String())
	return dev, nil
}

// openUDP binds the UDP endpoint (spec.md §6.3, §6.4).
func openUDP(cfg *appConfig, l *slog.Logger) (*netio.Endpoint, error) {
	ep, err := netio.Open(netio.Config{
		NetIface: cfg.netIface,
		PeerAddr: cfg.peerAddr,
		Port:     cfg.port,
	})
	if err != nil {
		return nil, fmt.Errorf("udp open port=%d net_iface=%s: %w", cfg.port, cfg.netIface, err)
	}
	l.Info("udp_open", "port", cfg.port, "net_iface", cfg.netIface, "peer_addr", cfg.peerAddr)
	return ep, nil
}

// openCompression returns nil when compress is disabled (the engine
// treats a nil adapter as "compression off", spec.md §6.4), or a
// passthrough adapter otherwise — the only compression engine this
// repository ships, since ROHC's internals are an external collaborator
// (spec.md §1, internal/rohc package doc).
func openCompression(cfg *appConfig, l *slog.Logger) *rohc.Adapter {
	if !cfg.compress {
		return nil
	}
	l.Info("compression_enabled", "adapter", "passthrough")
	return rohc.NewPassthroughAdapter(slogTraceSink{l: l})
}

// openTraceLog opens the structured event log named by cfg.log_file, or
// returns tracelog.Nop if unset (spec.md §9 Open Question (c): empty
// log_file means no trace log, not an error).
func openTraceLog(cfg *appConfig) (tracelog.Sink, func() error, error) {
	if cfg.logFile == "" {
		return tracelog.Nop, func() error { return nil }, nil
	}
	f, err := os.OpenFile(cfg.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log_file %q: %w", cfg.logFile, err)
	}
	return tracelog.New(f), f.Close, nil
}

// slogTraceSink adapts the ROHC adapter's TraceSink callback (spec.md
// §9: "callback into the compression library for trace output") onto
// the diagnostic slog.Logger, gated by debug_level.
type slogTraceSink struct{ l *slog.Logger }

func (s slogTraceSink) Trace(level int, entity, profile, msg string) {
	s.l.Debug("rohc_trace", "level", level, "entity", entity, "profile", profile, "msg", msg)
}
