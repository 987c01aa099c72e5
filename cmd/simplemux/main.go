// Command simplemux runs one side of a Simplemux tunnel: it reads
// packets from a local virtual interface, accumulates and optionally
// compresses them, and ships multiplexed bundles to a peer over UDP
// (spec.md §1). Helper implementations live in dedicated files: config.go,
// logger.go, metrics_logger.go, endpoints.go.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aminsaiful/simplemux-go/internal/accumulator"
	"github.com/aminsaiful/simplemux-go/internal/engine"
	"github.com/aminsaiful/simplemux-go/internal/metrics"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("simplemux %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}

	l := setupLogger(cfg.logFormat, cfg.debugLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	if cfg.sizeThresh > cfg.mtu {
		l.Warn("size_threshold_exceeds_mtu", "size_threshold", cfg.sizeThresh, "mtu", cfg.mtu)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	tun, err := openTun(cfg, l)
	if err != nil {
		l.Error("tun_open_error", "error", err)
		return
	}
	defer tun.Close()

	udp, err := openUDP(cfg, l)
	if err != nil {
		l.Error("udp_open_error", "error", err)
		return
	}
	defer udp.Close()

	trace, closeTrace, err := openTraceLog(cfg)
	if err != nil {
		l.Error("trace_log_open_error", "error", err)
		return
	}
	defer closeTrace()

	adapter := openCompression(cfg, l)

	e := engine.New(
		engine.WithTun(tun),
		engine.WithUDP(udp),
		engine.WithCompression(adapter),
		engine.WithTraceLog(trace),
		engine.WithLogger(l),
		engine.WithAccumulatorConfig(accumulator.Config{
			NMax:                  cfg.nMax,
			SizeThreshold:         cfg.sizeThresh,
			SizeThresholdExplicit: cfg.sizeThreshExplicit,
			TimeoutMicro:          cfg.timeoutUs,
			PeriodMicro:           cfg.periodUs,
			MTU:                   cfg.mtu,
		}),
	)

	go func() {
		if err := e.Serve(ctx); err != nil {
			l.Error("engine_error", "error", err)
			cancel()
		}
	}()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-e.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		httpSrv := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = httpSrv.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		l.Warn("engine_shutdown_timeout", "error", err)
	}
	wg.Wait()
}
