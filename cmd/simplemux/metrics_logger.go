package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aminsaiful/simplemux-go/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"offered", snap.Offered,
					"bundles_sent", snap.BundlesSent,
					"bundles_recv", snap.BundlesRecv,
					"demuxed", snap.Demuxed,
					"forwarded", snap.Forwarded,
					"drop_oversize", snap.DropOversize,
					"bad_separator", snap.BadSeparator,
					"truncated", snap.Truncated,
					"compress_fail", snap.CompressFail,
					"segment_drop", snap.SegmentDrop,
					"decomp_fail", snap.DecompFail,
					"send_errors", snap.SendErrors,
					"send_overflow", snap.SendOverflow,
					"errors", snap.Errors,
					"flush_count", snap.FlushCount,
					"flush_size", snap.FlushSize,
					"flush_timeout", snap.FlushTimeout,
					"flush_period", snap.FlushPeriod,
					"flush_mtu", snap.FlushMTU,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
