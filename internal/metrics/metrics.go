// Package metrics exposes Prometheus counters/gauges for the simplemux
// core, plus a local atomic mirror for cheap periodic logging without
// scraping Prometheus in-process (grounded on the teacher's
// internal/metrics package).
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/aminsaiful/simplemux-go/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus series.
var (
	PacketsOffered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simplemux_packets_offered_total",
		Help: "Total packets offered to the send-side accumulator.",
	})
	BundlesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simplemux_bundles_sent_total",
		Help: "Total multiplexed bundles sent over UDP.",
	})
	BundlesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simplemux_bundles_received_total",
		Help: "Total bundles received on the multiplex port.",
	})
	PacketsDemuxed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simplemux_packets_demuxed_total",
		Help: "Total payloads successfully extracted from received bundles.",
	})
	PacketsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simplemux_packets_forwarded_total",
		Help: "Total datagrams forwarded verbatim (source port != multiplex port).",
	})
	FlushesByReason = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simplemux_flushes_total",
		Help: "Accumulator flushes by trigger reason.",
	}, []string{"reason"})
	DroppedOversize = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simplemux_dropped_oversize_total",
		Help: "Packets dropped because they alone exceed the MTU.",
	})
	BadSeparators = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simplemux_bad_separator_total",
		Help: "Bundles discarded due to a malformed separator byte.",
	})
	TruncatedPayloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simplemux_truncated_payload_total",
		Help: "Bundles discarded mid-parse because a declared payload overran the datagram.",
	})
	CompressFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simplemux_compress_failed_total",
		Help: "Packets dropped because header compression failed.",
	})
	SegmentDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simplemux_segment_dropped_total",
		Help: "Packets dropped because the compressor produced a SEGMENT (oversize vs MRRU).",
	})
	DecompressFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simplemux_decompress_failed_total",
		Help: "Payloads skipped because decompression failed.",
	})
	BundleSendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simplemux_bundle_send_errors_total",
		Help: "sendto() failures on the UDP endpoint.",
	})
	BundleSendOverflow = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simplemux_bundle_send_overflow_total",
		Help: "Bundles dropped because the async UDP transmitter queue was full.",
	})
	PendingCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simplemux_accumulator_pending_count",
		Help: "Current number of payloads held in the send-side accumulator.",
	})
	PendingBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simplemux_accumulator_pending_bytes",
		Help: "Current serialized size (bytes) of the send-side accumulator.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "simplemux_build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simplemux_errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrTunOpen  = "tun_open"
	ErrTunRead  = "tun_read"
	ErrTunWrite = "tun_write"
	ErrUDPBind  = "udp_bind"
	ErrUDPRead  = "udp_read"
	ErrUDPWrite = "udp_write"
	ErrContext  = "context"
)

// Flush reason label constants, matching spec.md §3/§4.2.
const (
	ReasonCount   = "count"
	ReasonSize    = "size"
	ReasonTimeout = "timeout"
	ReasonPeriod  = "period"
	ReasonMTU     = "mtu"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap periodic logging.
var (
	localOffered      uint64
	localBundlesSent  uint64
	localBundlesRecv  uint64
	localDemuxed      uint64
	localForwarded    uint64
	localDropOversize uint64
	localBadSep       uint64
	localTruncated    uint64
	localCompressFail uint64
	localSegmentDrop  uint64
	localDecompFail   uint64
	localSendErrors   uint64
	localSendOverflow uint64
	localErrors       uint64
	localFlushCount   uint64
	localFlushSize    uint64
	localFlushTimeout uint64
	localFlushPeriod  uint64
	localFlushMTU     uint64
)

// Snapshot is a cheap copy of local counters for log-file-free deployments.
type Snapshot struct {
	Offered      uint64
	BundlesSent  uint64
	BundlesRecv  uint64
	Demuxed      uint64
	Forwarded    uint64
	DropOversize uint64
	BadSeparator uint64
	Truncated    uint64
	CompressFail uint64
	SegmentDrop  uint64
	DecompFail   uint64
	SendErrors   uint64
	SendOverflow uint64
	Errors       uint64
	FlushCount   uint64
	FlushSize    uint64
	FlushTimeout uint64
	FlushPeriod  uint64
	FlushMTU     uint64
}

func Snap() Snapshot {
	return Snapshot{
		Offered:      atomic.LoadUint64(&localOffered),
		BundlesSent:  atomic.LoadUint64(&localBundlesSent),
		BundlesRecv:  atomic.LoadUint64(&localBundlesRecv),
		Demuxed:      atomic.LoadUint64(&localDemuxed),
		Forwarded:    atomic.LoadUint64(&localForwarded),
		DropOversize: atomic.LoadUint64(&localDropOversize),
		BadSeparator: atomic.LoadUint64(&localBadSep),
		Truncated:    atomic.LoadUint64(&localTruncated),
		CompressFail: atomic.LoadUint64(&localCompressFail),
		SegmentDrop:  atomic.LoadUint64(&localSegmentDrop),
		DecompFail:   atomic.LoadUint64(&localDecompFail),
		SendErrors:   atomic.LoadUint64(&localSendErrors),
		SendOverflow: atomic.LoadUint64(&localSendOverflow),
		Errors:       atomic.LoadUint64(&localErrors),
		FlushCount:   atomic.LoadUint64(&localFlushCount),
		FlushSize:    atomic.LoadUint64(&localFlushSize),
		FlushTimeout: atomic.LoadUint64(&localFlushTimeout),
		FlushPeriod:  atomic.LoadUint64(&localFlushPeriod),
		FlushMTU:     atomic.LoadUint64(&localFlushMTU),
	}
}

func IncOffered() {
	PacketsOffered.Inc()
	atomic.AddUint64(&localOffered, 1)
}

func IncBundleSent() {
	BundlesSent.Inc()
	atomic.AddUint64(&localBundlesSent, 1)
}

func IncBundleReceived() {
	BundlesReceived.Inc()
	atomic.AddUint64(&localBundlesRecv, 1)
}

func IncDemuxed() {
	PacketsDemuxed.Inc()
	atomic.AddUint64(&localDemuxed, 1)
}

func IncForwarded() {
	PacketsForwarded.Inc()
	atomic.AddUint64(&localForwarded, 1)
}

// IncFlush records a flush event under its trigger reason.
func IncFlush(reason string) {
	FlushesByReason.WithLabelValues(reason).Inc()
	switch reason {
	case ReasonCount:
		atomic.AddUint64(&localFlushCount, 1)
	case ReasonSize:
		atomic.AddUint64(&localFlushSize, 1)
	case ReasonTimeout:
		atomic.AddUint64(&localFlushTimeout, 1)
	case ReasonPeriod:
		atomic.AddUint64(&localFlushPeriod, 1)
	case ReasonMTU:
		atomic.AddUint64(&localFlushMTU, 1)
	}
}

func IncDropOversize() {
	DroppedOversize.Inc()
	atomic.AddUint64(&localDropOversize, 1)
}

func IncBadSeparator() {
	BadSeparators.Inc()
	atomic.AddUint64(&localBadSep, 1)
}

func IncTruncatedPayload() {
	TruncatedPayloads.Inc()
	atomic.AddUint64(&localTruncated, 1)
}

func IncCompressFailure() {
	CompressFailures.Inc()
	atomic.AddUint64(&localCompressFail, 1)
}

func IncSegmentDrop() {
	SegmentDrops.Inc()
	atomic.AddUint64(&localSegmentDrop, 1)
}

func IncDecompressFailure() {
	DecompressFailures.Inc()
	atomic.AddUint64(&localDecompFail, 1)
}

func IncBundleSendError() {
	BundleSendErrors.Inc()
	atomic.AddUint64(&localSendErrors, 1)
}

func IncBundleSendOverflow() {
	BundleSendOverflow.Inc()
	atomic.AddUint64(&localSendOverflow, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// SetPending mirrors the accumulator's current depth for observability.
func SetPending(count, bytes int) {
	PendingCount.Set(float64(count))
	PendingBytes.Set(float64(bytes))
}

// InitBuildInfo sets the build info gauge and pre-registers error label
// series so the first real error does not pay registration latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrTunOpen, ErrTunRead, ErrTunWrite, ErrUDPBind, ErrUDPRead, ErrUDPWrite, ErrContext} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, r := range []string{ReasonCount, ReasonSize, ReasonTimeout, ReasonPeriod, ReasonMTU} {
		FlushesByReason.WithLabelValues(r).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
