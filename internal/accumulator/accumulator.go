// Package accumulator implements the send-side accumulation buffer and
// trigger engine (spec.md §3, §4.2): it decides when pending payloads must
// be flushed into a bundle and hands the serialized bytes to a Sink.
//
// An Accumulator is owned exclusively by the event loop goroutine (spec.md
// §5): no mutex is used here by design, because only one goroutine is ever
// allowed to call Offer/Tick/Deadline.
package accumulator

import (
	"github.com/aminsaiful/simplemux-go/internal/metrics"
	"github.com/aminsaiful/simplemux-go/internal/separator"
)

// defaultMaxCapacity is the implementation-defined bundle capacity used as
// the n_max default when at least one other trigger is finite (spec.md §3:
// "implementation-defined, at least 100").
const defaultMaxCapacity = 100

// Sink receives a fully serialized bundle plus the reason that triggered
// the flush. It must not block for an unbounded time (spec.md §5 — the
// event loop has exactly one unbounded suspension point, and it is not
// this one).
type Sink func(bundle []byte, reason string)

// Config holds the immutable trigger configuration (spec.md §3).
type Config struct {
	// NMax is the count trigger. Zero means "use the spec default"
	// (resolved by New, since the default depends on whether any other
	// trigger is finite).
	NMax int
	// SizeThreshold is the byte-count trigger; zero/negative means infinite.
	SizeThreshold int
	// SizeThresholdExplicit records whether size_threshold was actually
	// configured by the user (flag or env override), as opposed to merely
	// carrying its unconditional flag default (cmd/simplemux/config.go sets
	// size_threshold to a nonzero default regardless of user input, unlike
	// NMax/TimeoutMicro/PeriodMicro whose zero value already means
	// "unconfigured"). resolvedNMax needs this to distinguish the two, the
	// same way the original C source compares against its MAXTHRESHOLD
	// constant (_examples/original_source/simplemux.c:507-510) rather than
	// just checking size_threshold > 0.
	SizeThresholdExplicit bool
	// TimeoutMicro is the inter-arrival trigger in microseconds; zero or
	// negative means infinite.
	TimeoutMicro int64
	// PeriodMicro is the absolute flush trigger in microseconds; zero or
	// negative means infinite.
	PeriodMicro int64
	// MTU is the maximum bundle length in bytes.
	MTU int
}

// resolvedNMax applies the spec.md §3 defaulting rule:
//
//	"If every trigger is left at its sentinel (effectively infinite), n_max
//	defaults to 1 (transparent pass-through per packet). If at least one
//	trigger is finite, n_max defaults to the maximum bundle capacity
//	(implementation-defined, at least 100)."
func (c Config) resolvedNMax() int {
	if c.NMax > 0 {
		return c.NMax
	}
	anyFinite := c.SizeThresholdExplicit || c.TimeoutMicro > 0 || c.PeriodMicro > 0
	if anyFinite {
		return defaultMaxCapacity
	}
	return 1
}

// Accumulator is the pending-payload buffer plus trigger evaluation.
type Accumulator struct {
	cfg       Config
	nMax      int
	sink      Sink
	bytes     []byte // serialized pending bundle, in FIFO order
	count     int
	lastFlush int64
}

// New constructs an Accumulator. startNow is the current monotonic
// microsecond time at startup (spec.md §3: last_flush_time "set on startup
// and on every flush").
func New(cfg Config, startNow int64, sink Sink) *Accumulator {
	return &Accumulator{
		cfg:       cfg,
		nMax:      cfg.resolvedNMax(),
		sink:      sink,
		lastFlush: startNow,
	}
}

// PendingCount returns the number of payloads currently buffered.
func (a *Accumulator) PendingCount() int { return a.count }

// PendingBytes returns the serialized size (including separators) that
// would be emitted if the pending payloads were flushed now.
func (a *Accumulator) PendingBytes() int { return len(a.bytes) }

// LastFlush returns the monotonic microsecond timestamp of the last flush
// (or of construction, if none has happened yet).
func (a *Accumulator) LastFlush() int64 { return a.lastFlush }

// Offer appends payload to the pending bundle, flushing first or instead as
// required by spec.md §4.2 steps 3-6. now is the current monotonic
// microsecond time.
func (a *Accumulator) Offer(payload []byte, now int64) {
	metrics.IncOffered()
	sepLen := separator.Len(len(payload))
	predicted := len(a.bytes) + sepLen + len(payload)

	if predicted > a.cfg.MTU {
		if a.count == 0 {
			metrics.IncDropOversize()
			return
		}
		a.flush(metrics.ReasonMTU, now)
		if sepLen+len(payload) > a.cfg.MTU {
			metrics.IncDropOversize()
			return
		}
	}

	var err error
	a.bytes, err = separator.AppendEncode(a.bytes, len(payload))
	if err != nil {
		metrics.IncDropOversize()
		return
	}
	a.bytes = append(a.bytes, payload...)
	a.count++
	metrics.SetPending(a.count, len(a.bytes))

	switch {
	case a.count >= a.nMax:
		a.flush(metrics.ReasonCount, now)
	case a.cfg.SizeThreshold > 0 && len(a.bytes) > a.cfg.SizeThreshold:
		a.flush(metrics.ReasonSize, now)
	case a.cfg.TimeoutMicro > 0 && (now-a.lastFlush) > a.cfg.TimeoutMicro:
		a.flush(metrics.ReasonTimeout, now)
	}
}

// Tick is called when the period deadline elapses (spec.md §4.2 tick).
// It flushes unconditionally if anything is pending, and always resets
// last_flush_time so the period restarts regardless of activity.
func (a *Accumulator) Tick(now int64) {
	if a.count > 0 {
		a.flush(metrics.ReasonPeriod, now)
		return
	}
	a.lastFlush = now
}

// flush serializes the pending bundle to the sink and resets state,
// preserving the invariant of spec.md §8 invariant 3: after any flush,
// pending_count == 0, pending_bytes == 0, last_flush_time == now.
func (a *Accumulator) flush(reason string, now int64) {
	if a.count > 0 {
		bundle := a.bytes
		a.sink(bundle, reason)
		metrics.IncFlush(reason)
		metrics.IncBundleSent()
	}
	a.bytes = nil
	a.count = 0
	a.lastFlush = now
	metrics.SetPending(0, 0)
}

// Deadline computes, per spec.md §4.3, the wait bound before the period
// trigger must fire: max(0, period - (now - last_flush_time)). If no
// period is configured it returns -1, meaning "no period deadline" (the
// caller should wait without a period-driven timeout).
func (a *Accumulator) Deadline(now int64) int64 {
	if a.cfg.PeriodMicro <= 0 {
		return -1
	}
	d := a.cfg.PeriodMicro - (now - a.lastFlush)
	if d < 0 {
		return 0
	}
	return d
}
