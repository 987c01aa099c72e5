package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/aminsaiful/simplemux-go/internal/demux"
	"github.com/aminsaiful/simplemux-go/internal/metrics"
	"github.com/aminsaiful/simplemux-go/internal/netio"
	"github.com/aminsaiful/simplemux-go/internal/rohc"
	"github.com/aminsaiful/simplemux-go/internal/tracelog"
	"github.com/aminsaiful/simplemux-go/internal/transport"
)

// Serve runs the reactor until ctx is cancelled or Shutdown is called.
// It blocks for the lifetime of the loop (spec.md §4.7).
func (e *Engine) Serve(ctx context.Context) error {
	if e.tun == nil || e.udp == nil {
		return fmt.Errorf("engine: WithTun and WithUDP are mandatory")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	e.accum = accumulatorFromEngine(e)

	// asyncSend is bound to its own background context, not runCtx: Close
	// is invoked explicitly from Shutdown so already-enqueued bundles are
	// drained over the still-open UDP endpoint instead of being dropped
	// the instant runCtx is cancelled (spec.md §6.3).
	asyncSend := transport.NewAsyncTx(context.Background(), defaultSendQueue, e.udp.Send, transport.Hooks{
		OnError: func(err error) {
			wrap := fmt.Errorf("%w: %v", ErrUDPWrite, err)
			metrics.IncError(mapErrToMetric(wrap))
			metrics.IncBundleSendError()
			e.setError(wrap)
			e.logger.Warn("udp_send_error", "error", wrap)
		},
		OnDrop: func() error {
			metrics.IncBundleSendOverflow()
			e.logger.Warn("udp_send_queue_full")
			return nil
		},
	})
	e.mu.Lock()
	e.asyncSend = asyncSend
	e.mu.Unlock()

	tunCh := make(chan []byte, defaultFeederQueue)
	udpCh := make(chan netio.Datagram, defaultFeederQueue)

	e.wg.Add(2)
	go e.feedTun(runCtx, tunCh)
	go e.feedUDP(runCtx, udpCh)

	e.readyOnce.Do(func() { close(e.readyCh) })
	e.logger.Info("engine_ready")

	for {
		now := e.clock.NowMicro()

		// Receive-path priority (spec.md §4.7): a non-blocking peek at the
		// UDP channel runs before the blocking multi-way select below, so
		// a UDP datagram ready at the same instant as a tun packet or a
		// timer expiry is always serviced first.
		select {
		case dg := <-udpCh:
			e.handleUDP(dg)
			continue
		default:
		}

		deadline := e.accum.Deadline(now)
		var timerC <-chan time.Time
		if deadline >= 0 {
			t := time.NewTimer(time.Duration(deadline) * time.Microsecond)
			defer t.Stop()
			timerC = t.C
		}

		select {
		case dg := <-udpCh:
			e.handleUDP(dg)
		case pkt := <-tunCh:
			e.handleTun(pkt)
		case <-timerC:
			e.accum.Tick(e.clock.NowMicro())
		case <-runCtx.Done():
			return nil
		}
	}
}

// feedTun blocks reading whole packets from the virtual interface and
// forwards copies to out. It owns no protocol state (spec.md §5): on a
// read error it logs, counts, and retries rather than touching the
// accumulator directly.
func (e *Engine) feedTun(ctx context.Context, out chan<- []byte) {
	defer e.wg.Done()
	buf := make([]byte, e.packetBuf)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := e.tun.ReadPacket(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wrap := fmt.Errorf("%w: %v", ErrTunRead, err)
			metrics.IncError(mapErrToMetric(wrap))
			e.setError(wrap)
			e.logger.Warn("tun_read_error", "error", wrap)
			continue
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		select {
		case out <- pkt:
		case <-ctx.Done():
			return
		}
	}
}

// feedUDP blocks reading datagrams from the UDP socket and forwards them
// to out, same error policy as feedTun.
func (e *Engine) feedUDP(ctx context.Context, out chan<- netio.Datagram) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		dg, err := e.udp.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wrap := fmt.Errorf("%w: %v", ErrUDPRead, err)
			metrics.IncError(mapErrToMetric(wrap))
			e.setError(wrap)
			e.logger.Warn("udp_read_error", "error", wrap)
			continue
		}
		select {
		case out <- dg:
		case <-ctx.Done():
			return
		}
	}
}

// handleTun implements the send path (spec.md §4.4).
func (e *Engine) handleTun(pkt []byte) {
	e.totalTunRead++
	payload := pkt
	if e.adapter != nil {
		compressed, status, err := e.adapter.Compress(pkt)
		switch status {
		case rohc.CompressOK:
			payload = compressed
		case rohc.CompressSegment:
			// Open question (a), resolved as drop: see spec.md §4.4 step 2.
			metrics.IncSegmentDrop()
			e.trace.Record(e.clock.NowMicro(), tracelog.ActionError, tracelog.KindComprFailed, len(pkt), int(e.totalTunRead))
			e.logger.Warn("compress_segment_drop", "bytes", len(pkt))
			return
		default:
			metrics.IncCompressFailure()
			e.trace.Record(e.clock.NowMicro(), tracelog.ActionError, tracelog.KindComprFailed, len(pkt), int(e.totalTunRead))
			e.logger.Warn("compress_failed", "error", err)
			return
		}
	}
	e.trace.Record(e.clock.NowMicro(), tracelog.ActionRec, tracelog.KindNative, len(pkt), int(e.totalTunRead))
	e.accum.Offer(payload, e.clock.NowMicro())
}

// sendBundle is the accumulator.Sink wired up in accumulatorFromEngine: it
// hands a flushed bundle to asyncSend for non-blocking transmission over
// UDP (spec.md §6.3) and records the flush in the trace log with its
// reason tag (spec.md §6.5). Actual I/O errors surface asynchronously via
// asyncSend's OnError hook, not through this call's return path.
func (e *Engine) sendBundle(bundle []byte, reason string) {
	if err := e.asyncSend.Send(bundle); err != nil {
		wrap := fmt.Errorf("%w: %v", ErrUDPWrite, err)
		metrics.IncError(mapErrToMetric(wrap))
		e.setError(wrap)
		e.logger.Warn("udp_send_enqueue_error", "error", wrap)
		return
	}
	e.trace.Record(e.clock.NowMicro(), tracelog.ActionSent, tracelog.KindMuxed, len(bundle), int(e.totalTunRead), tracelog.ReasonTag(reason))
}

// handleUDP implements the receive path (spec.md §4.5).
func (e *Engine) handleUDP(dg netio.Datagram) {
	e.totalUDPRead++
	if dg.SourcePort != e.udp.MultiplexPort() {
		e.totalForwarded++
		metrics.IncForwarded()
		e.trace.Record(e.clock.NowMicro(), tracelog.ActionForward, tracelog.KindNative, len(dg.Payload), int(e.totalUDPRead))
		if err := e.tun.WritePacket(dg.Payload); err != nil {
			wrap := fmt.Errorf("%w: %v", ErrTunWrite, err)
			metrics.IncError(mapErrToMetric(wrap))
			e.setError(wrap)
			e.logger.Warn("tun_write_error", "error", wrap)
		}
		return
	}

	metrics.IncBundleReceived()
	demux.Parse(dg.Payload, e.adapter, func(r demux.Result) {
		switch r.Outcome {
		case demux.OutcomeWritten:
			e.trace.Record(e.clock.NowMicro(), tracelog.ActionRec, tracelog.KindDemuxed, len(r.IP), int(e.totalUDPRead))
			if err := e.tun.WritePacket(r.IP); err != nil {
				wrap := fmt.Errorf("%w: %v", ErrTunWrite, err)
				metrics.IncError(mapErrToMetric(wrap))
				e.setError(wrap)
				e.logger.Warn("tun_write_error", "error", wrap)
			}
		case demux.OutcomeEmpty:
			e.trace.Record(e.clock.NowMicro(), tracelog.ActionRec, tracelog.KindROHCFeedback, 0, int(e.totalUDPRead))
		case demux.OutcomeDecompressFailed:
			e.trace.Record(e.clock.NowMicro(), tracelog.ActionError, tracelog.KindDecompFailed, 0, int(e.totalUDPRead))
		case demux.OutcomeBadSeparator:
			e.trace.Record(e.clock.NowMicro(), tracelog.ActionError, tracelog.KindBadSeparator, 0, int(e.totalUDPRead))
		case demux.OutcomeTruncated:
			e.trace.Record(e.clock.NowMicro(), tracelog.ActionError, tracelog.KindBadLength, 0, int(e.totalUDPRead))
		}
	})
}
