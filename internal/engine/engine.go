// Package engine implements the single-threaded event-loop reactor
// (spec.md §4.7, §5): it owns the send-side accumulator and the
// compression adapter exclusively, fed by two non-protocol-owning
// feeder goroutines that turn the virtual interface and the UDP socket
// into channels. Go cannot select over two heterogeneous blocking file
// descriptors in one syscall without cgo, so the channel-fed-select
// design is this repository's idiomatic translation of the spec's
// single-owner-no-locking requirement (spec.md §5): the feeders carry no
// protocol state, and everything stateful (accumulator, compression
// contexts, last_flush_time) is touched only inside the loop goroutine
// started by Serve.
//
// Shaped after the teacher's internal/server.Server: functional options,
// Ready()/Errors() channels, a blocking Serve(ctx), and a Shutdown(ctx)
// that waits for in-flight goroutines with a deadline.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aminsaiful/simplemux-go/internal/accumulator"
	"github.com/aminsaiful/simplemux-go/internal/clock"
	"github.com/aminsaiful/simplemux-go/internal/logging"
	"github.com/aminsaiful/simplemux-go/internal/netio"
	"github.com/aminsaiful/simplemux-go/internal/rohc"
	"github.com/aminsaiful/simplemux-go/internal/tracelog"
	"github.com/aminsaiful/simplemux-go/internal/transport"
)

// PacketEndpoint is the virtual-interface contract the event loop
// consumes (spec.md §6.2): whole-packet, blocking reads/writes, no
// internal framing.
type PacketEndpoint interface {
	ReadPacket(buf []byte) (int, error)
	WritePacket(pkt []byte) error
	Close() error
}

// UDPEndpoint is the UDP-transport contract the event loop consumes
// (spec.md §6.3).
type UDPEndpoint interface {
	Send(bundle []byte) error
	Recv() (netio.Datagram, error)
	MultiplexPort() int
	Close() error
}

const (
	defaultFeederQueue = 64
	defaultPacketBuf   = 65536
	defaultSendQueue   = 64
)

// Engine is the reactor itself.
type Engine struct {
	mu sync.RWMutex

	tun PacketEndpoint
	udp UDPEndpoint

	accumCfg accumulator.Config
	accum    *accumulator.Accumulator
	adapter  *rohc.Adapter // nil disables compression (spec.md §6.4 compress)

	clock clock.Clock
	trace tracelog.Sink
	logger *slog.Logger

	// asyncSend funnels bundle sends through a single goroutine, keeping a
	// slow or wedged UDP socket from blocking Offer/Tick in the reactor
	// loop (spec.md §6.3: "best-effort, non-blocking acceptable"). Built in
	// Serve once e.udp is known; nil until then.
	asyncSend *transport.AsyncTx

	packetBuf int

	readyOnce sync.Once
	readyCh   chan struct{}
	errCh     chan error
	lastErrMu sync.Mutex
	lastErr   error

	cancel context.CancelFunc
	wg     sync.WaitGroup

	totalTunRead    uint64
	totalUDPRead    uint64
	totalForwarded  uint64
}

// accumulatorFromEngine constructs the Accumulator wired to e.sendBundle
// as its Sink, started at the current monotonic time (spec.md §3:
// last_flush_time "set on startup").
func accumulatorFromEngine(e *Engine) *accumulator.Accumulator {
	return accumulator.New(e.accumCfg, e.clock.NowMicro(), e.sendBundle)
}

// Option configures an Engine.
type Option func(*Engine)

// New constructs an Engine. Tun and UDP must be supplied via options
// before Serve is called.
func New(opts ...Option) *Engine {
	e := &Engine{
		accumCfg:  accumulator.Config{MTU: 1500},
		clock:     clock.NewSystem(),
		trace:     tracelog.Nop,
		logger:    logging.L(),
		packetBuf: defaultPacketBuf,
		readyCh:   make(chan struct{}),
		errCh:     make(chan error, 1),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// WithTun supplies the virtual-interface endpoint (mandatory).
func WithTun(t PacketEndpoint) Option { return func(e *Engine) { e.tun = t } }

// WithUDP supplies the UDP endpoint (mandatory).
func WithUDP(u UDPEndpoint) Option { return func(e *Engine) { e.udp = u } }

// WithAccumulatorConfig supplies the trigger configuration (spec.md §3,
// §6.4).
func WithAccumulatorConfig(cfg accumulator.Config) Option {
	return func(e *Engine) { e.accumCfg = cfg }
}

// WithCompression enables header compression via adapter (spec.md §6.4
// compress option). Passing nil (the default) disables compression.
func WithCompression(adapter *rohc.Adapter) Option {
	return func(e *Engine) { e.adapter = adapter }
}

// WithClock overrides the monotonic clock (for deterministic tests).
func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithTraceLog supplies the structured event-log sink (spec.md §6.5).
func WithTraceLog(s tracelog.Sink) Option {
	return func(e *Engine) {
		if s != nil {
			e.trace = s
		}
	}
}

// WithLogger overrides the diagnostic slog.Logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPacketBufferSize overrides the per-read buffer size used for tun
// reads (default 65536, generous enough for any realistic tun/tap MTU).
func WithPacketBufferSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.packetBuf = n
		}
	}
}

// Ready is closed once the accumulator is constructed and the feeder
// goroutines have been started.
func (e *Engine) Ready() <-chan struct{} { return e.readyCh }

// Errors surfaces fatal and per-syscall errors as they occur (spec.md
// §7). It is a best-effort channel: if the consumer is not reading,
// errors are still logged and counted, just not delivered here.
func (e *Engine) Errors() <-chan error { return e.errCh }

func (e *Engine) setError(err error) {
	if err == nil {
		return
	}
	e.lastErrMu.Lock()
	e.lastErr = err
	e.lastErrMu.Unlock()
	select {
	case e.errCh <- err:
	default:
	}
}

// LastError returns the most recently recorded error, or nil.
func (e *Engine) LastError() error {
	e.lastErrMu.Lock()
	defer e.lastErrMu.Unlock()
	return e.lastErr
}

// Shutdown cancels the running Serve loop and waits for the feeder
// goroutines to exit, bounded by ctx's deadline.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.RLock()
	cancel := e.cancel
	asyncSend := e.asyncSend
	e.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	if asyncSend != nil {
		// Drain already-enqueued bundles over the still-open UDP endpoint
		// before closing it, rather than dropping them on cancellation.
		asyncSend.Close()
	}
	if e.tun != nil {
		_ = e.tun.Close()
	}
	if e.udp != nil {
		_ = e.udp.Close()
	}
	done := make(chan struct{})
	go func() { e.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		e.logger.Info("shutdown_summary",
			"tun_reads", e.totalTunRead,
			"udp_reads", e.totalUDPRead,
			"forwarded", e.totalForwarded,
		)
		return nil
	}
}
