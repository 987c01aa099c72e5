package engine

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aminsaiful/simplemux-go/internal/accumulator"
	"github.com/aminsaiful/simplemux-go/internal/netio"
	"github.com/aminsaiful/simplemux-go/internal/separator"
	"github.com/aminsaiful/simplemux-go/internal/tracelog"
)

type traceCall struct {
	action, kind string
	bytes        int
	counter      int
}

type fakeTrace struct {
	mu    sync.Mutex
	calls []traceCall
}

func (f *fakeTrace) Record(_ int64, action, kind string, bytes, counter int, _ ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, traceCall{action, kind, bytes, counter})
}

func (f *fakeTrace) callsOf(kind string) []traceCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []traceCall
	for _, c := range f.calls {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

type fakeTun struct {
	in      chan []byte
	mu      sync.Mutex
	written [][]byte
	closed  atomic.Bool
}

func newFakeTun() *fakeTun { return &fakeTun{in: make(chan []byte, 16)} }

func (f *fakeTun) push(pkt []byte) { f.in <- pkt }

func (f *fakeTun) ReadPacket(buf []byte) (int, error) {
	pkt, ok := <-f.in
	if !ok {
		return 0, io.EOF
	}
	return copy(buf, pkt), nil
}

func (f *fakeTun) WritePacket(pkt []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), pkt...))
	return nil
}

func (f *fakeTun) Close() error {
	if f.closed.CompareAndSwap(false, true) {
		close(f.in)
	}
	return nil
}

func (f *fakeTun) writtenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func (f *fakeTun) writtenAt(i int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written[i]
}

type fakeUDP struct {
	in     chan netio.Datagram
	mu     sync.Mutex
	sent   [][]byte
	port   int
	closed atomic.Bool
}

func newFakeUDP(port int) *fakeUDP { return &fakeUDP{in: make(chan netio.Datagram, 16), port: port} }

func (f *fakeUDP) push(dg netio.Datagram) { f.in <- dg }

func (f *fakeUDP) Recv() (netio.Datagram, error) {
	dg, ok := <-f.in
	if !ok {
		return netio.Datagram{}, io.EOF
	}
	return dg, nil
}

func (f *fakeUDP) Send(bundle []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), bundle...))
	return nil
}

func (f *fakeUDP) MultiplexPort() int { return f.port }

func (f *fakeUDP) Close() error {
	if f.closed.CompareAndSwap(false, true) {
		close(f.in)
	}
	return nil
}

func (f *fakeUDP) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeUDP) sentAt(i int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[i]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestEngineSendPathOffersAndSendsBundle(t *testing.T) {
	tun := newFakeTun()
	udp := newFakeUDP(55555)
	e := New(
		WithTun(tun),
		WithUDP(udp),
		WithAccumulatorConfig(accumulator.Config{NMax: 1, MTU: 1500}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx) }()
	<-e.Ready()

	payload := []byte{1, 2, 3, 4}
	tun.push(payload)

	waitFor(t, time.Second, func() bool { return udp.sentCount() == 1 })
	bundle := udp.sentAt(0)
	gotLen, consumed, err := separator.Decode(bundle)
	if err != nil {
		t.Fatalf("decode separator: %v", err)
	}
	if string(bundle[consumed:consumed+gotLen]) != string(payload) {
		t.Fatalf("bundle payload = %v, want %v", bundle[consumed:consumed+gotLen], payload)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	<-done
}

func TestEngineReceivePathWritesDemuxedPacket(t *testing.T) {
	tun := newFakeTun()
	udp := newFakeUDP(55555)
	e := New(
		WithTun(tun),
		WithUDP(udp),
		WithAccumulatorConfig(accumulator.Config{NMax: 1, MTU: 1500}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx) }()
	<-e.Ready()

	inner := []byte{9, 8, 7}
	bundle, err := separator.AppendEncode(nil, len(inner))
	if err != nil {
		t.Fatalf("AppendEncode: %v", err)
	}
	bundle = append(bundle, inner...)
	udp.push(netio.Datagram{Payload: bundle, SourcePort: 55555})

	waitFor(t, time.Second, func() bool { return tun.writtenCount() == 1 })
	if string(tun.writtenAt(0)) != string(inner) {
		t.Fatalf("written = %v, want %v", tun.writtenAt(0), inner)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	_ = e.Shutdown(shutdownCtx)
	<-done
}

func TestEnginePassThroughForNonMultiplexPort(t *testing.T) {
	tun := newFakeTun()
	udp := newFakeUDP(55555)
	e := New(
		WithTun(tun),
		WithUDP(udp),
		WithAccumulatorConfig(accumulator.Config{NMax: 1, MTU: 1500}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx) }()
	<-e.Ready()

	native := []byte{0xAA, 0xBB}
	udp.push(netio.Datagram{Payload: native, SourcePort: 40000})

	waitFor(t, time.Second, func() bool { return tun.writtenCount() == 1 })
	if string(tun.writtenAt(0)) != string(native) {
		t.Fatalf("written = %v, want verbatim %v", tun.writtenAt(0), native)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	_ = e.Shutdown(shutdownCtx)
	<-done
}

func TestEngineTraceLogCounterTracksPerDirectionTotals(t *testing.T) {
	// Regression: trace.Record's counter argument must carry the running
	// per-direction packet count (tap2net/net2tap in the original tool,
	// spec.md §6.5), not a hardcoded 0.
	tun := newFakeTun()
	udp := newFakeUDP(55555)
	trace := &fakeTrace{}
	e := New(
		WithTun(tun),
		WithUDP(udp),
		WithTraceLog(trace),
		WithAccumulatorConfig(accumulator.Config{NMax: 1, MTU: 1500}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx) }()
	<-e.Ready()

	tun.push([]byte{1})
	tun.push([]byte{2})
	waitFor(t, time.Second, func() bool { return udp.sentCount() == 2 })

	sentCalls := trace.callsOf(tracelog.KindMuxed)
	if len(sentCalls) != 2 {
		t.Fatalf("got %d muxed trace calls, want 2", len(sentCalls))
	}
	if sentCalls[0].counter != 1 || sentCalls[1].counter != 2 {
		t.Fatalf("muxed trace counters = %d, %d, want 1, 2", sentCalls[0].counter, sentCalls[1].counter)
	}

	inner := []byte{9, 8, 7}
	bundle, err := separator.AppendEncode(nil, len(inner))
	if err != nil {
		t.Fatalf("AppendEncode: %v", err)
	}
	bundle = append(bundle, inner...)
	udp.push(netio.Datagram{Payload: bundle, SourcePort: 55555})
	waitFor(t, time.Second, func() bool { return tun.writtenCount() == 1 })

	demuxedCalls := trace.callsOf(tracelog.KindDemuxed)
	if len(demuxedCalls) != 1 || demuxedCalls[0].counter != 1 {
		t.Fatalf("demuxed trace calls = %v, want one call with counter 1", demuxedCalls)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	_ = e.Shutdown(shutdownCtx)
	<-done
}

func TestEngineShutdownStopsServeLoop(t *testing.T) {
	tun := newFakeTun()
	udp := newFakeUDP(55555)
	e := New(WithTun(tun), WithUDP(udp))

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx) }()
	<-e.Ready()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Serve did not return after Shutdown")
	}
}

func TestEngineServeRequiresTunAndUDP(t *testing.T) {
	e := New()
	if err := e.Serve(context.Background()); err == nil {
		t.Fatalf("expected error when Tun/UDP not configured")
	}
}
