// Package transport provides AsyncTx, a reusable asynchronous transmitter
// that funnels bundle sends through a single goroutine (fan-in). It gives
// non-blocking enqueue semantics: if the internal buffer is full, Send
// invokes the configured OnDrop hook and returns its error (usually an
// overflow sentinel). This keeps the event loop's Offer/Tick calls on the
// accumulator (internal/accumulator) from blocking behind a slow or wedged
// UDP socket (spec.md §6.3: "best-effort, non-blocking acceptable").
//
// Adapted from the teacher's CAN-frame transmitter of the same name;
// generalized from can.Frame to the plain []byte bundle payload this
// repository's send path produces.
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// AsyncTx is a reusable asynchronous bundle transmitter that funnels sends
// through a single goroutine (fan-in).
//
// Life-cycle:
//
//	a := NewAsyncTx(ctx, buf, sendFn, hooks)
//	a.Send(bundle)
//	a.Close()
//
// After Close returns no more bundles will be processed; additional Send
// calls after Close return ErrAsyncTxClosed rather than silently
// enqueueing.
//
// Hooks let the caller keep distinct metrics/logging without duplicating
// the goroutine + buffer plumbing.
type AsyncTx struct {
	mu     sync.Mutex
	ch     chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func([]byte) error
	hooks  Hooks
	closed atomic.Bool // set when Close is called; prevents enqueue after shutdown
}

// Hooks customize AsyncTx behavior.
type Hooks struct {
	// OnError is called when send returns a non-nil error (bundle not sent).
	OnError func(error)
	// OnAfter is called only after a successful send.
	OnAfter func()
	// OnDrop is called when the buffer is full; its returned error is
	// returned from Send. If nil, the overflow is silent (best-effort
	// fire-and-forget).
	OnDrop func() error
}

// ErrAsyncTxClosed is returned by Send once Close has been called.
var ErrAsyncTxClosed = errors.New("async tx closed")

// NewAsyncTx constructs an AsyncTx with a buffered channel of size buf.
func NewAsyncTx(parent context.Context, buf int, send func([]byte) error, hooks Hooks) *AsyncTx {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		ch:     make(chan []byte, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case b, ok := <-a.ch:
			if !ok { // channel closed
				return
			}
			if err := a.send(b); err != nil {
				if a.hooks.OnError != nil {
					a.hooks.OnError(err)
				}
				continue
			}
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter()
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// Send queues bundle for asynchronous transmission, or returns the drop
// error if the buffer is full.
func (a *AsyncTx) Send(bundle []byte) error {
	// Fast-path check so steady-state sends avoid taking the lock when already shut down.
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- bundle:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// Close stops accepting bundles, lets the worker send the bundles already
// queued, and waits for it to exit.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) { // already closed
		return
	}
	// Close the channel under the send lock to avoid races; the worker drains
	// what is queued and exits when it sees the closed channel.
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
	a.cancel()
}
