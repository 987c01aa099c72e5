// Package demux implements the receive-path bundle parser (spec.md §4.5):
// it splits a received UDP datagram into its separator-prefixed payloads,
// runs each through the compression adapter, and reports what to write
// back to the virtual interface.
//
// Parse holds no state of its own across calls — the decompressor
// state it drives lives in the rohc.Adapter passed to each Parse call —
// so, like internal/accumulator, it is safe to own exclusively from the
// single event-loop goroutine without a mutex (spec.md §5).
package demux

import (
	"github.com/aminsaiful/simplemux-go/internal/metrics"
	"github.com/aminsaiful/simplemux-go/internal/rohc"
	"github.com/aminsaiful/simplemux-go/internal/separator"
)

// Outcome records what Parse found for one position in the bundle, for
// callers that want to log a structured trace event per spec.md §6.5.
type Outcome int

const (
	// OutcomeWritten means ip holds a packet the caller should write to
	// the virtual interface.
	OutcomeWritten Outcome = iota
	// OutcomeEmpty means the payload decompressed to nothing writable
	// (feedback-only or non-final ROHC segment); parsing continues.
	OutcomeEmpty
	// OutcomeDecompressFailed means this one payload was dropped but
	// parsing continues with the rest of the bundle.
	OutcomeDecompressFailed
	// OutcomeBadSeparator means the remainder of the bundle was
	// discarded (spec.md §4.5 step 2: "log, discard the entire
	// remaining bundle").
	OutcomeBadSeparator
	// OutcomeTruncated means a declared payload length ran past the end
	// of the datagram; the remainder of the bundle was discarded.
	OutcomeTruncated
)

// Result is emitted once per payload processed (or once for a
// bundle-ending error).
type Result struct {
	Outcome Outcome
	IP      []byte
}

// Sink receives each Result as Parse walks the bundle.
type Sink func(Result)

// Parse walks bundle per spec.md §4.5 step 2: decode a separator, read
// the declared number of bytes, optionally decompress, repeat until the
// cursor reaches the end or an unrecoverable framing error discards the
// rest. adapter may be nil, meaning compression is disabled and payload
// bytes are passed straight to the sink.
func Parse(bundle []byte, adapter *rohc.Adapter, sink Sink) {
	cursor := 0
	for cursor < len(bundle) {
		length, consumed, err := separator.Decode(bundle[cursor:])
		if err != nil {
			metrics.IncBadSeparator()
			sink(Result{Outcome: OutcomeBadSeparator})
			return
		}
		cursor += consumed

		if cursor+length > len(bundle) {
			metrics.IncTruncatedPayload()
			sink(Result{Outcome: OutcomeTruncated})
			return
		}
		payload := bundle[cursor : cursor+length]
		cursor += length

		metrics.IncDemuxed()

		if adapter == nil {
			sink(Result{Outcome: OutcomeWritten, IP: payload})
			continue
		}

		ip, status, err := adapter.Decompress(payload)
		switch status {
		case rohc.DecompressOK:
			sink(Result{Outcome: OutcomeWritten, IP: ip})
		case rohc.DecompressEmpty:
			sink(Result{Outcome: OutcomeEmpty})
		default:
			metrics.IncDecompressFailure()
			sink(Result{Outcome: OutcomeDecompressFailed})
			_ = err
		}
	}
}
