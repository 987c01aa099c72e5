// Package rohc defines the minimal compression-adapter interface the core
// consumes (spec.md §2 leaf 3, §4.6): the internals of the header-compression
// engine (RFC 3095 / ROHC) are an external collaborator, out of scope for
// this repository. This package only defines the contract and ships a
// built-in Uncompressed-profile adapter that satisfies it, so the core is
// runnable without linking a real ROHC library; a production deployment
// plugs in a real implementation behind the same Compressor/Decompressor
// interfaces.
package rohc

import "errors"

// Profile identifies a ROHC compression profile (spec.md §4.6).
type Profile int

const (
	ProfileUncompressed Profile = iota
	ProfileIPOnly
	ProfileUDP
	ProfileUDPLite
	ProfileRTP
	ProfileESP
	ProfileTCP
)

func (p Profile) String() string {
	switch p {
	case ProfileUncompressed:
		return "uncompressed"
	case ProfileIPOnly:
		return "ip-only"
	case ProfileUDP:
		return "udp"
	case ProfileUDPLite:
		return "udp-lite"
	case ProfileRTP:
		return "rtp"
	case ProfileESP:
		return "esp"
	case ProfileTCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// CompressStatus is the outcome of a single Compress call (spec.md §4.4).
type CompressStatus int

const (
	CompressOK CompressStatus = iota
	// CompressSegment means the compressor produced output larger than the
	// peer's MRRU and segmented it; spec.md treats this as a drop (§9 Open
	// Question (a) resolved in favor of dropping, not forwarding a
	// possibly-oversized buffer).
	CompressSegment
	CompressError
)

// DecompressStatus is the outcome of a single Decompress call (spec.md §4.5).
type DecompressStatus int

const (
	// DecompressOK means ip holds a fully reconstructed packet.
	DecompressOK DecompressStatus = iota
	// DecompressEmpty means the segment was feedback-only or a non-final
	// fragment: nothing to write, parsing continues.
	DecompressEmpty
	DecompressError
)

// ErrCompressFailed and ErrDecompressFailed are returned alongside
// CompressError/DecompressError so callers can log with %w.
var (
	ErrCompressFailed   = errors.New("rohc: compression failed")
	ErrDecompressFailed = errors.New("rohc: decompression failed")
)

// TraceSink receives diagnostic output from the compression engine
// (spec.md §9: "Callback into the compression library for trace output").
// The adapter never calls into user code except through this sink.
type TraceSink interface {
	Trace(level int, entity, profile, msg string)
}

// NopTraceSink discards all trace output.
type NopTraceSink struct{}

func (NopTraceSink) Trace(level int, entity, profile, msg string) {}

// Compressor turns one IP packet into ROHC-compressed bytes.
type Compressor interface {
	Compress(ip []byte) (out []byte, status CompressStatus, err error)
}

// Decompressor turns ROHC-compressed bytes back into an IP packet, or
// reports that the segment carried no reconstructible packet.
type Decompressor interface {
	Decompress(rohc []byte) (ip []byte, status DecompressStatus, err error)
}

// Adapter bundles a compressor and decompressor for one direction pair, as
// described by spec.md §4.6: "The adapter owns one compressor and one
// decompressor." The Compressor serves the send direction and the
// Decompressor the receive direction, so one Adapter covers both without
// sharing a context between them.
type Adapter struct {
	Compressor   Compressor
	Decompressor Decompressor
}

// Compress delegates to the configured Compressor.
func (a *Adapter) Compress(ip []byte) ([]byte, CompressStatus, error) {
	return a.Compressor.Compress(ip)
}

// Decompress delegates to the configured Decompressor.
func (a *Adapter) Decompress(rohc []byte) ([]byte, DecompressStatus, error) {
	return a.Decompressor.Decompress(rohc)
}
