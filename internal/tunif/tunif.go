// Package tunif opens and drives the local tun/tap virtual network
// interface that supplies and absorbs the IP packets this repository
// multiplexes onto UDP (spec.md §2 leaf "mux interface", §6.2).
//
// The Device type satisfies the PacketEndpoint contract used by the event
// loop (internal/engine): ReadPacket/WritePacket move whole IP (or
// Ethernet, in tap mode) frames with no internal framing of their own —
// length-prefixing is purely a wire concept owned by internal/separator.
package tunif

// Mode selects whether the kernel device is a tun (IP-only, spec.md
// default) or tap (Ethernet) interface.
type Mode int

const (
	ModeTun Mode = iota
	ModeTap
)

func (m Mode) String() string {
	if m == ModeTap {
		return "tap"
	}
	return "tun"
}

// Device is the platform-specific tun/tap handle. See device_linux.go for
// the real implementation and device_other.go for the non-linux stub.
type Device struct {
	name string
	fd   int
}

// Name returns the kernel-assigned interface name (which may differ from
// the requested name if the kernel allocated one, e.g. "tun%d").
func (d *Device) Name() string { return d.name }
