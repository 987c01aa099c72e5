// Package netio owns the UDP endpoint (spec.md §6.3): sending bundles to
// the peer and receiving datagrams from the socket, including the
// source-interface binding the spec scopes out of the core ("socket
// binding and interface-index resolution" is an external collaborator,
// §1). The tunnel is symmetric and single-peer, so one Endpoint serves
// both directions.
package netio

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// MaxDatagram is the largest UDP payload this package will read in one
// recvfrom call; bundles are already bounded by the configured MTU
// (spec.md §3), but the receive buffer must tolerate a misconfigured
// peer sending an oversized datagram without truncating it silently.
const MaxDatagram = 65507

// Endpoint is a bound UDP socket, optionally restricted to egress via a
// named local network interface (spec.md §6.4 net_iface).
type Endpoint struct {
	conn     *net.UDPConn
	peerAddr *net.UDPAddr
	port     int
}

// Config describes how to open the endpoint (spec.md §6.4).
type Config struct {
	// NetIface is the local network interface to bind egress traffic to
	// via SO_BINDTODEVICE. Optional: empty means "let routing decide."
	NetIface string
	// PeerAddr is the tunnel peer's IPv4 address.
	PeerAddr string
	// Port is the UDP port used in both directions (default 55555).
	Port int
}

// Open binds a UDP socket on Port (all local addresses) and, if NetIface
// is set, restricts it to that device via SO_BINDTODEVICE — the one piece
// of socket setup this repository performs itself (spec.md scopes out
// only interface-*index resolution*, not binding; grounded on the
// teacher's internal/socketcan/device.go AF_CAN bind pattern, generalized
// to AF_INET).
func Open(cfg Config) (*Endpoint, error) {
	peer, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", cfg.PeerAddr, cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("resolve peer %q: %w", cfg.PeerAddr, err)
	}

	lc := net.ListenConfig{}
	if cfg.NetIface != "" {
		lc.Control = func(network, address string, c interface {
			Control(func(fd uintptr)) error
		}) error {
			var ctrlErr error
			_ = c.Control(func(fd uintptr) {
				ctrlErr = unix.BindToDevice(int(fd), cfg.NetIface)
			})
			return ctrlErr
		}
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("listen udp4 :%d: %w", cfg.Port, err)
	}
	conn := pc.(*net.UDPConn)

	return &Endpoint{conn: conn, peerAddr: peer, port: cfg.Port}, nil
}

// Close releases the socket.
func (e *Endpoint) Close() error { return e.conn.Close() }

// Send ships bundle to the configured peer (spec.md §6.3: best-effort,
// non-blocking acceptable — callers needing non-blocking semantics should
// route Send through internal/transport.AsyncTx).
func (e *Endpoint) Send(bundle []byte) error {
	_, err := e.conn.WriteToUDP(bundle, e.peerAddr)
	if err != nil {
		return fmt.Errorf("udp write: %w", err)
	}
	return nil
}

// Datagram is one received UDP payload plus its source port, which the
// receive path uses to decide between the multiplex handler and
// pass-through (spec.md §4.5 step 1).
type Datagram struct {
	Payload    []byte
	SourcePort int
}

// Recv reads one datagram, blocking until one arrives.
func (e *Endpoint) Recv() (Datagram, error) {
	buf := make([]byte, MaxDatagram)
	n, addr, err := e.conn.ReadFromUDP(buf)
	if err != nil {
		return Datagram{}, fmt.Errorf("udp read: %w", err)
	}
	return Datagram{Payload: buf[:n], SourcePort: addr.Port}, nil
}

// MultiplexPort reports the configured port so receive-path dispatch can
// compare it against a Datagram's SourcePort.
func (e *Endpoint) MultiplexPort() int { return e.port }
