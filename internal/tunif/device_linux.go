//go:build linux

package tunif

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	ifNameSize  = 16
	tunDevPath  = "/dev/net/tun"
	iffTun      = 0x0001
	iffTap      = 0x0002
	iffNoPI     = 0x1000
	ifReqIoctl = 0x400454ca // TUNSETIFF, see linux/if_tun.h
)

// ifReq mirrors struct ifreq's leading name + flags fields used by
// TUNSETIFF (linux/if.h, linux/if_tun.h). Only the fields this package
// needs are modeled.
type ifReq struct {
	name  [ifNameSize]byte
	flags uint16
	_     [22]byte // pad to sizeof(struct ifreq) == 40 bytes on 64-bit linux
}

// Open allocates (or attaches to) a tun/tap device named name (empty
// string lets the kernel pick, e.g. "tun0"). Grounded on the teacher's
// internal/socketcan/device.go open-a-raw-fd-then-ioctl-then-bind
// pattern, generalized from AF_CAN socket setup to the /dev/net/tun
// character device + TUNSETIFF ioctl sequence.
func Open(name string, mode Mode) (*Device, error) {
	fd, err := unix.Open(tunDevPath, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", tunDevPath, err)
	}

	var req ifReq
	copy(req.name[:], name)
	req.flags = iffNoPI
	if mode == ModeTap {
		req.flags |= iffTap
	} else {
		req.flags |= iffTun
	}

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(ifReqIoctl), uintptr(unsafe.Pointer(&req))); errno != 0 {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("ioctl(TUNSETIFF, %s): %w", mode, errno)
	}

	assigned := nullTerminatedString(req.name[:])
	return &Device{name: assigned, fd: fd}, nil
}

func nullTerminatedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Close releases the underlying file descriptor.
func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadPacket reads one packet into buf, returning the number of bytes
// read. buf should be sized at least MTU (+14 for the Ethernet header in
// tap mode; IFF_NO_PI is set, so no packet-information prefix is added).
func (d *Device) ReadPacket(buf []byte) (int, error) {
	n, err := unix.Read(d.fd, buf)
	if err != nil {
		return 0, fmt.Errorf("tun read: %w", err)
	}
	return n, nil
}

// WritePacket writes one whole packet to the interface.
func (d *Device) WritePacket(pkt []byte) error {
	_, err := unix.Write(d.fd, pkt)
	if err != nil {
		return fmt.Errorf("tun write: %w", err)
	}
	return nil
}
