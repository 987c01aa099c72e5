package engine

import (
	"errors"

	"github.com/aminsaiful/simplemux-go/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is
// (spec.md §7 error taxonomy).
var (
	ErrTunOpen  = errors.New("tun_open")
	ErrTunRead  = errors.New("tun_read")
	ErrTunWrite = errors.New("tun_write")
	ErrUDPRead  = errors.New("udp_read")
	ErrUDPWrite = errors.New("udp_write")
	ErrContext  = errors.New("context_cancelled")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrTunOpen):
		return metrics.ErrTunOpen
	case errors.Is(err, ErrTunRead):
		return metrics.ErrTunRead
	case errors.Is(err, ErrTunWrite):
		return metrics.ErrTunWrite
	case errors.Is(err, ErrUDPRead):
		return metrics.ErrUDPRead
	case errors.Is(err, ErrUDPWrite):
		return metrics.ErrUDPWrite
	case errors.Is(err, ErrContext):
		return metrics.ErrContext
	default:
		return "other"
	}
}
