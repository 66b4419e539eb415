// Package gatewayerr defines sentinel errors the gateway wraps with
// %w so callers can classify failures with errors.Is, mirroring the
// teacher's internal/server/errors.go.
package gatewayerr

import (
	"errors"

	"github.com/bondus/cansaurus-gatewayd/internal/metrics"
)

var (
	// ErrBusConfig covers failures opening the CAN socket or the watch
	// (fatal at startup, from main and gateway.New) and poll failures
	// in the multiplexer (logged and counted by Run).
	ErrBusConfig = errors.New("bus configuration")
	// ErrFactory covers PTY/symlink/watch allocation failure inside
	// openPort; non-fatal, the caller drops the discovery response.
	ErrFactory = errors.New("vport factory")
	// ErrBusSend covers a short or errored write to the CAN socket.
	ErrBusSend = errors.New("bus send")
	// ErrShutdown marks errors observed only during cooperative
	// shutdown, which callers should not treat as failures.
	ErrShutdown = errors.New("shutdown")
)

// MetricLabel maps a wrapped sentinel to a metrics error-counter label.
func MetricLabel(err error) string {
	switch {
	case errors.Is(err, ErrBusConfig):
		return metrics.ErrBusConfig
	case errors.Is(err, ErrFactory):
		return metrics.ErrFactory
	case errors.Is(err, ErrBusSend):
		return metrics.ErrBusSend
	default:
		return metrics.ErrOther
	}
}
