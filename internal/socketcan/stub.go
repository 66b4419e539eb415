//go:build !linux

package socketcan

import (
	"errors"

	"github.com/bondus/cansaurus-gatewayd/internal/can"
)

// ErrUnsupported is returned by Open on non-Linux platforms; SocketCAN
// is a Linux kernel facility.
var ErrUnsupported = errors.New("socketcan: unsupported platform")

// ErrTimeout mirrors the Linux build's sentinel so callers that switch
// on it compile and behave identically on both platforms, even though
// this stub never actually returns it.
var ErrTimeout = errors.New("socketcan: receive timeout")

type Device struct{}

func Open(iface string) (*Device, error)       { return nil, ErrUnsupported }
func (d *Device) FD() int                      { return -1 }
func (d *Device) Close() error                 { return nil }
func (d *Device) Recv() (can.Frame, error)     { return can.Frame{}, ErrUnsupported }
func (d *Device) Send(id uint32, p []byte) error { return ErrUnsupported }
func (d *Device) SendFrame(fr can.Frame) error { return ErrUnsupported }
