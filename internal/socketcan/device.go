//go:build linux

// Package socketcan binds a raw CAN socket and implements the frame
// codec: encode/decode of fixed-size CAN frames to/from the kernel's
// SocketCAN raw interface. Adapted from the teacher's device.go, with
// the filter installation and frame-codec error semantics the gateway
// specification requires (InvalidArgument on oversize payload, IoError
// on short/errored writes; frames are indivisible).
package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bondus/cansaurus-gatewayd/internal/can"
	"github.com/bondus/cansaurus-gatewayd/internal/protocol"
)

// ErrPayloadTooLarge is returned by Send when the payload exceeds
// can.MaxPayload bytes.
var ErrPayloadTooLarge = errors.New("socketcan: payload exceeds 8 bytes")

// ErrShortWrite is returned by Send when the kernel accepted fewer
// bytes than a full frame; frames are indivisible, so this is always an
// error rather than a resumption point.
var ErrShortWrite = errors.New("socketcan: short write")

// ErrTimeout is returned by Recv when no frame arrives before the
// configured receive timeout.
var ErrTimeout = errors.New("socketcan: receive timeout")

const recvBufSize = 512

// Device is a bound, filtered raw CAN socket.
type Device struct {
	fd int
}

// Open binds a raw CAN socket to iface, installs the discovery and
// control-channel filters, and configures the buffers and timeouts the
// gateway's bus configuration calls for: zero send buffer (forces
// blocking writes rather than silently dropping frames when the kernel
// queue is full), 512-byte receive buffer, 1s receive timeout.
func Open(iface string) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	filters := []unix.CanFilter{
		{Id: protocol.UUIDFilter, Mask: protocol.UUIDMask},
		{Id: protocol.CTLFilterBase, Mask: protocol.CTLMask},
	}
	if err := unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("install filters: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, 0); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set send buffer: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, recvBufSize); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set receive buffer: %w", err)
	}
	tv := unix.NsecToTimeval(int64(time.Second))
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set receive timeout: %w", err)
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

// FD returns the underlying socket descriptor for the multiplexer's
// poll set.
func (d *Device) FD() int { return d.fd }

// Close shuts down the socket. Gateway.Shutdown does not call it: the
// gateway's worker stops once its bounded poll wait returns, and the
// caller that opened the device closes it.
func (d *Device) Close() error { return unix.Close(d.fd) }

// Recv reads one classic CAN frame. It returns ErrTimeout if the
// configured SO_RCVTIMEO elapses with nothing to read.
func (d *Device) Recv() (can.Frame, error) {
	var fr can.Frame
	var buf [unix.CAN_MTU]byte
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return fr, ErrTimeout
		}
		return fr, err
	}
	if n != unix.CAN_MTU {
		return fr, fmt.Errorf("socketcan: short read: %d", n)
	}
	id := binary.LittleEndian.Uint32(buf[0:4])
	dlc := int(buf[4])
	if dlc > can.MaxPayload {
		dlc = can.MaxPayload
	}
	fr.ID = id
	fr.Len = uint8(dlc)
	copy(fr.Data[:], buf[8:8+dlc])
	return fr, nil
}

// Send transmits one frame. Frames are indivisible: a short write is
// reported as ErrShortWrite rather than resumed.
func (d *Device) Send(id uint32, payload []byte) error {
	if len(payload) > can.MaxPayload {
		return ErrPayloadTooLarge
	}
	var buf [unix.CAN_MTU]byte
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = byte(len(payload))
	copy(buf[8:], payload)
	n, err := unix.Write(d.fd, buf[:])
	if err != nil {
		return fmt.Errorf("socketcan write: %w", err)
	}
	if n != unix.CAN_MTU {
		return ErrShortWrite
	}
	return nil
}

// SendFrame is a can.Frame-typed convenience wrapper over Send.
func (d *Device) SendFrame(fr can.Frame) error { return d.Send(fr.ID, fr.Payload()) }
