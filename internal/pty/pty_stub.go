//go:build !linux

package pty

import (
	"errors"
	"os"
)

// Pair mirrors the Linux type so non-Linux builds compile; the gateway
// is a Linux-only service (PTYs, SocketCAN and inotify are all
// Linux-specific facilities).
type Pair struct {
	Master    *os.File
	SlavePath string
}

// ErrUnsupported is returned by Open on non-Linux platforms.
var ErrUnsupported = errors.New("pty: unsupported platform")

func Open() (*Pair, error) { return nil, ErrUnsupported }

func (p *Pair) Close() error { return nil }
