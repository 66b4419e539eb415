//go:build linux

// Package pty allocates pseudo-terminal pairs for the virtual-port
// factory: a master/slave pair, the master set non-blocking and
// close-on-exec, the slave's device path resolved for symlinking.
package pty

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Pair is one allocated pseudo-terminal. Master is the fd the gateway
// reads/writes; SlavePath is the kernel device the host client opens
// (via the published symlink).
type Pair struct {
	Master    *os.File
	SlavePath string
}

// Open allocates a master/slave PTY pair, unlocks the slave, puts the
// line in raw mode, and sets the master non-blocking. It does not open the slave side: the
// gateway never holds the slave open, only publishes a symlink to it.
func Open() (*Pair, error) {
	fd, err := unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/ptmx: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set master non-blocking: %w", err)
	}
	// TIOCSPTLCK with value 0 unlocks the slave (devpts defaults to
	// locked since Linux 3.x).
	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("unlock pty: %w", err)
	}
	// Raw mode (set through the master, applies to the slave): no line
	// buffering, echo or byte translation, so bytes pass unchanged.
	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err == nil {
		tio.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
		tio.Oflag &^= unix.OPOST
		tio.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
		tio.Cflag = tio.Cflag&^(unix.CSIZE|unix.PARENB) | unix.CS8
		err = unix.IoctlSetTermios(fd, unix.TCSETS, tio)
	}
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set raw mode: %w", err)
	}
	n, err := unix.IoctlGetInt(fd, unix.TIOCGPTN)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("get pty number: %w", err)
	}
	slavePath := fmt.Sprintf("/dev/pts/%d", n)
	if err := os.Chmod(slavePath, 0o666); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("chmod slave %s: %w", slavePath, err)
	}
	return &Pair{Master: os.NewFile(uintptr(fd), "ptmx"), SlavePath: slavePath}, nil
}

// Close releases the master side. The slave device itself is destroyed
// by the kernel once both the master is closed and no client has it
// open.
func (p *Pair) Close() error {
	if p == nil || p.Master == nil {
		return nil
	}
	return p.Master.Close()
}
