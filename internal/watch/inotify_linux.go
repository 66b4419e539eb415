//go:build linux

// Package watch wraps Linux inotify to deliver open/close events on the
// symlinks the virtual-port factory publishes. The stdlib ecosystem's
// usual filesystem-watch library, fsnotify, deliberately does not
// surface IN_OPEN/IN_CLOSE_* (it targets content-change notification,
// not access notification), so this talks to inotify directly through
// golang.org/x/sys/unix — the same layer the bus and PTY packages use,
// following the teacher's habit of reaching for raw unix syscalls
// rather than a higher-level wrapper when the kernel facility needed
// isn't the one the wrapper was built for.
package watch

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// EventMask values a caller cares about.
const (
	Open         = unix.IN_OPEN
	CloseWrite   = unix.IN_CLOSE_WRITE
	CloseNoWrite = unix.IN_CLOSE_NOWRITE
	closeMask    = CloseWrite | CloseNoWrite
)

// Event is one decoded inotify event.
type Event struct {
	Handle int32
	Mask   uint32
}

// IsOpen reports whether the event is an open.
func (e Event) IsOpen() bool { return e.Mask&Open != 0 }

// IsClose reports whether the event is either close variant.
func (e Event) IsClose() bool { return e.Mask&closeMask != 0 }

// Watcher is a thin inotify handle. It is not safe for concurrent use;
// the gateway serializes access under its single coarse mutex.
type Watcher struct {
	fd int
	// buf is Drain's read buffer; each read fills it from offset 0 and
	// nothing carries over between calls. inotify reads can return
	// multiple events but never split one mid-event as long as the
	// buffer is sized for the largest possible event.
	buf []byte
}

const eventBufSize = 64 * (unix.SizeofInotifyEvent + unix.NAME_MAX + 1)

// New creates a non-blocking inotify instance.
func New() (*Watcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}
	return &Watcher{fd: fd, buf: make([]byte, eventBufSize)}, nil
}

// FD returns the descriptor to include in the multiplexer's poll set.
func (w *Watcher) FD() int { return w.fd }

// Add registers path for open/close notifications and returns the
// watch descriptor (the entry's WatchHandle).
func (w *Watcher) Add(path string) (int32, error) {
	wd, err := unix.InotifyAddWatch(w.fd, path, Open|closeMask)
	if err != nil {
		return 0, fmt.Errorf("inotify_add_watch %s: %w", path, err)
	}
	return int32(wd), nil
}

// Remove unregisters a previously-added watch descriptor.
func (w *Watcher) Remove(handle int32) error {
	if _, err := unix.InotifyRmWatch(w.fd, uint32(handle)); err != nil {
		return fmt.Errorf("inotify_rm_watch: %w", err)
	}
	return nil
}

// Drain reads and decodes all currently-pending events without
// blocking. It returns (nil, nil) if none are pending.
func (w *Watcher) Drain() ([]Event, error) {
	n, err := unix.Read(w.fd, w.buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, nil
		}
		return nil, fmt.Errorf("inotify read: %w", err)
	}
	var events []Event
	off := 0
	for off+unix.SizeofInotifyEvent <= n {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&w.buf[off]))
		events = append(events, Event{Handle: int32(raw.Wd), Mask: raw.Mask})
		off += unix.SizeofInotifyEvent + int(raw.Len)
	}
	return events, nil
}

// Close releases the inotify descriptor.
func (w *Watcher) Close() error { return unix.Close(w.fd) }
