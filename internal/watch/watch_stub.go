//go:build !linux

package watch

import "errors"

const (
	Open         = 0
	CloseWrite   = 0
	CloseNoWrite = 0
)

// Event mirrors the Linux type so non-Linux builds compile.
type Event struct {
	Handle int32
	Mask   uint32
}

func (e Event) IsOpen() bool  { return false }
func (e Event) IsClose() bool { return false }

// ErrUnsupported is returned by New on non-Linux platforms.
var ErrUnsupported = errors.New("watch: unsupported platform")

type Watcher struct{}

func New() (*Watcher, error)                { return nil, ErrUnsupported }
func (w *Watcher) FD() int                  { return -1 }
func (w *Watcher) Add(string) (int32, error) { return 0, ErrUnsupported }
func (w *Watcher) Remove(int32) error       { return ErrUnsupported }
func (w *Watcher) Drain() ([]Event, error)  { return nil, nil }
func (w *Watcher) Close() error             { return nil }
