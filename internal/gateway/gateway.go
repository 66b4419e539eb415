// Package gateway is the CAN-bus-to-virtual-serial multiplexer: it owns
// the port table, the bus device, and the per-node PTY pairs, and runs
// the single poll loop that bridges bus frames to host bytes and back.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bondus/cansaurus-gatewayd/internal/can"
	"github.com/bondus/cansaurus-gatewayd/internal/gatewayerr"
	"github.com/bondus/cansaurus-gatewayd/internal/logging"
	"github.com/bondus/cansaurus-gatewayd/internal/metrics"
	"github.com/bondus/cansaurus-gatewayd/internal/protocol"
	"github.com/bondus/cansaurus-gatewayd/internal/pty"
	"github.com/bondus/cansaurus-gatewayd/internal/vport"
	"github.com/bondus/cansaurus-gatewayd/internal/watch"
)

// Bus is the transport the gateway reads frames from and writes frames
// to. *socketcan.Device implements it.
type Bus interface {
	FD() int
	Recv() (can.Frame, error)
	Send(id uint32, payload []byte) error
	Close() error
}

// Gateway owns the port table and coordinates the multiplexer and
// liveness goroutines under one coarse mutex, per the bridge's
// concurrency model: the table, the ping cursor, and the bus write
// path all share one lock because sends are small and synchronous, and
// a finer-grained scheme would buy nothing at this frame rate.
type Gateway struct {
	mu    sync.Mutex
	bus   Bus
	table *vport.Table
	watch *watch.Watcher

	symlinkRoot string
	pollTimeout time.Duration
	tickPeriod  time.Duration

	logger *slog.Logger

	readyOnce sync.Once
	readyCh   chan struct{}

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once

	pingCursor int
	firstTick  bool
}

const (
	defaultPollTimeout = 1000 * time.Millisecond
	defaultTickPeriod  = time.Second
	readChunkSize      = 64
)

// Option configures a Gateway at construction time.
type Option func(*Gateway)

// WithSymlinkRoot sets the directory published symlinks live under
// (default /tmp).
func WithSymlinkRoot(root string) Option {
	return func(g *Gateway) {
		if root != "" {
			g.symlinkRoot = root
		}
	}
}

// WithPollTimeout overrides the multiplexer's poll wait.
func WithPollTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.pollTimeout = d
		}
	}
}

// WithTickPeriod overrides the liveness driver's period.
func WithTickPeriod(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.tickPeriod = d
		}
	}
}

// WithLogger overrides the gateway's logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// New builds a Gateway bound to bus. The table's slot-0 sentinel does
// not carry the bus's fd directly (vport.Entry.MasterFD is an *os.File,
// and the bus is polled through the Bus interface instead);
// buildPollSet() asks bus.FD() for slot 0 and the table only for real
// ports.
func New(bus Bus, opts ...Option) (*Gateway, error) {
	w, err := watch.New()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gatewayerr.ErrBusConfig, err)
	}
	g := &Gateway{
		bus:         bus,
		watch:       w,
		symlinkRoot: "/tmp",
		pollTimeout: defaultPollTimeout,
		tickPeriod:  defaultTickPeriod,
		logger:      logging.L(),
		readyCh:     make(chan struct{}),
		stopCh:      make(chan struct{}),
		firstTick:   true,
	}
	g.table = vport.New(nil) // slot 0's FD is served specially; see buildPollSet().
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// Ready reports when Run has entered its poll loop.
func (g *Gateway) Ready() <-chan struct{} { return g.readyCh }

// Run drives the multiplexer and liveness loops until ctx is cancelled
// or Shutdown is called. It returns nil on a clean stop.
func (g *Gateway) Run(ctx context.Context) error {
	g.readyOnce.Do(func() { close(g.readyCh) })
	g.logger.Info("gateway_ready", "symlink_root", g.symlinkRoot)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(g.tickPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-g.stopCh:
				return
			case <-ticker.C:
				g.mu.Lock()
				g.tickLocked()
				g.mu.Unlock()
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			g.Shutdown()
			g.wg.Wait()
			return nil
		case <-g.stopCh:
			g.wg.Wait()
			return nil
		default:
		}
		if err := g.pollOnce(); err != nil {
			g.logger.Error("poll_error", "error", err)
			metrics.IncError(gatewayerr.MetricLabel(err))
		}
	}
}

// Shutdown stops Run's loops, tears down every port (watch, PTY,
// symlink), and releases the watcher. Safe to call more than once.
func (g *Gateway) Shutdown() {
	g.stopOnce.Do(func() {
		close(g.stopCh)
		g.mu.Lock()
		for len(g.table.Ports()) > 0 {
			g.closePort(1)
		}
		g.mu.Unlock()
		_ = g.watch.Close()
	})
}

// Snapshot returns a point-in-time summary of the port table.
type Snapshot struct {
	ActivePorts int
}

func (g *Gateway) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{ActivePorts: len(g.table.Ports())}
}

// openPort allocates a PTY pair, symlink, and watch for a newly
// discovered node and appends it to the table. On any failure it
// unwinds everything it already allocated rather than leaving a
// half-built entry.
func (g *Gateway) openPort(uuid [6]byte) (*vport.Entry, error) {
	pn := vport.DerivePortNumber(uuid)
	pair, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: pty: %v", gatewayerr.ErrFactory, err)
	}
	link := vport.SymlinkPath(g.symlinkRoot, uuid)
	if err := publishSymlink(link, pair.SlavePath); err != nil {
		_ = pair.Close()
		return nil, fmt.Errorf("%w: symlink: %v", gatewayerr.ErrFactory, err)
	}
	handle, err := g.watch.Add(link)
	if err != nil {
		_ = pair.Close()
		_ = removeSymlink(link)
		return nil, fmt.Errorf("%w: watch: %v", gatewayerr.ErrFactory, err)
	}
	e := &vport.Entry{
		Kind:        vport.KindPort,
		PortNumber:  pn,
		CANID:       vport.CANID(pn),
		UUID:        uuid,
		MasterFD:    pair.Master,
		SymlinkPath: link,
		WatchHandle: handle,
		PingCredit:  protocol.PingsBeforeDisconnect,
	}
	g.table.Append(e)
	metrics.IncPortsDiscovered()
	metrics.SetActivePorts(len(g.table.Ports()))
	return e, nil
}

// closePort tears down a discovered node's resources and removes it
// from the table.
func (g *Gateway) closePort(i int) {
	e := g.table.At(i)
	if e.WatchHandle != 0 {
		_ = g.watch.Remove(e.WatchHandle)
	}
	if e.MasterFD != nil {
		_ = e.MasterFD.Close()
	}
	_ = removeSymlink(e.SymlinkPath)
	g.table.RemoveAt(i)
	metrics.SetActivePorts(len(g.table.Ports()))
}
