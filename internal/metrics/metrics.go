package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/bondus/cansaurus-gatewayd/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	BusRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_rx_frames_total",
		Help: "Total CAN frames read from the bus.",
	})
	BusTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_tx_frames_total",
		Help: "Total CAN frames written to the bus.",
	})
	PTYRxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pty_rx_bytes_total",
		Help: "Total bytes read from PTY masters, host -> bus direction.",
	})
	PTYTxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pty_tx_bytes_total",
		Help: "Total bytes written to PTY masters, bus -> host direction.",
	})
	PortsDiscovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ports_discovered_total",
		Help: "Total UUID_RESP discoveries that allocated a new port.",
	})
	PortsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ports_reaped_total",
		Help: "Total ports removed by the liveness driver on ping-credit exhaustion.",
	})
	ActivePorts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_ports",
		Help: "Current number of real port-table entries.",
	})
	DiscoverySolicits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "discovery_solicits_total",
		Help: "Total UUID solicit frames transmitted.",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (UUID responses shorter than 6 bytes).",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality),
// consumed by internal/gatewayerr.MetricLabel.
const (
	ErrBusConfig = "bus_config"
	ErrFactory   = "vport_factory"
	ErrBusSend   = "bus_send"
	ErrOther     = "other"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at
// /ready on the given addr.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters so the periodic log snapshot doesn't need to
// scrape Prometheus in-process.
var (
	localBusRx       uint64
	localBusTx       uint64
	localPTYRx       uint64
	localPTYTx       uint64
	localDiscovered  uint64
	localReaped      uint64
	localSolicits    uint64
	localMalformed   uint64
	localErrors      uint64
	localActivePorts uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	BusRx       uint64
	BusTx       uint64
	PTYRx       uint64
	PTYTx       uint64
	Discovered  uint64
	Reaped      uint64
	Solicits    uint64
	Malformed   uint64
	Errors      uint64
	ActivePorts uint64
}

func Snap() Snapshot {
	return Snapshot{
		BusRx:       atomic.LoadUint64(&localBusRx),
		BusTx:       atomic.LoadUint64(&localBusTx),
		PTYRx:       atomic.LoadUint64(&localPTYRx),
		PTYTx:       atomic.LoadUint64(&localPTYTx),
		Discovered:  atomic.LoadUint64(&localDiscovered),
		Reaped:      atomic.LoadUint64(&localReaped),
		Solicits:    atomic.LoadUint64(&localSolicits),
		Malformed:   atomic.LoadUint64(&localMalformed),
		Errors:      atomic.LoadUint64(&localErrors),
		ActivePorts: atomic.LoadUint64(&localActivePorts),
	}
}

// Wrapper helpers to keep call sites simple.
func IncBusRx() {
	BusRxFrames.Inc()
	atomic.AddUint64(&localBusRx, 1)
}

func IncBusTx() {
	BusTxFrames.Inc()
	atomic.AddUint64(&localBusTx, 1)
}

func AddPTYRx(n int) {
	PTYRxBytes.Add(float64(n))
	atomic.AddUint64(&localPTYRx, uint64(n))
}

func AddPTYTx(n int) {
	PTYTxBytes.Add(float64(n))
	atomic.AddUint64(&localPTYTx, uint64(n))
}

func IncPortsDiscovered() {
	PortsDiscovered.Inc()
	atomic.AddUint64(&localDiscovered, 1)
}

func IncPortsReaped() {
	PortsReaped.Inc()
	atomic.AddUint64(&localReaped, 1)
}

func SetActivePorts(n int) {
	ActivePorts.Set(float64(n))
	atomic.StoreUint64(&localActivePorts, uint64(n))
}

func IncDiscoverySolicit() {
	DiscoverySolicits.Inc()
	atomic.AddUint64(&localSolicits, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge and pre-registers the error
// label series so the first error doesn't pay first-sample registration
// cost.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrBusConfig, ErrFactory, ErrBusSend, ErrOther} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
