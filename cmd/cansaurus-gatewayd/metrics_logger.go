package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bondus/cansaurus-gatewayd/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"bus_rx", snap.BusRx,
					"bus_tx", snap.BusTx,
					"pty_rx", snap.PTYRx,
					"pty_tx", snap.PTYTx,
					"discovered", snap.Discovered,
					"reaped", snap.Reaped,
					"solicits", snap.Solicits,
					"malformed", snap.Malformed,
					"errors", snap.Errors,
					"active_ports", snap.ActivePorts,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
