package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/bondus/cansaurus-gatewayd/internal/gateway"
	"github.com/bondus/cansaurus-gatewayd/internal/gatewayerr"
	"github.com/bondus/cansaurus-gatewayd/internal/metrics"
	"github.com/bondus/cansaurus-gatewayd/internal/socketcan"
)

// Helper implementations live in dedicated files: version.go, config.go,
// logger.go, mdns.go, metrics_logger.go.

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("cansaurus-gatewayd %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	bus, err := socketcan.Open(cfg.canIf)
	if err != nil {
		l.Error("bus_open_error", "error", fmt.Errorf("%w: %v", gatewayerr.ErrBusConfig, err))
		os.Exit(1)
	}
	defer func() { _ = bus.Close() }()
	l.Info("bus_open", "if", cfg.canIf)

	gw, err := gateway.New(bus,
		gateway.WithSymlinkRoot(cfg.symlinkRoot),
		gateway.WithPollTimeout(cfg.pollTimeout),
		gateway.WithTickPeriod(cfg.tickPeriod),
		gateway.WithLogger(l),
	)
	if err != nil {
		l.Error("gateway_init_error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- gw.Run(ctx) }()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-gw.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})

	var metricsSrv interface{ Shutdown(context.Context) error }
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		metricsSrv = srvHTTP
		defer func() {
			if metricsSrv != nil {
				_ = metricsSrv.Shutdown(context.Background())
			}
		}()
	}

	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-gw.Ready():
		case <-ctx.Done():
			return
		}
		port := parseHostPort(cfg.metricsAddr)
		cleanupMDNS, err := startMDNS(ctx, cfg, port)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", port)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case err := <-runErrCh:
		if err != nil {
			l.Error("gateway_run_error", "error", err)
		}
	}
	cancel()
	gw.Shutdown()
	wg.Wait()
}
