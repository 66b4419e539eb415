package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

// mdnsServiceType advertises the gateway's metrics/health endpoint; the
// gateway itself has no TCP listener to discover, so the advertised
// port is whatever --metrics-addr binds to.
const mdnsServiceType = "_cansaurus._tcp"

// startMDNS registers the service via mDNS and returns a cleanup
// function. It is a no-op if disabled or if no metrics port is bound.
func startMDNS(ctx context.Context, cfg *appConfig, port int) (func(), error) {
	if !cfg.mdnsEnable || port == 0 {
		return func() {}, nil
	}
	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("cansaurus-gatewayd-%s", host)
	}
	meta := []string{
		"can-if=" + cfg.canIf,
		"version=" + version,
		"commit=" + commit,
	}
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}
