package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	canIf           string
	symlinkRoot     string
	pollTimeout     time.Duration
	tickPeriod      time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	canIf := flag.String("can-if", "can0", "SocketCAN interface to bind")
	symlinkRoot := flag.String("symlink-root", "/tmp", "Directory published port symlinks live under")
	pollTimeout := flag.Duration("poll-timeout", time.Second, "Multiplexer poll wait")
	tickPeriod := flag.Duration("tick-period", time.Second, "Liveness driver period")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS advertisement of the metrics endpoint")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default cansaurus-gatewayd-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.canIf = *canIf
	cfg.symlinkRoot = *symlinkRoot
	cfg.pollTimeout = *pollTimeout
	cfg.tickPeriod = *tickPeriod
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs semantic validation of the parsed configuration. It
// does not open devices or sockets, only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.canIf == "" {
		return errors.New("can-if must not be empty")
	}
	if c.symlinkRoot == "" {
		return errors.New("symlink-root must not be empty")
	}
	if c.pollTimeout <= 0 {
		return errors.New("poll-timeout must be > 0")
	}
	if c.tickPeriod <= 0 {
		return errors.New("tick-period must be > 0")
	}
	if c.logMetricsEvery < 0 {
		return errors.New("log-metrics-interval must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps CANSAURUS_* environment variables onto the
// config unless a corresponding flag was explicitly set (flag wins).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["can-if"]; !ok {
		if v, ok := get("CANSAURUS_CAN_IF"); ok && v != "" {
			c.canIf = v
		}
	}
	if _, ok := set["symlink-root"]; !ok {
		if v, ok := get("CANSAURUS_SYMLINK_ROOT"); ok && v != "" {
			c.symlinkRoot = v
		}
	}
	if _, ok := set["poll-timeout"]; !ok {
		if v, ok := get("CANSAURUS_POLL_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.pollTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANSAURUS_POLL_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["tick-period"]; !ok {
		if v, ok := get("CANSAURUS_TICK_PERIOD"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.tickPeriod = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANSAURUS_TICK_PERIOD: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("CANSAURUS_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("CANSAURUS_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("CANSAURUS_METRICS_ADDR"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("CANSAURUS_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANSAURUS_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("CANSAURUS_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("CANSAURUS_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	return firstErr
}

// parseHostPort extracts the numeric port from a host:port or :port
// address, returning 0 if it cannot be determined.
func parseHostPort(addr string) int {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(addr[idx+1:])
	if err != nil {
		return 0
	}
	return n
}
