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

// appConfig mirrors spec.md §6.4's enumerated options.
type appConfig struct {
	muxIface   string
	netIface   string
	peerAddr   string
	port       int
	mode       string
	compress   bool
	nMax       int
	sizeThresh int
	// sizeThreshExplicit is true when size_threshold was actually set by a
	// flag or env override, as opposed to carrying its unconditional flag
	// default. accumulator.Config.SizeThresholdExplicit needs this to
	// resolve the n_max default correctly (spec.md §3, §8 Scenario 1).
	sizeThreshExplicit bool
	timeoutUs          int64
	periodUs           int64
	debugLevel         int
	logFile            string
	mtu                int
	logFormat          string
	metricsAddr        string
	logMetricsEvery    time.Duration
}

const defaultPort = 55555
const defaultSizeThreshold = 1472
const defaultMTU = 1500

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	muxIface := flag.String("mux_iface", "", "Name of the virtual (tun/tap) interface (mandatory)")
	netIface := flag.String("net_iface", "", "Name of the local network interface for UDP source binding (mandatory)")
	peerAddr := flag.String("peer_addr", "", "Peer IPv4 address for tunneled datagrams (mandatory)")
	port := flag.Int("port", defaultPort, "UDP port, both directions")
	mode := flag.String("mode", "l3", "Virtual interface mode: l3 (tun) or l2 (tap)")
	compress := flag.Bool("compress", false, "Enable ROHC header compression")
	nMax := flag.Int("n_max", 0, "Packet-count flush trigger (0 = spec default)")
	sizeThreshold := flag.Int("size_threshold", defaultSizeThreshold, "Byte-count flush trigger")
	timeoutUs := flag.Int64("timeout", 0, "Inter-arrival flush trigger, microseconds (0 = infinite)")
	periodUs := flag.Int64("period", 0, "Absolute flush trigger, microseconds (0 = infinite)")
	debugLevel := flag.Int("debug_level", 0, "Verbosity 0-3")
	logFile := flag.String("log_file", "", "Optional structured event log path")
	mtu := flag.Int("mtu", defaultMTU, "Maximum bytes per emitted UDP datagram")
	logFormat := flag.String("log-format", "text", "Diagnostic log format: text|json")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g. :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.muxIface = *muxIface
	cfg.netIface = *netIface
	cfg.peerAddr = *peerAddr
	cfg.port = *port
	cfg.mode = *mode
	cfg.compress = *compress
	cfg.nMax = *nMax
	cfg.sizeThresh = *sizeThreshold
	cfg.timeoutUs = *timeoutUs
	cfg.periodUs = *periodUs
	cfg.debugLevel = *debugLevel
	cfg.logFile = *logFile
	cfg.mtu = *mtu
	cfg.logFormat = *logFormat
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	_, cfg.sizeThreshExplicit = setFlags["size_threshold"]
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs semantic validation only; it never opens devices or
// sockets (spec.md §7: fatal errors belong to startup, not to parsing).
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.muxIface == "" {
		return errors.New("mux_iface is mandatory")
	}
	if c.netIface == "" {
		return errors.New("net_iface is mandatory")
	}
	if c.peerAddr == "" {
		return errors.New("peer_addr is mandatory")
	}
	switch c.mode {
	case "l3", "l2":
	default:
		return fmt.Errorf("invalid mode: %s (want l3|l2)", c.mode)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	if c.port <= 0 || c.port > 65535 {
		return fmt.Errorf("port out of range: %d", c.port)
	}
	if c.nMax < 0 {
		return fmt.Errorf("n_max must be >= 0")
	}
	if c.sizeThresh < 0 {
		return fmt.Errorf("size_threshold must be >= 0")
	}
	if c.timeoutUs < 0 {
		return fmt.Errorf("timeout must be >= 0")
	}
	if c.periodUs < 0 {
		return fmt.Errorf("period must be >= 0")
	}
	if c.debugLevel < 0 || c.debugLevel > 3 {
		return fmt.Errorf("debug_level must be 0-3 (got %d)", c.debugLevel)
	}
	if c.mtu <= 0 {
		return fmt.Errorf("mtu must be > 0")
	}
	return nil
}

// applyEnvOverrides maps SIMPLEMUX_* environment variables to config
// fields unless the corresponding flag was explicitly set (flag wins).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["mux_iface"]; !ok {
		if v, ok := get("SIMPLEMUX_MUX_IFACE"); ok && v != "" {
			c.muxIface = v
		}
	}
	if _, ok := set["net_iface"]; !ok {
		if v, ok := get("SIMPLEMUX_NET_IFACE"); ok && v != "" {
			c.netIface = v
		}
	}
	if _, ok := set["peer_addr"]; !ok {
		if v, ok := get("SIMPLEMUX_PEER_ADDR"); ok && v != "" {
			c.peerAddr = v
		}
	}
	if _, ok := set["port"]; !ok {
		if v, ok := get("SIMPLEMUX_PORT"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.port = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SIMPLEMUX_PORT: %w", err)
			}
		}
	}
	if _, ok := set["mode"]; !ok {
		if v, ok := get("SIMPLEMUX_MODE"); ok && v != "" {
			c.mode = v
		}
	}
	if _, ok := set["compress"]; !ok {
		if v, ok := get("SIMPLEMUX_COMPRESS"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.compress = true
			case "0", "false", "no", "off":
				c.compress = false
			}
		}
	}
	if _, ok := set["n_max"]; !ok {
		if v, ok := get("SIMPLEMUX_N_MAX"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.nMax = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SIMPLEMUX_N_MAX: %w", err)
			}
		}
	}
	if _, ok := set["size_threshold"]; !ok {
		if v, ok := get("SIMPLEMUX_SIZE_THRESHOLD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.sizeThresh = n
				set["size_threshold"] = struct{}{}
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SIMPLEMUX_SIZE_THRESHOLD: %w", err)
			}
		}
	}
	if _, ok := set["timeout"]; !ok {
		if v, ok := get("SIMPLEMUX_TIMEOUT"); ok && v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
				c.timeoutUs = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SIMPLEMUX_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["period"]; !ok {
		if v, ok := get("SIMPLEMUX_PERIOD"); ok && v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
				c.periodUs = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SIMPLEMUX_PERIOD: %w", err)
			}
		}
	}
	if _, ok := set["debug_level"]; !ok {
		if v, ok := get("SIMPLEMUX_DEBUG_LEVEL"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.debugLevel = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SIMPLEMUX_DEBUG_LEVEL: %w", err)
			}
		}
	}
	if _, ok := set["log_file"]; !ok {
		if v, ok := get("SIMPLEMUX_LOG_FILE"); ok {
			c.logFile = v
		}
	}
	if _, ok := set["mtu"]; !ok {
		if v, ok := get("SIMPLEMUX_MTU"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.mtu = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SIMPLEMUX_MTU: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("SIMPLEMUX_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("SIMPLEMUX_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("SIMPLEMUX_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid SIMPLEMUX_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	return firstErr
}
