// Package config loads tunerproxyd's settings from environment variables,
// with CLI flags (parsed by cmd/tunerproxyd) overriding whatever env vars
// provided.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable for the wire-protocol listener, the admin HTTP
// surface, the driver pool, and the scan scheduler.
type Config struct {
	// Network
	Listen          string // wire-protocol TCP listen address
	WebListen       string // admin HTTP listen address
	MaxConnections  int

	// TLS (wire-protocol listener only)
	TLSEnabled bool
	CACert     string
	ServerCert string
	ServerKey  string

	// Storage
	DatabasePath string

	// Driver pool (TunerPoolConfig per §4.6)
	KeepAliveSecs             int
	PrewarmEnabled            bool
	PrewarmTimeoutSecs        int
	SetChannelRetryIntervalMS int
	SetChannelRetryTimeoutMS  int
	SignalPollIntervalMS      int
	SignalWaitTimeoutMS       int

	// Scan scheduler
	ScanEnabled          bool
	ScanOnStart          bool
	ScanIntervalSecs     int
	MaxConcurrentScans   int
	ScanTimeoutSecs      int
	ScanSignalLockWaitMS int
	ScanTSReadTimeoutMS  int

	// Logging
	Verbose        bool
	LogDir         string
	LogRetentionDays int
}

// Load builds a Config from environment variables, falling back to the
// defaults below for anything unset.
func Load() *Config {
	return &Config{
		Listen:         getEnv("TUNERPROXYD_LISTEN", ":9400"),
		WebListen:      getEnv("TUNERPROXYD_WEB_LISTEN", ":9401"),
		MaxConnections: getEnvInt("TUNERPROXYD_MAX_CONNECTIONS", 256),

		TLSEnabled: getEnvBool("TUNERPROXYD_TLS", false),
		CACert:     getEnv("TUNERPROXYD_CA_CERT", ""),
		ServerCert: getEnv("TUNERPROXYD_SERVER_CERT", ""),
		ServerKey:  getEnv("TUNERPROXYD_SERVER_KEY", ""),

		DatabasePath: getEnv("TUNERPROXYD_DATABASE", "tunerproxyd.db"),

		KeepAliveSecs:             getEnvInt("TUNERPROXYD_KEEP_ALIVE_SECS", 15),
		PrewarmEnabled:            getEnvBool("TUNERPROXYD_PREWARM_ENABLED", false),
		PrewarmTimeoutSecs:        getEnvInt("TUNERPROXYD_PREWARM_TIMEOUT_SECS", 30),
		SetChannelRetryIntervalMS: getEnvInt("TUNERPROXYD_SET_CHANNEL_RETRY_INTERVAL_MS", 250),
		SetChannelRetryTimeoutMS:  getEnvInt("TUNERPROXYD_SET_CHANNEL_RETRY_TIMEOUT_MS", 5000),
		SignalPollIntervalMS:      getEnvInt("TUNERPROXYD_SIGNAL_POLL_INTERVAL_MS", 200),
		SignalWaitTimeoutMS:       getEnvInt("TUNERPROXYD_SIGNAL_WAIT_TIMEOUT_MS", 5000),

		ScanEnabled:          getEnvBool("TUNERPROXYD_ENABLE_SCAN", true),
		ScanOnStart:          getEnvBool("TUNERPROXYD_SCAN_ON_START", false),
		ScanIntervalSecs:     getEnvInt("TUNERPROXYD_SCAN_INTERVAL_SECS", 3600),
		MaxConcurrentScans:   getEnvInt("TUNERPROXYD_MAX_CONCURRENT_SCANS", 1),
		ScanTimeoutSecs:      getEnvInt("TUNERPROXYD_SCAN_TIMEOUT_SECS", 900),
		ScanSignalLockWaitMS: getEnvInt("TUNERPROXYD_SCAN_SIGNAL_LOCK_WAIT_MS", 200),
		ScanTSReadTimeoutMS:  getEnvInt("TUNERPROXYD_SCAN_TS_READ_TIMEOUT_MS", 5000),

		Verbose:          getEnvBool("TUNERPROXYD_VERBOSE", false),
		LogDir:           getEnv("TUNERPROXYD_LOG_DIR", ""),
		LogRetentionDays: getEnvInt("TUNERPROXYD_LOG_RETENTION_DAYS", 14),
	}
}

// KeepAlive returns KeepAliveSecs as a time.Duration.
func (c *Config) KeepAlive() time.Duration { return time.Duration(c.KeepAliveSecs) * time.Second }

// SetChannelRetryInterval returns SetChannelRetryIntervalMS as a time.Duration.
func (c *Config) SetChannelRetryInterval() time.Duration {
	return time.Duration(c.SetChannelRetryIntervalMS) * time.Millisecond
}

// SetChannelRetryTimeout returns SetChannelRetryTimeoutMS as a time.Duration.
func (c *Config) SetChannelRetryTimeout() time.Duration {
	return time.Duration(c.SetChannelRetryTimeoutMS) * time.Millisecond
}

// ScanInterval returns ScanIntervalSecs as a time.Duration.
func (c *Config) ScanInterval() time.Duration { return time.Duration(c.ScanIntervalSecs) * time.Second }

// ScanTimeout returns ScanTimeoutSecs as a time.Duration.
func (c *Config) ScanTimeout() time.Duration { return time.Duration(c.ScanTimeoutSecs) * time.Second }

// SignalPollInterval returns SignalPollIntervalMS as a time.Duration.
func (c *Config) SignalPollInterval() time.Duration {
	return time.Duration(c.SignalPollIntervalMS) * time.Millisecond
}

// SignalWaitTimeout returns SignalWaitTimeoutMS as a time.Duration.
func (c *Config) SignalWaitTimeout() time.Duration {
	return time.Duration(c.SignalWaitTimeoutMS) * time.Millisecond
}

// PrewarmTimeout returns PrewarmTimeoutSecs as a time.Duration.
func (c *Config) PrewarmTimeout() time.Duration {
	return time.Duration(c.PrewarmTimeoutSecs) * time.Second
}

// ScanSignalLockWait returns ScanSignalLockWaitMS as a time.Duration.
func (c *Config) ScanSignalLockWait() time.Duration {
	return time.Duration(c.ScanSignalLockWaitMS) * time.Millisecond
}

// ScanTSReadTimeout returns ScanTSReadTimeoutMS as a time.Duration.
func (c *Config) ScanTSReadTimeout() time.Duration {
	return time.Duration(c.ScanTSReadTimeoutMS) * time.Millisecond
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}
