// Package config resolves connection defaults from the environment. Flags
// override everything here; the environment only supplies defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DefaultBaudRate matches the MicroPython REPL default.
const DefaultBaudRate = 115200

// DefaultTimeout is the idle receive bound.
const DefaultTimeout = 5 * time.Second

// Config holds the connection settings for one invocation.
type Config struct {
	Port    string        // serial port path; MPSYNC_PORT or ESP_PORT
	Baud    int           // baud rate
	Timeout time.Duration // idle timeout; 0 means infinite
}

// Load reads configuration from environment variables with defaults. A
// non-positive MPSYNC_TIMEOUT means an infinite timeout.
func Load() (*Config, error) {
	cfg := &Config{
		Port:    envOrDefault("MPSYNC_PORT", os.Getenv("ESP_PORT")),
		Baud:    DefaultBaudRate,
		Timeout: DefaultTimeout,
	}

	if baudStr := os.Getenv("MPSYNC_BAUD"); baudStr != "" {
		baud, err := strconv.Atoi(baudStr)
		if err != nil {
			return nil, fmt.Errorf("invalid MPSYNC_BAUD %q: %w", baudStr, err)
		}
		cfg.Baud = baud
	}

	if toStr := os.Getenv("MPSYNC_TIMEOUT"); toStr != "" {
		seconds, err := strconv.Atoi(toStr)
		if err != nil {
			return nil, fmt.Errorf("invalid MPSYNC_TIMEOUT %q: %w", toStr, err)
		}
		cfg.Timeout = NormalizeTimeout(seconds)
	}

	return cfg, nil
}

// NormalizeTimeout maps a seconds value to a duration; non-positive values
// mean infinite and come back as zero.
func NormalizeTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
