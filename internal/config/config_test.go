package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Clear env to test defaults
	os.Unsetenv("MPSYNC_PORT")
	os.Unsetenv("ESP_PORT")
	os.Unsetenv("MPSYNC_BAUD")
	os.Unsetenv("MPSYNC_TIMEOUT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Port != "" {
		t.Errorf("expected empty port, got %s", cfg.Port)
	}
	if cfg.Baud != 115200 {
		t.Errorf("expected baud 115200, got %d", cfg.Baud)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %v", cfg.Timeout)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("MPSYNC_PORT", "/dev/ttyUSB1")
	os.Setenv("MPSYNC_BAUD", "9600")
	os.Setenv("MPSYNC_TIMEOUT", "30")
	defer func() {
		os.Unsetenv("MPSYNC_PORT")
		os.Unsetenv("MPSYNC_BAUD")
		os.Unsetenv("MPSYNC_TIMEOUT")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Port != "/dev/ttyUSB1" {
		t.Errorf("expected port /dev/ttyUSB1, got %s", cfg.Port)
	}
	if cfg.Baud != 9600 {
		t.Errorf("expected baud 9600, got %d", cfg.Baud)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("expected timeout 30s, got %v", cfg.Timeout)
	}
}

func TestLoadPortFallback(t *testing.T) {
	os.Unsetenv("MPSYNC_PORT")
	os.Setenv("ESP_PORT", "/dev/ttyACM0")
	defer os.Unsetenv("ESP_PORT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Port != "/dev/ttyACM0" {
		t.Errorf("expected fallback port /dev/ttyACM0, got %s", cfg.Port)
	}

	os.Setenv("MPSYNC_PORT", "/dev/ttyUSB0")
	defer os.Unsetenv("MPSYNC_PORT")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Port != "/dev/ttyUSB0" {
		t.Errorf("MPSYNC_PORT should win over ESP_PORT, got %s", cfg.Port)
	}
}

func TestLoadInvalidBaud(t *testing.T) {
	os.Setenv("MPSYNC_BAUD", "not-a-number")
	defer os.Unsetenv("MPSYNC_BAUD")

	if _, err := Load(); err == nil {
		t.Error("expected error for invalid baud rate")
	}
}

func TestLoadInvalidTimeout(t *testing.T) {
	os.Setenv("MPSYNC_TIMEOUT", "soon")
	defer os.Unsetenv("MPSYNC_TIMEOUT")

	if _, err := Load(); err == nil {
		t.Error("expected error for invalid timeout")
	}
}

func TestNormalizeTimeout(t *testing.T) {
	if got := NormalizeTimeout(10); got != 10*time.Second {
		t.Errorf("expected 10s, got %v", got)
	}
	if got := NormalizeTimeout(0); got != 0 {
		t.Errorf("expected infinite (0), got %v", got)
	}
	if got := NormalizeTimeout(-5); got != 0 {
		t.Errorf("expected infinite (0), got %v", got)
	}
}
