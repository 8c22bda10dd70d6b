package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chromad.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(empty): %v", err)
	}
	if cfg.BaudRate != 115200 {
		t.Fatalf("default baud = %d, want 115200", cfg.BaudRate)
	}
	if cfg.AttemptTimeout.D() != 500*time.Millisecond {
		t.Fatalf("default attempt timeout = %v", cfg.AttemptTimeout)
	}
	if cfg.OverallTimeout.D() != 10*time.Second {
		t.Fatalf("default overall timeout = %v", cfg.OverallTimeout)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if cfg.Device != Default().Device {
		t.Fatalf("got device %q, want default", cfg.Device)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
device: tcp:localhost:8432
attempt_timeout: 250ms
overall_timeout: 5s
log_level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device != "tcp:localhost:8432" {
		t.Fatalf("device = %q", cfg.Device)
	}
	if cfg.AttemptTimeout.D() != 250*time.Millisecond {
		t.Fatalf("attempt timeout = %v", cfg.AttemptTimeout)
	}
	if cfg.OverallTimeout.D() != 5*time.Second {
		t.Fatalf("overall timeout = %v", cfg.OverallTimeout)
	}
	// Untouched keys keep their defaults.
	if cfg.BaudRate != 115200 {
		t.Fatalf("baud = %d, want default", cfg.BaudRate)
	}
	if got := cfg.Level().String(); got != "debug" {
		t.Fatalf("level = %s", got)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad duration", "attempt_timeout: soon"},
		{"numeric duration", "attempt_timeout: 500"},
		{"attempt exceeds overall", "attempt_timeout: 20s"},
		{"zero baud", "baud_rate: 0"},
		{"empty device", `device: ""`},
		{"bad level", "log_level: noisy"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.body)); err == nil {
				t.Fatalf("expected error for %q", tc.body)
			}
		})
	}
}
