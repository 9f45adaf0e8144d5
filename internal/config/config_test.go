package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.ConnectTimeout != 15*time.Second {
		t.Errorf("ConnectTimeout = %v", cfg.ConnectTimeout)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d", cfg.MaxRetries)
	}
	if cfg.CommitGrace != 1200*time.Millisecond {
		t.Errorf("CommitGrace = %v", cfg.CommitGrace)
	}
	if cfg.SampleRate != 16000 {
		t.Errorf("SampleRate = %d", cfg.SampleRate)
	}
	if cfg.FrameInterval != 200*time.Millisecond {
		t.Errorf("FrameInterval = %v", cfg.FrameInterval)
	}
	if cfg.BackendURL != "" {
		t.Errorf("BackendURL default should be empty, got %q", cfg.BackendURL)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "minutevault.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestApplyFileOverlaysValues(t *testing.T) {
	path := writeConfigFile(t, `
backend:
  url: wss://transcribe.example.com/v1/stream
  token_url: https://transcribe.example.com/v1/token
  connect_timeout: 30s
  max_retries: 5
  commit_grace: 2s
audio:
  sample_rate: 48000
  frame_interval: 100ms
gateway:
  listen_addr: ":9090"
  token_secret: s3cret
minutes:
  model: gpt-4o
log_level: debug
`)

	cfg := Default()
	if err := cfg.ApplyFile(path); err != nil {
		t.Fatalf("ApplyFile: %v", err)
	}

	if cfg.BackendURL != "wss://transcribe.example.com/v1/stream" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.TokenURL != "https://transcribe.example.com/v1/token" {
		t.Errorf("TokenURL = %q", cfg.TokenURL)
	}
	if cfg.ConnectTimeout != 30*time.Second {
		t.Errorf("ConnectTimeout = %v", cfg.ConnectTimeout)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d", cfg.MaxRetries)
	}
	if cfg.CommitGrace != 2*time.Second {
		t.Errorf("CommitGrace = %v", cfg.CommitGrace)
	}
	if cfg.SampleRate != 48000 {
		t.Errorf("SampleRate = %d", cfg.SampleRate)
	}
	if cfg.FrameInterval != 100*time.Millisecond {
		t.Errorf("FrameInterval = %v", cfg.FrameInterval)
	}
	if cfg.ListenAddr != ":9090" || cfg.TokenSecret != "s3cret" {
		t.Errorf("gateway = %q / %q", cfg.ListenAddr, cfg.TokenSecret)
	}
	if cfg.MinutesModel != "gpt-4o" {
		t.Errorf("MinutesModel = %q", cfg.MinutesModel)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestApplyFileKeepsDefaultsForOmittedFields(t *testing.T) {
	path := writeConfigFile(t, "backend:\n  url: wss://only-url\n")

	cfg := Default()
	if err := cfg.ApplyFile(path); err != nil {
		t.Fatalf("ApplyFile: %v", err)
	}

	if cfg.BackendURL != "wss://only-url" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.ConnectTimeout != 15*time.Second || cfg.MaxRetries != 3 {
		t.Error("omitted fields must keep their defaults")
	}
}

func TestApplyFileRetryDisableAllowed(t *testing.T) {
	path := writeConfigFile(t, "backend:\n  max_retries: -1\n")

	cfg := Default()
	if err := cfg.ApplyFile(path); err != nil {
		t.Fatalf("ApplyFile: %v", err)
	}
	if cfg.MaxRetries != -1 {
		t.Errorf("MaxRetries = %d, want -1", cfg.MaxRetries)
	}
}

func TestApplyFileErrors(t *testing.T) {
	cfg := Default()
	if err := cfg.ApplyFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should error")
	}

	bad := writeConfigFile(t, "backend: [not a mapping")
	if err := cfg.ApplyFile(bad); err == nil {
		t.Error("malformed YAML should error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"complete", func(c *Config) { c.BackendURL = "wss://host" }, true},
		{"missing backend url", func(c *Config) {}, false},
		{"zero connect timeout", func(c *Config) { c.BackendURL = "wss://host"; c.ConnectTimeout = 0 }, false},
		{"zero sample rate", func(c *Config) { c.BackendURL = "wss://host"; c.SampleRate = 0 }, false},
		{"zero frame interval", func(c *Config) { c.BackendURL = "wss://host"; c.FrameInterval = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("Validate should have failed")
			}
		})
	}
}
