package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"assetpipe/internal/config"
)

func TestLoadDefaultConfigUsesEnvAPIKeyAndExpandsPaths(t *testing.T) {
	t.Setenv("ASSETPIPE_API_KEY", "env-key")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "assetpipe")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.StatePath() != filepath.Join(wantState, "assetpipe.db") {
		t.Fatalf("unexpected state path: %q", cfg.StatePath())
	}
	if cfg.Gateway.APIKey != "env-key" {
		t.Fatalf("expected API key from env, got %q", cfg.Gateway.APIKey)
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Fatalf("expected default max retries 3, got %d", cfg.Retry.MaxRetries)
	}
	if cfg.RetryBaseDelay() != time.Second {
		t.Fatalf("unexpected base delay %s", cfg.RetryBaseDelay())
	}
	if got := strings.Join(cfg.Optimization.LODs, ","); got != "high,medium,low" {
		t.Fatalf("unexpected default LODs %q", got)
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("unexpected log format %q", cfg.Logging.Format)
	}
}

func TestLoadParsesFileAndNormalizes(t *testing.T) {
	t.Setenv("ASSETPIPE_API_KEY", "")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	path := filepath.Join(t.TempDir(), "assetpipe.toml")
	contents := `
[paths]
state_dir = "~/assets"

[gateway]
base_url = "https://gateway.example.com/"
api_key = "  file-key  "

[retry]
max_retries = 5
base_delay_ms = 250

[optimization]
lods = ["HIGH", "low", "high"]

[logging]
format = "JSON"
level = "DEBUG"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected explicit path to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.StateDir != filepath.Join(tempHome, "assets") {
		t.Fatalf("unexpected state dir %q", cfg.Paths.StateDir)
	}
	if cfg.Gateway.BaseURL != "https://gateway.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Gateway.BaseURL)
	}
	if cfg.Gateway.APIKey != "file-key" {
		t.Fatalf("unexpected api key %q", cfg.Gateway.APIKey)
	}
	if cfg.Retry.MaxRetries != 5 || cfg.RetryBaseDelay() != 250*time.Millisecond {
		t.Fatalf("unexpected retry settings %+v", cfg.Retry)
	}
	if got := strings.Join(cfg.Optimization.LODs, ","); got != "high,low" {
		t.Fatalf("unexpected LODs %q", got)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging %+v", cfg.Logging)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"missing base url", func(c *config.Config) { c.Gateway.BaseURL = "" }, "gateway.base_url"},
		{"non-http base url", func(c *config.Config) { c.Gateway.BaseURL = "ftp://host" }, "gateway.base_url"},
		{"zero retries", func(c *config.Config) { c.Retry.MaxRetries = 0 }, "retry.max_retries"},
		{"zero poll attempts", func(c *config.Config) { c.Polling.MaxAttempts = 0 }, "polling.max_attempts"},
		{"bad lod", func(c *config.Config) { c.Optimization.LODs = []string{"ultra"} }, "optimization.lods"},
		{"weights", func(c *config.Config) { c.Batch.ModelWeight = 0.9 }, "batch weights"},
		{"topology", func(c *config.Config) { c.Generation.Topology = "hex" }, "generation.topology"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %v", tc.want, err)
			}
		})
	}
}

func TestSampleConfigMatchesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var parsed config.Config
	if err := toml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	defaults := config.Default()
	if parsed.Retry != defaults.Retry {
		t.Fatalf("sample retry %+v differs from defaults %+v", parsed.Retry, defaults.Retry)
	}
	if parsed.Polling != defaults.Polling {
		t.Fatalf("sample polling %+v differs from defaults %+v", parsed.Polling, defaults.Polling)
	}
	if parsed.Batch != defaults.Batch {
		t.Fatalf("sample batch weights %+v differ from defaults %+v", parsed.Batch, defaults.Batch)
	}
}
