package testsupport

import (
	"path/filepath"
	"testing"

	"assetpipe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Retry delays and polling intervals are zeroed so tests never sleep.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Gateway.APIKey = "test"
	cfgVal.Retry.BaseDelayMillis = 0
	cfgVal.Polling.IntervalSeconds = 0
	cfgVal.Polling.MaxAttempts = 5

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithGatewayURL points the test config at a stub gateway.
func WithGatewayURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Gateway.BaseURL = url
	}
}
