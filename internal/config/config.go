package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains state and log directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Gateway contains the remote processing API connection settings.
type Gateway struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Retry controls how failed gateway calls are re-attempted.
type Retry struct {
	// MaxRetries is the total attempt budget per gateway call.
	MaxRetries      int `toml:"max_retries"`
	BaseDelayMillis int `toml:"base_delay_ms"`
}

// Polling controls the generation status loop.
type Polling struct {
	IntervalSeconds int `toml:"interval_seconds"`
	MaxAttempts     int `toml:"max_attempts"`
}

// Generation contains 3D generation request settings.
type Generation struct {
	AIModel         string `toml:"ai_model"`
	Topology        string `toml:"topology"`
	TargetPolycount int    `toml:"target_polycount"`
	MaxImages       int    `toml:"max_images"`
}

// Optimization contains model optimization request settings.
type Optimization struct {
	LODs         []string `toml:"lods"`
	TargetFormat string   `toml:"target_format"`
}

// Batch contains the weights each phase contributes to batch progress.
type Batch struct {
	SaveWeight       float64 `toml:"save_weight"`
	BackgroundWeight float64 `toml:"background_weight"`
	ModelWeight      float64 `toml:"model_weight"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Batch          bool   `toml:"batch"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics contains the optional Prometheus listener address.
type Metrics struct {
	Bind string `toml:"bind"`
}

// Config encapsulates all configuration values for assetpipe.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Gateway       Gateway       `toml:"gateway"`
	Retry         Retry         `toml:"retry"`
	Polling       Polling       `toml:"polling"`
	Generation    Generation    `toml:"generation"`
	Optimization  Optimization  `toml:"optimization"`
	Batch         Batch         `toml:"batch"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Metrics       Metrics       `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/assetpipe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("assetpipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StatePath returns the SQLite state database location.
func (c *Config) StatePath() string {
	return filepath.Join(c.Paths.StateDir, "assetpipe.db")
}

// LockPath returns the single-writer lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "assetpipe.lock")
}

// GatewayTimeout returns the per-request gateway timeout.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutSeconds) * time.Second
}

// RetryBaseDelay returns the linear backoff unit.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelayMillis) * time.Millisecond
}

// PollInterval returns the generation status polling interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Polling.IntervalSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
