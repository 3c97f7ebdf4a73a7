package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeGateway()
	c.normalizeGeneration()
	c.normalizeOptimization()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeGateway() {
	c.Gateway.BaseURL = strings.TrimRight(strings.TrimSpace(c.Gateway.BaseURL), "/")
	c.Gateway.APIKey = strings.TrimSpace(c.Gateway.APIKey)
	if c.Gateway.APIKey == "" {
		if value, ok := os.LookupEnv("ASSETPIPE_API_KEY"); ok {
			c.Gateway.APIKey = strings.TrimSpace(value)
		}
	}
	if c.Gateway.TimeoutSeconds <= 0 {
		c.Gateway.TimeoutSeconds = defaultGatewayTimeoutSeconds
	}
}

func (c *Config) normalizeGeneration() {
	c.Generation.AIModel = strings.TrimSpace(c.Generation.AIModel)
	if c.Generation.AIModel == "" {
		c.Generation.AIModel = defaultAIModel
	}
	c.Generation.Topology = strings.ToLower(strings.TrimSpace(c.Generation.Topology))
	if c.Generation.Topology == "" {
		c.Generation.Topology = defaultTopology
	}
}

func (c *Config) normalizeOptimization() {
	levels := make([]string, 0, len(c.Optimization.LODs))
	seen := make(map[string]struct{}, len(c.Optimization.LODs))
	for _, level := range c.Optimization.LODs {
		level = strings.ToLower(strings.TrimSpace(level))
		if level == "" {
			continue
		}
		if _, ok := seen[level]; ok {
			continue
		}
		seen[level] = struct{}{}
		levels = append(levels, level)
	}
	if len(levels) == 0 {
		levels = append(levels, defaultLODs...)
	}
	c.Optimization.LODs = levels
	c.Optimization.TargetFormat = strings.ToLower(strings.TrimSpace(c.Optimization.TargetFormat))
	if c.Optimization.TargetFormat == "" {
		c.Optimization.TargetFormat = defaultTargetFormat
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
