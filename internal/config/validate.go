package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateGateway(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validatePolling(); err != nil {
		return err
	}
	if err := c.validateGeneration(); err != nil {
		return err
	}
	if err := c.validateOptimization(); err != nil {
		return err
	}
	if err := c.validateBatch(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateGateway() error {
	if c.Gateway.BaseURL == "" {
		return errors.New("gateway.base_url must be set")
	}
	parsed, err := url.Parse(c.Gateway.BaseURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("gateway.base_url must be an http(s) URL, got %q", c.Gateway.BaseURL)
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxRetries < 1 {
		return errors.New("retry.max_retries must be at least 1")
	}
	if c.Retry.BaseDelayMillis < 0 {
		return errors.New("retry.base_delay_ms must not be negative")
	}
	return nil
}

func (c *Config) validatePolling() error {
	if c.Polling.IntervalSeconds <= 0 {
		return errors.New("polling.interval_seconds must be positive")
	}
	if c.Polling.MaxAttempts < 1 {
		return errors.New("polling.max_attempts must be at least 1")
	}
	return nil
}

func (c *Config) validateGeneration() error {
	if c.Generation.MaxImages < 1 {
		return errors.New("generation.max_images must be at least 1")
	}
	if c.Generation.TargetPolycount <= 0 {
		return errors.New("generation.target_polycount must be positive")
	}
	switch c.Generation.Topology {
	case "quad", "triangle":
	default:
		return fmt.Errorf("generation.topology must be quad or triangle, got %q", c.Generation.Topology)
	}
	return nil
}

func (c *Config) validateOptimization() error {
	for _, level := range c.Optimization.LODs {
		switch level {
		case "high", "medium", "low":
		default:
			return fmt.Errorf("optimization.lods: unsupported level %q (want high, medium, low)", level)
		}
	}
	return nil
}

func (c *Config) validateBatch() error {
	weights := []float64{c.Batch.SaveWeight, c.Batch.BackgroundWeight, c.Batch.ModelWeight}
	sum := 0.0
	for _, w := range weights {
		if w < 0 {
			return errors.New("batch weights must not be negative")
		}
		sum += w
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("batch weights must sum to 1, got %.3f", sum)
	}
	return nil
}
