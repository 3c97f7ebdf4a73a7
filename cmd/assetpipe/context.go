package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"assetpipe/internal/config"
	"assetpipe/internal/gateway"
	"assetpipe/internal/logging"
	"assetpipe/internal/metrics"
	"assetpipe/internal/queue"
)

type commandContext struct {
	configFlag  *string
	metricsFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	// newGateway lets tests substitute the gateway client.
	newGateway func(*config.Config) gateway.Gateway
}

func newCommandContext(configFlag, metricsFlag *string) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		metricsFlag: metricsFlag,
		newGateway: func(cfg *config.Config) gateway.Gateway {
			return gateway.NewFromConfig(cfg)
		},
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) logger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

func (c *commandContext) gateway(cfg *config.Config) gateway.Gateway {
	return c.newGateway(cfg)
}

// withStore opens the state database for fn.
func (c *commandContext) withStore(fn func(*config.Config, *queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer store.Close()
	return fn(cfg, store)
}

// withWriterLock holds the single-writer lock while fn runs.
func (c *commandContext) withWriterLock(cfg *config.Config, fn func() error) error {
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another assetpipe run holds %s", cfg.LockPath())
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

func (c *commandContext) metricsAddr(cfg *config.Config) string {
	if c.metricsFlag != nil && strings.TrimSpace(*c.metricsFlag) != "" {
		return strings.TrimSpace(*c.metricsFlag)
	}
	return strings.TrimSpace(cfg.Metrics.Bind)
}

// serveMetrics exposes collector on addr until the returned stop func runs.
// An empty addr serves nothing.
func serveMetrics(addr string, collector *metrics.Collector, logger *slog.Logger) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", logging.Error(err))
		}
	}()
	logger.Info("serving metrics", logging.String("addr", listener.Addr().String()))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
