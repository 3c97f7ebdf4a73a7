package preflight

import (
	"context"
	"strings"

	"assetpipe/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every applicable check for cfg.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckGateway(ctx, cfg.Gateway.BaseURL, cfg.Gateway.APIKey),
	}
	if strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
		results = append(results, CheckNtfyTopic(cfg.Notifications.NtfyTopic))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
