// Package config loads, normalizes, and validates assetpipe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the ASSETPIPE_API_KEY environment
// fallback. The Config type centralizes every knob the orchestrator and CLI
// need: gateway endpoint, retry and polling policy, generation and
// optimization settings, batch progress weights, notifications, and logging.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
