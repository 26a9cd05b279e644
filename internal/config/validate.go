package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the config for invalid values and returns all errors found.
// Dangerous zero-values are clamped to safe defaults. Other validation errors
// are logged as warnings but do not prevent startup.
func (c *Config) Validate() []error {
	var errs []error

	if c.SocketPath == "" {
		errs = append(errs, fmt.Errorf("socket_path is empty, using default %s", DefaultSocketPath))
		c.SocketPath = DefaultSocketPath
	} else if !filepath.IsAbs(c.SocketPath) {
		errs = append(errs, fmt.Errorf("socket_path %q must be absolute", c.SocketPath))
	}

	// Clamp intervals to safe ranges. The poll interval bounds broker
	// shutdown latency; the liveness interval bounds per-present overhead.
	if c.PollIntervalMs < 10 {
		errs = append(errs, fmt.Errorf("poll_interval_ms %d is below minimum 10, clamping", c.PollIntervalMs))
		c.PollIntervalMs = 10
	} else if c.PollIntervalMs > 10000 {
		errs = append(errs, fmt.Errorf("poll_interval_ms %d exceeds maximum 10000, clamping", c.PollIntervalMs))
		c.PollIntervalMs = 10000
	}

	if c.LivenessInterval < 1 {
		errs = append(errs, fmt.Errorf("liveness_interval %d is below minimum 1, clamping", c.LivenessInterval))
		c.LivenessInterval = 1
	} else if c.LivenessInterval > 600 {
		errs = append(errs, fmt.Errorf("liveness_interval %d exceeds maximum 600, clamping", c.LivenessInterval))
		c.LivenessInterval = 600
	}

	if c.MaxClients < 1 {
		errs = append(errs, fmt.Errorf("max_clients %d is below minimum 1, clamping", c.MaxClients))
		c.MaxClients = 1
	} else if c.MaxClients > 256 {
		errs = append(errs, fmt.Errorf("max_clients %d exceeds maximum 256, clamping", c.MaxClients))
		c.MaxClients = 256
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if c.ShutdownGraceSecs < 1 {
		errs = append(errs, fmt.Errorf("shutdown_grace_seconds %d is below minimum 1, clamping", c.ShutdownGraceSecs))
		c.ShutdownGraceSecs = 1
	}

	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}

	return errs
}
