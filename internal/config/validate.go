package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Stage names accepted under [pipeline.stage_timeouts].
var knownStages = map[string]struct{}{
	"analyzing":  {},
	"script":     {},
	"characters": {},
	"designs":    {},
	"layouts":    {},
	"panels":     {},
	"dialogue":   {},
	"finalizing": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateImages(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := ensurePositiveMap(map[string]int{
		"llm.timeout_seconds":           c.LLM.TimeoutSeconds,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
		"auth.cache_ttl_seconds":        c.Auth.CacheTTLSeconds,
	}); err != nil {
		return err
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateServer() error {
	if _, _, err := net.SplitHostPort(c.Server.Bind); err != nil {
		return fmt.Errorf("server.bind %q must be host:port: %w", c.Server.Bind, err)
	}
	return nil
}

func (c *Config) validateImages() error {
	if err := ensurePositiveMap(map[string]int{
		"images.timeout_seconds": c.Images.TimeoutSeconds,
		"images.concurrency":     c.Images.Concurrency,
		"images.page_width":      c.Images.PageWidth,
		"images.page_height":     c.Images.PageHeight,
	}); err != nil {
		return err
	}
	if c.Images.RateIntervalMS < 0 {
		return errors.New("images.rate_interval_ms must be >= 0")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	p := c.Pipeline
	if p.InitialBackoffMS < 0 {
		return errors.New("pipeline.initial_backoff_ms must be >= 0")
	}
	if p.MaxBackoffMS < p.InitialBackoffMS {
		return errors.New("pipeline.max_backoff_ms must be >= pipeline.initial_backoff_ms")
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return errors.New("pipeline.jitter must be between 0 and 1")
	}
	if p.StageTimeoutSeconds <= 0 {
		return errors.New("pipeline.stage_timeout_seconds must be positive")
	}
	for stage, seconds := range p.StageTimeouts {
		if _, ok := knownStages[stage]; !ok {
			return fmt.Errorf("pipeline.stage_timeouts: unknown stage %q", stage)
		}
		if seconds <= 0 {
			return fmt.Errorf("pipeline.stage_timeouts.%s must be positive", stage)
		}
	}
	if p.HeartbeatInterval <= 0 {
		return errors.New("pipeline.heartbeat_interval must be positive")
	}
	if p.HeartbeatTimeout <= 0 {
		return errors.New("pipeline.heartbeat_timeout must be positive")
	}
	if p.HeartbeatTimeout <= p.HeartbeatInterval {
		return errors.New("pipeline.heartbeat_timeout must be greater than pipeline.heartbeat_interval")
	}
	if p.MinPages < 1 {
		return errors.New("pipeline.min_pages must be at least 1")
	}
	if p.MaxPages < p.MinPages {
		return errors.New("pipeline.max_pages must be >= pipeline.min_pages")
	}
	return nil
}

// Warnings reports settings that load fine but leave parts of the pipeline
// unable to run.
func (c *Config) Warnings() []string {
	var warnings []string
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		warnings = append(warnings, "llm.api_key is empty; set OPENROUTER_API_KEY or edit the config file")
	}
	if strings.TrimSpace(c.Images.APIKey) == "" {
		warnings = append(warnings, "images.api_key is empty; set COMICFORGE_IMAGE_API_KEY or edit the config file")
	}
	if len(c.Auth.Tokens) == 0 {
		warnings = append(warnings, "auth.tokens is empty; only project access tokens will authenticate")
	}
	return warnings
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
