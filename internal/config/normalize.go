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
	c.normalizeServer()
	c.normalizeAuth()
	c.normalizeLLM()
	c.normalizeImages()
	c.normalizePipeline()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultBind
	}
	if c.Server.PreviewPages <= 0 {
		c.Server.PreviewPages = defaultPreviewPages
	}
	if c.Server.SecondsPerPage <= 0 {
		c.Server.SecondsPerPage = defaultSecondsPerPage
	}
}

func (c *Config) normalizeAuth() {
	tokens := make(map[string]string, len(c.Auth.Tokens)+1)
	for token, user := range c.Auth.Tokens {
		token = strings.TrimSpace(token)
		user = strings.TrimSpace(user)
		if token == "" || user == "" {
			continue
		}
		tokens[token] = user
	}
	if value, ok := os.LookupEnv("COMICFORGE_API_TOKEN"); ok {
		if token := strings.TrimSpace(value); token != "" {
			if _, exists := tokens[token]; !exists {
				tokens[token] = localUser
			}
		}
	}
	c.Auth.Tokens = tokens
	if c.Auth.CacheTTLSeconds <= 0 {
		c.Auth.CacheTTLSeconds = defaultAuthCacheTTLSeconds
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("COMICFORGE_LLM_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	if c.LLM.Referer == "" {
		c.LLM.Referer = defaultLLMReferer
	}
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.Title == "" {
		c.LLM.Title = defaultLLMTitle
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}

func (c *Config) normalizeImages() {
	c.Images.APIKey = strings.TrimSpace(c.Images.APIKey)
	if c.Images.APIKey == "" {
		if value, ok := os.LookupEnv("COMICFORGE_IMAGE_API_KEY"); ok {
			c.Images.APIKey = strings.TrimSpace(value)
		}
	}
	c.Images.BaseURL = strings.TrimSpace(c.Images.BaseURL)
	if c.Images.BaseURL == "" {
		c.Images.BaseURL = defaultImagesBaseURL
	}
	c.Images.Model = strings.TrimSpace(c.Images.Model)
	if c.Images.Model == "" {
		c.Images.Model = defaultImagesModel
	}
	if c.Images.TimeoutSeconds <= 0 {
		c.Images.TimeoutSeconds = defaultImagesTimeoutSeconds
	}
	if c.Images.CacheTTLSeconds < 0 {
		c.Images.CacheTTLSeconds = 0
	}
	if c.Images.Burst <= 0 {
		c.Images.Burst = defaultImagesBurst
	}
	if c.Images.PageWidth <= 0 {
		c.Images.PageWidth = defaultPageWidth
	}
	if c.Images.PageHeight <= 0 {
		c.Images.PageHeight = defaultPageHeight
	}
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.MaxAttempts < 0 {
		c.Pipeline.MaxAttempts = 0
	}
	if c.Pipeline.BackoffFactor < 1 {
		c.Pipeline.BackoffFactor = defaultBackoffFactor
	}
	stageTimeouts := make(map[string]int, len(c.Pipeline.StageTimeouts))
	for stage, seconds := range c.Pipeline.StageTimeouts {
		stage = strings.ToLower(strings.TrimSpace(stage))
		if stage == "" {
			continue
		}
		stageTimeouts[stage] = seconds
	}
	c.Pipeline.StageTimeouts = stageTimeouts
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("COMICFORGE_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
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
