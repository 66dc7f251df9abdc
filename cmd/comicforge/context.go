package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"comicforge/internal/apiclient"
	"comicforge/internal/config"
)

type commandContext struct {
	configFlag *string
	urlFlag    *string
	tokenFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, urlFlag, tokenFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		urlFlag:    urlFlag,
		tokenFlag:  tokenFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(flagValue(c.configFlag))
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

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) baseURL() string {
	if value := flagValue(c.urlFlag); value != "" {
		return value
	}
	if cfg := c.configValue(); cfg != nil {
		return cfg.APIBaseURL()
	}
	return ""
}

func (c *commandContext) token() string {
	if value := flagValue(c.tokenFlag); value != "" {
		return value
	}
	if cfg := c.configValue(); cfg != nil {
		return cfg.ClientToken()
	}
	return ""
}

func (c *commandContext) client() (*apiclient.Client, error) {
	client, err := apiclient.New(c.baseURL(), c.token())
	if err != nil {
		return nil, fmt.Errorf("configure daemon client: %w", err)
	}
	return client, nil
}

func (c *commandContext) withClient(fn func(*apiclient.Client) error) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	return wrapClientError(fn(client), c.baseURL())
}

func wrapClientError(err error, baseURL string) error {
	if err == nil {
		return nil
	}
	var status *apiclient.StatusError
	switch {
	case apiclient.IsUnavailable(err):
		return fmt.Errorf("connect to daemon at %s: not reachable; start it with `comicforged`", baseURL)
	case errors.As(err, &status) && status.Code == 401:
		return errors.New("daemon rejected the token; pass --token or set auth.tokens in the config")
	case errors.As(err, &status) && status.Message != "":
		return errors.New(status.Message)
	default:
		return err
	}
}

func flagValue(flag *string) string {
	if flag == nil {
		return ""
	}
	return strings.TrimSpace(*flag)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
