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

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Server contains HTTP API settings.
type Server struct {
	Bind           string `toml:"bind"`
	PreviewPages   int    `toml:"preview_pages"`
	SecondsPerPage int    `toml:"seconds_per_page"`
}

// Auth contains bearer token settings. Tokens maps a token to the user id it
// authenticates as.
type Auth struct {
	Tokens          map[string]string `toml:"tokens"`
	CacheTTLSeconds int               `toml:"cache_ttl_seconds"`
}

// LLM contains text generation connection settings.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Images contains image generation connection and pacing settings.
type Images struct {
	APIKey          string `toml:"api_key"`
	BaseURL         string `toml:"base_url"`
	Model           string `toml:"model"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	CacheTTLSeconds int    `toml:"cache_ttl_seconds"`
	Concurrency     int    `toml:"concurrency"`
	RateIntervalMS  int    `toml:"rate_interval_ms"`
	Burst           int    `toml:"burst"`
	PageWidth       int    `toml:"page_width"`
	PageHeight      int    `toml:"page_height"`
}

// Pipeline contains stage execution, retry, and heartbeat settings.
type Pipeline struct {
	MaxAttempts         int            `toml:"max_attempts"`
	InitialBackoffMS    int            `toml:"initial_backoff_ms"`
	MaxBackoffMS        int            `toml:"max_backoff_ms"`
	BackoffFactor       float64        `toml:"backoff_factor"`
	Jitter              float64        `toml:"jitter"`
	StageTimeoutSeconds int            `toml:"stage_timeout_seconds"`
	StageTimeouts       map[string]int `toml:"stage_timeouts"`
	HeartbeatInterval   int            `toml:"heartbeat_interval"`
	HeartbeatTimeout    int            `toml:"heartbeat_timeout"`
	MinPages            int            `toml:"min_pages"`
	MaxPages            int            `toml:"max_pages"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	RunCompleted   bool   `toml:"run_completed"`
	RunFailed      bool   `toml:"run_failed"`
	RunAborted     bool   `toml:"run_aborted"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for comicforge.
//
// Configuration sections by subsystem:
//   - Paths: database and log directories
//   - Server: HTTP bind address and response defaults
//   - Auth: API bearer tokens
//   - LLM: text generation for analysis, script, and characters
//   - Images: image generation for designs and panels
//   - Pipeline: retry policy, stage budgets, heartbeat, page limits
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Server        Server        `toml:"server"`
	Auth          Auth          `toml:"auth"`
	LLM           LLM           `toml:"llm"`
	Images        Images        `toml:"images"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the per-user configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load reads the configuration at path, or the first file found among the
// default locations when path is empty. It returns the normalized config, the
// file it settled on and whether that file existed. A missing file yields
// defaults.
func Load(path string) (*Config, string, bool, error) {
	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}
	cfg := Default()
	if exists {
		if err := decodeFile(resolved, &cfg); err != nil {
			return nil, "", false, err
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

func decodeFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := toml.NewDecoder(f).DisallowUnknownFields()
	err = dec.Decode(cfg)
	var strict *toml.StrictMissingError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &strict):
		return fmt.Errorf("parse config: %s", strict.String())
	default:
		return fmt.Errorf("parse config %s: %w", path, err)
	}
}

// resolveConfigPath picks the file Load should read. An explicit path wins even
// when it does not exist yet; otherwise the user config is preferred over a
// comicforge.toml in the working directory.
func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		exists, err := isFile(expanded)
		return expanded, exists, err
	}

	userPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	localPath, err := filepath.Abs("comicforge.toml")
	if err != nil {
		return "", false, err
	}
	for _, candidate := range []string{userPath, localPath} {
		if ok, _ := isFile(candidate); ok {
			return candidate, true, nil
		}
	}
	return userPath, false, nil
}

func isFile(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat config: %w", err)
	}
	return !info.IsDir(), nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the project store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "comicforge.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "comicforge.lock")
}

// LogPath returns the daemon log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "comicforge.log")
}

// StageTimeout returns the execution budget for the named stage.
func (c *Config) StageTimeout(stage string) time.Duration {
	if seconds, ok := c.Pipeline.StageTimeouts[stage]; ok && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return time.Duration(c.Pipeline.StageTimeoutSeconds) * time.Second
}

// APIBaseURL returns the HTTP base URL clients should use for the daemon.
func (c *Config) APIBaseURL() string {
	bind := strings.TrimSpace(c.Server.Bind)
	if strings.HasPrefix(bind, ":") {
		bind = "127.0.0.1" + bind
	}
	if strings.HasPrefix(bind, "0.0.0.0:") {
		bind = "127.0.0.1" + strings.TrimPrefix(bind, "0.0.0.0")
	}
	return "http://" + bind
}

// ClientToken returns a configured API token suitable for CLI requests,
// preferring the one bound to the local user.
func (c *Config) ClientToken() string {
	fallback := ""
	for token, user := range c.Auth.Tokens {
		if user == localUser {
			return token
		}
		if fallback == "" || token < fallback {
			fallback = token
		}
	}
	return fallback
}

// expandPath resolves a leading ~ and returns an absolute, cleaned path.
func expandPath(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if value == "~" || strings.HasPrefix(value, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		value = filepath.Join(home, strings.TrimPrefix(value, "~"))
	}
	abs, err := filepath.Abs(value)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", value, err)
	}
	return abs, nil
}

// SampleTarget resolves where `config init` writes: the expanded path when one
// is given, DefaultConfigPath otherwise.
func SampleTarget(path string) (string, error) {
	if path = strings.TrimSpace(path); path == "" {
		return DefaultConfigPath()
	}
	return expandPath(path)
}

// CreateSample writes the annotated sample configuration to path. An existing
// file is replaced only when overwrite is set.
func CreateSample(path string, overwrite bool) error {
	if !overwrite {
		exists, err := isFile(path)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
