package config

const (
	defaultConfigPath            = "~/.config/comicforge/config.toml"
	defaultDataDir               = "~/.local/share/comicforge"
	defaultLogDir                = "~/.local/share/comicforge/logs"
	defaultBind                  = "127.0.0.1:7620"
	defaultPreviewPages          = 4
	defaultSecondsPerPage        = 15
	defaultAuthCacheTTLSeconds   = 300
	defaultLLMBaseURL            = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel              = "google/gemini-3-flash-preview"
	defaultLLMReferer            = "https://github.com/comicforge/comicforge"
	defaultLLMTitle              = "comicforge"
	defaultLLMTimeoutSeconds     = 120
	defaultImagesBaseURL         = "https://api.openai.com/v1/images/generations"
	defaultImagesModel           = "gpt-image-1"
	defaultImagesTimeoutSeconds  = 180
	defaultImagesCacheTTLSeconds = 1800
	defaultImagesConcurrency     = 4
	defaultImagesRateIntervalMS  = 500
	defaultImagesBurst           = 2
	defaultPageWidth             = 1600
	defaultPageHeight            = 2400
	defaultMaxAttempts           = 3
	defaultInitialBackoffMS      = 1000
	defaultMaxBackoffMS          = 10000
	defaultBackoffFactor         = 2.0
	defaultJitter                = 0.2
	defaultStageTimeoutSeconds   = 600
	defaultHeartbeatInterval     = 15
	defaultHeartbeatTimeout      = 120
	defaultMinPages              = 1
	defaultMaxPages              = 16
	defaultNotifyRequestTimeout  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"

	localUser = "local"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Server: Server{
			Bind:           defaultBind,
			PreviewPages:   defaultPreviewPages,
			SecondsPerPage: defaultSecondsPerPage,
		},
		Auth: Auth{
			Tokens:          map[string]string{},
			CacheTTLSeconds: defaultAuthCacheTTLSeconds,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Images: Images{
			BaseURL:         defaultImagesBaseURL,
			Model:           defaultImagesModel,
			TimeoutSeconds:  defaultImagesTimeoutSeconds,
			CacheTTLSeconds: defaultImagesCacheTTLSeconds,
			Concurrency:     defaultImagesConcurrency,
			RateIntervalMS:  defaultImagesRateIntervalMS,
			Burst:           defaultImagesBurst,
			PageWidth:       defaultPageWidth,
			PageHeight:      defaultPageHeight,
		},
		Pipeline: Pipeline{
			MaxAttempts:         defaultMaxAttempts,
			InitialBackoffMS:    defaultInitialBackoffMS,
			MaxBackoffMS:        defaultMaxBackoffMS,
			BackoffFactor:       defaultBackoffFactor,
			Jitter:              defaultJitter,
			StageTimeoutSeconds: defaultStageTimeoutSeconds,
			StageTimeouts:       map[string]int{},
			HeartbeatInterval:   defaultHeartbeatInterval,
			HeartbeatTimeout:    defaultHeartbeatTimeout,
			MinPages:            defaultMinPages,
			MaxPages:            defaultMaxPages,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			RunCompleted:   true,
			RunFailed:      true,
			RunAborted:     true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
