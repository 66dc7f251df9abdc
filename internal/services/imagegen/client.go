package imagegen

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"comicforge/internal/config"
	"comicforge/internal/services"
)

const (
	defaultBaseURL        = "https://api.openai.com/v1/images/generations"
	defaultModel          = "gpt-image-1"
	defaultHTTPTimeout    = 180 * time.Second
	defaultCacheTTL       = 30 * time.Minute
	defaultRateInterval   = 500 * time.Millisecond
	defaultBurst          = 2
	cacheCleanupInterval  = time.Hour
	maxErrorBodySnippet   = 240
	base64ImageDataPrefix = "data:image/png;base64,"
)

// Config captures the settings required to call the images endpoint.
type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	TimeoutSeconds  int
	CacheTTLSeconds int
	RateIntervalMS  int
	Burst           int
}

// ConfigFrom maps the [images] config section onto client settings.
func ConfigFrom(cfg *config.Config) Config {
	if cfg == nil {
		return Config{}
	}
	return Config{
		APIKey:          cfg.Images.APIKey,
		BaseURL:         cfg.Images.BaseURL,
		Model:           cfg.Images.Model,
		TimeoutSeconds:  cfg.Images.TimeoutSeconds,
		CacheTTLSeconds: cfg.Images.CacheTTLSeconds,
		RateIntervalMS:  cfg.Images.RateIntervalMS,
		Burst:           cfg.Images.Burst,
	}
}

// Request describes one image to generate.
type Request struct {
	Prompt        string
	Width         int
	Height        int
	ReferenceURLs []string
}

// Size renders the requested dimensions the way the endpoint expects them.
func (r Request) Size() string {
	if r.Width <= 0 || r.Height <= 0 {
		return "auto"
	}
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Image is a generated image.
type Image struct {
	URL           string
	RevisedPrompt string
}

// Client generates images with caching, request coalescing, and pacing.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cache      *cache.Cache
	limiter    *rate.Limiter
	group      singleflight.Group
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLimiter replaces the request limiter, typically to share one across clients.
func WithLimiter(limiter *rate.Limiter) Option {
	return func(c *Client) {
		if limiter != nil {
			c.limiter = limiter
		}
	}
}

// WithCache replaces the response cache.
func WithCache(store *cache.Cache) Option {
	return func(c *Client) {
		if store != nil {
			c.cache = store
		}
	}
}

// NewClient constructs an images client from cfg.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	ttl := defaultCacheTTL
	if cfg.CacheTTLSeconds > 0 {
		ttl = time.Duration(cfg.CacheTTLSeconds) * time.Second
	}
	interval := defaultRateInterval
	if cfg.RateIntervalMS > 0 {
		interval = time.Duration(cfg.RateIntervalMS) * time.Millisecond
	}
	burst := defaultBurst
	if cfg.Burst > 0 {
		burst = cfg.Burst
	}

	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache.New(ttl, cacheCleanupInterval),
		limiter:    rate.NewLimiter(rate.Every(interval), burst),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Model returns the configured image model.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Generate returns an image for req. Cached results are returned without
// waiting on the limiter; concurrent identical requests share one call.
func (c *Client) Generate(ctx context.Context, req Request) (Image, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return Image{}, services.Wrap(services.ErrValidation, "imagegen", "generate", "prompt is required", nil)
	}
	if c.cfg.APIKey == "" {
		return Image{}, services.WithHint(
			services.Wrap(services.ErrConfiguration, "imagegen", "generate", "api key required", nil),
			"set images.api_key or COMICFORGE_IMAGE_API_KEY",
		)
	}

	key := c.cacheKey(req)
	if cached, ok := c.cache.Get(key); ok {
		if img, ok := cached.(Image); ok {
			return img, nil
		}
	}

	val, err, _ := c.group.Do(key, func() (any, error) {
		if cached, ok := c.cache.Get(key); ok {
			if img, ok := cached.(Image); ok {
				return img, nil
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		img, err := c.generateOnce(ctx, req)
		if err != nil {
			return nil, err
		}
		c.cache.SetDefault(key, img)
		return img, nil
	})
	if err != nil {
		return Image{}, classifyError("generate", err)
	}
	img, ok := val.(Image)
	if !ok {
		return Image{}, services.Wrap(services.ErrInternal, "imagegen", "generate", fmt.Sprintf("unexpected result type %T", val), nil)
	}
	return img, nil
}

// CachedCount reports how many responses are currently cached.
func (c *Client) CachedCount() int {
	return c.cache.ItemCount()
}

// HealthCheck verifies the client is configured. It never generates an image.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return services.Wrap(services.ErrConfiguration, "imagegen", "health", "api key required", nil)
	}
	if c.cfg.BaseURL == "" || c.cfg.Model == "" {
		return services.Wrap(services.ErrConfiguration, "imagegen", "health", "base url and model are required", nil)
	}
	return ctx.Err()
}

func (c *Client) cacheKey(req Request) string {
	h := sha256.New()
	for _, part := range []string{c.cfg.Model, req.Size(), req.Prompt} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	for _, ref := range req.ReferenceURLs {
		h.Write([]byte(ref))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

type generationRequest struct {
	Model     string   `json:"model"`
	Prompt    string   `json:"prompt"`
	N         int      `json:"n"`
	Size      string   `json:"size"`
	Reference []string `json:"reference_images,omitempty"`
}

type generationResponse struct {
	Data []struct {
		URL           string `json:"url"`
		B64JSON       string `json:"b64_json"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("images request: http %d: %s", e.StatusCode, e.Body)
}

func (c *Client) generateOnce(ctx context.Context, req Request) (Image, error) {
	encoded, err := json.Marshal(generationRequest{
		Model:     c.cfg.Model,
		Prompt:    req.Prompt,
		N:         1,
		Size:      req.Size(),
		Reference: req.ReferenceURLs,
	})
	if err != nil {
		return Image{}, fmt.Errorf("images request: encode body: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return Image{}, fmt.Errorf("images request: new request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Image{}, fmt.Errorf("images request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Image{}, fmt.Errorf("images request: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Image{}, &httpStatusError{StatusCode: resp.StatusCode, Body: snippet(body)}
	}

	var parsed generationResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Image{}, services.Wrap(services.ErrFatal, "imagegen", "decode", "malformed response: "+snippet(body), err)
	}
	for _, item := range parsed.Data {
		switch {
		case strings.TrimSpace(item.URL) != "":
			return Image{URL: strings.TrimSpace(item.URL), RevisedPrompt: item.RevisedPrompt}, nil
		case strings.TrimSpace(item.B64JSON) != "":
			return Image{URL: base64ImageDataPrefix + strings.TrimSpace(item.B64JSON), RevisedPrompt: item.RevisedPrompt}, nil
		}
	}
	return Image{}, services.Wrap(services.ErrFatal, "imagegen", "decode", "response carried no image", nil)
}

func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "imagegen", op, "request timed out", err)
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode
		if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
			return services.Wrap(services.ErrTransient, "imagegen", op, fmt.Sprintf("upstream returned http %d", code), err)
		}
		return services.WithHint(
			services.Wrap(services.ErrExternalTool, "imagegen", op, fmt.Sprintf("upstream rejected request with http %d", code), err),
			"check images.api_key, images.model and the prompt content",
		)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.Wrap(services.ErrTimeout, "imagegen", op, "request timed out", err)
	}
	return services.Wrap(services.ErrTransient, "imagegen", op, "request failed", err)
}

func snippet(body []byte) string {
	clean := strings.Join(strings.Fields(string(body)), " ")
	if len(clean) > maxErrorBodySnippet {
		clean = clean[:maxErrorBodySnippet] + "..."
	}
	if clean == "" {
		return "<empty>"
	}
	return clean
}
