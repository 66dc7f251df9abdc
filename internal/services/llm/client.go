package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"comicforge/internal/services"
)

// Client wraps an OpenRouter-compatible chat completion endpoint.
type Client struct {
	cfg         Config
	http        *http.Client
	temperature float64
	retry       retryPolicy
}

// NewClient constructs an LLM client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Model = strings.TrimSpace(cfg.Model)
	cfg.Referer = strings.TrimSpace(cfg.Referer)
	cfg.Title = strings.TrimSpace(cfg.Title)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	c := &Client{
		cfg:         cfg,
		http:        &http.Client{Timeout: timeout},
		temperature: defaultTemperature,
		retry:       retryPolicy{attempts: defaultAttempts, base: defaultBaseDelay, max: defaultMaxDelay},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CompleteJSON sends the prompts as a JSON-mode chat completion and returns
// the raw payload the model produced.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if systemPrompt == "" || userPrompt == "" {
		return "", services.Wrap(services.ErrValidation, "llm", "complete", "system and user prompts are required", nil)
	}
	if c.cfg.APIKey == "" {
		return "", services.WithHint(
			services.Wrap(services.ErrConfiguration, "llm", "complete", "api key required", nil),
			"set llm.api_key or OPENROUTER_API_KEY",
		)
	}
	content, err := c.complete(ctx, c.request(systemPrompt, userPrompt, c.temperature), "llm complete")
	if err != nil {
		return "", classifyError("complete", err)
	}
	return content, nil
}

// CompleteInto issues a JSON completion and decodes the payload into target.
// A payload that does not decode is fatal malformed output.
func (c *Client) CompleteInto(ctx context.Context, systemPrompt, userPrompt string, target any) (string, error) {
	content, err := c.CompleteJSON(ctx, systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}
	if err := DecodeLLMJSON(content, target); err != nil {
		return content, services.Wrap(services.ErrFatal, "llm", "decode", "model returned malformed JSON", err)
	}
	return content, nil
}

// HealthCheck issues a tiny completion to verify the API key and model.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return services.Wrap(services.ErrConfiguration, "llm", "health", "api key required", nil)
	}
	content, err := c.complete(ctx, c.request("You must respond with JSON only.", `Respond with {"ok":true}`, 0), "llm health")
	if err != nil {
		return classifyError("health", err)
	}
	var ack struct {
		OK bool `json:"ok"`
	}
	if err := DecodeLLMJSON(content, &ack); err != nil {
		return fmt.Errorf("llm health: parse payload: %w", err)
	}
	if !ack.OK {
		return errors.New("llm health: unexpected response")
	}
	return nil
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *Client) request(system, user string, temperature float64) chatRequest {
	return chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type chatChoice struct {
	Message chatReply `json:"message"`
	// Some providers answer with the streaming shape even when stream=false.
	Delta        chatReply `json:"delta"`
	Text         string    `json:"text"`
	FinishReason string    `json:"finish_reason"`
}

type chatReply struct {
	Content      string        `json:"content"`
	Refusal      string        `json:"refusal"`
	FunctionCall *functionCall `json:"function_call"`
	ToolCalls    []struct {
		Function functionCall `json:"function"`
	} `json:"tool_calls"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// arguments returns the first non-empty function or tool call argument string.
func (r chatReply) arguments() string {
	if r.FunctionCall != nil {
		if args := strings.TrimSpace(r.FunctionCall.Arguments); args != "" {
			return args
		}
	}
	for _, call := range r.ToolCalls {
		if args := strings.TrimSpace(call.Function.Arguments); args != "" {
			return args
		}
	}
	return ""
}

// payload picks the model output, preferring plain content over call arguments.
func (ch chatChoice) payload() string {
	candidates := []string{
		ch.Message.Content,
		ch.Delta.Content,
		ch.Text,
		ch.Message.arguments(),
		ch.Delta.arguments(),
	}
	for _, candidate := range candidates {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// content returns the first usable payload, or an error describing why the
// response had none.
func (r chatResponse) content(op string, body []byte) (string, error) {
	empty := &emptyContentError{op: op, snippet: snippet(string(body))}
	if len(r.Choices) == 0 {
		empty.finishReason = "no choices"
		return "", empty
	}
	for _, choice := range r.Choices {
		if payload := choice.payload(); payload != "" {
			return payload, nil
		}
		if empty.finishReason == "" {
			empty.finishReason = strings.TrimSpace(choice.FinishReason)
		}
		if empty.refusal == "" {
			empty.refusal = strings.TrimSpace(choice.Message.Refusal + choice.Delta.Refusal)
		}
	}
	return "", empty
}

type emptyContentError struct {
	op           string
	finishReason string
	refusal      string
	snippet      string
}

func (e *emptyContentError) Error() string {
	return fmt.Sprintf("%s: empty content (finish_reason=%q, refusal=%q, response_snippet=%s)",
		e.op, e.finishReason, e.refusal, e.snippet)
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("llm request: http %d: %s", e.StatusCode, e.Body)
}

// send posts one request and decodes the response envelope.
func (c *Client) send(ctx context.Context, payload chatRequest) (chatResponse, []byte, error) {
	var out chatResponse
	encoded, err := json.Marshal(payload)
	if err != nil {
		return out, nil, fmt.Errorf("llm request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return out, nil, fmt.Errorf("llm request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return out, nil, fmt.Errorf("llm request (timeout=%s): %w", c.http.Timeout, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, nil, fmt.Errorf("llm request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return out, body, &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, body, services.Wrap(services.ErrFatal, "llm", "decode", "malformed response: "+snippet(string(body)), err)
	}
	if out.Error != nil {
		return out, body, fmt.Errorf("llm request: api error: %s", strings.TrimSpace(out.Error.Message))
	}
	return out, body, nil
}
