package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"comicforge/internal/config"
)

const userAgent = "comicforge/0.1.0"

// Service defines the notification surface used by the daemon.
type Service interface {
	NotifyRunCompleted(ctx context.Context, title string, pages int, duration time.Duration) error
	NotifyRunFailed(ctx context.Context, title, stage, reason string) error
	NotifyRunAborted(ctx context.Context, title, reason string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		completed: cfg.Notifications.RunCompleted,
		failed:    cfg.Notifications.RunFailed,
		aborted:   cfg.Notifications.RunAborted,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client

	completed bool
	failed    bool
	aborted   bool
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, title string, pages int, duration time.Duration) error {
	if !n.completed {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	message := fmt.Sprintf("✅ Comic ready: %s (%s)", displayTitle(title), pluralPages(pages))
	if duration > 0 {
		message += fmt.Sprintf(" in %s", duration)
	}
	return n.send(ctx, payload{
		title:    "comicforge - Complete",
		message:  message,
		tags:     []string{"comicforge", "run", "completed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyRunFailed(ctx context.Context, title, stage, reason string) error {
	if !n.failed {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("❌ Generation failed: ")
	builder.WriteString(displayTitle(title))
	if stage = strings.TrimSpace(stage); stage != "" {
		builder.WriteString(" during ")
		builder.WriteString(stage)
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		builder.WriteString("\n")
		builder.WriteString(reason)
	}
	return n.send(ctx, payload{
		title:    "comicforge - Failed",
		message:  builder.String(),
		tags:     []string{"comicforge", "run", "failed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyRunAborted(ctx context.Context, title, reason string) error {
	if !n.aborted {
		return nil
	}
	message := fmt.Sprintf("Generation aborted: %s", displayTitle(title))
	if reason = strings.TrimSpace(reason); reason != "" {
		message += "\nReason: " + reason
	}
	return n.send(ctx, payload{
		title:   "comicforge - Aborted",
		message: message,
		tags:    []string{"comicforge", "run", "aborted"},
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "comicforge - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"comicforge", "test"},
		priority: "low",
	})
}

func displayTitle(title string) string {
	if title = strings.TrimSpace(title); title != "" {
		return title
	}
	return "Untitled comic"
}

func pluralPages(n int) string {
	if n == 1 {
		return "1 page"
	}
	return fmt.Sprintf("%d pages", n)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRunCompleted(context.Context, string, int, time.Duration) error { return nil }
func (noopService) NotifyRunFailed(context.Context, string, string, string) error        { return nil }
func (noopService) NotifyRunAborted(context.Context, string, string) error               { return nil }
func (noopService) TestNotification(context.Context) error                               { return nil }
