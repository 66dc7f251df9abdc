package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"comicforge/internal/services"
)

type retryPolicy struct {
	attempts int
	base     time.Duration
	max      time.Duration
	sleeper  func(time.Duration)
}

// complete sends payload until it yields content or the policy gives up.
func (c *Client) complete(ctx context.Context, payload chatRequest, op string) (string, error) {
	attempts := max(c.retry.attempts, 1)
	var err error
	for attempt := 1; ; attempt++ {
		var (
			resp chatResponse
			body []byte
		)
		resp, body, err = c.send(ctx, payload)
		if err == nil {
			var content string
			if content, err = resp.content(op, body); err == nil {
				return content, nil
			}
		}
		if attempt >= attempts {
			break
		}
		delay, retry := c.retry.delayFor(ctx, err, attempt)
		if !retry {
			return "", err
		}
		if sleepErr := c.retry.sleep(ctx, delay); sleepErr != nil {
			return "", sleepErr
		}
	}
	if attempts == 1 {
		return "", err
	}
	return "", fmt.Errorf("%s: failed after %d attempts: %w", op, attempts, err)
}

// delayFor reports whether err is worth another attempt and how long to wait.
// Only throttling, upstream 5xx, empty completions, and timeouts qualify.
func (p retryPolicy) delayFor(ctx context.Context, err error, attempt int) (time.Duration, bool) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}
	var empty *emptyContentError
	if errors.As(err, &empty) {
		return p.backoff(attempt), true
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		if !retryableStatus(statusErr.StatusCode) {
			return 0, false
		}
		if statusErr.RetryAfter > 0 {
			return p.clamp(statusErr.RetryAfter), true
		}
		return p.backoff(attempt), true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return p.backoff(attempt), true
	}
	return 0, false
}

// backoff doubles the base delay per completed attempt: base, 2*base, 4*base.
func (p retryPolicy) backoff(attempt int) time.Duration {
	if p.base <= 0 {
		return 0
	}
	shift := min(max(attempt-1, 0), 16)
	return p.clamp(p.base << shift)
}

func (p retryPolicy) clamp(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if p.max > 0 && delay > p.max {
		return p.max
	}
	return delay
}

func (p retryPolicy) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if p.sleeper != nil {
		p.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= http.StatusInternalServerError
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return max(time.Duration(seconds)*time.Second, 0)
	}
	if when, err := http.ParseTime(value); err == nil {
		return max(time.Until(when), 0)
	}
	return 0
}

// classifyError marks client failures for the stage executor. Rate limits,
// upstream 5xx and network failures are transient. Empty completions are
// malformed output and fatal, as are other HTTP statuses.
func classifyError(op string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		return err
	}
	var empty *emptyContentError
	if errors.As(err, &empty) {
		return services.Wrap(services.ErrFatal, "llm", op, "model returned no content", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "llm", op, "request timed out", err)
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		if retryableStatus(statusErr.StatusCode) {
			return services.Wrap(services.ErrTransient, "llm", op, fmt.Sprintf("upstream returned http %d", statusErr.StatusCode), err)
		}
		return services.WithHint(
			services.Wrap(services.ErrExternalTool, "llm", op, fmt.Sprintf("upstream rejected request with http %d", statusErr.StatusCode), err),
			"check llm.api_key and llm.model",
		)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.Wrap(services.ErrTimeout, "llm", op, "request timed out", err)
	}
	if errors.As(err, &netErr) {
		return services.Wrap(services.ErrTransient, "llm", op, "network failure", err)
	}
	return services.Wrap(services.ErrTransient, "llm", op, "completion failed", err)
}
