// Package apiclient is the HTTP client the CLI uses to talk to comicforged.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"comicforge/internal/api"
)

// ErrUnavailable reports that the daemon could not be reached.
var ErrUnavailable = errors.New("comicforge daemon unavailable")

// StatusError is a non-2xx response from the daemon.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned status %d", e.Code)
	}
	return fmt.Sprintf("daemon returned status %d: %s", e.Code, e.Message)
}

// Client calls the daemon HTTP API.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

// New builds a client for the daemon at baseURL authenticating with token.
func New(baseURL, token string) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("daemon url is empty")
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse daemon url: %w", err)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &Client{
		base:  base,
		http:  &http.Client{Timeout: 30 * time.Second},
		token: strings.TrimSpace(token),
	}, nil
}

// Generate starts a generation run.
func (c *Client) Generate(ctx context.Context, req api.GenerateRequest) (api.GenerateResponse, error) {
	var out api.GenerateResponse
	err := c.do(ctx, http.MethodPost, "/generate", nil, req, &out)
	return out, err
}

// Progress fetches the polling projection of a project.
func (c *Client) Progress(ctx context.Context, projectID string) (api.GenerationProgress, error) {
	var out api.GenerationProgress
	err := c.do(ctx, http.MethodGet, "/progress/"+url.PathEscape(projectID), nil, nil, &out)
	return out, err
}

// Preview fetches the full preview of a project. pages <= 0 uses the daemon
// default.
func (c *Client) Preview(ctx context.Context, projectID string, pages int) (api.ProjectPreview, error) {
	var query url.Values
	if pages > 0 {
		query = url.Values{"pages": {strconv.Itoa(pages)}}
	}
	var out api.ProjectPreview
	err := c.do(ctx, http.MethodGet, "/preview/"+url.PathEscape(projectID), query, nil, &out)
	return out, err
}

// Projects lists the caller's projects.
func (c *Client) Projects(ctx context.Context) ([]api.ProjectSummary, error) {
	var out api.ProjectListResponse
	if err := c.do(ctx, http.MethodGet, "/projects", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Projects, nil
}

// Abort stops the active run of a project.
func (c *Client) Abort(ctx context.Context, projectID, reason string) (api.AbortResponse, error) {
	var out api.AbortResponse
	err := c.do(ctx, http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/abort", nil, api.AbortRequest{Reason: reason}, &out)
	return out, err
}

// Status fetches daemon status.
func (c *Client) Status(ctx context.Context) (api.DaemonStatus, error) {
	var out api.DaemonStatus
	err := c.do(ctx, http.MethodGet, "/status", nil, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, dst any) error {
	if c == nil {
		return ErrUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if IsUnavailable(err) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var payload api.ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &payload) != nil || payload.Error == "" {
			payload.Error = strings.TrimSpace(string(raw))
		}
		return &StatusError{Code: resp.StatusCode, Message: payload.Error}
	}
	if dst == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsUnavailable reports whether err means the daemon could not be reached.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// IsNotFound reports a 404 from the daemon.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound
}
