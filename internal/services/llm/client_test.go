package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"comicforge/internal/config"
	"comicforge/internal/services"
)

type beatSheet struct {
	Title string   `json:"title"`
	Beats []string `json:"beats"`
}

func completionServer(t *testing.T, choice map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{"choices": []any{choice}}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClientHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("unexpected auth header %q", got)
		}
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": `{"ok":true}`,
					},
				},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientHealthCheckFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "bad", BaseURL: server.URL, Model: "demo"})
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check to fail")
	}
}

func TestCompleteIntoCodeFence(t *testing.T) {
	server := completionServer(t, map[string]any{
		"message": map[string]any{
			"content": "```json\n{\"title\":\"Storm Keeper\",\"beats\":[\"arrival\",\"storm\"]}\n```",
		},
	})
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})

	var sheet beatSheet
	raw, err := client.CompleteInto(context.Background(), "system", "user", &sheet)
	if err != nil {
		t.Fatalf("CompleteInto returned error: %v", err)
	}
	if sheet.Title != "Storm Keeper" || len(sheet.Beats) != 2 {
		t.Fatalf("unexpected decode: %+v", sheet)
	}
	if !strings.Contains(raw, "```") {
		t.Fatalf("expected raw payload to retain code fence, got %q", raw)
	}
}

func TestCompleteIntoToolCallsArguments(t *testing.T) {
	server := completionServer(t, map[string]any{
		"finish_reason": "tool_calls",
		"message": map[string]any{
			"content": "",
			"tool_calls": []any{
				map[string]any{
					"type": "function",
					"id":   "call_1",
					"function": map[string]any{
						"name":      "write_beats",
						"arguments": `{"title":"Tidewatch","beats":["calm"]}`,
					},
				},
			},
		},
	})
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})

	var sheet beatSheet
	if _, err := client.CompleteInto(context.Background(), "system", "user", &sheet); err != nil {
		t.Fatalf("CompleteInto returned error: %v", err)
	}
	if sheet.Title != "Tidewatch" {
		t.Fatalf("expected title from tool call, got %q", sheet.Title)
	}
}

func TestCompleteIntoDeltaAndLegacyText(t *testing.T) {
	for name, choice := range map[string]map[string]any{
		"delta":  {"delta": map[string]any{"content": `{"title":"Delta"}`}},
		"legacy": {"finish_reason": "stop", "text": `{"title":"Legacy"}`},
	} {
		t.Run(name, func(t *testing.T) {
			server := completionServer(t, choice)
			client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
			var sheet beatSheet
			if _, err := client.CompleteInto(context.Background(), "system", "user", &sheet); err != nil {
				t.Fatalf("CompleteInto returned error: %v", err)
			}
			if sheet.Title == "" {
				t.Fatal("expected title to decode")
			}
		})
	}
}

func TestCompleteIntoMalformedJSONIsFatal(t *testing.T) {
	server := completionServer(t, map[string]any{
		"message": map[string]any{"content": "sorry, I cannot produce JSON today"},
	})
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})

	var sheet beatSheet
	_, err := client.CompleteInto(context.Background(), "system", "user", &sheet)
	if !errors.Is(err, services.ErrFatal) {
		t.Fatalf("expected fatal decode error, got %v", err)
	}
	if services.IsRetryable(err) {
		t.Fatalf("malformed output must not be retryable: %v", err)
	}
}

func TestEmptyContentHasSnippetAndIsFatal(t *testing.T) {
	server := completionServer(t, map[string]any{
		"finish_reason": "stop",
		"message":       map[string]any{"content": ""},
	})
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	_, err := client.CompleteJSON(context.Background(), "system", "user")
	if err == nil {
		t.Fatal("expected completion to fail")
	}
	if !strings.Contains(err.Error(), "empty content") || !strings.Contains(err.Error(), "response_snippet=") {
		t.Fatalf("expected empty-content error to include snippet, got %v", err)
	}
	if !errors.Is(err, services.ErrFatal) || services.IsRetryable(err) {
		t.Fatalf("expected empty content to be fatal, got %v", err)
	}
}

func TestUndecodableResponseBodyIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>gateway page</html>"))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	_, err := client.CompleteJSON(context.Background(), "system", "user")
	if !errors.Is(err, services.ErrFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestConfiguredClientSendsOnce(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Pipeline.MaxAttempts = 0
	cfg.LLM.APIKey = "test"
	cfg.LLM.BaseURL = server.URL
	client := NewClient(ConfigFrom(&cfg))

	_, err := client.CompleteJSON(context.Background(), "system", "user")
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error for 503, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single upstream call, got %d", calls)
	}
}

func TestClientRetriesOnHTTP429(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limited"})
			return
		}
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": `{"title":"Second"}`,
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
		WithRetryBackoff(0, 10*time.Second),
		WithRetryMaxAttempts(5),
	)
	var sheet beatSheet
	if _, err := client.CompleteInto(context.Background(), "system", "user", &sheet); err != nil {
		t.Fatalf("CompleteInto returned error: %v", err)
	}
	if sheet.Title != "Second" {
		t.Fatalf("expected title Second, got %q", sheet.Title)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("expected single sleep of 1s, got %v", slept)
	}
}

func TestClientRetriesOnEmptyContentThenSucceeds(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		content := ""
		if calls >= 3 {
			content = `{"title":"Third"}`
		}
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"finish_reason": "stop",
					"message": map[string]any{
						"content": content,
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryBackoff(0, 0),
		WithSleeper(func(time.Duration) {}),
		WithRetryMaxAttempts(5),
	)
	var sheet beatSheet
	if _, err := client.CompleteInto(context.Background(), "system", "user", &sheet); err != nil {
		t.Fatalf("CompleteInto returned error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestClientErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		marker error
	}{
		{http.StatusBadRequest, services.ErrExternalTool},
		{http.StatusUnauthorized, services.ErrExternalTool},
		{http.StatusBadGateway, services.ErrTransient},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		client := NewClient(
			Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
			WithRetryMaxAttempts(1),
		)
		_, err := client.CompleteJSON(context.Background(), "system", "user")
		server.Close()
		if !errors.Is(err, tc.marker) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.marker, err)
		}
	}
}

func TestCompleteJSONRequiresAPIKey(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1", Model: "demo"})
	_, err := client.CompleteJSON(context.Background(), "system", "user")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestDecodeLLMJSONExtractsEmbeddedObject(t *testing.T) {
	var sheet beatSheet
	if err := DecodeLLMJSON("Here you go: {\"title\":\"Inline\"} enjoy", &sheet); err != nil {
		t.Fatalf("DecodeLLMJSON: %v", err)
	}
	if sheet.Title != "Inline" {
		t.Fatalf("unexpected title %q", sheet.Title)
	}
}

func TestRetryBackoffDoublesAndCaps(t *testing.T) {
	p := retryPolicy{base: time.Second, max: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, expected := range want {
		if got := p.backoff(i + 1); got != expected {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, expected, got)
		}
	}
	if got := (retryPolicy{}).backoff(3); got != 0 {
		t.Fatalf("zero base should not wait, got %s", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("3"); got != 3*time.Second {
		t.Fatalf("expected 3s, got %s", got)
	}
	if got := parseRetryAfter("-4"); got != 0 {
		t.Fatalf("negative seconds should clamp to zero, got %s", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Fatalf("unparseable value should be zero, got %s", got)
	}
	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= 0 || got > time.Hour {
		t.Fatalf("unexpected delay for http date: %s", got)
	}
}
