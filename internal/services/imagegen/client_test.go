package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"comicforge/internal/services"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-image"},
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
	)
}

func TestGenerateSendsRequestAndCaches(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var body generationRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Model != "demo-image" || body.Size != "800x1200" || body.N != 1 {
			t.Errorf("unexpected request body %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []any{map[string]any{"url": "https://img.example/1.png", "revised_prompt": "a lighthouse"}},
		})
	})

	req := Request{Prompt: "a lighthouse at dusk", Width: 800, Height: 1200}
	for range 2 {
		img, err := client.Generate(context.Background(), req)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if img.URL != "https://img.example/1.png" {
			t.Fatalf("unexpected url %q", img.URL)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected cached second call, got %d upstream calls", calls.Load())
	}
	if client.CachedCount() != 1 {
		t.Fatalf("expected one cached response, got %d", client.CachedCount())
	}

	if _, err := client.Generate(context.Background(), Request{Prompt: "a lighthouse at dusk", Width: 800, Height: 1200, ReferenceURLs: []string{"ref"}}); err != nil {
		t.Fatalf("Generate with reference: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected references to change the cache key, got %d calls", calls.Load())
	}
}

func TestGenerateCoalescesConcurrentRequests(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{map[string]any{"url": "https://img.example/shared.png"}}})
	})

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Generate(context.Background(), Request{Prompt: "same panel"})
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
	}
	if calls.Load() < 1 || calls.Load() > 4 {
		t.Fatalf("unexpected call count %d", calls.Load())
	}
	if client.CachedCount() != 1 {
		t.Fatalf("expected one cached response, got %d", client.CachedCount())
	}
}

func TestGenerateBase64Payload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{map[string]any{"b64_json": "aGVsbG8="}}})
	})
	img, err := client.Generate(context.Background(), Request{Prompt: "inline"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasPrefix(img.URL, "data:image/png;base64,") {
		t.Fatalf("expected data url, got %q", img.URL)
	}
}

func TestGenerateErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		marker error
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, services.ErrTransient},
		{"server error", http.StatusInternalServerError, "", services.ErrTransient},
		{"content policy", http.StatusBadRequest, `{"error":"rejected"}`, services.ErrExternalTool},
		{"no image", http.StatusOK, `{"data":[]}`, services.ErrFatal},
		{"malformed", http.StatusOK, `not json`, services.ErrFatal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := client.Generate(context.Background(), Request{Prompt: "panel"})
			if !errors.Is(err, tc.marker) {
				t.Fatalf("expected %v, got %v", tc.marker, err)
			}
			if client.CachedCount() != 0 {
				t.Fatal("failures must not be cached")
			}
		})
	}
}

func TestGenerateRequiresKeyAndPrompt(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	if _, err := client.Generate(context.Background(), Request{Prompt: "x"}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected health check configuration error, got %v", err)
	}
	client = NewClient(Config{APIKey: "k"})
	if _, err := client.Generate(context.Background(), Request{Prompt: "  "}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if client.Model() != defaultModel {
		t.Fatalf("expected default model, got %q", client.Model())
	}
}

func TestRequestSize(t *testing.T) {
	if got := (Request{}).Size(); got != "auto" {
		t.Fatalf("unexpected size %q", got)
	}
	if got := (Request{Width: 1024, Height: 1536}).Size(); got != "1024x1536" {
		t.Fatalf("unexpected size %q", got)
	}
}
