package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"comicforge/internal/config"
	"comicforge/internal/services/imagegen"
	"comicforge/internal/services/llm"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "comicforge.db")

	if result := CheckDatabase(context.Background(), path); !result.Passed || !strings.Contains(result.Detail, "created on first start") {
		t.Fatalf("expected pass for missing database, got %+v", result)
	}
	if result := CheckDatabase(context.Background(), filepath.Join(dir, "missing", "x.db")); result.Passed {
		t.Fatal("expected failure when the directory is missing")
	}
}

func TestCheckLLM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"ok\":true}"}}]}`))
	}))
	defer srv.Close()

	good := CheckLLM(context.Background(), "llm", llm.Config{APIKey: "good-key", BaseURL: srv.URL, Model: "m"})
	if !good.Passed {
		t.Fatalf("expected pass, got: %s", good.Detail)
	}
	bad := CheckLLM(context.Background(), "llm", llm.Config{APIKey: "bad-key", BaseURL: srv.URL, Model: "m"})
	if bad.Passed {
		t.Fatal("expected failure for bad key")
	}
	missing := CheckLLM(context.Background(), "llm", llm.Config{})
	if missing.Passed || missing.Detail != "API key missing" {
		t.Fatalf("unexpected result for missing key: %+v", missing)
	}
}

func TestCheckImageAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	ok := CheckImageAPI(context.Background(), "images", imagegen.Config{APIKey: "k", BaseURL: srv.URL + "/v1/images/generations", Model: "img"})
	if !ok.Passed {
		t.Fatalf("expected pass, got: %s", ok.Detail)
	}
	missing := CheckImageAPI(context.Background(), "images", imagegen.Config{BaseURL: srv.URL})
	if missing.Passed {
		t.Fatal("expected failure without api key")
	}
}

func TestCheckEndpoint_InvalidURL(t *testing.T) {
	if result := CheckEndpoint(context.Background(), "x", "not a url"); result.Passed {
		t.Fatal("expected failure for invalid url")
	}
}

func TestCheckNotifications(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	if result := CheckNotifications(&cfg); !result.Passed || result.Detail != "Disabled" {
		t.Fatalf("unexpected result %+v", result)
	}
	cfg.Notifications.NtfyTopic = "https://ntfy.sh/comics"
	if result := CheckNotifications(&cfg); !result.Passed || result.Detail != "ntfy via ntfy.sh" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_ReportsMissingKeys(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.LLM.APIKey = ""
	cfg.Images.APIKey = ""
	cfg.Notifications.NtfyTopic = ""

	results := RunAll(context.Background(), &cfg)
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
	failed := Failed(results)
	if len(failed) != 2 {
		t.Fatalf("expected the two API checks to fail, got %+v", failed)
	}
	for _, r := range failed {
		if !strings.Contains(r.Name, "API") {
			t.Errorf("unexpected failure %q: %s", r.Name, r.Detail)
		}
	}
}
