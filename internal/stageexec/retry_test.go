package stageexec

import (
	"testing"
	"time"

	"comicforge/internal/config"
)

func TestAttempts(t *testing.T) {
	cases := map[int]int{-1: 1, 0: 1, 1: 1, 3: 3, 7: 7}
	for max, want := range cases {
		if got := (RetryPolicy{MaxAttempts: max}).Attempts(); got != want {
			t.Fatalf("Attempts(%d) = %d, want %d", max, got, want)
		}
	}
}

func TestBackoffGrowsAndClamps(t *testing.T) {
	p := RetryPolicy{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second, Factor: 2}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := p.Backoff(i+1, nil); got != w {
			t.Fatalf("Backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	p := RetryPolicy{InitialBackoff: time.Second, MaxBackoff: 10 * time.Second, Factor: 2, Jitter: 0.2}
	low := p.Backoff(1, func() float64 { return 0 })
	high := p.Backoff(1, func() float64 { return 0.999999 })
	if low < 799*time.Millisecond || low > 801*time.Millisecond {
		t.Fatalf("expected lower bound 800ms, got %s", low)
	}
	if high < 1199*time.Millisecond || high > 1200*time.Millisecond {
		t.Fatalf("expected upper bound near 1200ms, got %s", high)
	}
	if got := p.Backoff(10, func() float64 { return 0.999999 }); got != 10*time.Second {
		t.Fatalf("expected jittered delay clamped to max, got %s", got)
	}
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := config.Default()
	p := PolicyFromConfig(&cfg)
	if p != DefaultRetryPolicy() {
		t.Fatalf("expected defaults to match, got %+v", p)
	}
}
