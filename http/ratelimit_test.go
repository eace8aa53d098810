package http

import (
	"context"
	"testing"
	"time"
)

func TestHostOf(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://pipedapi.kavin.rocks/streams/abc", "pipedapi.kavin.rocks"},
		{"http://127.0.0.1:8080/x", "127.0.0.1"},
		{"not a url", "unknown"},
		{"://bad", "unknown"},
	}
	for _, tt := range tests {
		if got := hostOf(tt.in); got != tt.want {
			t.Errorf("hostOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRateLimiterWait(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{DefaultRPS: 20})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := rl.Wait(ctx, "https://example.com/a"); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	// burst of 1 at 20 rps: two waits of ~50ms
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("3 requests took %v, want >= 80ms", elapsed)
	}
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := rl.Wait(ctx, "https://example.com/a"); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("unlimited Wait() took %v", elapsed)
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{DefaultRPS: 0.1})
	ctx, cancel := context.WithCancel(context.Background())

	if err := rl.Wait(ctx, "https://example.com"); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := rl.Wait(ctx, "https://example.com"); err == nil {
		t.Error("Wait() with cancelled context = nil, want error")
	}
}

func TestRateLimiterBackoffProgression(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	u := "https://example.com/api"

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := rl.RecordRateLimitError(u, 0); got != w {
			t.Errorf("RecordRateLimitError() #%d = %v, want %v", i+1, got, w)
		}
	}

	if got := rl.RecordRateLimitError(u, 30*time.Second); got != 30*time.Second {
		t.Errorf("RecordRateLimitError() with Retry-After = %v, want 30s", got)
	}

	st := rl.Backoff(u)
	if st == nil {
		t.Fatal("Backoff() = nil")
	}
	if st.ReducedRPS != DefaultRPS*MinRPSMultiplier {
		t.Errorf("ReducedRPS = %v, want %v", st.ReducedRPS, DefaultRPS*MinRPSMultiplier)
	}
	if st.ConsecutiveErrors != 4 {
		t.Errorf("ConsecutiveErrors = %d, want 4", st.ConsecutiveErrors)
	}
}

func TestRateLimiterRecovery(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	u := "https://example.com/api"

	rl.RecordRateLimitError(u, 0)
	rl.RecordSuccess(u)

	st := rl.Backoff(u)
	if st == nil {
		t.Fatal("Backoff() = nil before cooldown")
	}
	if st.ConsecutiveErrors != 0 {
		t.Errorf("ConsecutiveErrors = %d, want 0", st.ConsecutiveErrors)
	}
	if st.ReducedRPS != DefaultRPS*0.75 {
		t.Errorf("ReducedRPS = %v, want %v", st.ReducedRPS, DefaultRPS*0.75)
	}
}

func TestRateLimiterDynamicBackoffDisabled(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{DefaultRPS: 1})
	if got := rl.RecordRateLimitError("https://example.com", 0); got != InitialBackoff {
		t.Errorf("RecordRateLimitError() = %v, want %v", got, InitialBackoff)
	}
	if got := rl.RecordRateLimitError("https://example.com", 5*time.Second); got != 5*time.Second {
		t.Errorf("RecordRateLimitError() = %v, want 5s", got)
	}
	if st := rl.Backoff("https://example.com"); st != nil {
		t.Errorf("Backoff() = %+v, want nil", st)
	}
}


func TestCustomRateOverridesDefault(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		DefaultRPS:  1,
		CustomRates: map[string]float64{"fast.example.com": 0},
	})

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := rl.Wait(context.Background(), "https://fast.example.com/x"); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("custom unlimited host waited %v", elapsed)
	}
}
