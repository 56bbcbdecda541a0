package tracker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// advancingSleeper moves a manual clock forward instead of sleeping.
type advancingSleeper struct {
	clock *manualClock
	slept []time.Duration
}

func (s *advancingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.slept = append(s.slept, d)
	s.clock.Advance(d)
	return nil
}

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(10, time.Second, newManualClock())

	if rl.maxTokens != 10 {
		t.Errorf("Expected maxTokens=10, got %d", rl.maxTokens)
	}
	if rl.Tokens() != 10 {
		t.Errorf("Expected initial tokens=10, got %d", rl.Tokens())
	}
	if rl.refillRate != time.Second {
		t.Errorf("Expected refillRate=1s, got %v", rl.refillRate)
	}
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(3, time.Second, newManualClock())

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Errorf("Expected true for request %d", i+1)
		}
	}
	if rl.Allow() {
		t.Error("Expected false for 4th request")
	}
}

func TestRateLimiterRefill(t *testing.T) {
	clock := newManualClock()
	rl := NewRateLimiter(2, time.Second, clock)
	rl.Allow()
	rl.Allow()

	clock.Advance(500 * time.Millisecond)
	if rl.Allow() {
		t.Error("Expected no token after half a refill period")
	}

	clock.Advance(500 * time.Millisecond)
	if !rl.Allow() {
		t.Error("Expected a token after one refill period")
	}

	clock.Advance(time.Hour)
	if got := rl.Tokens(); got != 2 {
		t.Errorf("Tokens() = %d, want capped at 2", got)
	}
}

func TestRateLimiterWait(t *testing.T) {
	clock := newManualClock()
	sleeper := &advancingSleeper{clock: clock}
	rl := NewRateLimiter(1, 200*time.Millisecond, clock)
	rl.sleep = sleeper.Sleep

	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	clock.Advance(50 * time.Millisecond)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if len(sleeper.slept) != 1 || sleeper.slept[0] != 150*time.Millisecond {
		t.Errorf("slept = %v, want [150ms]", sleeper.slept)
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour, newManualClock())
	rl.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() = %v, want context.Canceled", err)
	}
}

func TestRateLimiterNil(t *testing.T) {
	var rl *RateLimiter
	if !rl.Allow() {
		t.Error("nil limiter should allow")
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Errorf("nil limiter Wait() = %v", err)
	}
}

func TestRateLimiterConcurrency(t *testing.T) {
	rl := NewRateLimiter(100, time.Hour, newManualClock())

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow() {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 100 {
		t.Errorf("allowed = %d, want 100", allowed)
	}
}

func TestHTTPClientRateLimiterAbortsWhileWaiting(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	registry := prometheus.NewRegistry()
	metrics := NewMetricsCollectorWithRegistry(registry)
	rl := NewRateLimiter(1, time.Hour, newManualClock())
	client := NewHTTPClient(WithBaseURL(server.URL), WithRateLimiter(rl), WithClientMetrics(metrics))

	if _, err := client.Get(context.Background(), "/covid19", nil); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Get(ctx, "/covid19", nil)
	if KindOf(err) != KindTimeout {
		t.Errorf("Kind = %s, want TIMEOUT", KindOf(err))
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
	if got := testutil.ToFloat64(metrics.rateLimiterTokens.WithLabelValues("api")); got != 0 {
		t.Errorf("rate limiter tokens gauge = %v, want 0", got)
	}
}
