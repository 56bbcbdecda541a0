package tracker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewCircuitBreakerDefaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{}, nil)

	if cb.config.FailureThreshold != 5 {
		t.Errorf("Expected default FailureThreshold=5, got %d", cb.config.FailureThreshold)
	}
	if cb.config.RecoveryTimeout != 60*time.Second {
		t.Errorf("Expected default RecoveryTimeout=60s, got %v", cb.config.RecoveryTimeout)
	}
	if cb.config.SuccessThreshold != 2 {
		t.Errorf("Expected default SuccessThreshold=2, got %d", cb.config.SuccessThreshold)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected initial state=closed, got %v", cb.State())
	}
}

func TestCircuitBreakerLifecycle(t *testing.T) {
	clock := newManualClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
	}, clock)

	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v after one failure, want closed", cb.State())
	}
	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("state = %v after threshold, want open", cb.State())
	}
	if cb.Allow() {
		t.Error("open circuit should reject")
	}

	clock.Advance(30 * time.Second)
	if !cb.Allow() {
		t.Fatal("circuit should admit a probe after recovery timeout")
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State())
	}

	cb.RecordSuccess()
	if cb.State() != StateHalfOpen {
		t.Errorf("one probe success should stay half-open, got %v", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := newManualClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Second}, clock)

	cb.RecordFailure()
	clock.Advance(time.Second)
	cb.Allow()
	cb.RecordFailure()

	if cb.State() != StateOpen {
		t.Errorf("state = %v, want open", cb.State())
	}
	if cb.Allow() {
		t.Error("reopened circuit should reject until the next recovery timeout")
	}
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2}, newManualClock())

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Errorf("non-consecutive failures opened the circuit")
	}
}

func TestCircuitBreakerRecordClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", NewError(KindNetwork, "", nil), true},
		{"timeout", NewError(KindTimeout, "", nil), true},
		{"5xx", &NormalizedError{Kind: KindAPIUnavailable, StatusCode: 503}, true},
		{"404", &NormalizedError{Kind: KindAPIUnavailable, StatusCode: 404}, false},
		{"rate limit", NewError(KindRateLimit, "", nil), false},
		{"aborted", NewError(KindAborted, "", nil), false},
		{"validation", NewError(KindValidation, "", nil), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1}, newManualClock())
			cb.Record(tt.err)
			if got := cb.State() == StateOpen; got != tt.want {
				t.Errorf("opened = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCircuitBreakerNil(t *testing.T) {
	var cb *CircuitBreaker
	if !cb.Allow() {
		t.Error("nil breaker should allow")
	}
	cb.Record(NewError(KindNetwork, "", nil))
	if cb.State() != StateClosed {
		t.Error("nil breaker should report closed")
	}
}

func TestHTTPClientCircuitBreaker(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	registry := prometheus.NewRegistry()
	metrics := NewMetricsCollectorWithRegistry(registry)
	clock := newManualClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute}, clock)
	client := NewHTTPClient(WithBaseURL(server.URL), WithCircuitBreaker(cb), WithClientMetrics(metrics))

	for i := 0; i < 2; i++ {
		if _, err := client.Get(context.Background(), "/covid19", nil); KindOf(err) != KindAPIUnavailable {
			t.Fatalf("call %d: Kind = %s", i, KindOf(err))
		}
	}

	_, err := client.Get(context.Background(), "/covid19", nil)
	ne, ok := err.(*NormalizedError)
	if !ok || ne.Kind != KindAPIUnavailable {
		t.Fatalf("open circuit error = %v", err)
	}
	if v, _ := ne.Detail("circuit"); v != "open" {
		t.Errorf("details.circuit = %v, want open", v)
	}
	if calls.Load() != 2 {
		t.Errorf("server calls = %d, want 2", calls.Load())
	}
	if got := testutil.ToFloat64(metrics.circuitBreakerState.WithLabelValues("api")); got != float64(StateOpen) {
		t.Errorf("circuit gauge = %v, want %v", got, float64(StateOpen))
	}

	clock.Advance(time.Minute)
	client.Get(context.Background(), "/covid19", nil)
	if calls.Load() != 3 {
		t.Errorf("probe should reach the server, calls = %d", calls.Load())
	}
	if cb.State() != StateOpen {
		t.Errorf("failed probe should reopen, state = %v", cb.State())
	}
}
