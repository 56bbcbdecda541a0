package tracker

import (
	"testing"
	"time"
)

func TestDefaultRetryPolicySchedule(t *testing.T) {
	p := DefaultRetryPolicy()
	err := NewError(KindNetwork, "", nil)

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for attempt, w := range want {
		got, ok := p.Next(err, attempt, 10)
		if !ok {
			t.Fatalf("attempt %d: retry refused", attempt)
		}
		if got != w {
			t.Errorf("attempt %d: delay = %v, want %v", attempt, got, w)
		}
	}
}

func TestRetryPolicyStopsAtMaxAttempts(t *testing.T) {
	p := DefaultRetryPolicy()
	err := NewError(KindTimeout, "", nil)

	if _, ok := p.Next(err, 2, 3); !ok {
		t.Error("attempt 2 of 3 should retry")
	}
	if _, ok := p.Next(err, 3, 3); ok {
		t.Error("attempt 3 of 3 should not retry")
	}
	if _, ok := p.Next(err, 0, 0); ok {
		t.Error("zero max attempts should never retry")
	}
}

func TestRetryPolicyNonRetryableKinds(t *testing.T) {
	p := DefaultRetryPolicy()
	for _, kind := range []ErrorKind{KindValidation, KindGeneric, KindAborted} {
		if _, ok := p.Next(NewError(kind, "", nil), 0, 3); ok {
			t.Errorf("%s should not be retried", kind)
		}
	}
	if _, ok := p.Next(nil, 0, 3); ok {
		t.Error("nil error should not be retried")
	}
}

func TestRetryPolicyPerKindCurve(t *testing.T) {
	p, err := NewKindRetryPolicy(DefaultBackoffConfig(), map[ErrorKind]BackoffConfig{
		KindRateLimit: {BaseDelay: 5 * time.Second, MaxDelay: 30 * time.Second},
	})
	if err != nil {
		t.Fatalf("NewKindRetryPolicy() error: %v", err)
	}

	if d, _ := p.Next(NewError(KindRateLimit, "", nil), 1, 3); d != 10*time.Second {
		t.Errorf("rate limit delay = %v, want 10s", d)
	}
	if d, _ := p.Next(NewError(KindNetwork, "", nil), 1, 3); d != 2*time.Second {
		t.Errorf("network delay = %v, want 2s", d)
	}
}

func TestRetryPolicyHonorsRetryAfter(t *testing.T) {
	p := DefaultRetryPolicy()

	err := NewError(KindRateLimit, "", nil)
	err.RetryAfter = 7 * time.Second
	if d, _ := p.Next(err, 0, 3); d != 7*time.Second {
		t.Errorf("delay = %v, want Retry-After 7s", d)
	}

	err.RetryAfter = time.Minute
	if d, _ := p.Next(err, 0, 3); d != 10*time.Second {
		t.Errorf("delay = %v, want capped 10s", d)
	}

	err.RetryAfter = 500 * time.Millisecond
	if d, _ := p.Next(err, 2, 3); d != 4*time.Second {
		t.Errorf("delay = %v, shorter Retry-After must not shrink backoff", d)
	}
}

func TestNewKindRetryPolicyRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  BackoffConfig
	}{
		{"zero base", BackoffConfig{MaxDelay: time.Second}},
		{"max below base", BackoffConfig{BaseDelay: 2 * time.Second, MaxDelay: time.Second}},
		{"jitter out of range", BackoffConfig{BaseDelay: time.Second, MaxDelay: 2 * time.Second, Jitter: 1.5}},
		{"unknown strategy", BackoffConfig{BaseDelay: time.Second, MaxDelay: 2 * time.Second, Strategy: "linear"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewKindRetryPolicy(tt.cfg, nil); err == nil {
				t.Error("expected error for default curve")
			}
			if _, err := NewKindRetryPolicy(DefaultBackoffConfig(), map[ErrorKind]BackoffConfig{KindTimeout: tt.cfg}); err == nil {
				t.Error("expected error for per-kind curve")
			}
		})
	}
}
