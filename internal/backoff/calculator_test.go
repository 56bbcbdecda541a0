package backoff

import (
	"testing"
	"time"
)

func TestCalculatorSchedule(t *testing.T) {
	calc := NewCalculator(nil, DefaultParams())

	got := calc.Schedule(6)
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 10 * time.Second, 10 * time.Second,
	}
	if len(got) != len(want) {
		t.Fatalf("Schedule(6) len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Schedule[%d] = %v, want %v", i, got[i], want[i])
		}
		if i > 0 && got[i] < got[i-1] {
			t.Errorf("Schedule decreased at %d: %v < %v", i, got[i], got[i-1])
		}
	}
}

func TestCalculatorDefaultsToExponential(t *testing.T) {
	calc := NewCalculator(nil, DefaultParams())
	if _, ok := calc.Strategy().(Exponential); !ok {
		t.Errorf("Strategy() = %T, want Exponential", calc.Strategy())
	}
	if calc.Params() != DefaultParams() {
		t.Errorf("Params() = %+v, want %+v", calc.Params(), DefaultParams())
	}
}
