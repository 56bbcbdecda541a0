package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func seedEnvelope(t *testing.T, store *SafeStore, key string, value any, at time.Time) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"value": value, "timestamp": at.UnixMilli()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !store.Set(key, raw) {
		t.Fatal("seed write failed")
	}
}

func newDurableFixture() (*manualClock, *Fetcher, *SafeStore) {
	clock := newManualClock()
	f := newTestFetcher(clock, &sleepRecorder{})
	store := NewSafeStore(NewMemoryStore(), "covid-tracker-cache", nil)
	return clock, f, store
}

func TestDurableFreshEntryNoNetwork(t *testing.T) {
	clock, f, store := newDurableFixture()
	seedEnvelope(t, store, "summary", "stored", clock.Now().Add(-time.Minute))

	var calls int32
	d := NewDurableQuery(f, store, DurableOptions[string]{
		Key:   "summary",
		TTL:   5 * time.Minute,
		Fetch: func(context.Context) (string, error) { atomic.AddInt32(&calls, 1); return "net", nil },
	})
	defer d.Close()

	v, err := d.Fetch(context.Background())
	if err != nil || v != "stored" {
		t.Fatalf("Fetch() = %q, %v", v, err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("fresh entry triggered a network call")
	}
	if st := d.State(); st.Data != "stored" || !st.HasData {
		t.Errorf("state = %+v", st)
	}
}

func TestDurableColdStartPersists(t *testing.T) {
	clock, f, store := newDurableFixture()

	d := NewDurableQuery(f, store, DurableOptions[string]{
		Key:   "summary",
		Fetch: func(context.Context) (string, error) { return "net", nil },
	})
	defer d.Close()

	v, err := d.Fetch(context.Background())
	if err != nil || v != "net" {
		t.Fatalf("Fetch() = %q, %v", v, err)
	}

	raw, ok := store.Get("summary")
	if !ok {
		t.Fatal("result not persisted")
	}
	var env struct {
		Value     string `json:"value"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("stored entry not an envelope: %v", err)
	}
	if env.Value != "net" || env.Timestamp != clock.Now().UnixMilli() {
		t.Errorf("envelope = %+v", env)
	}
	if _, ok := store.kv.(*MemoryStore).m["covid-tracker-cache:summary"]; !ok {
		t.Error("key not namespaced with prefix")
	}
}

func TestDurableStaleWhileRevalidateSuccess(t *testing.T) {
	clock, f, store := newDurableFixture()
	seedEnvelope(t, store, "summary", "stale", clock.Now().Add(-10*time.Minute))

	release := make(chan struct{})
	d := NewDurableQuery(f, store, DurableOptions[string]{
		Key: "summary",
		Fetch: func(context.Context) (string, error) {
			<-release
			return "fresh", nil
		},
	})
	defer d.Close()

	v, err := d.Fetch(context.Background())
	if err != nil || v != "stale" {
		t.Fatalf("Fetch() = %q, %v; want stale value immediately", v, err)
	}
	if st := d.State(); st.Data != "stale" || !st.Revalidating {
		t.Errorf("state during revalidation = %+v", st)
	}

	close(release)
	d.Wait()

	st := d.State()
	if st.Data != "fresh" || st.Revalidating || st.RevalidateError != nil {
		t.Errorf("state after revalidation = %+v", st)
	}
	var env struct{ Value string }
	if !store.GetJSON("summary", &env) || env.Value != "fresh" {
		t.Errorf("durable entry not refreshed: %+v", env)
	}
}

func TestDurableStaleWhileRevalidateFailureKeepsData(t *testing.T) {
	clock, f, store := newDurableFixture()
	seedEnvelope(t, store, "summary", "stale", clock.Now().Add(-10*time.Minute))

	var reported int32
	d := NewDurableQuery(f, store, DurableOptions[string]{
		Key:         "summary",
		MaxAttempts: NoRetries,
		Fetch: func(context.Context) (string, error) {
			return "", NewError(KindNetwork, "", nil)
		},
		OnRevalidateError: func(*NormalizedError) { atomic.AddInt32(&reported, 1) },
	})
	defer d.Close()

	v, err := d.Fetch(context.Background())
	if err != nil {
		t.Fatalf("background failure leaked to caller: %v", err)
	}
	if v != "stale" {
		t.Errorf("Fetch() = %q, want stale", v)
	}
	d.Wait()

	st := d.State()
	if st.Data != "stale" || !st.HasData {
		t.Errorf("data blanked after failed revalidation: %+v", st)
	}
	if st.RevalidateError == nil || st.RevalidateError.Kind != KindNetwork {
		t.Errorf("RevalidateError = %v", st.RevalidateError)
	}
	if st.Error != nil {
		t.Errorf("Error = %v, want nil", st.Error)
	}
	if atomic.LoadInt32(&reported) != 1 {
		t.Error("OnRevalidateError not called once")
	}

	var env struct{ Value string }
	if !store.GetJSON("summary", &env) || env.Value != "stale" {
		t.Error("stale entry removed after failed revalidation")
	}
}

func TestDurableSingleRevalidationPerKey(t *testing.T) {
	clock, f, store := newDurableFixture()
	seedEnvelope(t, store, "summary", "stale", clock.Now().Add(-10*time.Minute))

	var calls int32
	release := make(chan struct{})
	d := NewDurableQuery(f, store, DurableOptions[string]{
		Key: "summary",
		Fetch: func(context.Context) (string, error) {
			atomic.AddInt32(&calls, 1)
			<-release
			return "fresh", nil
		},
	})
	defer d.Close()

	for i := 0; i < 5; i++ {
		if v, _ := d.Fetch(context.Background()); v != "stale" {
			t.Errorf("Fetch() = %q, want stale", v)
		}
	}
	close(release)
	d.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("revalidations = %d, want 1", got)
	}
}

func TestDurableExpiredWithoutSWRBlocks(t *testing.T) {
	clock, f, store := newDurableFixture()
	seedEnvelope(t, store, "summary", "stale", clock.Now().Add(-10*time.Minute))

	d := NewDurableQuery(f, store, DurableOptions[string]{
		Key:                    "summary",
		NoStaleWhileRevalidate: true,
		Fetch:                  func(context.Context) (string, error) { return "fresh", nil },
	})
	defer d.Close()

	v, err := d.Fetch(context.Background())
	if err != nil || v != "fresh" {
		t.Fatalf("Fetch() = %q, %v; want blocking fresh value", v, err)
	}
}

func TestDurableColdFailureKeepsStaleAndReturnsError(t *testing.T) {
	clock, f, store := newDurableFixture()
	seedEnvelope(t, store, "summary", "stale", clock.Now().Add(-10*time.Minute))

	d := NewDurableQuery(f, store, DurableOptions[string]{
		Key:                    "summary",
		NoStaleWhileRevalidate: true,
		Fetch: func(context.Context) (string, error) {
			return "", NewError(KindValidation, "bad", nil)
		},
	})
	defer d.Close()

	_, err := d.Fetch(context.Background())
	if KindOf(err) != KindValidation {
		t.Fatalf("Fetch() error = %v, want VALIDATION", err)
	}
	st := d.State()
	if st.Data != "stale" || st.Error == nil || st.Loading {
		t.Errorf("state = %+v", st)
	}
}

func TestDurableRefreshForcesFetch(t *testing.T) {
	clock, f, store := newDurableFixture()
	seedEnvelope(t, store, "summary", "stored", clock.Now())

	d := NewDurableQuery(f, store, DurableOptions[string]{
		Key:   "summary",
		Fetch: func(context.Context) (string, error) { return "forced", nil },
	})
	defer d.Close()

	v, err := d.Refresh(context.Background())
	if err != nil || v != "forced" {
		t.Fatalf("Refresh() = %q, %v", v, err)
	}
	if d.State().Data != "forced" {
		t.Errorf("state not updated: %+v", d.State())
	}
}

func TestDurableInvalidate(t *testing.T) {
	clock, f, store := newDurableFixture()
	seedEnvelope(t, store, "summary", "stored", clock.Now())

	d := NewDurableQuery(f, store, DurableOptions[string]{
		Key:   "summary",
		Fetch: func(context.Context) (string, error) { return "net", nil },
	})
	defer d.Close()

	_, _ = d.Fetch(context.Background())
	d.Invalidate()

	if _, ok := store.Get("summary"); ok {
		t.Error("durable entry still present")
	}
	if st := d.State(); st.HasData || st.Data != "" {
		t.Errorf("data not cleared: %+v", st)
	}
}

func TestDurableIsStale(t *testing.T) {
	clock, f, store := newDurableFixture()
	d := NewDurableQuery(f, store, DurableOptions[string]{
		Key:   "summary",
		TTL:   time.Minute,
		Fetch: func(context.Context) (string, error) { return "v", nil },
	})
	defer d.Close()

	if d.IsStale() {
		t.Error("empty query should not be stale")
	}
	_, _ = d.Fetch(context.Background())
	clock.Advance(2 * time.Minute)
	if !d.IsStale() {
		t.Error("should be stale after TTL")
	}
}

type failingKV struct{}

func (failingKV) Get(string) ([]byte, error) { return nil, errors.New("disk gone") }
func (failingKV) Set(string, []byte) error   { return errors.New("disk gone") }
func (failingKV) Remove(string) error        { return errors.New("disk gone") }

func TestDurableSurvivesStorageFailure(t *testing.T) {
	_, f, _ := newDurableFixture()
	store := NewSafeStore(failingKV{}, "p", nil)

	d := NewDurableQuery(f, store, DurableOptions[string]{
		Key:   "summary",
		Fetch: func(context.Context) (string, error) { return "net", nil },
	})
	defer d.Close()

	v, err := d.Fetch(context.Background())
	if err != nil || v != "net" {
		t.Fatalf("Fetch() with broken storage = %q, %v", v, err)
	}
}
