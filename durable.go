package tracker

import (
	"context"
	"sync"
	"time"
)

// DefaultDurableTTL is the freshness window for durable entries.
const DefaultDurableTTL = 5 * time.Minute

// DurableOptions configures a DurableQuery.
type DurableOptions[T any] struct {
	Key   string
	Fetch func(context.Context) (T, error)
	// TTL is the freshness window; zero uses DefaultDurableTTL.
	TTL time.Duration
	// NoStaleWhileRevalidate makes expired entries block on a fetch instead
	// of being served while a background refresh runs.
	NoStaleWhileRevalidate bool
	MaxAttempts            int
	Context                string

	OnStateChange     func(DurableState[T])
	OnRevalidateError func(*NormalizedError)
}

// DurableState is a snapshot of a DurableQuery.
type DurableState[T any] struct {
	Data    T
	HasData bool
	Loading bool
	// Revalidating is true while a background refresh runs.
	Revalidating bool
	// Error is the failure of the last blocking fetch.
	Error *NormalizedError
	// RevalidateError is the failure of the last background refresh. Data
	// is kept when it is set.
	RevalidateError *NormalizedError
	// UpdatedAt is when Data was fetched.
	UpdatedAt time.Time
}

// envelope is the stored form of a durable entry. Timestamp is unix
// milliseconds.
type envelope[T any] struct {
	Value     T     `json:"value"`
	Timestamp int64 `json:"timestamp"`
}

// DurableQuery serves one key from durable storage: fresh entries return
// without a network call, expired entries are served while a background
// refresh runs (unless disabled), and missing entries block on a fetch
// whose result is persisted before returning. It is safe for concurrent
// use.
type DurableQuery[T any] struct {
	fetcher *Fetcher
	store   *SafeStore
	clock   Clock
	opts    DurableOptions[T]

	life   context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state DurableState[T]
}

// NewDurableQuery binds a query to store. Nothing is read until Fetch.
func NewDurableQuery[T any](f *Fetcher, store *SafeStore, opts DurableOptions[T]) *DurableQuery[T] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultDurableTTL
	}
	life, cancel := context.WithCancel(context.Background())
	return &DurableQuery[T]{
		fetcher: f,
		store:   store,
		clock:   f.Clock(),
		opts:    opts,
		life:    life,
		cancel:  cancel,
	}
}

// Fetch returns the value for the bound key following the fresh, stale and
// cold paths. On a blocking failure any previously displayed value stays in
// State and the error is returned.
func (d *DurableQuery[T]) Fetch(ctx context.Context) (T, error) {
	env, ok := d.read()
	if ok {
		age := d.clock.Now().Sub(time.UnixMilli(env.Timestamp))
		if age <= d.opts.TTL {
			d.fetcher.metrics.RecordCacheHit("durable", d.opts.Key)
			d.set(func(st *DurableState[T]) {
				st.Data = env.Value
				st.HasData = true
				st.UpdatedAt = time.UnixMilli(env.Timestamp)
			})
			return env.Value, nil
		}

		if !d.opts.NoStaleWhileRevalidate {
			d.fetcher.metrics.RecordCacheHit("durable-stale", d.opts.Key)
			d.set(func(st *DurableState[T]) {
				st.Data = env.Value
				st.HasData = true
				st.UpdatedAt = time.UnixMilli(env.Timestamp)
			})
			d.revalidate(ctx)
			return env.Value, nil
		}

		// Expired and no SWR: keep showing the old value while blocking.
		d.set(func(st *DurableState[T]) {
			st.Data = env.Value
			st.HasData = true
			st.UpdatedAt = time.UnixMilli(env.Timestamp)
		})
	}
	d.fetcher.metrics.RecordCacheMiss("durable", d.opts.Key)
	return d.load(ctx)
}

// Refresh fetches and persists regardless of freshness.
func (d *DurableQuery[T]) Refresh(ctx context.Context) (T, error) {
	return d.load(ctx)
}

// Invalidate removes the durable entry and clears in-memory data.
func (d *DurableQuery[T]) Invalidate() {
	d.store.Remove(d.opts.Key)
	d.fetcher.Invalidate(d.opts.Key)
	d.set(func(st *DurableState[T]) {
		*st = DurableState[T]{Revalidating: st.Revalidating}
	})
}

// Wait blocks until a background refresh for this key, if any, finishes.
func (d *DurableQuery[T]) Wait() {
	_ = d.fetcher.revalidations.Wait(d.gateKey())
}

// Close cancels background work started by this query.
func (d *DurableQuery[T]) Close() {
	d.cancel()
}

// State returns the current snapshot.
func (d *DurableQuery[T]) State() DurableState[T] {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// IsStale reports whether the displayed data is older than the TTL.
func (d *DurableQuery[T]) IsStale() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.state.HasData {
		return false
	}
	return d.clock.Now().Sub(d.state.UpdatedAt) > d.opts.TTL
}

func (d *DurableQuery[T]) gateKey() string {
	return d.store.key(d.opts.Key)
}

func (d *DurableQuery[T]) read() (envelope[T], bool) {
	var env envelope[T]
	if !d.store.GetJSON(d.opts.Key, &env) {
		return env, false
	}
	return env, true
}

func (d *DurableQuery[T]) write(v T, at time.Time) {
	if !d.store.SetJSON(d.opts.Key, envelope[T]{Value: v, Timestamp: at.UnixMilli()}) {
		d.fetcher.logger.Warn("Durable entry not persisted", "key", d.opts.Key)
	}
}

func (d *DurableQuery[T]) load(ctx context.Context) (T, error) {
	var zero T
	d.set(func(st *DurableState[T]) {
		st.Loading = true
		st.Error = nil
	})

	v, err := Execute(ctx, d.fetcher, d.opts.Key, d.opts.Fetch, d.executeOptions())
	if err != nil {
		ne := Normalize(err, d.opts.Context)
		d.set(func(st *DurableState[T]) {
			st.Loading = false
			if ne.Kind != KindAborted {
				st.Error = ne
			}
		})
		return zero, ne
	}

	now := d.clock.Now()
	d.write(v, now)
	d.set(func(st *DurableState[T]) {
		st.Data = v
		st.HasData = true
		st.Loading = false
		st.Error = nil
		st.RevalidateError = nil
		st.UpdatedAt = now
	})
	return v, nil
}

// revalidate starts a background refresh unless one is already running
// for this key. Its lifetime is the query's, not the caller's.
func (d *DurableQuery[T]) revalidate(ctx context.Context) {
	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(d.life, cancel)

	d.set(func(st *DurableState[T]) { st.Revalidating = true })
	_, started := d.fetcher.revalidations.TryGo(d.gateKey(), func() error {
		defer cancel()
		defer stop()

		v, err := Execute(bctx, d.fetcher, d.opts.Key, d.opts.Fetch, d.executeOptions())
		if err != nil {
			ne := Normalize(err, d.opts.Context)
			if ne.Kind == KindAborted {
				d.set(func(st *DurableState[T]) { st.Revalidating = false })
				return ne
			}
			d.fetcher.metrics.RecordRevalidation(d.opts.Key, "error")
			d.fetcher.logger.Warn("Background revalidation failed", "key", d.opts.Key, "kind", ne.Kind, "error", ne.Message)
			d.set(func(st *DurableState[T]) {
				st.Revalidating = false
				st.RevalidateError = ne
			})
			if d.opts.OnRevalidateError != nil {
				d.opts.OnRevalidateError(ne)
			}
			return ne
		}

		now := d.clock.Now()
		d.write(v, now)
		d.fetcher.metrics.RecordRevalidation(d.opts.Key, "success")
		d.set(func(st *DurableState[T]) {
			st.Data = v
			st.HasData = true
			st.Revalidating = false
			st.RevalidateError = nil
			st.UpdatedAt = now
		})
		return nil
	})

	if !started {
		stop()
		cancel()
		d.fetcher.metrics.RecordRevalidation(d.opts.Key, "skipped")
		if !d.fetcher.revalidations.InFlight(d.gateKey()) {
			d.set(func(st *DurableState[T]) { st.Revalidating = false })
		}
	}
}

func (d *DurableQuery[T]) executeOptions() ExecuteOptions {
	return ExecuteOptions{
		TTL:         d.opts.TTL,
		MaxAttempts: d.opts.MaxAttempts,
		SkipCache:   true,
		Context:     d.opts.Context,
	}
}

func (d *DurableQuery[T]) set(fn func(*DurableState[T])) {
	d.mu.Lock()
	fn(&d.state)
	snap := d.state
	cb := d.opts.OnStateChange
	d.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}
