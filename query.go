package tracker

import (
	"context"
	"sync"
	"time"
)

// Status is a Query's position in its state machine.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// QueryState is a snapshot of one subscription.
type QueryState[T any] struct {
	Status  Status
	Data    T
	HasData bool
	Loading bool
	// Error is the terminal failure of the last completed fetch. It is nil
	// while Loading.
	Error         *NormalizedError
	LastUpdatedAt time.Time
	// Attempt counts retries of the in-flight fetch; zero after success or
	// reset.
	Attempt int
}

// QueryOptions configures a Query.
type QueryOptions[T any] struct {
	Key   string
	Fetch func(context.Context) (T, error)

	TTL         time.Duration
	MaxAttempts int
	// RefetchInterval re-issues the fetch on a fixed period from Mount,
	// bypassing the cache. Zero disables it.
	RefetchInterval time.Duration
	// StaleWindow drives IsStale. Zero uses DefaultStaleWindow.
	StaleWindow time.Duration
	// Disabled queries never fetch.
	Disabled    bool
	InitialData *T
	Context     string

	OnSuccess     func(T)
	OnError       func(*NormalizedError)
	OnStateChange func(QueryState[T])
}

// DefaultStaleWindow matches the dashboard refresh cadence.
const DefaultStaleWindow = 15 * time.Minute

// Query drives one logical resource through Idle, Loading, Success and Error.
// Every new fetch cancels the previous one and only the newest fetch may
// change state. ABORTED outcomes are swallowed. It is safe for concurrent
// use.
type Query[T any] struct {
	fetcher *Fetcher
	clock   Clock

	mu       sync.Mutex
	opts     QueryOptions[T]
	state    QueryState[T]
	gen      uint64
	cancel   context.CancelFunc
	base     context.Context
	stop     context.CancelFunc
	mounted  bool
	closed   bool
	inflight int
	settled  chan struct{}
	wg       sync.WaitGroup
}

// NewQuery creates an idle query. Nothing is fetched until Mount.
func NewQuery[T any](f *Fetcher, opts QueryOptions[T]) *Query[T] {
	q := &Query[T]{
		fetcher: f,
		clock:   f.Clock(),
		opts:    opts,
		settled: closedChan(),
	}
	q.state = q.initialState()
	return q
}

func (q *Query[T]) initialState() QueryState[T] {
	st := QueryState[T]{Status: StatusIdle}
	if q.opts.InitialData != nil {
		st.Data = *q.opts.InitialData
		st.HasData = true
	}
	return st
}

// Mount starts the subscription: the initial fetch and, when configured,
// the refetch ticker. ctx bounds the whole subscription. Mounting twice is
// a no-op.
func (q *Query[T]) Mount(ctx context.Context) {
	q.mu.Lock()
	if q.mounted || q.closed {
		q.mu.Unlock()
		return
	}
	q.mounted = true
	q.base, q.stop = context.WithCancel(ctx)
	interval := q.opts.RefetchInterval
	q.mu.Unlock()

	q.start(false)

	if interval > 0 {
		q.wg.Add(1)
		go q.tick(interval)
	}
}

func (q *Query[T]) tick(interval time.Duration) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-q.base.Done():
			return
		case <-ticker.C:
			q.start(true)
		}
	}
}

// Refetch forces a network round trip, ignoring cache freshness, and starts
// a fresh attempt sequence.
func (q *Query[T]) Refetch() {
	q.start(true)
}

// Rebind swaps the key and fetch function, as on a dependency change, and
// fetches for the new key.
func (q *Query[T]) Rebind(key string, fetch func(context.Context) (T, error)) {
	q.mu.Lock()
	q.opts.Key = key
	if fetch != nil {
		q.opts.Fetch = fetch
	}
	q.mu.Unlock()
	q.start(false)
}

// Reset cancels any in-flight fetch and returns to Idle with data and error
// cleared, without issuing a request.
func (q *Query[T]) Reset() {
	q.mu.Lock()
	q.supersede()
	q.state = q.initialState()
	snap := q.state
	cb := q.opts.OnStateChange
	q.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}

// Close tears the subscription down: the ticker stops, the in-flight fetch
// is cancelled and no further state changes occur.
func (q *Query[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.supersede()
	if q.stop != nil {
		q.stop()
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// State returns the current snapshot.
func (q *Query[T]) State() QueryState[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// IsStale reports whether the last success is older than the stale window.
// A query that never succeeded is not stale.
func (q *Query[T]) IsStale() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state.LastUpdatedAt.IsZero() {
		return false
	}
	window := q.opts.StaleWindow
	if window <= 0 {
		window = DefaultStaleWindow
	}
	return q.clock.Now().Sub(q.state.LastUpdatedAt) > window
}

// WaitSettled blocks until no fetch is in flight or ctx ends.
func (q *Query[T]) WaitSettled(ctx context.Context) error {
	q.mu.Lock()
	ch := q.settled
	q.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// supersede cancels the current fetch and invalidates its generation.
// Callers hold q.mu.
func (q *Query[T]) supersede() {
	q.gen++
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
}

func (q *Query[T]) start(force bool) {
	q.mu.Lock()
	if !q.mounted || q.closed || q.opts.Disabled || q.opts.Fetch == nil {
		q.mu.Unlock()
		return
	}

	q.supersede()
	gen := q.gen
	ctx, cancel := context.WithCancel(q.base)
	q.cancel = cancel

	prev := q.state.Status
	q.state.Status = StatusLoading
	q.state.Loading = true
	q.state.Error = nil
	q.state.Attempt = 0
	snap := q.state
	opts := q.opts

	if q.inflight == 0 {
		q.settled = make(chan struct{})
	}
	q.inflight++
	q.wg.Add(1)
	q.mu.Unlock()

	if opts.OnStateChange != nil {
		opts.OnStateChange(snap)
	}

	go q.run(ctx, cancel, gen, prev, force, opts)
}

func (q *Query[T]) run(ctx context.Context, cancel context.CancelFunc, gen uint64, prev Status, force bool, opts QueryOptions[T]) {
	defer q.wg.Done()
	defer q.finish()
	defer cancel()

	value, err := Execute(ctx, q.fetcher, opts.Key, opts.Fetch, ExecuteOptions{
		TTL:         opts.TTL,
		MaxAttempts: opts.MaxAttempts,
		SkipCache:   force,
		Context:     opts.Context,
		OnRetry: func(attempt int, _ *NormalizedError, _ time.Duration) {
			q.update(gen, func(st *QueryState[T]) { st.Attempt = attempt })
		},
	})

	if err != nil && IsAborted(err) {
		// Superseded or torn down: leave no trace unless this was the
		// newest fetch, which then returns to its previous status.
		q.update(gen, func(st *QueryState[T]) {
			st.Loading = false
			st.Status = prev
			if prev == StatusLoading {
				st.Status = StatusIdle
				if st.HasData {
					st.Status = StatusSuccess
				}
			}
		})
		return
	}

	var ne *NormalizedError
	if err != nil {
		ne = Normalize(err, opts.Context)
	}
	applied := q.update(gen, func(st *QueryState[T]) {
		st.Loading = false
		st.Attempt = 0
		if ne != nil {
			st.Status = StatusError
			st.Error = ne
			return
		}
		st.Status = StatusSuccess
		st.Data = value
		st.HasData = true
		st.Error = nil
		st.LastUpdatedAt = q.clock.Now()
	})
	if !applied {
		return
	}

	if ne != nil {
		if opts.OnError != nil {
			opts.OnError(ne)
		}
		return
	}
	if opts.OnSuccess != nil {
		opts.OnSuccess(value)
	}
}

// update applies fn if gen is still current and reports whether it did.
func (q *Query[T]) update(gen uint64, fn func(*QueryState[T])) bool {
	q.mu.Lock()
	if gen != q.gen || q.closed {
		q.mu.Unlock()
		return false
	}
	fn(&q.state)
	snap := q.state
	cb := q.opts.OnStateChange
	q.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
	return true
}

func (q *Query[T]) finish() {
	q.mu.Lock()
	q.inflight--
	if q.inflight == 0 {
		close(q.settled)
	}
	q.mu.Unlock()
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
