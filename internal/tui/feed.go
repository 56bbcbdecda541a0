package tui

import (
	"sync"

	tracker "github.com/OptimusRahul/covid19-tracker"
	"github.com/OptimusRahul/covid19-tracker/covid"
)

// CountriesState is the query snapshot the dashboard renders.
type CountriesState = tracker.QueryState[[]covid.CountrySummary]

// Feed carries query snapshots from fetch goroutines to the Bubble Tea
// loop. Only the newest undelivered snapshot is kept.
type Feed struct {
	mu     sync.Mutex
	ch     chan CountriesState
	closed bool
}

// NewFeed returns an open feed.
func NewFeed() *Feed {
	return &Feed{ch: make(chan CountriesState, 1)}
}

// Push replaces any pending snapshot with st. It never blocks and is a
// no-op after Close. Its signature fits QueryOptions.OnStateChange.
func (f *Feed) Push(st CountriesState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case <-f.ch:
	default:
	}
	f.ch <- st
}

// C returns the receive side for consumers other than Model.
func (f *Feed) C() <-chan CountriesState {
	return f.ch
}

// Close ends the feed. The model stops listening once it drains.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
}
