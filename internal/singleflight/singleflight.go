// Package singleflight gates keyed work so that at most one call per key
// runs at a time. Unlike golang.org/x/sync/singleflight, late callers do not
// join the running call; they are turned away, which suits background
// revalidation where a second refresh adds nothing.
package singleflight

import "sync"

// Group tracks running calls by key. The zero value is not usable; use New.
type Group struct {
	mu sync.Mutex
	m  map[string]*call
}

type call struct {
	done chan struct{}
	err  error
}

// New creates an empty Group.
func New() *Group {
	return &Group{m: make(map[string]*call)}
}

// TryGo starts fn in a goroutine unless a call for key is already running.
// It reports whether fn was started; the returned channel closes when fn
// returns.
func (g *Group) TryGo(key string, fn func() error) (<-chan struct{}, bool) {
	c, ok := g.claim(key)
	if !ok {
		return nil, false
	}
	go g.finish(key, c, fn)
	return c.done, true
}

// InFlight reports whether a call for key is running.
func (g *Group) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.m[key]
	return ok
}

// Wait blocks until the running call for key, if any, completes and returns
// its error.
func (g *Group) Wait(key string) error {
	g.mu.Lock()
	c, ok := g.m[key]
	g.mu.Unlock()
	if !ok {
		return nil
	}
	<-c.done
	return c.err
}

func (g *Group) claim(key string) (*call, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.m[key]; ok {
		return nil, false
	}
	c := &call{done: make(chan struct{})}
	g.m[key] = c
	return c, true
}

func (g *Group) finish(key string, c *call, fn func() error) {
	defer func() {
		g.mu.Lock()
		if g.m[key] == c {
			delete(g.m, key)
		}
		g.mu.Unlock()
		close(c.done)
	}()
	c.err = fn()
}
