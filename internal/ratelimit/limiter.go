package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

const (
	ScopeClient = "client"
	ScopeGlobal = "global"

	globalKey = "g"
)

// DeniedError reports a rejected admission. ResetAt is the instant the oldest
// counted request leaves the window, i.e. the earliest time a retry can
// succeed if no further requests arrive.
type DeniedError struct {
	Scope   string
	Limit   int
	ResetAt time.Time
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s rate limit exceeded (limit %d, resets %s)", e.Scope, e.Limit, e.ResetAt.Format(time.RFC3339))
}

// RetryAfter returns the wait until ResetAt, floored at zero.
func (e *DeniedError) RetryAfter(now time.Time) time.Duration {
	if d := e.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Quota describes a client's window state for response headers.
type Quota struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Config controls the limiter. Zero or negative limits disable the
// corresponding gate.
type Config struct {
	PerClient   int
	Global      int
	Window      time.Duration
	IdleWindows int
}

type windowEntry struct {
	mu       sync.Mutex
	stamps   []time.Time
	lastSeen time.Time
}

// Limiter admits requests through a per-client sliding window and a shared
// global window. A request is recorded only when both gates have capacity, so
// a denial never consumes quota anywhere.
type Limiter struct {
	perClient int
	global    int
	window    time.Duration
	idleAfter time.Duration

	now func() time.Time

	mu      sync.Mutex
	entries map[string]*windowEntry
}

// NewLimiter builds a limiter from cfg, applying a 60s window and ten idle
// windows of retention when unset.
func NewLimiter(cfg Config) *Limiter {
	window := cfg.Window
	if window <= 0 {
		window = 60 * time.Second
	}
	idle := cfg.IdleWindows
	if idle <= 0 {
		idle = 10
	}
	return &Limiter{
		perClient: cfg.PerClient,
		global:    cfg.Global,
		window:    window,
		idleAfter: time.Duration(idle) * window,
		now:       time.Now,
		entries:   make(map[string]*windowEntry),
	}
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Admit checks both gates for clientID and records the request if both have
// room. The check and the record happen under the same locks, so concurrent
// callers can never overshoot a limit or leak quota on denial. The returned
// Quota reflects the client window after the call either way.
func (l *Limiter) Admit(clientID string) (Quota, error) {
	now := l.now()

	// Both entries are resolved before either lock is taken so the map lock
	// is never acquired while an entry lock is held.
	client := l.entry("c:" + clientID)
	var g *windowEntry
	if l.global > 0 {
		g = l.entry(globalKey)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	client.prune(now, l.window)
	client.lastSeen = now

	if l.perClient > 0 && len(client.stamps) >= l.perClient {
		resetAt := client.stamps[0].Add(l.window)
		return Quota{Limit: l.perClient, Remaining: 0, ResetAt: resetAt},
			&DeniedError{Scope: ScopeClient, Limit: l.perClient, ResetAt: resetAt}
	}

	if g != nil {
		g.mu.Lock()
		g.prune(now, l.window)
		g.lastSeen = now
		if len(g.stamps) >= l.global {
			resetAt := g.stamps[0].Add(l.window)
			g.mu.Unlock()
			return l.quotaLocked(client, now),
				&DeniedError{Scope: ScopeGlobal, Limit: l.global, ResetAt: resetAt}
		}
		g.stamps = append(g.stamps, now)
		g.mu.Unlock()
	}

	client.stamps = append(client.stamps, now)
	return l.quotaLocked(client, now), nil
}

// Peek reports the client window state without consuming quota.
func (l *Limiter) Peek(clientID string) Quota {
	now := l.now()
	client := l.entry("c:" + clientID)
	client.mu.Lock()
	defer client.mu.Unlock()
	client.prune(now, l.window)
	return l.quotaLocked(client, now)
}

// Sweep drops entries idle for longer than the retention horizon and returns
// how many were removed. Call it periodically to keep memory bounded.
func (l *Limiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, e := range l.entries {
		e.mu.Lock()
		idle := now.Sub(e.lastSeen) > l.idleAfter
		e.mu.Unlock()
		if idle {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Tracked reports how many window entries are currently retained.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Limiter) quotaLocked(e *windowEntry, now time.Time) Quota {
	q := Quota{Limit: l.perClient}
	if l.perClient <= 0 {
		q.ResetAt = now.Add(l.window)
		return q
	}
	q.Remaining = l.perClient - len(e.stamps)
	if q.Remaining < 0 {
		q.Remaining = 0
	}
	if len(e.stamps) > 0 {
		q.ResetAt = e.stamps[0].Add(l.window)
	} else {
		q.ResetAt = now.Add(l.window)
	}
	return q
}

func (l *Limiter) entry(key string) *windowEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &windowEntry{lastSeen: l.now()}
		l.entries[key] = e
	}
	return e
}

// prune drops timestamps that have aged out of the window. Caller holds e.mu.
func (e *windowEntry) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	idx := 0
	for idx < len(e.stamps) && !e.stamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		e.stamps = append(e.stamps[:0], e.stamps[idx:]...)
	}
}
