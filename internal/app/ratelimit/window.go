// Package ratelimit implements a fixed-window counter keyed by
// "<agentId>:<kind>".
package ratelimit

import (
	"sync"
	"time"

	"github.com/PabloGalante/katana-portal/internal/domain"
)

type window struct {
	start time.Time
	count int
}

// Limiter admits at most Limit events per key per Window.
//
// Allow reads the current window and writes the new count in two separate
// steps. Concurrent callers on the same key can both read the same count and
// both be admitted at the window boundary.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]window
}

func NewLimiter(limit int, per time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  per,
		now:     time.Now,
		windows: make(map[string]window),
	}
}

// Key builds the limiter key for an agent and an action kind.
func Key(agent domain.AgentID, kind string) string {
	return string(agent) + ":" + kind
}

// Allow records one event for agent/kind and reports whether it is within
// the limit. Rejected events are not counted.
func (l *Limiter) Allow(agent domain.AgentID, kind string) bool {
	key := Key(agent, kind)
	now := l.now()

	w := l.read(key)
	if w.start.IsZero() || now.Sub(w.start) >= l.window {
		w = window{start: now}
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	l.write(key, w)
	return true
}

// Remaining reports how many events agent/kind may still record in the
// current window.
func (l *Limiter) Remaining(agent domain.AgentID, kind string) int {
	w := l.read(Key(agent, kind))
	if w.start.IsZero() || l.now().Sub(w.start) >= l.window {
		return l.limit
	}
	return max(l.limit-w.count, 0)
}

func (l *Limiter) read(key string) window {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.windows[key]
}

func (l *Limiter) write(key string, w window) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows[key] = w
}
