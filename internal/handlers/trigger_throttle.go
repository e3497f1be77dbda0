package handlers

import (
	"strings"
	"sync"
	"time"
)

// triggerThrottle caps how often a single actor can start a storefront
// pull. A full sync walks every remote page, so rapid-fire manual
// triggers mostly duplicate work that is already in flight.
type triggerThrottle struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	seen   map[string]throttleWindow
}

type throttleWindow struct {
	count   int
	resetAt time.Time
}

func newTriggerThrottle(limit int, window time.Duration, clock func() time.Time) *triggerThrottle {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &triggerThrottle{
		limit:  limit,
		window: window,
		clock:  clock,
		seen:   make(map[string]throttleWindow),
	}
}

// allow reports whether the actor may start another sync now. When the
// budget is spent it also returns how long until the window resets.
func (t *triggerThrottle) allow(actor string) (bool, time.Duration) {
	if t == nil {
		return true, 0
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = "anonymous"
	}
	now := t.clock()
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.seen[actor]
	if !ok || now.After(entry.resetAt) {
		t.seen[actor] = throttleWindow{count: 1, resetAt: now.Add(t.window)}
		t.pruneLocked(now)
		return true, 0
	}

	if entry.count >= t.limit {
		return false, entry.resetAt.Sub(now)
	}
	entry.count++
	t.seen[actor] = entry
	return true, 0
}

func (t *triggerThrottle) pruneLocked(now time.Time) {
	for actor, entry := range t.seen {
		if now.After(entry.resetAt) {
			delete(t.seen, actor)
		}
	}
}
