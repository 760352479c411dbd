// ABOUTME: Sliding-window rate limiter keyed by (agent_id, tool_id)
// ABOUTME: Per-key locks so distinct pairs never block each other

package gate

import (
	"fmt"
	"sync"
	"time"

	"github.com/global-mysterysnailrevolution/harness/internal/policy"
	"github.com/global-mysterysnailrevolution/harness/internal/store"
)

// RateLimiter tracks call timestamps per (agent, tool) pair against a
// sliding window. History is bounded to the most recent max_calls and
// persisted so limits survive restarts.
type RateLimiter struct {
	path string

	mu   sync.Mutex
	keys map[string]*callWindow

	fileMu sync.Mutex
}

type callWindow struct {
	mu    sync.Mutex
	calls []time.Time
}

// NewRateLimiter loads persisted call history from path; an absent or
// unreadable file starts empty.
func NewRateLimiter(path string) *RateLimiter {
	r := &RateLimiter{path: path, keys: make(map[string]*callWindow)}

	history := map[string][]time.Time{}
	if err := store.ReadJSON(path, &history); err == nil {
		for key, calls := range history {
			r.keys[key] = &callWindow{calls: calls}
		}
	}
	return r
}

// Allow checks and records one call for the pair. Pairs without a
// configured limit are always allowed and not tracked.
func (r *RateLimiter) Allow(agentID, toolID string, limit policy.RateLimit, ok bool) (bool, string) {
	if !ok {
		return true, ""
	}

	key := agentID + ":" + toolID
	w := r.window(key)
	w.mu.Lock()

	now := time.Now().UTC()
	cutoff := now.Add(-time.Duration(limit.WindowSeconds) * time.Second)
	recent := w.calls[:0]
	for _, ts := range w.calls {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	w.calls = recent

	if len(w.calls) >= limit.MaxCalls {
		count := len(w.calls)
		w.mu.Unlock()
		return false, fmt.Sprintf("Rate limit exceeded: %d/%d calls in %ds", count, limit.MaxCalls, limit.WindowSeconds)
	}

	w.calls = append(w.calls, now)
	if len(w.calls) > limit.MaxCalls {
		w.calls = w.calls[len(w.calls)-limit.MaxCalls:]
	}
	snapshot := append([]time.Time(nil), w.calls...)
	w.mu.Unlock()

	r.persist(key, snapshot)
	return true, ""
}

func (r *RateLimiter) window(key string) *callWindow {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.keys[key]
	if !ok {
		w = &callWindow{}
		r.keys[key] = w
	}
	return w
}

// persist rewrites the history file with the updated key. Best effort:
// a write failure never blocks the call.
func (r *RateLimiter) persist(key string, calls []time.Time) {
	r.fileMu.Lock()
	defer r.fileMu.Unlock()

	history := map[string][]time.Time{}
	_ = store.ReadJSON(r.path, &history)
	history[key] = calls
	_ = store.WriteJSON(r.path, history)
}
