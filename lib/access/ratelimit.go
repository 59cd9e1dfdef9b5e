/*
Copyright 2024 The cfshare Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package access

import (
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mailgun/ttlmap"
)

// window is the per-IP fixed-window counter.
type window struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// RateLimiter is a per-IP fixed-window limiter. Disabled limiters are a
// no-op predicate. Window records are kept in a
// github.com/mailgun/ttlmap store whose entry TTL equals the window
// length, so an IP that stops sending requests evicts itself instead
// of growing the map without bound; the reset/elapsed decision itself
// is computed against the injected clock so tests are deterministic
// regardless of the store's own timing.
type RateLimiter struct {
	Enabled     bool
	WindowSize  time.Duration
	MaxRequests int
	Clock       clockwork.Clock

	mu    sync.Mutex
	store *ttlmap.TtlMap
}

// NewRateLimiter constructs a limiter. capacity bounds the number of
// distinct IPs tracked at once (oldest entries are evicted first).
func NewRateLimiter(enabled bool, windowSize time.Duration, maxRequests, capacity int, clock clockwork.Clock) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	store, err := ttlmap.NewMap(capacity)
	if err != nil {
		// ttlmap only fails to construct on a non-positive capacity;
		// fall back to a small sane default rather than propagate a
		// configuration error out of a rate limiter constructor.
		store, _ = ttlmap.NewMap(1024)
	}
	return &RateLimiter{
		Enabled:     enabled,
		WindowSize:  windowSize,
		MaxRequests: maxRequests,
		Clock:       clock,
		store:       store,
	}
}

// Allow reports whether the request from ip may proceed: a fresh or
// elapsed window resets to a count of one, a full window denies.
func (l *RateLimiter) Allow(ip string) bool {
	if l == nil || !l.Enabled {
		return true
	}

	w := l.windowFor(ip)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.Clock.Now()
	if now.Sub(w.windowStart) >= l.WindowSize {
		w.windowStart = now
		w.count = 1
		return true
	}
	if w.count >= l.MaxRequests {
		return false
	}
	w.count++
	return true
}

func (l *RateLimiter) windowFor(ip string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()

	ttlSeconds := int(l.WindowSize/time.Second) + 1
	if cached, ok := l.store.Get(ip); ok {
		if w, ok := cached.(*window); ok {
			return w
		}
	}
	w := &window{windowStart: l.Clock.Now()}
	_ = l.store.Set(ip, w, ttlSeconds)
	return w
}

// ClientIP extracts the remote IP from r, stripping any port.
func ClientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if idx := lastColon(addr); idx >= 0 && !isIPv6WithoutPort(addr) {
		return addr[:idx]
	}
	return addr
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

func isIPv6WithoutPort(s string) bool {
	return len(s) > 0 && s[0] == '[' && s[len(s)-1] == ']'
}

// WriteRateLimited writes the 429 JSON error response.
func WriteRateLimited(w http.ResponseWriter) {
	writeJSONError(w, http.StatusTooManyRequests, "rate_limited", nil)
}
