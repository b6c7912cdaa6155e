package authapi

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// loginLimiter tracks login failures per client IP in a sliding window.
// State is process-local; a multi-instance deployment throttles per
// instance, which is acceptable for a back-office login surface.
type loginLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	max      int
	window   time.Duration
}

func newLoginLimiter(max int, window time.Duration) *loginLimiter {
	return &loginLimiter{
		failures: make(map[string][]time.Time),
		max:      max,
		window:   window,
	}
}

// blocked reports whether the IP has exhausted its failure budget.
func (l *loginLimiter) blocked(ip net.IP, now time.Time) bool {
	if l == nil || ip == nil || l.max <= 0 {
		return false
	}

	key := ip.String()
	cut := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.failures[key][:0]
	for _, t := range l.failures[key] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.failures, key)
	} else {
		l.failures[key] = kept
	}

	return len(kept) >= l.max
}

// recordFailure notes one failed attempt for the IP.
func (l *loginLimiter) recordFailure(ip net.IP, now time.Time) {
	if l == nil || ip == nil {
		return
	}

	key := ip.String()
	l.mu.Lock()
	l.failures[key] = append(l.failures[key], now)
	l.mu.Unlock()
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
}
