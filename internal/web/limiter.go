package web

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sessionLimiters holds one token bucket per session so that a single student cannot burn through the shared API
// quota
type sessionLimiters struct {
	perMinute float64
	burst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newSessionLimiters(perMinute float64, burst int) *sessionLimiters {
	if burst < 1 {
		burst = 1
	}
	return &sessionLimiters{
		perMinute: perMinute,
		burst:     burst,
		limiters:  map[string]*rate.Limiter{},
	}
}

// allow reports whether the session may send another request now. A non-positive rate disables limiting.
func (sl *sessionLimiters) allow(sessionID string) bool {
	if sl.perMinute <= 0 {
		return true
	}
	return sl.get(sessionID).Allow()
}

func (sl *sessionLimiters) get(sessionID string) *rate.Limiter {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	limiter, ok := sl.limiters[sessionID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Duration(float64(time.Minute)/sl.perMinute)), sl.burst)
		sl.limiters[sessionID] = limiter
	}
	return limiter
}

// prune drops the buckets of sessions for which alive returns false
func (sl *sessionLimiters) prune(alive func(sessionID string) bool) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	for id := range sl.limiters {
		if !alive(id) {
			delete(sl.limiters, id)
		}
	}
}
