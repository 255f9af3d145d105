package chat

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sessionLimiters hands out one token bucket per session and forgets idle ones.
type sessionLimiters struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idle    time.Duration
	buckets map[string]*bucket
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newSessionLimiters(perSecond float64, burst int) *sessionLimiters {
	if burst <= 0 {
		burst = 1
	}
	return &sessionLimiters{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    10 * time.Minute,
		buckets: map[string]*bucket{},
	}
}

func (l *sessionLimiters) allow(session string, now time.Time) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[session]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
		l.buckets[session] = b
		l.pruneLocked(now)
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1)
}

func (l *sessionLimiters) pruneLocked(now time.Time) {
	if len(l.buckets) < 1024 {
		return
	}
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idle {
			delete(l.buckets, k)
		}
	}
}
