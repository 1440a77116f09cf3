package server

import (
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// userLimiter keeps one token bucket per key; idle buckets expire from the cache.
type userLimiter struct {
	mu       sync.Mutex
	limiters *cache.Cache
	every    rate.Limit
	burst    int
}

func newUserLimiter(interval time.Duration, burst int) *userLimiter {
	// A bucket idle for this long is full again, so dropping it changes nothing.
	idle := interval * time.Duration(burst)
	return &userLimiter{
		limiters: cache.New(idle, 2*idle),
		every:    rate.Every(interval),
		burst:    burst,
	}
}

func (l *userLimiter) allow(key string) bool {
	l.mu.Lock()
	var limiter *rate.Limiter
	if v, ok := l.limiters.Get(key); ok {
		limiter = v.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(l.every, l.burst)
	}
	l.limiters.SetDefault(key, limiter)
	l.mu.Unlock()

	return limiter.Allow()
}
