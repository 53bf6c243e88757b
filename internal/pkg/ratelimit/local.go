package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedKeys is the number of per-key limiters kept after a prune. The
// map may grow to twice this size before the next prune, so a flood of
// distinct keys costs one scan per maxTrackedKeys insertions.
const maxTrackedKeys = 10000

// LocalLimiter is a per-process token bucket limiter per key. It is used
// when no Redis is configured, so limits apply per replica.
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewLocalLimiter admits on average limit requests per key in each window,
// with bursts of up to limit requests.
func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	return &LocalLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(window / time.Duration(limit)),
		burst:    limit,
	}
}

// Allow takes a token from key's bucket.
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	r := l.limiter(key).Reserve()
	delay := r.Delay()
	if delay == 0 {
		return true, 0, nil
	}
	r.Cancel()
	return false, delay, nil
}

func (l *LocalLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if ok {
		return lim
	}

	if len(l.limiters) >= 2*maxTrackedKeys {
		l.prune()
	}
	lim = rate.NewLimiter(l.limit, l.burst)
	l.limiters[key] = lim
	return lim
}

// prune drops limiters whose buckets have refilled, which carry no state.
// If that is not enough, arbitrary keys are evicted down to maxTrackedKeys.
func (l *LocalLimiter) prune() {
	now := time.Now()
	for key, lim := range l.limiters {
		if lim.TokensAt(now) >= float64(l.burst) {
			delete(l.limiters, key)
		}
	}
	for key := range l.limiters {
		if len(l.limiters) <= maxTrackedKeys {
			break
		}
		delete(l.limiters, key)
	}
}
