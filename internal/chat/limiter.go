package chat

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultLimiterCleanupInterval = 5 * time.Minute

// LimiterConfig configures the per-client token buckets.
type LimiterConfig struct {
	RatePerMinute   float64
	Burst           int
	CleanupInterval time.Duration
	Clock           func() time.Time
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter keeps one token bucket per client key (the caller's IP address).
// Idle buckets are evicted by a background sweep until Stop is called.
type Limiter struct {
	mu       sync.Mutex
	clients  map[string]*clientLimiter
	limit    rate.Limit
	burst    int
	interval time.Duration
	clock    func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewLimiter constructs a Limiter and starts its cleanup loop.
func NewLimiter(cfg LimiterConfig) *Limiter {
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 20
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = defaultLimiterCleanupInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	l := &Limiter{
		clients:  make(map[string]*clientLimiter),
		limit:    rate.Limit(perMinute / 60.0),
		burst:    burst,
		interval: interval,
		clock:    clock,
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow consumes a token for key. When none is available it returns false and
// the whole seconds until the next token.
func (l *Limiter) Allow(key string) (bool, int) {
	now := l.clock()

	l.mu.Lock()
	client, ok := l.clients[key]
	if !ok {
		client = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = client
	}
	client.lastAccess = now
	l.mu.Unlock()

	if client.limiter.AllowN(now, 1) {
		return true, 0
	}
	return false, retryAfterSeconds(client.limiter, now)
}

// Len reports how many client buckets are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Stop ends the cleanup loop.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// retryAfterSeconds reports when the bucket will next hold a token. The probing
// reservation is cancelled so a denied request does not push the wait further out.
func retryAfterSeconds(limiter *rate.Limiter, now time.Time) int {
	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return 1
	}
	delay := reservation.DelayFrom(now)
	reservation.CancelAt(now)

	seconds := int(math.Ceil(delay.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stopCh:
			return
		}
	}
}

// evictIdle drops buckets not used for two cleanup intervals.
func (l *Limiter) evictIdle() {
	ttl := 2 * l.interval
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, client := range l.clients {
		if now.Sub(client.lastAccess) > ttl {
			delete(l.clients, key)
		}
	}
}
