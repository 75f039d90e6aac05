package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/offboarding/pkg/response"
	"golang.org/x/time/rate"
)

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(c *gin.Context) string

// ClientIPKey counts requests per client IP.
func ClientIPKey(c *gin.Context) string {
	return c.ClientIP()
}

// UserOrIPKey counts authenticated requests per user and the rest per IP.
func UserOrIPKey(c *gin.Context) string {
	if id := GetUserID(c); id != 0 {
		return "user:" + c.GetString(ContextRole) + ":" + strconv.FormatUint(uint64(id), 10)
	}
	return "ip:" + c.ClientIP()
}

type keyLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per key with a token bucket each.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyLimiter
	rps      rate.Limit
	burst    int
	key      KeyFunc
	idle     time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a limiter counting per client IP.
// rps is the allowed requests per second; burst is the max burst size.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return NewKeyedRateLimiter(rps, burst, ClientIPKey)
}

// NewKeyedRateLimiter creates a limiter counting per key.
func NewKeyedRateLimiter(rps float64, burst int, key KeyFunc) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*keyLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		key:      key,
		idle:     5 * time.Minute,
		stop:     make(chan struct{}),
	}
	go rl.cleanup(3 * time.Minute)
	return rl
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.limiters[key]
	if !exists {
		v = &keyLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

func (rl *RateLimiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.evict(now)
		}
	}
}

func (rl *RateLimiter) evict(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for k, v := range rl.limiters {
		if now.Sub(v.lastSeen) > rl.idle {
			delete(rl.limiters, k)
			n++
		}
	}
	return n
}

// Stop ends the background cleanup.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Middleware returns a Gin middleware that enforces the limit.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.getLimiter(rl.key(c)).Allow() {
			response.TooManyRequests(c, "too many requests, please try again later")
			c.Abort()
			return
		}
		c.Next()
	}
}
