package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"docqa/internal/transport/http/response"
)

const defaultLimiterCacheSize = 10000

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(c *gin.Context) string

// RateLimiter keeps one token bucket per key. Buckets live in an LRU so idle
// clients are forgotten once the cache is full.
type RateLimiter struct {
	name     string
	limit    rate.Limit
	burst    int
	retry    time.Duration
	message  string
	onReject func(name string)

	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
}

// NewRateLimiter allows events requests per window for each key.
func NewRateLimiter(name string, events int, window time.Duration, cacheSize int, message string, onReject func(name string)) (*RateLimiter, error) {
	if events <= 0 || window <= 0 {
		return nil, fmt.Errorf("rate limiter %s needs a positive rate", name)
	}
	if cacheSize <= 0 {
		cacheSize = defaultLimiterCacheSize
	}
	cache, err := lru.New[string, *rate.Limiter](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create rate limiter cache failed: %w", err)
	}
	interval := window / time.Duration(events)
	return &RateLimiter{
		name:     name,
		limit:    rate.Every(interval),
		burst:    events,
		retry:    interval,
		message:  message,
		onReject: onReject,
		limiters: cache,
	}, nil
}

func (l *RateLimiter) Allow(key string) bool {
	return l.limiter(key).Allow()
}

func (l *RateLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters.Get(key); ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters.Add(key, lim)
	return lim
}

func (l *RateLimiter) Middleware(key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.Allow(key(c)) {
			c.Next()
			return
		}
		if l.onReject != nil {
			l.onReject(l.name)
		}
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(l.retry.Seconds()))))
		response.Error(c, http.StatusTooManyRequests, response.CodeTooManyRequests, l.message)
		c.Abort()
	}
}

// ByUser keys authenticated requests by user id and the rest by client IP.
func ByUser(c *gin.Context) string {
	if userID, ok := UserID(c); ok {
		return "user:" + strconv.FormatUint(uint64(userID), 10)
	}
	return ByIP(c)
}

func ByIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}
