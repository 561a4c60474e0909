package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ownerLimiter keeps a token bucket per account. It slows down code
// guessing on the endpoints that reveal whether a code matched.
type ownerLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

func newOwnerLimiter(perMinute, burst int) *ownerLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	if burst <= 0 {
		burst = 10
	}
	return &ownerLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *ownerLimiter) allow(owner string) bool {
	l.mu.Lock()
	b, ok := l.buckets[owner]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[owner] = b
	}
	l.mu.Unlock()
	return b.Allow()
}

func (l *ownerLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(currentUser(c).ID) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts, try again later"})
			return
		}
		c.Next()
	}
}
