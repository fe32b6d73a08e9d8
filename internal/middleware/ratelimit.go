package middleware

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	visitorTTL      = 3 * time.Minute
	cleanupInterval = 1 * time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// RateLimiter tracks per-IP token bucket limiters.
type RateLimiter struct {
	visitors sync.Map
	rps      rate.Limit
	burst    int
	scope    string
}

// NewRateLimiter creates a Gin middleware that applies per-IP rate limiting.
// rps controls the steady-state rate (requests per second), burst is the
// maximum number of tokens that can be consumed in a single burst. scope
// names the limiter in logs so the login limiter can be told apart.
func NewRateLimiter(scope string, rps rate.Limit, burst int) gin.HandlerFunc {
	rl := &RateLimiter{rps: rps, burst: burst, scope: scope}
	go rl.cleanupLoop()
	return rl.handle
}

func (rl *RateLimiter) getVisitor(ip string) *rate.Limiter {
	now := time.Now().UnixNano()
	if val, ok := rl.visitors.Load(ip); ok {
		v := val.(*visitor)
		v.lastSeen.Store(now)
		return v.limiter
	}

	v := &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
	v.lastSeen.Store(now)
	// Reason: two first requests from one IP may race; keep whichever landed first
	actual, _ := rl.visitors.LoadOrStore(ip, v)
	return actual.(*visitor).limiter
}

func (rl *RateLimiter) handle(c *gin.Context) {
	ip := c.ClientIP()
	limiter := rl.getVisitor(ip)

	if !limiter.Allow() {
		log.WithFields(log.Fields{"ip": ip, "scope": rl.scope}).Warn("rate limit exceeded")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"message": "too many requests, please try again later",
		})
		return
	}

	c.Next()
}

// cleanupLoop removes visitors that haven't been seen for visitorTTL.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		rl.sweep(time.Now())
	}
}

func (rl *RateLimiter) sweep(now time.Time) {
	rl.visitors.Range(func(key, value any) bool {
		v := value.(*visitor)
		if now.Sub(time.Unix(0, v.lastSeen.Load())) > visitorTTL {
			rl.visitors.Delete(key)
		}
		return true
	})
}
