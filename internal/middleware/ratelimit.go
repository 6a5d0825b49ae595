package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/storely/messaging-api/internal/handler"
)

type RateLimiterConfig struct {
	Rate  rate.Limit
	Burst int
	// PerClient gives every client IP its own token bucket instead of one
	// shared bucket for the whole API.
	PerClient bool
	ClientTTL time.Duration
}

func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Rate:      50,
		Burst:     100,
		PerClient: true,
		ClientTTL: 10 * time.Minute,
	}
}

type RateLimiter struct {
	config  RateLimiterConfig
	global  *rate.Limiter
	clients *cache.Cache
}

func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{config: config}
	if config.PerClient {
		ttl := config.ClientTTL
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		rl.clients = cache.New(ttl, 2*ttl)
	} else {
		rl.global = rate.NewLimiter(config.Rate, config.Burst)
	}
	return rl
}

func (rl *RateLimiter) limiterFor(clientIP string) *rate.Limiter {
	if rl.clients == nil {
		return rl.global
	}
	if v, ok := rl.clients.Get(clientIP); ok {
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(rl.config.Rate, rl.config.Burst)
	rl.clients.SetDefault(clientIP, limiter)
	return limiter
}

func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.limiterFor(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, handler.NewErrorResponse("rate limit exceeded"))
			return
		}
		c.Next()
	}
}
