package handler

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/tokenboard/internal/logging"
	"golang.org/x/time/rate"
)

const maxTrackedLimiters = 10000

// RateLimiter 按用户维度限流，未登录请求按客户端 IP。
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewRateLimiter 创建限流器；perSecond <= 0 时返回 nil，表示不限流。
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= maxTrackedLimiters {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

// Allow 判断 key 是否还有配额。
func (rl *RateLimiter) Allow(key string) bool {
	if rl == nil {
		return true
	}
	return rl.limiter(key).Allow()
}

// Middleware 超出配额时返回 429。
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if viewer := currentViewer(c); viewer.Authenticated {
			key = "user:" + strconv.FormatUint(uint64(viewer.UserID), 10)
		}

		if !rl.Allow(key) {
			logging.Ctx(c.Request.Context()).Warn().Str("key", key).Str("path", c.FullPath()).Msg("rate limit exceeded")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"canView": false, "error": "too many requests"})
			return
		}
		c.Next()
	}
}
