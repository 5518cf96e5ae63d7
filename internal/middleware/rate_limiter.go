package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"stockpos/internal/apierror"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// rateEntry tracks request counts per IP within a fixed window.
type rateEntry struct {
	count     int
	windowEnd time.Time
	mu        sync.Mutex
}

type rateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateEntry
	limit   int
	window  time.Duration
}

// RateLimiter limits each client IP to limit requests per window. Expired
// entries are purged periodically so IPs that never return do not pile up.
func RateLimiter(limit int, window time.Duration) gin.HandlerFunc {
	rl := &rateLimiter{entries: make(map[string]*rateEntry), limit: limit, window: window}
	go rl.purgeLoop(5 * time.Minute)
	return rl.handle
}

func (rl *rateLimiter) handle(c *gin.Context) {
	ip := c.ClientIP()

	rl.mu.Lock()
	entry, exists := rl.entries[ip]
	if !exists {
		entry = &rateEntry{}
		rl.entries[ip] = entry
	}
	rl.mu.Unlock()

	entry.mu.Lock()
	now := time.Now()
	if now.After(entry.windowEnd) {
		entry.count = 0
		entry.windowEnd = now.Add(rl.window)
	}
	entry.count++
	over := entry.count > rl.limit
	retryAfter := int(time.Until(entry.windowEnd).Seconds()) + 1
	entry.mu.Unlock()

	if over {
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, apierror.New(apierror.CodeRateLimited, "too many requests, try again shortly"))
		return
	}
	c.Next()
}

func (rl *rateLimiter) purgeLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		rl.mu.Lock()
		purged := 0
		for ip, entry := range rl.entries {
			entry.mu.Lock()
			if now.After(entry.windowEnd) {
				delete(rl.entries, ip)
				purged++
			}
			entry.mu.Unlock()
		}
		remaining := len(rl.entries)
		rl.mu.Unlock()

		if purged > 0 {
			log.Debug().
				Int("entries_purged", purged).
				Int("entries_remaining", remaining).
				Msg("rate limiter map purged")
		}
	}
}
