package api

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/taskflow/internal/metrics"
	"github.com/p-blackswan/taskflow/lru"
)

// maxTrackedClients bounds the per-client bucket set; idle clients are
// evicted least recently used first.
const maxTrackedClients = 10000

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	RPS   int // requests per second
	Burst int // burst size
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(rps, burst int, now time.Time) *tokenBucket {
	if burst < 1 {
		burst = rps
	}
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: float64(rps),
		lastRefill: now,
	}
}

func (b *tokenBucket) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// NewRateLimitMiddleware returns a per-client token-bucket rate limiter.
// When m is non-nil the tracked and evicted client counts are exported.
func NewRateLimitMiddleware(cfg RateLimitConfig, m *metrics.Metrics) fiber.Handler {
	clients := lru.New[string, *tokenBucket](maxTrackedClients)

	return func(c *fiber.Ctx) error {
		// Liveness, readiness and metrics are never limited.
		if isInfraPath(c.Path()) {
			return c.Next()
		}

		now := time.Now()
		added := false
		bucket := clients.GetOrAdd(c.IP(), func() *tokenBucket {
			added = true
			return newTokenBucket(cfg.RPS, cfg.Burst, now)
		})
		if added && m != nil {
			m.SetRateLimitClients(clients.Len(), clients.Evictions())
		}

		if !bucket.allow(now) {
			return problemResponse(c, fiber.StatusTooManyRequests,
				"rate_limit_exceeded", "Too Many Requests",
				"Rate limit exceeded. Please try again later.")
		}

		return c.Next()
	}
}
