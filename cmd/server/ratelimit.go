package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ============================================================================
// Login Rate Limiting
// ============================================================================

const (
	loginRateLimit  = 10
	loginRateWindow = 5 * time.Minute
	rateLimitPrefix = "fleetpulse:ratelimit:login:"
)

// LoginRateLimiter throttles login attempts per client IP. Backed by Redis
// when FLEETPULSE_REDIS_URL is set so the limit holds across replicas,
// otherwise by in-process counters.
type LoginRateLimiter struct {
	limit  int
	window time.Duration

	rdb *redis.Client

	mu      sync.Mutex
	buckets map[string]*rateBucket
}

type rateBucket struct {
	count   int
	resetAt time.Time
}

var loginLimiter *LoginRateLimiter

// InitLoginRateLimiter creates the global limiter, connecting to Redis when
// FLEETPULSE_REDIS_URL is set.
func InitLoginRateLimiter() {
	loginLimiter = NewLoginRateLimiter(loginRateLimit, loginRateWindow)

	if url := os.Getenv("FLEETPULSE_REDIS_URL"); url != "" {
		if err := loginLimiter.UseRedis(url); err != nil {
			fmt.Printf("⚠️  Redis unavailable, using in-memory rate limiting: %v\n", err)
		} else {
			fmt.Println("✅ Login rate limiting backed by Redis")
		}
	}

	go loginLimiter.cleanupLoop()
}

// NewLoginRateLimiter creates a limiter with the given limit per window
func NewLoginRateLimiter(limit int, window time.Duration) *LoginRateLimiter {
	return &LoginRateLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*rateBucket),
	}
}

// UseRedis switches the limiter to a Redis backend
func (l *LoginRateLimiter) UseRedis(url string) error {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	l.rdb = client
	return nil
}

// Allow records an attempt for ip and reports whether it is within the limit
func (l *LoginRateLimiter) Allow(ctx context.Context, ip string) bool {
	if l.rdb != nil {
		allowed, err := l.allowRedis(ctx, ip)
		if err == nil {
			return allowed
		}
		// Fall through to local counters if Redis misbehaves
	}
	return l.allowLocal(ip)
}

func (l *LoginRateLimiter) allowRedis(ctx context.Context, ip string) (bool, error) {
	key := rateLimitPrefix + ip

	pipe := l.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return int(incr.Val()) <= l.limit, nil
}

func (l *LoginRateLimiter) allowLocal(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[ip]
	if !ok || now.After(b.resetAt) {
		l.buckets[ip] = &rateBucket{count: 1, resetAt: now.Add(l.window)}
		return true
	}

	b.count++
	return b.count <= l.limit
}

// Reset clears the counter for ip after a successful login
func (l *LoginRateLimiter) Reset(ctx context.Context, ip string) {
	if l.rdb != nil {
		l.rdb.Del(ctx, rateLimitPrefix+ip)
		return
	}

	l.mu.Lock()
	delete(l.buckets, ip)
	l.mu.Unlock()
}

// Close releases the Redis connection if one is in use
func (l *LoginRateLimiter) Close() {
	if l.rdb != nil {
		l.rdb.Close()
	}
}

// cleanupLoop drops in-memory buckets that are past their window
func (l *LoginRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		l.mu.Lock()
		for ip, b := range l.buckets {
			if now.After(b.resetAt) {
				delete(l.buckets, ip)
			}
		}
		l.mu.Unlock()
	}
}
