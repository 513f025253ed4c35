package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter answers whether a client may make another request right now.
type Limiter interface {
	Allow(ctx context.Context, clientID string) (bool, error)
}

// LocalLimiter manages per-client token buckets in memory.
type LocalLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	stop     chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter creates an in-memory limiter allowing rps requests per
// second with the given burst per client.
func NewLocalLimiter(rps, burst int) *LocalLimiter {
	l := &LocalLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		stop:     make(chan struct{}),
	}
	go l.cleanupVisitors()
	return l
}

// Stop ends the background cleanup goroutine. Safe to call more than
// once; the limiter itself keeps working after Stop.
func (l *LocalLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *LocalLimiter) Allow(ctx context.Context, clientID string) (bool, error) {
	_ = ctx
	l.mu.Lock()
	v, exists := l.visitors[clientID]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[clientID] = v
	}
	v.lastSeen = time.Now()
	limiter := v.limiter
	l.mu.Unlock()
	return limiter.Allow(), nil
}

// cleanupVisitors removes stale entries to prevent unbounded growth.
// Checks every minute, removes entries idle longer than 3 minutes.
func (l *LocalLimiter) cleanupVisitors() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}
		l.mu.Lock()
		for id, v := range l.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(l.visitors, id)
			}
		}
		l.mu.Unlock()
	}
}

// redisTokenBucketScript handles the token bucket algorithm atomically
// in Redis, shared across nodes.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = current unix timestamp (seconds)
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// RedisLimiter implements Limiter on a shared Redis instance so rate
// limits hold across multiple API nodes.
type RedisLimiter struct {
	client *redis.Client
	rps    float64
	burst  int
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(addr, password string, db, rps, burst int) *RedisLimiter {
	return &RedisLimiter{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		rps:    float64(rps),
		burst:  burst,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, clientID string) (bool, error) {
	key := fmt.Sprintf("limiter:%s", clientID)
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := redisTokenBucketScript.Run(ctx, l.client, []string{key}, l.rps, l.burst, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter error: %w", err)
	}
	allowed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("invalid response from lua script")
	}
	return allowed == 1, nil
}

// RateLimitMiddleware enforces a per-client-IP limit in front of the
// API. On limiter failure it fails open: availability over strictness
// for a read-heavy decision endpoint.
func RateLimitMiddleware(limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = strings.Trim(r.RemoteAddr, "[]")
			}
			allowed, err := limiter.Allow(r.Context(), ip)
			if err == nil && !allowed {
				WriteTooManyRequests(w, 5)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
