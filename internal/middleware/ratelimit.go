package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/iliyamo/clinic-management/internal/config"
)

var limiterScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local refill_tokens = tonumber(ARGV[3])
	local interval_ms = tonumber(ARGV[4])
	local ttl_seconds = tonumber(ARGV[5])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
	local tokens = tonumber(state[1])
	local last_refill = tonumber(state[2])

	if tokens == nil or last_refill == nil then
		tokens = capacity
		last_refill = now_ms
	end

	if interval_ms > 0 and refill_tokens > 0 then
		local elapsed = math.max(0, now_ms - last_refill)
		local intervals = math.floor(elapsed / interval_ms)
		if intervals > 0 then
			tokens = math.min(capacity, tokens + (intervals * refill_tokens))
			last_refill = last_refill + (intervals * interval_ms)
		end
	end

	local allowed = 0
	local retry_after_ms = 0
	if tokens > 0 then
		allowed = 1
		tokens = tokens - 1
	else
		local until_next = interval_ms - (now_ms - last_refill)
		if until_next < 0 then until_next = 0 end
		retry_after_ms = until_next
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill, 'capacity', capacity)
	redis.call('EXPIRE', key, ttl_seconds)

	return { allowed, tokens, retry_after_ms }
`)

// decision is the outcome of taking one token from a bucket.
type decision struct {
	allowed   bool
	remaining int64
	retry     time.Duration
}

// NewTokenBucket limits requests per key (see buildRateKey). Buckets live in
// Redis when rdb is set so every replica shares them; otherwise each process
// keeps its own buckets in memory. A Redis error lets the request through.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	var take func(c echo.Context, key string) (decision, error)
	if rdb != nil {
		take = func(c echo.Context, key string) (decision, error) {
			return takeRedis(c, rdb, cfg, key)
		}
	} else {
		mem := newMemoryBuckets(cfg)
		take = func(_ echo.Context, key string) (decision, error) {
			return mem.take(key, time.Now()), nil
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c)
			d, err := take(c, key)
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("ratelimit: redis error, allowing request")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.remaining, 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}

			if !d.allowed {
				secs := int(math.Ceil(d.retry.Seconds()))
				if secs < 1 {
					secs = 1
				}
				h.Set("Retry-After", strconv.Itoa(secs))
				if cfg.Debug {
					log.Debug().Str("key", key).Dur("retry", d.retry).Msg("ratelimit: blocked")
				}
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "Too many requests",
					"retry_after": secs,
				})
			}
			return next(c)
		}
	}
}

func takeRedis(c echo.Context, rdb *redis.Client, cfg config.RateLimitConfig, key string) (decision, error) {
	args := []any{
		time.Now().UnixMilli(),
		cfg.Capacity,
		cfg.RefillTokens,
		cfg.RefillInterval.Milliseconds(),
		int64(cfg.TTL / time.Second),
	}
	vals, err := limiterScript.Run(c.Request().Context(), rdb, []string{key}, args...).Result()
	if err != nil {
		return decision{}, err
	}
	arr, ok := vals.([]any)
	if !ok || len(arr) != 3 {
		return decision{}, fmt.Errorf("unexpected script result %#v", vals)
	}
	return decision{
		allowed:   asInt64(arr[0]) == 1,
		remaining: asInt64(arr[1]),
		retry:     time.Duration(asInt64(arr[2])) * time.Millisecond,
	}, nil
}

// memoryBuckets is the single-process fallback used when Redis is not
// configured. Idle buckets are dropped after cfg.TTL.
type memoryBuckets struct {
	mu      sync.Mutex
	cfg     config.RateLimitConfig
	limit   rate.Limit
	buckets map[string]*memoryBucket
	swept   time.Time
}

type memoryBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newMemoryBuckets(cfg config.RateLimitConfig) *memoryBuckets {
	tokens := cfg.RefillTokens
	if tokens < 1 {
		tokens = 1
	}
	per := cfg.RefillInterval / time.Duration(tokens)
	return &memoryBuckets{
		cfg:     cfg,
		limit:   rate.Every(per),
		buckets: map[string]*memoryBucket{},
	}
}

func (m *memoryBuckets) take(key string, now time.Time) decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.swept) > m.cfg.TTL {
		for k, b := range m.buckets {
			if now.Sub(b.seen) > m.cfg.TTL {
				delete(m.buckets, k)
			}
		}
		m.swept = now
	}

	b, ok := m.buckets[key]
	if !ok {
		b = &memoryBucket{lim: rate.NewLimiter(m.limit, m.cfg.Capacity)}
		m.buckets[key] = b
	}
	b.seen = now

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return decision{allowed: false, retry: m.cfg.RefillInterval}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return decision{allowed: false, retry: delay}
	}
	return decision{allowed: true, remaining: int64(b.lim.TokensAt(now))}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	parts := []string{cfg.Prefix}
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	uid := currentUserID(c)
	route := c.Request().Method + " " + c.Path()

	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, "ip", ip)
	case "user":
		parts = append(parts, "user", uid)
	case "route":
		parts = append(parts, "route", route)
	case "ip_user":
		parts = append(parts, "ip", ip, "user", uid)
	case "ip_route":
		parts = append(parts, "ip", ip, "route", route)
	case "user_route":
		parts = append(parts, "user", uid, "route", route)
	default:
		parts = append(parts, "ip", ip, "user", uid, "route", route)
	}
	return strings.Join(parts, ":")
}
