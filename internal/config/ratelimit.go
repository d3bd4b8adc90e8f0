package config

import "time"

// RateLimitConfig configures a token bucket. The API and the login endpoint
// get separate buckets; see LoadRateLimitConfig and LoadLoginRateLimitConfig.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string
	Prefix         string
	Debug          bool
}

// LoadRateLimitConfig returns the bucket applied to every API route.
func LoadRateLimitConfig() RateLimitConfig {
	return normalize(RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true),
		Capacity:       envInt("RATE_LIMIT_CAPACITY", 120),
		RefillTokens:   envInt("RATE_LIMIT_REFILL_TOKENS", 2),
		RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
		TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:    getenv("RATE_LIMIT_KEY_STRATEGY", "ip_user_route"),
		Prefix:         getenv("RATE_LIMIT_PREFIX", "clinic:rl"),
		Debug:          envBool("RATE_LIMIT_DEBUG", false),
	})
}

// LoadLoginRateLimitConfig returns the stricter per-IP bucket for POST /auth/login.
func LoadLoginRateLimitConfig() RateLimitConfig {
	return normalize(RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true),
		Capacity:       envInt("LOGIN_RATE_LIMIT_CAPACITY", 10),
		RefillTokens:   1,
		RefillInterval: envDur("LOGIN_RATE_LIMIT_REFILL_EVERY", 6*time.Second),
		TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:    "ip_route",
		Prefix:         getenv("RATE_LIMIT_PREFIX", "clinic:rl") + ":login",
		Debug:          envBool("RATE_LIMIT_DEBUG", false),
	})
}

func normalize(c RateLimitConfig) RateLimitConfig {
	if c.Capacity < 1 {
		c.Capacity = 1
	}
	if c.RefillTokens < 1 {
		c.RefillTokens = 1
	}
	if c.RefillInterval <= 0 {
		c.RefillInterval = time.Second
	}
	if minTTL := 5 * c.RefillInterval; c.TTL < minTTL {
		c.TTL = minTTL
	}
	return c
}
