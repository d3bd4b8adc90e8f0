package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisStore keeps values server-side in a hash named session:<session_id>
// that expires with the cookie. Only the session_id cookie is sent to the
// browser; app_session is cleared when the session is.
type RedisStore struct {
	rdb    *redis.Client
	opts   CookieOptions
	prefix string
}

// NewRedisStore returns a Store backed by rdb with the given lifetime.
func NewRedisStore(rdb *redis.Client, ttl time.Duration, opts CookieOptions) *RedisStore {
	opts.MaxAge = ttl
	return &RedisStore{rdb: rdb, opts: opts, prefix: "session:"}
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) Get(c echo.Context, key string, dst any) bool {
	id := sessionID(c)
	if id == "" {
		return false
	}
	raw, err := s.rdb.HGet(c.Request().Context(), s.key(id), key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Msg("session: redis read failed")
		}
		return false
	}
	if dst == nil {
		return true
	}
	return json.Unmarshal(raw, dst) == nil
}

func (s *RedisStore) Set(c echo.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	id := ensureID(c, s.opts)
	ctx := c.Request().Context()
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(id), key, raw)
		pipe.Expire(ctx, s.key(id), s.opts.MaxAge)
		return nil
	})
	return err
}

func (s *RedisStore) Remove(c echo.Context, key string) (bool, error) {
	removed, err := s.RemoveKeys(c, []string{key})
	return len(removed) == 1, err
}

func (s *RedisStore) RemoveKeys(c echo.Context, keys []string) ([]string, error) {
	removed := []string{}
	id := sessionID(c)
	if id == "" || len(keys) == 0 {
		return removed, nil
	}
	ctx := c.Request().Context()
	cmds := make([]*redis.IntCmd, len(keys))
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HDel(ctx, s.key(id), k)
		}
		return nil
	})
	if err != nil {
		return removed, err
	}
	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			removed = append(removed, keys[i])
		}
	}
	return removed, nil
}

func (s *RedisStore) Clear(c echo.Context) error {
	var err error
	if id := sessionID(c); id != "" {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		err = s.rdb.Del(ctx, s.key(id)).Err()
	}
	s.opts.expire(c, IDCookie)
	s.opts.expire(c, TokenCookie)
	c.Set(ctxID, "")
	return err
}
