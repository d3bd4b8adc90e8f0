package session

import (
	"encoding/json"

	"github.com/labstack/echo/v4"
)

// CookieStore keeps the whole payload client-side in the app_session
// cookie as a Codec token.
type CookieStore struct {
	codec *Codec
	opts  CookieOptions
}

// NewCookieStore returns a Store backed by encrypted cookies. The cookie
// lifetime follows the codec TTL.
func NewCookieStore(codec *Codec, opts CookieOptions) *CookieStore {
	opts.MaxAge = codec.TTL()
	return &CookieStore{codec: codec, opts: opts}
}

func (s *CookieStore) load(c echo.Context) Payload {
	if p, ok := c.Get(ctxPayload).(Payload); ok {
		return p
	}
	p := Payload{}
	if ck, err := c.Cookie(TokenCookie); err == nil {
		if decoded, ok := s.codec.Decrypt(ck.Value); ok {
			p = decoded
		}
	}
	c.Set(ctxPayload, p)
	return p
}

func (s *CookieStore) save(c echo.Context, p Payload) error {
	ensureID(c, s.opts)
	token, err := s.codec.Encrypt(p)
	if err != nil {
		return err
	}
	s.opts.write(c, TokenCookie, token)
	c.Set(ctxPayload, p)
	return nil
}

func (s *CookieStore) Get(c echo.Context, key string, dst any) bool {
	raw, ok := s.load(c)[key]
	if !ok {
		return false
	}
	if dst == nil {
		return true
	}
	return json.Unmarshal(raw, dst) == nil
}

func (s *CookieStore) Set(c echo.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	p := s.load(c).clone()
	p[key] = raw
	return s.save(c, p)
}

func (s *CookieStore) Remove(c echo.Context, key string) (bool, error) {
	removed, err := s.RemoveKeys(c, []string{key})
	return len(removed) == 1, err
}

func (s *CookieStore) RemoveKeys(c echo.Context, keys []string) ([]string, error) {
	p := s.load(c).clone()
	removed := []string{}
	for _, k := range keys {
		if _, ok := p[k]; ok {
			delete(p, k)
			removed = append(removed, k)
		}
	}
	if len(removed) == 0 {
		return removed, nil
	}
	return removed, s.save(c, p)
}

func (s *CookieStore) Clear(c echo.Context) error {
	s.opts.expire(c, IDCookie)
	s.opts.expire(c, TokenCookie)
	c.Set(ctxPayload, Payload{})
	c.Set(ctxID, "")
	return nil
}
