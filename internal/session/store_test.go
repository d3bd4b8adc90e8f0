package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// newContext builds an echo context whose request carries cookies.
func newContext(cookies []*http.Cookie) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	// a browser keeps the last value set per name and drops expired ones
	jar := map[string]string{}
	var order []string
	for _, ck := range cookies {
		if _, seen := jar[ck.Name]; !seen {
			order = append(order, ck.Name)
		}
		jar[ck.Name] = ck.Value
		if ck.MaxAge < 0 {
			jar[ck.Name] = ""
		}
	}
	for _, name := range order {
		if v := jar[name]; v != "" {
			req.AddCookie(&http.Cookie{Name: name, Value: v})
		}
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func cookieByName(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	var found *http.Cookie
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == name {
			found = ck
		}
	}
	return found
}

type storeFactory func(t *testing.T) Store

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"cookie": func(t *testing.T) Store {
			return NewCookieStore(newTestCodec(t), CookieOptions{})
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return NewRedisStore(rdb, 7*24*time.Hour, CookieOptions{})
		},
	}
}

func TestStoreSetThenGet(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			c, rec := newContext(nil)

			want := Identity{ID: "u1", Email: "a@clinic.local", Name: "A", Role: "ADMIN"}
			if err := s.Set(c, UserKey, want); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			// same request
			if got, ok := CurrentUser(s, c); !ok || got != want {
				t.Fatalf("CurrentUser() same request = %+v, %v", got, ok)
			}

			idCookie := cookieByName(rec, IDCookie)
			if idCookie == nil || idCookie.Value == "" {
				t.Fatal("session_id cookie not issued")
			}
			if !idCookie.HttpOnly || idCookie.SameSite != http.SameSiteLaxMode {
				t.Fatalf("session_id cookie flags = %+v", idCookie)
			}
			if idCookie.MaxAge != int((7 * 24 * time.Hour).Seconds()) {
				t.Fatalf("session_id MaxAge = %d", idCookie.MaxAge)
			}

			// next request
			next, _ := newContext(rec.Result().Cookies())
			if got, ok := CurrentUser(s, next); !ok || got != want {
				t.Fatalf("CurrentUser() next request = %+v, %v", got, ok)
			}
		})
	}
}

func TestStoreRemove(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			c, rec := newContext(nil)
			_ = s.Set(c, "a", 1)
			_ = s.Set(c, "b", 2)

			next, rec2 := newContext(rec.Result().Cookies())
			removed, err := s.Remove(next, "a")
			if err != nil || !removed {
				t.Fatalf("Remove(a) = %v, %v", removed, err)
			}
			if s.Get(next, "a", nil) {
				t.Fatal("Get(a) after Remove found a value")
			}
			removed, err = s.Remove(next, "missing")
			if err != nil || removed {
				t.Fatalf("Remove(missing) = %v, %v", removed, err)
			}

			cookies := append(rec.Result().Cookies(), rec2.Result().Cookies()...)
			third, _ := newContext(cookies)
			var b int
			if !s.Get(third, "b", &b) || b != 2 {
				t.Fatalf("Get(b) = %d", b)
			}
			if s.Get(third, "a", nil) {
				t.Fatal("Get(a) on later request found a value")
			}
		})
	}
}

func TestStoreRemoveKeysReportsPresentOnly(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			c, _ := newContext(nil)
			_ = s.Set(c, "x", "1")
			_ = s.Set(c, "y", "2")

			got, err := s.RemoveKeys(c, []string{"x", "nope", "y"})
			if err != nil {
				t.Fatalf("RemoveKeys() error = %v", err)
			}
			if len(got) != 2 || got[0] != "x" || got[1] != "y" {
				t.Fatalf("RemoveKeys() = %v, want [x y]", got)
			}
		})
	}
}

func TestStoreClear(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			c, rec := newContext(nil)
			_ = s.Set(c, UserKey, Identity{ID: "u1", Role: "ADMIN"})

			next, rec2 := newContext(rec.Result().Cookies())
			if err := s.Clear(next); err != nil {
				t.Fatalf("Clear() error = %v", err)
			}
			if _, ok := CurrentUser(s, next); ok {
				t.Fatal("CurrentUser() after Clear still signed in")
			}
			for _, name := range []string{IDCookie, TokenCookie} {
				ck := cookieByName(rec2, name)
				if ck == nil || ck.MaxAge >= 0 {
					t.Fatalf("cookie %s not expired: %+v", name, ck)
				}
			}
		})
	}
}

func TestCookieStoreIgnoresTamperedCookie(t *testing.T) {
	s := NewCookieStore(newTestCodec(t), CookieOptions{Secure: true})
	c, rec := newContext(nil)
	_ = s.Set(c, UserKey, Identity{ID: "u1", Role: "ADMIN"})

	tok := cookieByName(rec, TokenCookie)
	if tok == nil || !tok.Secure {
		t.Fatalf("app_session cookie = %+v", tok)
	}
	forged := []*http.Cookie{{Name: TokenCookie, Value: tok.Value + "x"}}
	next, _ := newContext(forged)
	if _, ok := CurrentUser(s, next); ok {
		t.Fatal("tampered cookie accepted")
	}
}

func TestRedisStoreExpiresHash(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	s := NewRedisStore(rdb, time.Hour, CookieOptions{})

	c, rec := newContext(nil)
	if err := s.Set(c, "k", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	id := cookieByName(rec, IDCookie).Value
	if ttl := mr.TTL("session:" + id); ttl != time.Hour {
		t.Fatalf("TTL = %s, want 1h", ttl)
	}
	mr.FastForward(2 * time.Hour)
	next, _ := newContext(rec.Result().Cookies())
	if s.Get(next, "k", nil) {
		t.Fatal("Get() after expiry found a value")
	}
}
