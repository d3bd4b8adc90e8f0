// Package session keeps per-browser state in cookies. Values live either
// inside a signed and encrypted token (CookieStore) or in Redis keyed by the
// session id cookie (RedisStore). Both satisfy Store.
package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Payload is the decoded key/value map carried by a session.
type Payload map[string]json.RawMessage

func (p Payload) clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

type tokenClaims struct {
	Data string `json:"data"`
	jwt.RegisteredClaims
}

// Codec turns a Payload into an HS256 token and back. The payload JSON is
// sealed with AES-256-GCM before signing, so the cookie is opaque to the
// browser as well as tamper evident.
type Codec struct {
	signKey []byte
	aead    cipher.AEAD
	ttl     time.Duration
	now     func() time.Time
}

// NewCodec derives the encryption key from secret and returns a codec whose
// tokens expire after ttl.
func NewCodec(secret string, ttl time.Duration) (*Codec, error) {
	if len(secret) < 32 {
		return nil, errors.New("session secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	encKey := sha256.Sum256([]byte("session-encryption:" + secret))
	block, err := aes.NewCipher(encKey[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Codec{signKey: []byte(secret), aead: aead, ttl: ttl, now: time.Now}, nil
}

// TTL is the lifetime given to every token and cookie.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Encrypt seals and signs p.
func (c *Codec) Encrypt(p Payload) (string, error) {
	if p == nil {
		p = Payload{}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, raw, nil)

	now := c.now().UTC()
	claims := tokenClaims{
		Data: base64.RawURLEncoding.EncodeToString(sealed),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.signKey)
}

// Decrypt verifies and opens token. Any failure (bad signature, wrong
// algorithm, expiry, bad ciphertext, bad JSON) yields (nil, false).
func (c *Codec) Decrypt(token string) (Payload, bool) {
	if token == "" {
		return nil, false
	}
	var claims tokenClaims
	tok, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (interface{}, error) { return c.signKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !tok.Valid {
		return nil, false
	}
	sealed, err := base64.RawURLEncoding.DecodeString(claims.Data)
	if err != nil {
		return nil, false
	}
	ns := c.aead.NonceSize()
	if len(sealed) < ns {
		return nil, false
	}
	raw, err := c.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, false
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false
	}
	if p == nil {
		p = Payload{}
	}
	return p, true
}
