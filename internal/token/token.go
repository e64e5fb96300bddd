// Package token issues and verifies the signed session tokens a connector
// presents when opening a tunnel. Tokens are self-describing: verification
// needs only the shared signing secret, never a session store.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

const prefix = "rct"

var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpiredToken     = errors.New("expired token")
)

// Payload is the signed content of a session token.
type Payload struct {
	ConnectorID string `json:"connectorId"`
	TenantID    string `json:"tenantId"`
	Slug        string `json:"slug"`
	IssuedAt    int64  `json:"iat"`
	ExpiresAt   int64  `json:"exp"`
}

// Codec signs and verifies session tokens with a shared HMAC-SHA256 secret.
type Codec struct {
	secret []byte
	now    func() time.Time
}

func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret), now: time.Now}
}

// NewCodecAt is NewCodec with an injectable clock, for expiry tests.
func NewCodecAt(secret string, now func() time.Time) *Codec {
	return &Codec{secret: []byte(secret), now: now}
}

func (c *Codec) sign(payload []byte) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(payload)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Issue builds a token for the given connector binding. Deterministic for a
// fixed clock, secret and inputs; no side effects.
func (c *Codec) Issue(connectorID, tenantID, slug string, ttl time.Duration) (string, error) {
	now := c.now().Unix()
	raw, err := json.Marshal(Payload{
		ConnectorID: connectorID,
		TenantID:    tenantID,
		Slug:        slug,
		IssuedAt:    now,
		ExpiresAt:   now + int64(ttl.Seconds()),
	})
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return prefix + "." + encoded + "." + c.sign(raw), nil
}

// Verify decodes and checks a token. The signature is recomputed over the
// exact decoded payload bytes, so any mutation of the payload segment fails
// with ErrInvalidSignature. Expiry uses a strict comparison: a token is
// rejected only once now is past exp.
func (c *Codec) Verify(tok string) (*Payload, error) {
	parts := strings.Split(strings.TrimSpace(tok), ".")
	if len(parts) != 3 || parts[0] != prefix {
		return nil, ErrMalformedToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrMalformedToken
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ErrMalformedToken
	}
	if p.ConnectorID == "" || p.Slug == "" || p.ExpiresAt == 0 {
		return nil, ErrMalformedToken
	}
	if !hmac.Equal([]byte(c.sign(raw)), []byte(parts[2])) {
		return nil, ErrInvalidSignature
	}
	if c.now().Unix() > p.ExpiresAt {
		return nil, ErrExpiredToken
	}
	return &p, nil
}
