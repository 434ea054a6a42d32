// Package auth issues and checks compact HS256 tokens. replayd presents them
// to the live feed and demands them on its admin endpoints.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Token audiences used by the replay daemon.
const (
	AudienceAdmin = "replay-admin"
	AudienceFeed  = "replay-feed"
)

var (
	// ErrInvalidToken indicates the token failed signature checks or had malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
	// ErrWrongAudience is returned when a valid token was minted for another audience.
	ErrWrongAudience = errors.New("token audience mismatch")
)

// Claims is the payload carried by a token.
type Claims struct {
	Subject   string
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type header struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
}

type payload struct {
	Subject  string `json:"sub"`
	Audience string `json:"aud,omitempty"`
	Issued   int64  `json:"iat"`
	Expires  int64  `json:"exp"`
}

// Tokens signs and verifies tokens with one shared secret.
type Tokens struct {
	secret []byte
	leeway time.Duration
	now    func() time.Time
}

// NewTokens constructs a token authority for secret, tolerating leeway of
// clock skew on expiry.
func NewTokens(secret string, leeway time.Duration) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("hmac secret must not be empty")
	}
	return &Tokens{secret: []byte(secret), leeway: max(leeway, 0), now: time.Now}, nil
}

// WithClock overrides the clock used for issuing and expiry checks.
func (t *Tokens) WithClock(clock func() time.Time) {
	if clock != nil {
		t.now = clock
	}
}

// Issue mints a token for subject and audience valid for ttl.
func (t *Tokens) Issue(subject, audience string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("token subject must not be empty")
	}
	if ttl <= 0 {
		return "", errors.New("token ttl must be positive")
	}
	now := t.now()
	head, err := json.Marshal(header{Algorithm: "HS256", Type: "JWT"})
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload{Subject: subject, Audience: audience, Issued: now.Unix(), Expires: now.Add(ttl).Unix()})
	if err != nil {
		return "", err
	}
	signed := encodeSegment(head) + "." + encodeSegment(body)
	return signed + "." + encodeSegment(t.sign(signed)), nil
}

// Verify checks the signature, expiry and audience of token. An empty
// audience accepts any.
func (t *Tokens) Verify(token, audience string) (Claims, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return Claims{}, ErrInvalidToken
	}

	//1.- Reject foreign algorithms before trusting the signature.
	var head header
	if err := decodeJSON(parts[0], &head); err != nil {
		return Claims{}, err
	}
	if head.Algorithm != "HS256" {
		return Claims{}, fmt.Errorf("%w: unexpected algorithm %q", ErrInvalidToken, head.Algorithm)
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || !hmac.Equal(signature, t.sign(parts[0]+"."+parts[1])) {
		return Claims{}, ErrInvalidToken
	}

	//2.- Then the claims themselves.
	var body payload
	if err := decodeJSON(parts[1], &body); err != nil {
		return Claims{}, err
	}
	if strings.TrimSpace(body.Subject) == "" || body.Expires <= 0 {
		return Claims{}, ErrInvalidToken
	}
	claims := Claims{
		Subject:   body.Subject,
		Audience:  body.Audience,
		IssuedAt:  time.Unix(body.Issued, 0),
		ExpiresAt: time.Unix(body.Expires, 0),
	}
	if claims.ExpiresAt.Add(t.leeway).Before(t.now()) {
		return Claims{}, ErrExpiredToken
	}
	if audience != "" && claims.Audience != audience {
		return Claims{}, fmt.Errorf("%w: want %q, got %q", ErrWrongAudience, audience, claims.Audience)
	}
	return claims, nil
}

func (t *Tokens) sign(data string) []byte {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func encodeSegment(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeJSON(segment string, out any) error {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return ErrInvalidToken
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return ErrInvalidToken
	}
	return nil
}
