package bearer

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Token errors.
var (
	// ErrEmpty indicates no token was supplied.
	ErrEmpty = errors.New("empty token")

	// ErrMalformed indicates the token could not be decoded.
	ErrMalformed = errors.New("malformed token")
)

// Token is a decoded access token.
type Token struct {
	// Raw is the token exactly as issued.
	Raw string

	// ExpiresAt is the embedded "exp" claim.
	ExpiresAt time.Time
}

type claims struct {
	Exp *json.Number `json:"exp"`
}

// Parse decodes raw and extracts its expiry.
func Parse(raw string) (Token, error) {
	if raw == "" {
		return Token{}, ErrEmpty
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 || parts[1] == "" {
		return Token{}, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformed, len(parts))
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return Token{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	var c claims
	dec := json.NewDecoder(strings.NewReader(string(payload)))
	dec.UseNumber()
	if err := dec.Decode(&c); err != nil {
		return Token{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if c.Exp == nil {
		return Token{}, fmt.Errorf("%w: missing exp claim", ErrMalformed)
	}

	exp, err := c.Exp.Float64()
	if err != nil {
		return Token{}, fmt.Errorf("%w: exp claim: %w", ErrMalformed, err)
	}

	return Token{
		Raw:       raw,
		ExpiresAt: time.Unix(int64(exp), 0),
	}, nil
}

// decodeSegment accepts both padded and unpadded base64url, and falls
// back to standard base64 for issuers that ignore the JWT alphabet.
func decodeSegment(seg string) ([]byte, error) {
	seg = strings.TrimRight(seg, "=")
	if b, err := base64.RawURLEncoding.DecodeString(seg); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(seg)
}

// ValidAt reports whether the token is still usable at now.
// The token is valid through its expiry second.
func (t Token) ValidAt(now time.Time) bool {
	return t.Raw != "" && !now.After(t.ExpiresAt)
}

// ExpiresIn returns the duration until expiry measured from now.
// Negative once expired.
func (t Token) ExpiresIn(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}

// ExpiringWithin reports whether the token expires within margin of now.
// Used for proactive refresh before the literal expiry.
func (t Token) ExpiringWithin(now time.Time, margin time.Duration) bool {
	return t.ExpiresIn(now) <= margin
}

// Valid reports whether raw is a well-formed token that has not expired.
func Valid(raw string) bool {
	return ValidAt(raw, time.Now())
}

// ValidAt is Valid evaluated at a given instant.
func ValidAt(raw string, now time.Time) bool {
	tok, err := Parse(raw)
	if err != nil {
		return false
	}
	return tok.ValidAt(now)
}
