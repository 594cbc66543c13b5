package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind tags a token with the verification context it is valid for. An
// access token must never be accepted where a refresh token is required,
// and vice versa.
type Kind string

const (
	KindAccess       Kind = "access"
	KindRefresh      Kind = "refresh"
	KindVerification Kind = "verification"
)

// Claims is the verified payload of a token.
type Claims struct {
	Subject   string
	Kind      Kind
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
}

type codecClaims struct {
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// Codec signs and verifies compact, expiring, typed tokens with a symmetric
// secret (HS256). Algorithm and secret are configuration, not logic.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithCodecIssuer sets the issuer claim embedded into every token.
func WithCodecIssuer(issuer string) CodecOption {
	return func(c *Codec) {
		c.issuer = strings.TrimSpace(issuer)
	}
}

// WithCodecClock overrides the time source used for expiry checks.
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a Codec. The secret must be non-empty.
func NewCodec(secret []byte, opts ...CodecOption) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: token secret is not configured")
	}
	c := &Codec{
		secret: secret,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue builds and signs a token of the given kind. The returned time is
// the issued-at actually embedded in the claim set, normalized to whole UTC
// seconds; callers persisting a watermark must use that value, not their
// own clock, so the stored watermark and the token stay bit-for-bit
// consistent.
func (c *Codec) Issue(kind Kind, subject string, issuedAt time.Time, ttl time.Duration) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, errors.New("auth: token subject is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("auth: token ttl must be greater than zero")
	}
	iat := issuedAt.UTC().Truncate(time.Second)
	claims := codecClaims{
		TokenType: string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(iat.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, iat, nil
}

// Verify checks signature, expiry and kind. It fails with ErrTokenMalformed,
// ErrTokenExpired or ErrTokenWrongKind; on success the claims are returned
// with timestamps converted to time values.
func (c *Codec) Verify(token string, kind Kind) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrTokenMalformed
	}
	parsed, err := jwt.ParseWithClaims(token, &codecClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenMalformed
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenMalformed
	}
	raw, ok := parsed.Claims.(*codecClaims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrTokenMalformed
	}
	if raw.IssuedAt == nil || raw.ExpiresAt == nil || strings.TrimSpace(raw.Subject) == "" {
		return Claims{}, ErrTokenMalformed
	}
	if Kind(raw.TokenType) != kind {
		return Claims{}, ErrTokenWrongKind
	}
	return Claims{
		Subject:   raw.Subject,
		Kind:      Kind(raw.TokenType),
		IssuedAt:  raw.IssuedAt.Time.UTC(),
		ExpiresAt: raw.ExpiresAt.Time.UTC(),
		ID:        raw.ID,
	}, nil
}
