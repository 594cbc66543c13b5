package auth

import (
	"crypto/rand"
	"math/big"
	"time"
)

const (
	// DefaultOTPLength is the number of digits in a reset code.
	DefaultOTPLength = 6
	// DefaultOTPTTL bounds how long a reset code stays valid.
	DefaultOTPTTL = time.Minute
)

// OTP is a short-lived numeric one-time code.
type OTP struct {
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// OTPGenerator produces one-time codes. Each digit is drawn uniformly from
// 0-9 using a cryptographically secure source.
type OTPGenerator struct {
	length int
	ttl    time.Duration
	now    func() time.Time
}

// NewOTPGenerator constructs a generator; non-positive length or ttl fall
// back to the defaults.
func NewOTPGenerator(length int, ttl time.Duration) OTPGenerator {
	if length <= 0 {
		length = DefaultOTPLength
	}
	if ttl <= 0 {
		ttl = DefaultOTPTTL
	}
	return OTPGenerator{length: length, ttl: ttl, now: time.Now}
}

// Generate returns a fresh code with its validity window.
func (g OTPGenerator) Generate() (OTP, error) {
	digits := make([]byte, g.length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return OTP{}, err
		}
		digits[i] = byte('0' + n.Int64())
	}
	created := g.now().UTC()
	return OTP{
		Code:      string(digits),
		CreatedAt: created,
		ExpiresAt: created.Add(g.ttl),
	}, nil
}
