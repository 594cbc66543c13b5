package auth

import "time"

// User is an identity record. TokenCreationAt is the watermark of the
// currently valid token family: any token whose issued-at does not fall
// inside the watermark window fails verification regardless of its own
// signature and expiry.
type User struct {
	ID                  int64
	FullName            string
	Email               string
	PasswordHash        string
	OnboardingCompleted bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
	LastLogin           *time.Time
	TokenCreationAt     *time.Time
}

// UserUpdate carries the mutable profile fields; nil means "leave as is".
type UserUpdate struct {
	FullName            *string
	OnboardingCompleted *bool
}

// ResetPasswordRequest is a pending OTP challenge for one email. The store
// may retain history; lookups always select the most recent by CreatedAt.
type ResetPasswordRequest struct {
	ID        string
	Email     string
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
