package auth

import (
	"context"
	"time"
)

// WatermarkWindow absorbs sub-second truncation between the issued-at
// embedded in a token and the value persisted as the user's watermark.
// A lookup matches when stored >= ts and stored < ts+window.
const WatermarkWindow = time.Second

// Store describes persistence operations required by the auth subsystem.
// InTx runs fn against a transaction-scoped store; every write fn performs
// commits atomically or not at all.
type Store interface {
	Users() UserStore
	ResetRequests() ResetRequestStore
	ConsumedTokens() ConsumedTokenStore
	InTx(ctx context.Context, fn func(Store) error) error
}

// UserStore manages identity records. Create enforces email uniqueness as
// the source of truth and returns ErrAlreadyExists on a duplicate.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id int64) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)

	// FindByTokenCreationAt returns the user only if its stored watermark
	// falls within WatermarkWindow of ts. This lookup is the enforcement
	// point for token revocation by rotation.
	FindByTokenCreationAt(ctx context.Context, id int64, ts time.Time) (*User, error)

	UpdateTokenCreationAt(ctx context.Context, id int64, ts time.Time) (time.Time, error)
	UpdateLastLogin(ctx context.Context, id int64) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	Update(ctx context.Context, id int64, fields UserUpdate) (*User, error)
}

// ResetRequestStore manages pending password-reset OTP requests.
type ResetRequestStore interface {
	Create(ctx context.Context, req *ResetPasswordRequest) error
	LatestByEmail(ctx context.Context, email string) (*ResetPasswordRequest, error)
	DeleteByEmail(ctx context.Context, email string) error
}

// ConsumedTokenStore records verification-token IDs that have been used so
// magic links are single use. Consume returns ErrAlreadyExists when the id
// was seen before.
type ConsumedTokenStore interface {
	Consume(ctx context.Context, jti string, expiresAt time.Time) error
	PurgeExpired(ctx context.Context, now time.Time) error
}
