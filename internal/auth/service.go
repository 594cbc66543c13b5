package auth

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"keygate.dev/internal/obs"
)

const (
	defaultAccessTTL       = 30 * time.Minute
	defaultRefreshTTL      = 7 * 24 * time.Hour
	defaultVerificationTTL = 10 * time.Minute

	mailDispatchTimeout = 10 * time.Second
)

// Mailer delivers out-of-band messages. Sends are best effort: the service
// dispatches them in the background and never propagates a failure to the
// caller of the triggering flow.
type Mailer interface {
	SendMagicLink(ctx context.Context, email, link string) error
	SendResetOTP(ctx context.Context, email, code string) error
}

// Service composes hasher, codec, OTP generator and stores into the signup,
// login, refresh, reset-password and magic-link flows. It owns the
// token-invalidation invariant: every issuance event persists the embedded
// issued-at as the user's new watermark.
type Service struct {
	store  Store
	codec  *Codec
	hasher Hasher
	otp    OTPGenerator
	mailer Mailer
	now    func() time.Time

	accessTTL       time.Duration
	refreshTTL      time.Duration
	verificationTTL time.Duration
	magicLinkBase   string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithHasher replaces the credential hasher.
func WithHasher(h Hasher) ServiceOption {
	return func(s *Service) { s.hasher = h }
}

// WithOTPGenerator replaces the one-time-code generator.
func WithOTPGenerator(g OTPGenerator) ServiceOption {
	return func(s *Service) { s.otp = g }
}

// WithMailer sets the outbound email collaborator.
func WithMailer(m Mailer) ServiceOption {
	return func(s *Service) { s.mailer = m }
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithVerificationTTL configures magic-link token lifetime.
func WithVerificationTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.verificationTTL = ttl
		}
	}
}

// WithMagicLinkBaseURL sets the URL the emailed verification token is
// appended to.
func WithMagicLinkBaseURL(base string) ServiceOption {
	return func(s *Service) { s.magicLinkBase = strings.TrimSpace(base) }
}

// NewService constructs the orchestrator with optional configuration.
func NewService(store Store, codec *Codec, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if codec == nil {
		return nil, errors.New("auth: codec is required")
	}
	s := &Service{
		store:           store,
		codec:           codec,
		hasher:          NewHasher(DefaultBcryptCost),
		otp:             NewOTPGenerator(DefaultOTPLength, DefaultOTPTTL),
		now:             time.Now,
		accessTTL:       defaultAccessTTL,
		refreshTTL:      defaultRefreshTTL,
		verificationTTL: defaultVerificationTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.otp.now = s.now
	return s, nil
}

// NormalizeEmail lower-cases and trims an address; every flow keys users by
// the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func subjectFor(id int64) string { return strconv.FormatInt(id, 10) }

func parseSubject(sub string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(sub), 10, 64)
}

// nextIssueTime picks the issued-at for a new token family. Issue times are
// second-granular, so two issuance events inside one second would otherwise
// alias; the new watermark is forced strictly past the previous one.
func (s *Service) nextIssueTime(prev *time.Time) time.Time {
	at := s.now().UTC().Truncate(time.Second)
	if prev != nil && !at.After(prev.UTC().Truncate(time.Second)) {
		at = prev.UTC().Truncate(time.Second).Add(WatermarkWindow)
	}
	return at
}

// mintPair issues a refresh token and an access token sharing one issued-at.
// The returned time is the watermark the caller must persist.
func (s *Service) mintPair(subject string, issuedAt time.Time) (TokenPair, time.Time, error) {
	refresh, iat, err := s.codec.Issue(KindRefresh, subject, issuedAt, s.refreshTTL)
	if err != nil {
		return TokenPair{}, time.Time{}, err
	}
	access, _, err := s.codec.Issue(KindAccess, subject, iat, s.accessTTL)
	if err != nil {
		return TokenPair{}, time.Time{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  iat.Add(s.accessTTL),
		RefreshExpiresAt: iat.Add(s.refreshTTL),
	}, iat, nil
}

// Signup registers a new user and issues its first token family.
func (s *Service) Signup(ctx context.Context, fullName, email, password string) (*User, TokenPair, error) {
	email = NormalizeEmail(email)
	fullName = strings.TrimSpace(fullName)
	if email == "" || password == "" {
		return nil, TokenPair{}, ErrInvalidInput
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, TokenPair{}, err
	}

	var (
		user *User
		pair TokenPair
	)
	err = s.store.InTx(ctx, func(tx Store) error {
		users := tx.Users()
		if _, err := users.FindByEmail(ctx, email); err == nil {
			return ErrAlreadyExists
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		u := &User{FullName: fullName, Email: email, PasswordHash: hash}
		if err := users.Create(ctx, u); err != nil {
			return err
		}

		p, iat, err := s.mintPair(subjectFor(u.ID), s.nextIssueTime(nil))
		if err != nil {
			return err
		}
		if _, err := users.UpdateTokenCreationAt(ctx, u.ID, iat); err != nil {
			return err
		}
		t := iat
		u.TokenCreationAt = &t
		user, pair = u, p
		return nil
	})
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, pair, nil
}

// Login verifies credentials and rotates the token family, invalidating any
// previously issued tokens for the user. Unknown email and wrong password
// fail identically so responses cannot be used for account enumeration.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, error) {
	email = NormalizeEmail(email)
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrUnauthorized
		}
		return TokenPair{}, err
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return TokenPair{}, ErrUnauthorized
	}

	var pair TokenPair
	err = s.store.InTx(ctx, func(tx Store) error {
		users := tx.Users()
		if err := users.UpdateLastLogin(ctx, user.ID); err != nil {
			return err
		}
		p, iat, err := s.mintPair(subjectFor(user.ID), s.nextIssueTime(user.TokenCreationAt))
		if err != nil {
			return err
		}
		if _, err := users.UpdateTokenCreationAt(ctx, user.ID, iat); err != nil {
			return err
		}
		pair = p
		return nil
	})
	if err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Refresh exchanges a valid refresh token for a new access token. The new
// access token is re-stamped with the refresh token's issued-at, never the
// current time, so a rotated refresh token invalidates every access token
// derived from the prior epoch.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, time.Time, error) {
	claims, err := s.codec.Verify(refreshToken, KindRefresh)
	if err != nil {
		return "", time.Time{}, ErrUnauthorized
	}
	id, err := parseSubject(claims.Subject)
	if err != nil {
		return "", time.Time{}, ErrUnauthorized
	}
	if _, err := s.store.Users().FindByTokenCreationAt(ctx, id, claims.IssuedAt); err != nil {
		return "", time.Time{}, ErrUnauthorized
	}

	access, iat, err := s.codec.Issue(KindAccess, claims.Subject, claims.IssuedAt, s.accessTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	// Idempotent: the watermark already holds the refresh token's epoch.
	if _, err := s.store.Users().UpdateTokenCreationAt(ctx, id, iat); err != nil {
		return "", time.Time{}, err
	}
	return access, iat.Add(s.accessTTL), nil
}

// Authenticate validates an access token against both its own claims and
// the user's current watermark. Used by the HTTP authentication middleware.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*User, error) {
	claims, err := s.codec.Verify(accessToken, KindAccess)
	if err != nil {
		return nil, ErrUnauthorized
	}
	id, err := parseSubject(claims.Subject)
	if err != nil {
		return nil, ErrUnauthorized
	}
	user, err := s.store.Users().FindByTokenCreationAt(ctx, id, claims.IssuedAt)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return user, nil
}

// RequestPasswordReset generates an OTP challenge and emails it. The HTTP
// boundary answers with the same generic acknowledgement whether or not the
// email is known; only internal callers see ErrUnauthorized.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if _, err := s.store.Users().FindByEmail(ctx, email); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUnauthorized
		}
		return err
	}

	code, err := s.otp.Generate()
	if err != nil {
		return err
	}
	req := &ResetPasswordRequest{
		Email:     email,
		Code:      code.Code,
		CreatedAt: code.CreatedAt,
		ExpiresAt: code.ExpiresAt,
	}
	if err := s.store.ResetRequests().Create(ctx, req); err != nil {
		return err
	}

	s.dispatch("reset otp", func(ctx context.Context) error {
		return s.mailer.SendResetOTP(ctx, email, code.Code)
	})
	return nil
}

// ValidateResetOTP checks the submitted code against the most recent pending
// request. Expired means the expiry has passed; the request is consumed on
// success.
func (s *Service) ValidateResetOTP(ctx context.Context, email, code string) error {
	email = NormalizeEmail(email)
	req, err := s.store.ResetRequests().LatestByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUnauthorized
		}
		return err
	}
	if req.Code != code {
		return ErrUnauthorized
	}
	if s.now().UTC().After(req.ExpiresAt) {
		return ErrUnauthorized
	}
	return s.store.ResetRequests().DeleteByEmail(ctx, email)
}

// ResetPassword replaces the user's password hash and revokes every
// outstanding token by moving the watermark: no issued token carries the
// new epoch, so all previously issued families fail verification.
func (s *Service) ResetPassword(ctx context.Context, email, newPassword string) error {
	email = NormalizeEmail(email)
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUnauthorized
		}
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	return s.store.InTx(ctx, func(tx Store) error {
		users := tx.Users()
		if err := users.UpdatePassword(ctx, user.ID, hash); err != nil {
			return err
		}
		_, err := users.UpdateTokenCreationAt(ctx, user.ID, s.nextIssueTime(user.TokenCreationAt))
		return err
	})
}

// MagicLinkLogin issues a verification token and emails a login link.
func (s *Service) MagicLinkLogin(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUnauthorized
		}
		return err
	}

	token, _, err := s.codec.Issue(KindVerification, subjectFor(user.ID), s.now(), s.verificationTTL)
	if err != nil {
		return err
	}
	link := s.magicLinkBase + "?token=" + url.QueryEscape(token)

	s.dispatch("magic link", func(ctx context.Context) error {
		return s.mailer.SendMagicLink(ctx, email, link)
	})
	return nil
}

// VerifyMagicLink validates a verification token, consumes it (magic links
// are single use) and mints a fresh session exactly like a login.
func (s *Service) VerifyMagicLink(ctx context.Context, token string) (*User, TokenPair, error) {
	claims, err := s.codec.Verify(token, KindVerification)
	if err != nil || claims.ID == "" {
		return nil, TokenPair{}, ErrUnauthorized
	}
	id, err := parseSubject(claims.Subject)
	if err != nil {
		return nil, TokenPair{}, ErrUnauthorized
	}

	var (
		user *User
		pair TokenPair
	)
	err = s.store.InTx(ctx, func(tx Store) error {
		if err := tx.ConsumedTokens().Consume(ctx, claims.ID, claims.ExpiresAt); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				return ErrUnauthorized
			}
			return err
		}
		users := tx.Users()
		u, err := users.Find(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrUnauthorized
			}
			return err
		}
		if err := users.UpdateLastLogin(ctx, u.ID); err != nil {
			return err
		}
		p, iat, err := s.mintPair(subjectFor(u.ID), s.nextIssueTime(u.TokenCreationAt))
		if err != nil {
			return err
		}
		if _, err := users.UpdateTokenCreationAt(ctx, u.ID, iat); err != nil {
			return err
		}
		// Housekeeping while we hold the transaction anyway.
		_ = tx.ConsumedTokens().PurgeExpired(ctx, s.now().UTC())
		user, pair = u, p
		return nil
	})
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, pair, nil
}

// GetUser loads a user by id.
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.store.Users().Find(ctx, id)
}

// UpdateProfile applies a partial profile update.
func (s *Service) UpdateProfile(ctx context.Context, id int64, fields UserUpdate) (*User, error) {
	return s.store.Users().Update(ctx, id, fields)
}

func (s *Service) dispatch(what string, send func(context.Context) error) {
	if s.mailer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mailDispatchTimeout)
		defer cancel()
		if err := send(ctx); err != nil {
			obs.LogEntry(map[string]any{
				"level": "error",
				"msg":   "mail_dispatch_failed",
				"what":  what,
				"error": err.Error(),
			})
		}
	}()
}
