package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"keygate.dev/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store used when no database DSN is configured
// and by tests. InTx runs fn directly: writes are applied immediately and
// are not rolled back on error, which is acceptable for a dev backend.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	users    map[int64]*User
	byEmail  map[string]int64
	resets   []*ResetPasswordRequest
	consumed map[string]time.Time
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:   1,
		users:    make(map[int64]*User),
		byEmail:  make(map[string]int64),
		consumed: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (s *MemoryStore) Users() UserStore                   { return (*memUserStore)(s) }
func (s *MemoryStore) ResetRequests() ResetRequestStore   { return (*memResetStore)(s) }
func (s *MemoryStore) ConsumedTokens() ConsumedTokenStore { return (*memConsumedStore)(s) }

func (s *MemoryStore) InTx(ctx context.Context, fn func(Store) error) error {
	return fn(s)
}

func cloneUser(u *User) *User {
	cp := *u
	if u.LastLogin != nil {
		t := *u.LastLogin
		cp.LastLogin = &t
	}
	if u.TokenCreationAt != nil {
		t := *u.TokenCreationAt
		cp.TokenCreationAt = &t
	}
	return &cp
}

// User store ---------------------------------------------------------------

type memUserStore MemoryStore

func (s *memUserStore) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, ok := s.byEmail[key]; ok {
		return ErrAlreadyExists
	}
	u.ID = s.nextID
	s.nextID++
	u.CreatedAt = s.now().UTC()
	u.UpdatedAt = u.CreatedAt
	s.users[u.ID] = cloneUser(u)
	s.byEmail[key] = u.ID
	return nil
}

func (s *memUserStore) Find(ctx context.Context, id int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *memUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *memUserStore) FindByTokenCreationAt(ctx context.Context, id int64, ts time.Time) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.TokenCreationAt == nil {
		return nil, ErrNotFound
	}
	stored := *u.TokenCreationAt
	if stored.Before(ts) || !stored.Before(ts.Add(WatermarkWindow)) {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *memUserStore) UpdateTokenCreationAt(ctx context.Context, id int64, ts time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	t := ts
	u.TokenCreationAt = &t
	u.UpdatedAt = s.now().UTC()
	return ts, nil
}

func (s *memUserStore) UpdateLastLogin(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	t := s.now().UTC()
	u.LastLogin = &t
	u.UpdatedAt = t
	return nil
}

func (s *memUserStore) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (s *memUserStore) Update(ctx context.Context, id int64, fields UserUpdate) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if fields.FullName != nil {
		u.FullName = *fields.FullName
	}
	if fields.OnboardingCompleted != nil {
		u.OnboardingCompleted = *fields.OnboardingCompleted
	}
	u.UpdatedAt = s.now().UTC()
	return cloneUser(u), nil
}

// Reset request store ------------------------------------------------------

type memResetStore MemoryStore

func (s *memResetStore) Create(ctx context.Context, req *ResetPasswordRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ID == "" {
		req.ID = ids.New()
	}
	cp := *req
	s.resets = append(s.resets, &cp)
	return nil
}

func (s *memResetStore) LatestByEmail(ctx context.Context, email string) (*ResetPasswordRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []*ResetPasswordRequest
	for _, r := range s.resets {
		if strings.EqualFold(r.Email, email) {
			matches = append(matches, r)
		}
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	cp := *matches[0]
	return &cp, nil
}

func (s *memResetStore) DeleteByEmail(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.resets[:0]
	for _, r := range s.resets {
		if !strings.EqualFold(r.Email, email) {
			kept = append(kept, r)
		}
	}
	s.resets = kept
	return nil
}

// Consumed token store -----------------------------------------------------

type memConsumedStore MemoryStore

func (s *memConsumedStore) Consume(ctx context.Context, jti string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consumed[jti]; ok {
		return ErrAlreadyExists
	}
	s.consumed[jti] = expiresAt
	return nil
}

func (s *memConsumedStore) PurgeExpired(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for jti, exp := range s.consumed {
		if exp.Before(now) {
			delete(s.consumed, jti)
		}
	}
	return nil
}
