package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"keygate.dev/internal/ids"
)

// dbtx is the subset of database/sql used by the stores; both *sql.DB and
// *sql.Tx satisfy it, which is what makes InTx work.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
	tx dbtx
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) handle() dbtx {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *PGStore) Users() UserStore                   { return &pgUserStore{db: s.handle()} }
func (s *PGStore) ResetRequests() ResetRequestStore   { return &pgResetStore{db: s.handle()} }
func (s *PGStore) ConsumedTokens() ConsumedTokenStore { return &pgConsumedStore{db: s.handle()} }

// InTx runs fn against a transaction-backed store, committing on success
// and rolling back on error. Nested calls reuse the outer transaction.
func (s *PGStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&PGStore{db: s.db, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// User store ---------------------------------------------------------------

type pgUserStore struct{ db dbtx }

const userColumns = `id, full_name, email, password_hash, onboarding_completed, created_at, updated_at, last_login, token_creation_at`

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.PasswordHash, &u.OnboardingCompleted,
		&u.CreatedAt, &u.UpdatedAt, &u.LastLogin, &u.TokenCreationAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *pgUserStore) Create(ctx context.Context, u *User) error {
	row := s.db.QueryRowContext(ctx,
		`insert into users(full_name, email, password_hash)
		 values($1,$2,$3)
		 returning id, created_at, updated_at`,
		u.FullName, u.Email, u.PasswordHash,
	)
	if err := row.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *pgUserStore) Find(ctx context.Context, id int64) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *pgUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email))
}

func (s *pgUserStore) FindByTokenCreationAt(ctx context.Context, id int64, ts time.Time) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users
		 where id=$1 and token_creation_at >= $2 and token_creation_at < $3`,
		id, ts, ts.Add(WatermarkWindow)))
}

func (s *pgUserStore) UpdateTokenCreationAt(ctx context.Context, id int64, ts time.Time) (time.Time, error) {
	res, err := s.db.ExecContext(ctx,
		`update users set token_creation_at=$2, updated_at=now() where id=$1`, id, ts)
	if err != nil {
		return time.Time{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return time.Time{}, ErrNotFound
	}
	return ts, nil
}

func (s *pgUserStore) UpdateLastLogin(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`update users set last_login=now(), updated_at=now() where id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgUserStore) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`, id, passwordHash)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgUserStore) Update(ctx context.Context, id int64, fields UserUpdate) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`update users set
		   full_name = coalesce($2, full_name),
		   onboarding_completed = coalesce($3, onboarding_completed),
		   updated_at = now()
		 where id=$1
		 returning `+userColumns,
		id, fields.FullName, fields.OnboardingCompleted))
}

// Reset request store ------------------------------------------------------

type pgResetStore struct{ db dbtx }

func (s *pgResetStore) Create(ctx context.Context, req *ResetPasswordRequest) error {
	if req.ID == "" {
		req.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into reset_password_requests(id, email, code, created_at, expires_at)
		 values($1,$2,$3,$4,$5)`,
		req.ID, req.Email, req.Code, req.CreatedAt, req.ExpiresAt,
	)
	return err
}

func (s *pgResetStore) LatestByEmail(ctx context.Context, email string) (*ResetPasswordRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, email, code, created_at, expires_at
		 from reset_password_requests
		 where email=$1
		 order by created_at desc
		 limit 1`, email)
	var req ResetPasswordRequest
	err := row.Scan(&req.ID, &req.Email, &req.Code, &req.CreatedAt, &req.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *pgResetStore) DeleteByEmail(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from reset_password_requests where email=$1`, email)
	return err
}

// Consumed token store -----------------------------------------------------

type pgConsumedStore struct{ db dbtx }

func (s *pgConsumedStore) Consume(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`insert into consumed_tokens(jti, expires_at) values($1,$2)`, jti, expiresAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *pgConsumedStore) PurgeExpired(ctx context.Context, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`delete from consumed_tokens where expires_at < $1`, now)
	return err
}
