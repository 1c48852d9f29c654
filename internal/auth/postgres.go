package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"gamegate.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Accounts(context.Context) AccountStore { return &accountStore{db: s.db} }
func (s *PGStore) Roles(context.Context) RoleStore       { return &roleStore{db: s.db} }
func (s *PGStore) RefreshTokens(context.Context) RefreshTokenStore {
	return &refreshTokenStore{db: s.db}
}

const pgUniqueViolation = "23505"

func mapConstraintError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrAlreadyExists
	}
	return err
}

// Account store ------------------------------------------------------------

type accountStore struct{ db *sql.DB }

const accountColumns = `id, email, password_hash, role, active,
	two_factor_enabled, two_factor_method, two_factor_confirmed_at,
	provider_subject, created_at, updated_at`

func (s *accountStore) Insert(ctx context.Context, a *Account) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into accounts(id, email, password_hash, role, active, two_factor_enabled)
		 values($1,$2,$3,$4,$5,$6)`,
		a.ID, a.Email, a.PasswordHash, a.Role, a.Active, a.TwoFactorEnabled,
	)
	if err != nil {
		return mapConstraintError(err)
	}
	return nil
}

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var (
		a           Account
		method      sql.NullString
		confirmedAt sql.NullTime
		subject     sql.NullString
	)
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Role, &a.Active,
		&a.TwoFactorEnabled, &method, &confirmedAt, &subject,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.TwoFactorMethod = method.String
	if confirmedAt.Valid {
		t := confirmedAt.Time
		a.TwoFactorConfirmedAt = &t
	}
	a.ProviderSubject = subject.String
	return &a, nil
}

func (s *accountStore) FindByID(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id=$1`, id)
	return scanAccount(row)
}

func (s *accountStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where email=$1`, email)
	return scanAccount(row)
}

func (s *accountStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set password_hash=$2, updated_at=now() where id=$1`,
		id, passwordHash)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *accountStore) UpdateRole(ctx context.Context, id, role string) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set role=$2, updated_at=now() where id=$1`, id, role)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *accountStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set active=$2, updated_at=now() where id=$1`, id, active)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *accountStore) UpdateTwoFactor(ctx context.Context, id string, upd TwoFactorUpdate) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set
			two_factor_enabled      = coalesce($2, two_factor_enabled),
			two_factor_method       = coalesce($3, two_factor_method),
			two_factor_confirmed_at = case when $5 then null else coalesce($4, two_factor_confirmed_at) end,
			provider_subject        = coalesce($6, provider_subject),
			updated_at              = now()
		 where id=$1`,
		id, upd.Enabled, upd.Method, upd.ConfirmedAt, upd.ClearConfirmed, upd.ProviderSubject)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Role store ---------------------------------------------------------------

type roleStore struct{ db *sql.DB }

func (s *roleStore) Ensure(ctx context.Context, roles []Role) error {
	for _, r := range roles {
		if r.ID == "" {
			r.ID = ids.New()
		}
		_, err := s.db.ExecContext(ctx,
			`insert into roles(id, name, description) values($1,$2,$3)
			 on conflict (name) do nothing`,
			r.ID, r.Name, r.Description)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*Role, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, description, created_at from roles where name=$1`, name)
	var r Role
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *roleStore) List(ctx context.Context) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, description, created_at from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, &r)
	}
	return roles, rows.Err()
}

// Refresh token store ------------------------------------------------------

type refreshTokenStore struct{ db *sql.DB }

func (s *refreshTokenStore) Create(ctx context.Context, rec *RefreshTokenRecord) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, account_id, token_hash, expires_at)
		 values($1,$2,$3,$4)`,
		rec.ID, rec.AccountID, rec.TokenHash, rec.ExpiresAt)
	if err != nil {
		return mapConstraintError(err)
	}
	return nil
}

func (s *refreshTokenStore) FindByHash(ctx context.Context, tokenHash string) (*RefreshTokenRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, account_id, token_hash, expires_at, created_at
		 from refresh_tokens where token_hash=$1`, tokenHash)
	var rec RefreshTokenRecord
	err := row.Scan(&rec.ID, &rec.AccountID, &rec.TokenHash, &rec.ExpiresAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *refreshTokenStore) DeleteByHash(ctx context.Context, tokenHash string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where token_hash=$1`, tokenHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *refreshTokenStore) DeleteByAccount(ctx context.Context, accountID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where account_id=$1`, accountID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *refreshTokenStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *refreshTokenStore) ListActiveByAccount(ctx context.Context, accountID string, now time.Time) ([]*RefreshTokenRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, account_id, token_hash, expires_at, created_at
		 from refresh_tokens where account_id=$1 and expires_at > $2
		 order by created_at`, accountID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*RefreshTokenRecord
	for rows.Next() {
		var rec RefreshTokenRecord
		if err := rows.Scan(&rec.ID, &rec.AccountID, &rec.TokenHash, &rec.ExpiresAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}
