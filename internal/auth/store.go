package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Accounts(ctx context.Context) AccountStore
	Roles(ctx context.Context) RoleStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
}

// AccountStore manages accounts. Email uniqueness is enforced at the
// storage layer; Insert must fail atomically on duplicates.
type AccountStore interface {
	Insert(ctx context.Context, account *Account) error
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateRole(ctx context.Context, id, role string) error
	SetActive(ctx context.Context, id string, active bool) error
	UpdateTwoFactor(ctx context.Context, id string, upd TwoFactorUpdate) error
}

// TwoFactorUpdate mutates an account's two-factor state. Nil pointers leave
// the column untouched.
type TwoFactorUpdate struct {
	Enabled         *bool
	Method          *string
	ConfirmedAt     *time.Time
	ClearConfirmed  bool
	ProviderSubject *string
}

// RoleStore manages the fixed role catalog.
type RoleStore interface {
	Ensure(ctx context.Context, roles []Role) error
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
}

// RefreshTokenStore manages hashed refresh token records. Revocation is a
// hard delete.
type RefreshTokenStore interface {
	Create(ctx context.Context, rec *RefreshTokenRecord) error
	FindByHash(ctx context.Context, tokenHash string) (*RefreshTokenRecord, error)
	DeleteByHash(ctx context.Context, tokenHash string) (bool, error)
	DeleteByAccount(ctx context.Context, accountID string) (int64, error)
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
	ListActiveByAccount(ctx context.Context, accountID string, now time.Time) ([]*RefreshTokenRecord, error)
}

// IdentityProvider is the external collaborator used for two-factor
// enrollment and OTP verification.
type IdentityProvider interface {
	CreateUser(ctx context.Context, username, email string) (string, error)
	GenerateOTP(ctx context.Context, providerSubject string) (OTPEnrollment, error)
	DeleteUser(ctx context.Context, providerSubject string) error
	VerifyOTP(ctx context.Context, providerSubject, code string) (bool, error)
}
