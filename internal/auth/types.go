package auth

import "time"

// Account is a credentialed identity. An account always references exactly
// one role by name; an inactive account never authenticates.
type Account struct {
	ID               string
	Email            string
	PasswordHash     string
	Role             string
	Active           bool
	TwoFactorEnabled bool
	TwoFactorMethod  string
	// TwoFactorConfirmedAt records when enrollment was confirmed with a
	// valid OTP code. Nil until then.
	TwoFactorConfirmedAt *time.Time
	// ProviderSubject is the identity-provider-side user id, set during
	// two-factor enrollment.
	ProviderSubject string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Role names a bucket of permissions. Roles are seeded at startup; the
// name is the sole key used to resolve permissions.
type Role struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// RefreshTokenRecord is the persisted half of a refresh token. Only the
// sha256 hash of the opaque plaintext is stored; the plaintext leaves the
// process exactly once, at issuance.
type RefreshTokenRecord struct {
	ID        string
	AccountID string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// TokenPair is what a completed authentication hands back.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// StepUpChallenge is returned instead of a TokenPair when the account has
// two-factor enabled: the caller must come back with an OTP code.
type StepUpChallenge struct {
	Token     string
	ExpiresAt time.Time
}

// LoginResult is the outcome of a successful first factor. Exactly one of
// Pair and Challenge is set.
type LoginResult struct {
	Account   *Account
	Pair      *TokenPair
	Challenge *StepUpChallenge
}

// OTPEnrollment is the provisioning payload handed to the user when
// enabling two-factor authentication.
type OTPEnrollment struct {
	Secret          string
	ProvisioningURI string
	ManualEntryKey  string
}
