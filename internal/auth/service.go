package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Service orchestrates login, the two-factor step-up state machine, token
// refresh and enrollment. It is the only component that moves an identity
// from CredentialsValidated to Authenticated.
type Service struct {
	store    Store
	tokens   *TokenService
	refresh  *RefreshService
	provider IdentityProvider

	registerable map[string]struct{}
	// skipOTP preserves the legacy always-pass OTP check for environments
	// without an identity provider. Never enable in production.
	skipOTP         bool
	rotateOnRefresh bool
	now             func() time.Time
}

// ServiceOption configures Service.
type ServiceOption func(*Service)

// WithIdentityProvider wires the external OTP provider used for two-factor
// enrollment and verification.
func WithIdentityProvider(p IdentityProvider) ServiceOption {
	return func(s *Service) { s.provider = p }
}

// WithRegisterableRoles restricts which role names self-registration may
// claim. Administrative roles must never appear here.
func WithRegisterableRoles(roles []string) ServiceOption {
	return func(s *Service) {
		s.registerable = make(map[string]struct{}, len(roles))
		for _, r := range roles {
			s.registerable[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
		}
	}
}

// WithInsecureSkipOTP accepts any OTP code during step-up verification.
func WithInsecureSkipOTP(skip bool) ServiceOption {
	return func(s *Service) { s.skipOTP = skip }
}

// WithRotateOnRefresh makes Refresh revoke the redeemed record before
// issuing a new one.
func WithRotateOnRefresh(rotate bool) ServiceOption {
	return func(s *Service) { s.rotateOnRefresh = rotate }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the authentication service.
func NewService(store Store, tokens *TokenService, refresh *RefreshService, opts ...ServiceOption) (*Service, error) {
	if store == nil || tokens == nil || refresh == nil {
		return nil, errors.New("auth: store, token service and refresh service are required")
	}
	s := &Service{
		store:        store,
		tokens:       tokens,
		refresh:      refresh,
		registerable: map[string]struct{}{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Tokens exposes the token service for request authentication.
func (s *Service) Tokens() *TokenService { return s.tokens }

// Sessions exposes the refresh service.
func (s *Service) Sessions() *RefreshService { return s.refresh }

// AccountByID loads one account.
func (s *Service) AccountByID(ctx context.Context, id string) (*Account, error) {
	return s.store.Accounts(ctx).FindByID(ctx, id)
}

// Roles lists the role catalog.
func (s *Service) Roles(ctx context.Context) ([]*Role, error) {
	return s.store.Roles(ctx).List(ctx)
}

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Register creates a new active account with the requested role. The role
// must be on the registerable list and exist in the role catalog.
func (s *Service) Register(ctx context.Context, email, password, role string) (*Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	role = strings.TrimSpace(strings.ToLower(role))
	if !emailRe.MatchString(email) {
		return nil, fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	if problems := ValidatePasswordStrength(password); len(problems) > 0 {
		return nil, fmt.Errorf("%w: password %s", ErrInvalidInput, strings.Join(problems, "; "))
	}
	if _, ok := s.registerable[role]; !ok {
		return nil, fmt.Errorf("%w: role %q is not available for registration", ErrInvalidInput, role)
	}
	if _, err := s.store.Roles(ctx).FindByName(ctx, role); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
		}
		return nil, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	account := &Account{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	if err := s.store.Accounts(ctx).Insert(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// Login validates the first factor. Wrong email and wrong password are both
// ErrInvalidCredentials, deliberately indistinguishable to the caller. On
// success the result carries either a token pair (2FA disabled) or a
// step-up challenge (2FA enabled).
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	account, err := s.store.Accounts(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := VerifyPassword(account.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !account.Active {
		return nil, ErrInactiveAccount
	}

	if account.TwoFactorEnabled {
		token, exp, err := s.tokens.MintStepUp(account)
		if err != nil {
			return nil, err
		}
		return &LoginResult{
			Account:   account,
			Challenge: &StepUpChallenge{Token: token, ExpiresAt: exp},
		}, nil
	}

	pair, err := s.mintPair(ctx, account)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Account: account, Pair: pair}, nil
}

// VerifySecondFactor completes a step-up login: the step-up token proves
// the first factor, the OTP code proves the second. Any step-up token
// failure is terminal; the caller starts over at Login.
func (s *Service) VerifySecondFactor(ctx context.Context, stepUpToken, code string) (*LoginResult, error) {
	claims, err := s.tokens.Verify(stepUpToken, TokenKindStepUp)
	if err != nil {
		return nil, err
	}
	account, err := s.store.Accounts(ctx).FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !account.Active {
		return nil, ErrInactiveAccount
	}
	if !account.TwoFactorEnabled {
		return nil, ErrInvalidToken
	}
	if err := s.checkOTP(ctx, account, code); err != nil {
		return nil, err
	}
	pair, err := s.mintPair(ctx, account)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Account: account, Pair: pair}, nil
}

func (s *Service) checkOTP(ctx context.Context, account *Account, code string) error {
	if s.skipOTP {
		return nil
	}
	if s.provider == nil {
		return ErrNotConfigured
	}
	if account.ProviderSubject == "" {
		return fmt.Errorf("%w: account has no provider enrollment", ErrInvalidInput)
	}
	ok, err := s.provider.VerifyOTP(ctx, account.ProviderSubject, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	return nil
}

// Refresh exchanges a valid refresh token for a new pair. Without rotation
// the redeemed record stays valid; with rotation enabled the old record is
// consumed before the replacement is issued, making each refresh token
// single-use even under concurrent redemption.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, *Account, error) {
	if s.rotateOnRefresh {
		next, rec, account, err := s.refresh.Rotate(ctx, refreshToken)
		if err != nil {
			return nil, nil, err
		}
		if account == nil {
			return nil, nil, ErrInvalidToken
		}
		accessToken, accessExp, err := s.tokens.MintAccess(account)
		if err != nil {
			return nil, nil, err
		}
		return &TokenPair{
			AccessToken:      accessToken,
			RefreshToken:     next,
			AccessExpiresAt:  accessExp,
			RefreshExpiresAt: rec.ExpiresAt,
		}, account, nil
	}

	account, err := s.refresh.Redeem(ctx, refreshToken)
	if err != nil {
		return nil, nil, err
	}
	if account == nil {
		return nil, nil, ErrInvalidToken
	}
	pair, err := s.mintPair(ctx, account)
	if err != nil {
		return nil, nil, err
	}
	return pair, account, nil
}

// Logout revokes every refresh token belonging to the account.
func (s *Service) Logout(ctx context.Context, accountID string) (int64, error) {
	return s.refresh.RevokeAll(ctx, accountID)
}

// ChangePassword verifies the current password, stores the new hash and
// revokes all sessions so stolen refresh tokens die with the old password.
func (s *Service) ChangePassword(ctx context.Context, account *Account, current, next string) error {
	if account == nil {
		return ErrInvalidInput
	}
	if err := VerifyPassword(account.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	if problems := ValidatePasswordStrength(next); len(problems) > 0 {
		return fmt.Errorf("%w: password %s", ErrInvalidInput, strings.Join(problems, "; "))
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.store.Accounts(ctx).UpdatePassword(ctx, account.ID, hash); err != nil {
		return err
	}
	_, err = s.refresh.RevokeAll(ctx, account.ID)
	return err
}

// EnableTwoFactor provisions an OTP secret at the identity provider and
// returns the enrollment payload. The account's two-factor flag stays off
// until ConfirmTwoFactor sees a valid code. Provider failures surface as
// hard errors; enrollment is never silently skipped.
func (s *Service) EnableTwoFactor(ctx context.Context, account *Account) (*OTPEnrollment, error) {
	if account == nil {
		return nil, ErrInvalidInput
	}
	if s.provider == nil {
		return nil, ErrNotConfigured
	}
	if account.TwoFactorEnabled {
		return nil, fmt.Errorf("%w: two-factor already enabled", ErrAlreadyExists)
	}

	subject := account.ProviderSubject
	if subject == "" {
		created, err := s.provider.CreateUser(ctx, account.Email, account.Email)
		if err != nil {
			return nil, fmt.Errorf("identity provider: create user: %w", err)
		}
		subject = created
		if err := s.store.Accounts(ctx).UpdateTwoFactor(ctx, account.ID, TwoFactorUpdate{
			ProviderSubject: &subject,
		}); err != nil {
			return nil, err
		}
		account.ProviderSubject = subject
	}

	enrollment, err := s.provider.GenerateOTP(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("identity provider: generate otp: %w", err)
	}
	return &enrollment, nil
}

// ConfirmTwoFactor validates one OTP code against the pending enrollment
// and only then flips the account's two-factor flag.
func (s *Service) ConfirmTwoFactor(ctx context.Context, account *Account, code string) error {
	if account == nil {
		return ErrInvalidInput
	}
	if account.ProviderSubject == "" {
		return fmt.Errorf("%w: two-factor enrollment not started", ErrInvalidInput)
	}
	if err := s.checkOTP(ctx, account, code); err != nil {
		return err
	}
	enabled := true
	method := "totp"
	confirmedAt := s.now().UTC()
	err := s.store.Accounts(ctx).UpdateTwoFactor(ctx, account.ID, TwoFactorUpdate{
		Enabled:     &enabled,
		Method:      &method,
		ConfirmedAt: &confirmedAt,
	})
	if err != nil {
		return err
	}
	account.TwoFactorEnabled = true
	account.TwoFactorMethod = method
	account.TwoFactorConfirmedAt = &confirmedAt
	return nil
}

// DisableTwoFactor clears the account's two-factor state.
func (s *Service) DisableTwoFactor(ctx context.Context, account *Account) error {
	if account == nil {
		return ErrInvalidInput
	}
	if !account.TwoFactorEnabled {
		return fmt.Errorf("%w: two-factor not enabled", ErrInvalidInput)
	}
	disabled := false
	empty := ""
	err := s.store.Accounts(ctx).UpdateTwoFactor(ctx, account.ID, TwoFactorUpdate{
		Enabled:        &disabled,
		Method:         &empty,
		ClearConfirmed: true,
	})
	if err != nil {
		return err
	}
	account.TwoFactorEnabled = false
	account.TwoFactorMethod = ""
	account.TwoFactorConfirmedAt = nil
	return nil
}

func (s *Service) mintPair(ctx context.Context, account *Account) (*TokenPair, error) {
	accessToken, accessExp, err := s.tokens.MintAccess(account)
	if err != nil {
		return nil, err
	}
	refreshToken, rec, err := s.refresh.Issue(ctx, account)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}
