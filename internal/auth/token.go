package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind discriminates the self-describing token types. Refresh tokens
// are opaque random strings and never appear here.
type TokenKind string

const (
	TokenKindAccess TokenKind = "access"
	TokenKindStepUp TokenKind = "step_up"
)

// StatusPendingSecondFactor marks a step-up token: the first factor
// succeeded and an OTP code is still outstanding.
const StatusPendingSecondFactor = "pending_second_factor"

const (
	defaultAccessTTL = 30 * time.Minute
	defaultStepUpTTL = 10 * time.Minute
)

// Claims is the stable claim shape shared by access and step-up tokens.
type Claims struct {
	Email     string `json:"email"`
	Role      string `json:"role,omitempty"`
	Active    bool   `json:"is_active,omitempty"`
	Status    string `json:"status,omitempty"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// TokenService mints and verifies access and step-up tokens using HS256.
// The step-up kind can be signed with a distinct secret so that compromise
// of one signing domain does not grant the other.
type TokenService struct {
	secret       []byte
	stepUpSecret []byte
	issuer       string
	accessTTL    time.Duration
	stepUpTTL    time.Duration
	now          func() time.Time
}

// TokenOption configures TokenService.
type TokenOption func(*TokenService)

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) {
		s.issuer = strings.TrimSpace(issuer)
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithStepUpTTL configures step-up token lifetime.
func WithStepUpTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.stepUpTTL = ttl
		}
	}
}

// WithStepUpSecret sets a separate signing secret for step-up tokens.
func WithStepUpSecret(secret string) TokenOption {
	return func(s *TokenService) {
		if strings.TrimSpace(secret) != "" {
			s.stepUpSecret = []byte(secret)
		}
	}
}

// WithTokenClock overrides the time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewTokenService constructs a TokenService. The secret is required; the
// step-up secret falls back to it when not set separately.
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	s := &TokenService{
		secret:    []byte(secret),
		accessTTL: defaultAccessTTL,
		stepUpTTL: defaultStepUpTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.stepUpSecret == nil {
		s.stepUpSecret = s.secret
	}
	return s, nil
}

// AccessTTL reports the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// StepUpTTL reports the configured step-up token lifetime.
func (s *TokenService) StepUpTTL() time.Duration { return s.stepUpTTL }

// MintAccess signs a short-lived access token for the account.
func (s *TokenService) MintAccess(account *Account) (string, time.Time, error) {
	if account == nil || strings.TrimSpace(account.ID) == "" {
		return "", time.Time{}, ErrInvalidInput
	}
	now := s.now().UTC()
	exp := now.Add(s.accessTTL)
	claims := Claims{
		Email:     account.Email,
		Role:      account.Role,
		Active:    account.Active,
		TokenType: string(TokenKindAccess),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// MintStepUp signs an intermediate token proving only that the first
// factor succeeded. It is unusable on the access verification path.
func (s *TokenService) MintStepUp(account *Account) (string, time.Time, error) {
	if account == nil || strings.TrimSpace(account.ID) == "" {
		return "", time.Time{}, ErrInvalidInput
	}
	now := s.now().UTC()
	exp := now.Add(s.stepUpTTL)
	claims := Claims{
		Email:     account.Email,
		Status:    StatusPendingSecondFactor,
		TokenType: string(TokenKindStepUp),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.stepUpSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature, claim shape and expiry, and rejects tokens whose
// type claim does not match the expected kind. All failures satisfy
// errors.Is(err, ErrInvalidToken); expiry and kind mismatch stay
// distinguishable for logging.
func (s *TokenService) Verify(token string, expected TokenKind) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMalformed
	}
	key := s.secret
	if expected == TokenKindStepUp {
		key = s.stepUpSecret
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return key, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.TokenType != string(expected) {
		return nil, ErrTokenKindMismatch
	}
	if err := s.validateClaims(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// validateClaims enforces the required-claim contract and re-checks expiry
// against the current time, independent of any leeway the JWT library
// tolerates.
func (s *TokenService) validateClaims(claims *Claims) error {
	if strings.TrimSpace(claims.Subject) == "" {
		return ErrTokenMalformed
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return ErrTokenMalformed
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return ErrTokenMalformed
	}
	if !s.now().UTC().Before(claims.ExpiresAt.Time) {
		return ErrTokenExpired
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return ErrTokenMalformed
	}
	return nil
}
