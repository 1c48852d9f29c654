package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"
)

const defaultRefreshTTL = 7 * 24 * time.Hour

// RefreshService owns the issuance, redemption and revocation of opaque
// refresh tokens. The plaintext is 32 random bytes base64url-encoded and is
// never persisted; the store only ever sees its sha256 hash.
type RefreshService struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// RefreshOption configures RefreshService.
type RefreshOption func(*RefreshService)

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) RefreshOption {
	return func(s *RefreshService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithRefreshClock overrides the time source (useful for tests).
func WithRefreshClock(fn func() time.Time) RefreshOption {
	return func(s *RefreshService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewRefreshService constructs a RefreshService.
func NewRefreshService(store Store, opts ...RefreshOption) *RefreshService {
	s := &RefreshService{
		store: store,
		ttl:   defaultRefreshTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HashToken returns the hex-encoded sha256 hash of the plaintext, the only
// form that ever touches storage.
func HashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Issue creates a refresh token for the account and persists its hash. The
// returned plaintext is handed to the caller exactly once.
func (s *RefreshService) Issue(ctx context.Context, account *Account) (string, *RefreshTokenRecord, error) {
	if account == nil || account.ID == "" {
		return "", nil, ErrInvalidInput
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	plaintext := base64.RawURLEncoding.EncodeToString(raw)
	rec := &RefreshTokenRecord{
		AccountID: account.ID,
		TokenHash: HashToken(plaintext),
		ExpiresAt: s.now().UTC().Add(s.ttl),
	}
	if err := s.store.RefreshTokens(ctx).Create(ctx, rec); err != nil {
		return "", nil, err
	}
	return plaintext, rec, nil
}

// Redeem looks the plaintext up by hash and returns the owning account if
// the record is unexpired and the account is active. An unknown, expired or
// orphaned token yields (nil, nil): callers treat that as invalid refresh,
// not as a fault.
func (s *RefreshService) Redeem(ctx context.Context, plaintext string) (*Account, error) {
	if plaintext == "" {
		return nil, nil
	}
	rec, err := s.store.RefreshTokens(ctx).FindByHash(ctx, HashToken(plaintext))
	if err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	if !s.now().UTC().Before(rec.ExpiresAt) {
		return nil, nil
	}
	account, err := s.store.Accounts(ctx).FindByID(ctx, rec.AccountID)
	if err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	if !account.Active {
		return nil, nil
	}
	return account, nil
}

// Revoke hard-deletes the record for the given plaintext. Reports whether a
// record actually existed.
func (s *RefreshService) Revoke(ctx context.Context, plaintext string) (bool, error) {
	if plaintext == "" {
		return false, nil
	}
	return s.store.RefreshTokens(ctx).DeleteByHash(ctx, HashToken(plaintext))
}

// Rotate consumes the plaintext and replaces it with a fresh token. The old
// record is deleted before anything new is issued; of two concurrent
// rotations of the same token only the one whose delete lands wins, the
// other sees the invalid-refresh result (empty plaintext, nil account).
func (s *RefreshService) Rotate(ctx context.Context, plaintext string) (string, *RefreshTokenRecord, *Account, error) {
	if plaintext == "" {
		return "", nil, nil, nil
	}
	tokens := s.store.RefreshTokens(ctx)
	rec, err := tokens.FindByHash(ctx, HashToken(plaintext))
	if err != nil {
		if err == ErrNotFound {
			return "", nil, nil, nil
		}
		return "", nil, nil, err
	}
	deleted, err := tokens.DeleteByHash(ctx, rec.TokenHash)
	if err != nil {
		return "", nil, nil, err
	}
	if !deleted {
		// A concurrent rotation consumed the token first.
		return "", nil, nil, nil
	}
	if !s.now().UTC().Before(rec.ExpiresAt) {
		return "", nil, nil, nil
	}
	account, err := s.store.Accounts(ctx).FindByID(ctx, rec.AccountID)
	if err != nil {
		if err == ErrNotFound {
			return "", nil, nil, nil
		}
		return "", nil, nil, err
	}
	if !account.Active {
		return "", nil, nil, nil
	}
	next, nextRec, err := s.Issue(ctx, account)
	if err != nil {
		return "", nil, nil, err
	}
	return next, nextRec, account, nil
}

// RevokeAll hard-deletes every record belonging to the account and returns
// the count. Used on logout and password change.
func (s *RefreshService) RevokeAll(ctx context.Context, accountID string) (int64, error) {
	if accountID == "" {
		return 0, ErrInvalidInput
	}
	return s.store.RefreshTokens(ctx).DeleteByAccount(ctx, accountID)
}

// SweepExpired deletes records whose expiry has passed and returns the count.
func (s *RefreshService) SweepExpired(ctx context.Context) (int64, error) {
	return s.store.RefreshTokens(ctx).DeleteExpired(ctx, s.now().UTC())
}

// ActiveSessions lists the unexpired records for an account.
func (s *RefreshService) ActiveSessions(ctx context.Context, accountID string) ([]*RefreshTokenRecord, error) {
	return s.store.RefreshTokens(ctx).ListActiveByAccount(ctx, accountID, s.now().UTC())
}
