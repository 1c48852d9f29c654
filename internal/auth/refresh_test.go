package auth

import (
	"context"
	"testing"
	"time"
)

func TestRefreshIssueAndRedeem(t *testing.T) {
	store := newStubStore()
	account := &Account{Email: "dev@example.com", Role: "developer", Active: true}
	store.addAccount(account)

	svc := NewRefreshService(store, WithRefreshTTL(7*24*time.Hour))
	ctx := context.Background()

	plaintext, rec, err := svc.Issue(ctx, account)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if plaintext == "" {
		t.Fatal("expected a plaintext token")
	}
	if rec.TokenHash == plaintext {
		t.Fatal("store must hold a hash, not the plaintext")
	}
	if rec.TokenHash != HashToken(plaintext) {
		t.Fatal("stored hash does not match HashToken(plaintext)")
	}

	got, err := svc.Redeem(ctx, plaintext)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if got == nil || got.ID != account.ID {
		t.Fatalf("Redeem returned %+v", got)
	}
}

func TestRefreshRedeemUnknownToken(t *testing.T) {
	svc := NewRefreshService(newStubStore())
	got, err := svc.Redeem(context.Background(), "no-such-token")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil account, got %+v", got)
	}
}

func TestRefreshRedeemExpiredToken(t *testing.T) {
	store := newStubStore()
	account := &Account{Email: "dev@example.com", Role: "developer", Active: true}
	store.addAccount(account)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	current := base
	svc := NewRefreshService(store,
		WithRefreshTTL(time.Hour),
		WithRefreshClock(func() time.Time { return current }))
	ctx := context.Background()

	plaintext, _, err := svc.Issue(ctx, account)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	current = base.Add(time.Hour + time.Second)
	got, err := svc.Redeem(ctx, plaintext)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if got != nil {
		t.Fatal("expired token must not resolve to an account")
	}
}

func TestRefreshRedeemInactiveAccount(t *testing.T) {
	store := newStubStore()
	account := &Account{Email: "dev@example.com", Role: "developer", Active: true}
	store.addAccount(account)

	svc := NewRefreshService(store)
	ctx := context.Background()
	plaintext, _, err := svc.Issue(ctx, account)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := store.Accounts(ctx).SetActive(ctx, account.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	got, err := svc.Redeem(ctx, plaintext)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if got != nil {
		t.Fatal("deactivated account must not redeem tokens")
	}
}

func TestRefreshRotate(t *testing.T) {
	store := newStubStore()
	account := &Account{Email: "dev@example.com", Role: "developer", Active: true}
	store.addAccount(account)

	svc := NewRefreshService(store)
	ctx := context.Background()
	old, _, err := svc.Issue(ctx, account)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	next, rec, got, err := svc.Rotate(ctx, old)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if got == nil || got.ID != account.ID {
		t.Fatalf("Rotate account = %+v", got)
	}
	if next == "" || next == old {
		t.Fatalf("replacement token = %q", next)
	}
	if rec.TokenHash != HashToken(next) {
		t.Fatal("record does not match the replacement token")
	}

	// The consumed token is gone for good.
	if redeemed, err := svc.Redeem(ctx, old); err != nil || redeemed != nil {
		t.Fatalf("consumed token redeemed: account=%+v err=%v", redeemed, err)
	}
	if _, _, got, err := svc.Rotate(ctx, old); err != nil || got != nil {
		t.Fatalf("consumed token rotated again: account=%+v err=%v", got, err)
	}

	// The replacement works.
	if redeemed, err := svc.Redeem(ctx, next); err != nil || redeemed == nil {
		t.Fatalf("replacement rejected: account=%+v err=%v", redeemed, err)
	}
}

// racingTokenStore makes DeleteByHash report that another caller already
// removed the record, the state a rotation loser observes.
type racingTokenStore struct {
	RefreshTokenStore
}

func (s *racingTokenStore) DeleteByHash(context.Context, string) (bool, error) {
	return false, nil
}

type racingStore struct {
	*MemoryStore
}

func (s *racingStore) RefreshTokens(ctx context.Context) RefreshTokenStore {
	return &racingTokenStore{s.MemoryStore.RefreshTokens(ctx)}
}

func TestRefreshRotateLosesRace(t *testing.T) {
	store := newStubStore()
	account := &Account{Email: "dev@example.com", Role: "developer", Active: true}
	store.addAccount(account)

	svc := NewRefreshService(&racingStore{store})
	ctx := context.Background()
	old, _, err := svc.Issue(ctx, account)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	next, _, got, err := svc.Rotate(ctx, old)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if got != nil || next != "" {
		t.Fatalf("race loser issued a token: account=%+v next=%q", got, next)
	}
}

func TestRefreshRotateExpiredToken(t *testing.T) {
	store := newStubStore()
	account := &Account{Email: "dev@example.com", Role: "developer", Active: true}
	store.addAccount(account)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	current := base
	svc := NewRefreshService(store,
		WithRefreshTTL(time.Hour),
		WithRefreshClock(func() time.Time { return current }))
	ctx := context.Background()

	old, _, err := svc.Issue(ctx, account)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	current = base.Add(time.Hour + time.Second)
	next, _, got, err := svc.Rotate(ctx, old)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if got != nil || next != "" {
		t.Fatalf("expired token rotated: account=%+v next=%q", got, next)
	}
}

func TestRefreshRevoke(t *testing.T) {
	store := newStubStore()
	account := &Account{Email: "dev@example.com", Role: "developer", Active: true}
	store.addAccount(account)

	svc := NewRefreshService(store)
	ctx := context.Background()
	plaintext, _, err := svc.Issue(ctx, account)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	revoked, err := svc.Revoke(ctx, plaintext)
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if !revoked {
		t.Fatal("expected revocation to report true")
	}

	// Second revocation is a no-op.
	revoked, err = svc.Revoke(ctx, plaintext)
	if err != nil {
		t.Fatalf("second Revoke: %v", err)
	}
	if revoked {
		t.Fatal("second revocation must report false")
	}

	if got, err := svc.Redeem(ctx, plaintext); err != nil || got != nil {
		t.Fatalf("revoked token redeemed: account=%+v err=%v", got, err)
	}
}

func TestRefreshRevokeAll(t *testing.T) {
	store := newStubStore()
	account := &Account{Email: "dev@example.com", Role: "developer", Active: true}
	other := &Account{Email: "ed@example.com", Role: "editor", Active: true}
	store.addAccount(account)
	store.addAccount(other)

	svc := NewRefreshService(store)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, _, err := svc.Issue(ctx, account); err != nil {
			t.Fatalf("Issue: %v", err)
		}
	}
	keep, _, err := svc.Issue(ctx, other)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	n, err := svc.RevokeAll(ctx, account.ID)
	if err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if n != 3 {
		t.Fatalf("revoked %d tokens, want 3", n)
	}

	if got, err := svc.Redeem(ctx, keep); err != nil || got == nil {
		t.Fatalf("other account's token affected: account=%+v err=%v", got, err)
	}
}

func TestRefreshSweepExpired(t *testing.T) {
	store := newStubStore()
	account := &Account{Email: "dev@example.com", Role: "developer", Active: true}
	store.addAccount(account)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	current := base
	svc := NewRefreshService(store,
		WithRefreshTTL(time.Hour),
		WithRefreshClock(func() time.Time { return current }))
	ctx := context.Background()

	if _, _, err := svc.Issue(ctx, account); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	current = base.Add(2 * time.Hour)
	fresh, _, err := svc.Issue(ctx, account)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	n, err := svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d records, want 1", n)
	}
	if got, err := svc.Redeem(ctx, fresh); err != nil || got == nil {
		t.Fatalf("fresh token swept: account=%+v err=%v", got, err)
	}
}
