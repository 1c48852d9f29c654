package auth

import (
	"errors"
	"testing"
	"time"
)

func testAccount() *Account {
	return &Account{
		ID:     "01J9TESTACCOUNT00000000000",
		Email:  "dev@example.com",
		Role:   "developer",
		Active: true,
	}
}

func TestMintAccessAndVerify(t *testing.T) {
	svc, err := NewTokenService("test-secret", WithIssuer("gamegate-test"))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	token, exp, err := svc.MintAccess(testAccount())
	if err != nil {
		t.Fatalf("MintAccess: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}
	if !exp.After(time.Now()) {
		t.Fatalf("expiry %v not in the future", exp)
	}

	claims, err := svc.Verify(token, TokenKindAccess)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "01J9TESTACCOUNT00000000000" {
		t.Fatalf("subject = %q", claims.Subject)
	}
	if claims.Email != "dev@example.com" || claims.Role != "developer" {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.TokenType != string(TokenKindAccess) {
		t.Fatalf("type = %q", claims.TokenType)
	}
	if claims.ID == "" {
		t.Fatal("expected a jti on access tokens")
	}
	if claims.Issuer != "gamegate-test" {
		t.Fatalf("issuer = %q", claims.Issuer)
	}
}

func TestVerifyIsRepeatable(t *testing.T) {
	svc, err := NewTokenService("test-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	token, _, err := svc.MintAccess(testAccount())
	if err != nil {
		t.Fatalf("MintAccess: %v", err)
	}

	first, err := svc.Verify(token, TokenKindAccess)
	if err != nil {
		t.Fatalf("first Verify: %v", err)
	}
	second, err := svc.Verify(token, TokenKindAccess)
	if err != nil {
		t.Fatalf("second Verify: %v", err)
	}
	if first.Subject != second.Subject || first.ID != second.ID {
		t.Fatal("verification mutated the claim view")
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	current := base
	svc, err := NewTokenService("test-secret",
		WithAccessTTL(30*time.Minute),
		WithTokenClock(func() time.Time { return current }))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	token, _, err := svc.MintAccess(testAccount())
	if err != nil {
		t.Fatalf("MintAccess: %v", err)
	}

	// Still valid one second before the deadline.
	current = base.Add(30*time.Minute - time.Second)
	if _, err := svc.Verify(token, TokenKindAccess); err != nil {
		t.Fatalf("Verify before expiry: %v", err)
	}

	// The deadline itself is already expired.
	current = base.Add(30 * time.Minute)
	_, err = svc.Verify(token, TokenKindAccess)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRejectsWrongKind(t *testing.T) {
	svc, err := NewTokenService("test-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	account := testAccount()
	account.TwoFactorEnabled = true

	stepUp, _, err := svc.MintStepUp(account)
	if err != nil {
		t.Fatalf("MintStepUp: %v", err)
	}
	if _, err := svc.Verify(stepUp, TokenKindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("step-up token accepted as access: %v", err)
	}

	access, _, err := svc.MintAccess(account)
	if err != nil {
		t.Fatalf("MintAccess: %v", err)
	}
	if _, err := svc.Verify(access, TokenKindStepUp); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token accepted as step-up: %v", err)
	}
}

func TestVerifyStepUpSecretSeparation(t *testing.T) {
	svc, err := NewTokenService("access-secret", WithStepUpSecret("step-up-secret"))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	token, _, err := svc.MintStepUp(testAccount())
	if err != nil {
		t.Fatalf("MintStepUp: %v", err)
	}

	claims, err := svc.Verify(token, TokenKindStepUp)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Status != StatusPendingSecondFactor {
		t.Fatalf("status = %q", claims.Status)
	}

	// A service sharing only the access secret must reject it.
	other, err := NewTokenService("access-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	other.stepUpSecret = []byte("different")
	if _, err := other.Verify(token, TokenKindStepUp); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected rejection across secrets, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc, err := NewTokenService("test-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	for _, tok := range []string{"", "not-a-jwt", "a.b", "a.b.c.d"} {
		if _, err := svc.Verify(tok, TokenKindAccess); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Verify(%q) = %v, want ErrInvalidToken", tok, err)
		}
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	svc, err := NewTokenService("test-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	token, _, err := svc.MintAccess(testAccount())
	if err != nil {
		t.Fatalf("MintAccess: %v", err)
	}
	forged := token[:len(token)-4] + "AAAA"
	if _, err := svc.Verify(forged, TokenKindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered token accepted: %v", err)
	}
}

func TestNewTokenServiceRequiresSecret(t *testing.T) {
	if _, err := NewTokenService(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
