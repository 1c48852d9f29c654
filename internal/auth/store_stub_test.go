package auth

import (
	"context"
)

func newStubStore() *MemoryStore { return NewMemoryStore() }

// Test seeding helpers on the shared in-memory store.

func (s *MemoryStore) addRole(name string) {
	_ = (*memRoles)(s).Ensure(context.Background(), []Role{{Name: name}})
}

func (s *MemoryStore) addAccount(a *Account) {
	_ = (*memAccounts)(s).Insert(context.Background(), a)
}

// stubIDP records provider calls and returns canned answers.
type stubIDP struct {
	created    []string
	deleted    []string
	verifyOK   bool
	verifyErr  error
	createErr  error
	otpErr     error
	lastCode   string
	lastUserID string
}

func (p *stubIDP) CreateUser(_ context.Context, username, email string) (string, error) {
	if p.createErr != nil {
		return "", p.createErr
	}
	p.created = append(p.created, email)
	return "idp-" + email, nil
}

func (p *stubIDP) GenerateOTP(_ context.Context, providerSubject string) (OTPEnrollment, error) {
	if p.otpErr != nil {
		return OTPEnrollment{}, p.otpErr
	}
	return OTPEnrollment{
		Secret:          "JBSWY3DPEHPK3PXP",
		ProvisioningURI: "otpauth://totp/gamegate:" + providerSubject,
		ManualEntryKey:  "JBSW Y3DP EHPK 3PXP",
	}, nil
}

func (p *stubIDP) DeleteUser(_ context.Context, providerSubject string) error {
	p.deleted = append(p.deleted, providerSubject)
	return nil
}

func (p *stubIDP) VerifyOTP(_ context.Context, providerSubject, code string) (bool, error) {
	p.lastUserID = providerSubject
	p.lastCode = code
	if p.verifyErr != nil {
		return false, p.verifyErr
	}
	return p.verifyOK, nil
}
