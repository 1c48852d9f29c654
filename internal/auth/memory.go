package auth

import (
	"context"
	"sync"
	"time"

	"gamegate.org/internal/ids"
)

// MemoryStore is an in-memory Store for tests and delegate-less dev
// environments. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account            // keyed by id
	roles    map[string]*Role               // keyed by name
	tokens   map[string]*RefreshTokenRecord // keyed by token hash
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: map[string]*Account{},
		roles:    map[string]*Role{},
		tokens:   map[string]*RefreshTokenRecord{},
	}
}

func (s *MemoryStore) Accounts(context.Context) AccountStore { return (*memAccounts)(s) }
func (s *MemoryStore) Roles(context.Context) RoleStore       { return (*memRoles)(s) }
func (s *MemoryStore) RefreshTokens(context.Context) RefreshTokenStore {
	return (*memTokens)(s)
}

type memAccounts MemoryStore

func (s *memAccounts) Insert(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.Email == a.Email {
			return ErrAlreadyExists
		}
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *memAccounts) FindByID(_ context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *memAccounts) FindByEmail(_ context.Context, email string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memAccounts) UpdatePassword(_ context.Context, id, hash string) error {
	return s.update(id, func(a *Account) { a.PasswordHash = hash })
}

func (s *memAccounts) UpdateRole(_ context.Context, id, role string) error {
	return s.update(id, func(a *Account) { a.Role = role })
}

func (s *memAccounts) SetActive(_ context.Context, id string, active bool) error {
	return s.update(id, func(a *Account) { a.Active = active })
}

func (s *memAccounts) UpdateTwoFactor(_ context.Context, id string, upd TwoFactorUpdate) error {
	return s.update(id, func(a *Account) {
		if upd.Enabled != nil {
			a.TwoFactorEnabled = *upd.Enabled
		}
		if upd.Method != nil {
			a.TwoFactorMethod = *upd.Method
		}
		if upd.ConfirmedAt != nil {
			t := *upd.ConfirmedAt
			a.TwoFactorConfirmedAt = &t
		}
		if upd.ClearConfirmed {
			a.TwoFactorConfirmedAt = nil
		}
		if upd.ProviderSubject != nil {
			a.ProviderSubject = *upd.ProviderSubject
		}
	})
}

func (s *memAccounts) update(id string, fn func(*Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	fn(a)
	a.UpdatedAt = time.Now().UTC()
	return nil
}

type memRoles MemoryStore

func (s *memRoles) Ensure(_ context.Context, roles []Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range roles {
		if _, ok := s.roles[r.Name]; ok {
			continue
		}
		cp := r
		if cp.ID == "" {
			cp.ID = ids.New()
		}
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = time.Now().UTC()
		}
		s.roles[cp.Name] = &cp
	}
	return nil
}

func (s *memRoles) FindByName(_ context.Context, name string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.roles[name]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *memRoles) List(_ context.Context) ([]*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Role, 0, len(s.roles))
	for _, r := range s.roles {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

type memTokens MemoryStore

func (s *memTokens) Create(_ context.Context, rec *RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	cp := *rec
	s.tokens[rec.TokenHash] = &cp
	return nil
}

func (s *memTokens) FindByHash(_ context.Context, hash string) (*RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.tokens[hash]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *memTokens) DeleteByHash(_ context.Context, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[hash]; !ok {
		return false, nil
	}
	delete(s.tokens, hash)
	return true, nil
}

func (s *memTokens) DeleteByAccount(_ context.Context, accountID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, rec := range s.tokens {
		if rec.AccountID == accountID {
			delete(s.tokens, hash)
			n++
		}
	}
	return n, nil
}

func (s *memTokens) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, rec := range s.tokens {
		if rec.ExpiresAt.Before(cutoff) {
			delete(s.tokens, hash)
			n++
		}
	}
	return n, nil
}

func (s *memTokens) ListActiveByAccount(_ context.Context, accountID string, now time.Time) ([]*RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*RefreshTokenRecord
	for _, rec := range s.tokens {
		if rec.AccountID == accountID && rec.ExpiresAt.After(now) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}
