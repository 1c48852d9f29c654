package authz

import (
	"context"

	"github.com/rs/zerolog"

	"gamegate.org/internal/auth"
)

// ResourceOwner is the ownership view of a proxied resource.
type ResourceOwner struct {
	OwnerEmail string
	OwnerID    string
}

// OwnershipChecker resolves the owner of a resource held by the content
// service. Implementations return an error on transport failure and
// auth.ErrNotFound when the resource does not exist.
type OwnershipChecker interface {
	ResourceOwner(ctx context.Context, resourceType, resourceID string) (*ResourceOwner, error)
}

// Engine answers permission and ownership questions for resolved accounts.
// Permission checks are pure set membership against the injected table.
type Engine struct {
	table   *PermissionTable
	owners  OwnershipChecker
	enforce bool
	log     zerolog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithOwnershipChecker enables ownership delegation. When enforce is false
// ownership checks are skipped entirely and pass for every caller; this is
// the documented fail-open mode for environments without the content
// service.
func WithOwnershipChecker(c OwnershipChecker, enforce bool) EngineOption {
	return func(e *Engine) {
		e.owners = c
		e.enforce = enforce
	}
}

// WithEngineLogger sets the logger used for ownership decisions.
func WithEngineLogger(log zerolog.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// NewEngine builds an engine over an immutable permission table.
func NewEngine(table *PermissionTable, opts ...EngineOption) *Engine {
	e := &Engine{table: table, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Table exposes the permission table for introspection endpoints.
func (e *Engine) Table() *PermissionTable { return e.table }

// HasPermission reports whether the account's role grants the permission.
// A nil account, an account without a role and a role absent from the
// table all yield false, never an error.
func (e *Engine) HasPermission(account *auth.Account, p Permission) bool {
	if account == nil || account.Role == "" {
		return false
	}
	return e.table.allows(account.Role, p)
}

// HasAnyPermission reports whether the role grants at least one of perms.
func (e *Engine) HasAnyPermission(account *auth.Account, perms ...Permission) bool {
	for _, p := range perms {
		if e.HasPermission(account, p) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether the role grants every one of perms.
// An empty list is vacuously true for any account with a known role.
func (e *Engine) HasAllPermissions(account *auth.Account, perms ...Permission) bool {
	if account == nil || account.Role == "" {
		return false
	}
	if _, ok := e.table.roles[account.Role]; !ok {
		return false
	}
	for _, p := range perms {
		if !e.table.allows(account.Role, p) {
			return false
		}
	}
	return true
}

// VerifyOwnership reports whether the account owns the resource. With
// enforcement disabled every check passes. With enforcement on, a
// transport error resolving the owner fails closed.
func (e *Engine) VerifyOwnership(ctx context.Context, account *auth.Account, resourceType, resourceID string) bool {
	if !e.enforce || e.owners == nil {
		return true
	}
	if account == nil {
		return false
	}
	owner, err := e.owners.ResourceOwner(ctx, resourceType, resourceID)
	if err != nil {
		e.log.Warn().Err(err).
			Str("resource_type", resourceType).
			Str("resource_id", resourceID).
			Msg("ownership lookup failed, denying")
		return false
	}
	if owner == nil {
		return false
	}
	if owner.OwnerEmail != "" && owner.OwnerEmail == account.Email {
		return true
	}
	if owner.OwnerID != "" && owner.OwnerID == account.ID {
		return true
	}
	return false
}
