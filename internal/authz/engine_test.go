package authz

import (
	"context"
	"errors"
	"testing"

	"gamegate.org/internal/auth"
)

func developerAccount() *auth.Account {
	return &auth.Account{
		ID:     "acct-dev",
		Email:  "dev@example.com",
		Role:   RoleDeveloper,
		Active: true,
	}
}

func TestHasPermission(t *testing.T) {
	engine := NewEngine(DefaultPermissions())
	dev := developerAccount()

	if !engine.HasPermission(dev, PermGameCreate) {
		t.Fatal("developer must hold game:create")
	}
	if engine.HasPermission(dev, PermRoleUpdate) {
		t.Fatal("developer must not hold role:update")
	}

	editor := &auth.Account{ID: "acct-ed", Email: "ed@example.com", Role: RoleEditor, Active: true}
	if !engine.HasPermission(editor, PermStudioRead) {
		t.Fatal("editor must hold studio:read")
	}
	if engine.HasPermission(editor, PermStudioCreate) {
		t.Fatal("editor must not hold studio:create")
	}

	admin := &auth.Account{ID: "acct-sa", Email: "sa@example.com", Role: RoleSuperadmin, Active: true}
	for _, p := range []Permission{PermAccountDelete, PermRoleCreate, PermGameDelete, PermStudioUpdate} {
		if !engine.HasPermission(admin, p) {
			t.Fatalf("superadmin must hold %s", p)
		}
	}
}

func TestHasPermissionUnknownRole(t *testing.T) {
	engine := NewEngine(DefaultPermissions())
	ghost := &auth.Account{ID: "acct-x", Email: "x@example.com", Role: "auditor", Active: true}

	for _, p := range []Permission{
		PermAuthLogin, PermGameRead, PermStudioRead, PermAccountRead, PermRoleRead,
	} {
		if engine.HasPermission(ghost, p) {
			t.Fatalf("unknown role granted %s", p)
		}
	}
	if engine.HasPermission(nil, PermGameRead) {
		t.Fatal("nil account granted a permission")
	}
	if engine.HasPermission(&auth.Account{ID: "acct-y"}, PermGameRead) {
		t.Fatal("roleless account granted a permission")
	}
}

func TestHasAnyAndAllPermissions(t *testing.T) {
	engine := NewEngine(DefaultPermissions())
	editor := &auth.Account{ID: "acct-ed", Email: "ed@example.com", Role: RoleEditor, Active: true}

	if !engine.HasAnyPermission(editor, PermStudioCreate, PermGameRead) {
		t.Fatal("expected any-match on game:read")
	}
	if engine.HasAnyPermission(editor, PermStudioCreate, PermRoleRead) {
		t.Fatal("unexpected any-match")
	}
	if !engine.HasAllPermissions(editor, PermGameRead, PermGameUpdate) {
		t.Fatal("expected all-match on game CRUD subset")
	}
	if engine.HasAllPermissions(editor, PermGameRead, PermStudioCreate) {
		t.Fatal("all-match must fail on studio:create")
	}
	if engine.HasAllPermissions(&auth.Account{Role: "auditor"}) {
		t.Fatal("unknown role must fail even for an empty permission list")
	}
}

func TestPermissionTableImmutability(t *testing.T) {
	grants := map[string][]Permission{"viewer": {PermGameRead}}
	table := NewPermissionTable(grants)
	grants["viewer"] = append(grants["viewer"], PermGameDelete)

	engine := NewEngine(table)
	viewer := &auth.Account{ID: "acct-v", Email: "v@example.com", Role: "viewer", Active: true}
	if engine.HasPermission(viewer, PermGameDelete) {
		t.Fatal("table observed mutation of constructor input")
	}
}

type ownerStub struct {
	owner *ResourceOwner
	err   error
}

func (s *ownerStub) ResourceOwner(context.Context, string, string) (*ResourceOwner, error) {
	return s.owner, s.err
}

func TestVerifyOwnershipDisabledFailsOpen(t *testing.T) {
	engine := NewEngine(DefaultPermissions())
	if !engine.VerifyOwnership(context.Background(), developerAccount(), "game", "42") {
		t.Fatal("ownership must pass when no checker is configured")
	}

	engine = NewEngine(DefaultPermissions(),
		WithOwnershipChecker(&ownerStub{err: errors.New("unreachable")}, false))
	if !engine.VerifyOwnership(context.Background(), developerAccount(), "game", "42") {
		t.Fatal("disabled enforcement must pass without calling the checker")
	}
}

func TestVerifyOwnershipMatches(t *testing.T) {
	ctx := context.Background()
	dev := developerAccount()

	byEmail := NewEngine(DefaultPermissions(),
		WithOwnershipChecker(&ownerStub{owner: &ResourceOwner{OwnerEmail: "dev@example.com"}}, true))
	if !byEmail.VerifyOwnership(ctx, dev, "game", "42") {
		t.Fatal("owner email match must pass")
	}

	byID := NewEngine(DefaultPermissions(),
		WithOwnershipChecker(&ownerStub{owner: &ResourceOwner{OwnerID: "acct-dev"}}, true))
	if !byID.VerifyOwnership(ctx, dev, "studio", "7") {
		t.Fatal("owner id match must pass")
	}

	other := NewEngine(DefaultPermissions(),
		WithOwnershipChecker(&ownerStub{owner: &ResourceOwner{OwnerEmail: "someone@example.com", OwnerID: "acct-z"}}, true))
	if other.VerifyOwnership(ctx, dev, "game", "42") {
		t.Fatal("non-owner passed ownership")
	}
}

func TestVerifyOwnershipTransportErrorFailsClosed(t *testing.T) {
	engine := NewEngine(DefaultPermissions(),
		WithOwnershipChecker(&ownerStub{err: errors.New("dial tcp: connection refused")}, true))
	if engine.VerifyOwnership(context.Background(), developerAccount(), "game", "42") {
		t.Fatal("transport error must deny")
	}
}

func TestRegisterableRolesExcludeSuperadmin(t *testing.T) {
	for _, role := range RegisterableRoles() {
		if role == RoleSuperadmin {
			t.Fatal("superadmin must not be self-registerable")
		}
	}
}
