package httpapi

import (
	"net/http"

	"gamegate.org/internal/auth"
	"gamegate.org/internal/authz"
)

// RequirePermission admits only callers whose role grants the permission.
// Must run inside Authenticate.
func (a *API) RequirePermission(perm authz.Permission, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := auth.AccountFromContext(r.Context())
		if account == nil {
			unauthorized(w, codeInvalidToken, "authentication required")
			return
		}
		if !a.engine.HasPermission(account, perm) {
			writeError(w, http.StatusForbidden, codeInsufficientPermissions,
				"permission "+string(perm)+" required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAnyPermission admits callers holding at least one of perms.
func (a *API) RequireAnyPermission(perms []authz.Permission, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := auth.AccountFromContext(r.Context())
		if account == nil {
			unauthorized(w, codeInvalidToken, "authentication required")
			return
		}
		if !a.engine.HasAnyPermission(account, perms...) {
			writeError(w, http.StatusForbidden, codeInsufficientPermissions,
				"insufficient permissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole admits only callers with one of the exact role names.
func (a *API) RequireRole(roles []string, next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := auth.AccountFromContext(r.Context())
		if account == nil {
			unauthorized(w, codeInvalidToken, "authentication required")
			return
		}
		if _, ok := allowed[account.Role]; !ok {
			writeError(w, http.StatusForbidden, codeInsufficientPermissions,
				"role not permitted")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireOwnership answers false and writes the rejection when the caller
// does not own the resource. Only the developer role is ownership-limited;
// editors and superadmins mutate any resource their permissions allow.
func (a *API) requireOwnership(w http.ResponseWriter, r *http.Request, resourceType, resourceID string) bool {
	account := auth.AccountFromContext(r.Context())
	if account == nil {
		unauthorized(w, codeInvalidToken, "authentication required")
		return false
	}
	if account.Role != authz.RoleDeveloper {
		return true
	}
	if !a.engine.VerifyOwnership(r.Context(), account, resourceType, resourceID) {
		writeError(w, http.StatusForbidden, codeNotResourceOwner,
			"caller does not own this "+resourceType)
		return false
	}
	return true
}
