package httpapi

import (
	"errors"
	"net/http"

	"gamegate.org/internal/auth"
	"gamegate.org/internal/authz"
	"gamegate.org/internal/proxy"
)

func (a *API) proxyRoutes() {
	a.registerResource("games", "game", resourcePerms{
		create: authz.PermGameCreate,
		update: authz.PermGameUpdate,
		delete: authz.PermGameDelete,
	})
	a.registerResource("studios", "studio", resourcePerms{
		create: authz.PermStudioCreate,
		update: authz.PermStudioUpdate,
		delete: authz.PermStudioDelete,
	})
}

type resourcePerms struct {
	create, update, delete authz.Permission
}

// registerResource wires the CRUD forwarding routes for one upstream
// collection. Reads are public; an identity is attached when a valid
// credential accompanies the request. Mutations are permission-gated
// and mutations of an existing resource additionally pass the
// ownership check.
func (a *API) registerResource(collection, resourceType string, perms resourcePerms) {
	base := "/api/" + collection

	a.mux.Handle("GET "+base, a.AuthenticateOptional(a.forward(collection, "")))
	a.mux.Handle("GET "+base+"/{id}", a.AuthenticateOptional(a.forward(collection, "{id}")))
	a.mux.Handle("POST "+base, a.Authenticate(a.RequirePermission(perms.create,
		a.forward(collection, ""))))
	a.mux.Handle("PUT "+base+"/{id}", a.Authenticate(a.RequirePermission(perms.update,
		a.forwardOwned(collection, resourceType))))
	a.mux.Handle("DELETE "+base+"/{id}", a.Authenticate(a.RequirePermission(perms.delete,
		a.forwardOwned(collection, resourceType))))
}

// forward relays the request to the upstream collection path.
func (a *API) forward(collection, idSegment string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := "api/" + collection
		if idSegment != "" {
			path += "/" + r.PathValue("id")
		}
		a.relay(w, r, path)
	})
}

// forwardOwned verifies resource ownership before relaying a mutation.
func (a *API) forwardOwned(collection, resourceType string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !a.requireOwnership(w, r, resourceType, id) {
			return
		}
		a.relay(w, r, "api/"+collection+"/"+id)
	})
}

func (a *API) relay(w http.ResponseWriter, r *http.Request, path string) {
	if a.upstream == nil {
		writeError(w, http.StatusServiceUnavailable, codeUpstreamUnavailable,
			"content service not configured")
		return
	}
	var callerEmail string
	if account := auth.AccountFromContext(r.Context()); account != nil {
		callerEmail = account.Email
	}
	resp, err := a.upstream.Forward(r.Context(), r.Method, path, r.URL.Query(), r.Body, callerEmail)
	if err != nil {
		switch {
		case errors.Is(err, proxy.ErrUpstreamTimeout):
			writeError(w, http.StatusGatewayTimeout, codeUpstreamTimeout,
				"content service timed out")
		case errors.Is(err, proxy.ErrUpstreamUnavailable):
			writeError(w, http.StatusServiceUnavailable, codeUpstreamUnavailable,
				"content service unavailable")
		default:
			writeError(w, http.StatusBadGateway, codeInternalError, "proxy error")
		}
		return
	}
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}
