package httpapi

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"gamegate.org/internal/auth"
	"gamegate.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Authenticate resolves the bearer token into an active account and stores
// it in the request context. Missing or invalid credentials are hard
// failures. This is the only place token verification failures become
// caller-facing rejections.
func (a *API) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, token, ok := a.resolve(w, r, true)
		if !ok {
			return
		}
		ctx := auth.ContextWithAccount(r.Context(), account)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthenticateOptional resolves an identity when a credential is present
// but lets anonymous requests through without one. An invalid credential
// yields no identity rather than an error.
func (a *API) AuthenticateOptional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get(authHeader)) == "" {
			next.ServeHTTP(w, r)
			return
		}
		account, token, ok := a.resolveQuiet(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		ctx := auth.ContextWithAccount(r.Context(), account)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolve authenticates the request. With report set it writes the
// rejection response and returns ok=false.
func (a *API) resolve(w http.ResponseWriter, r *http.Request, report bool) (*auth.Account, string, bool) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		if report {
			unauthorized(w, codeInvalidToken, err.Error())
		}
		return nil, "", false
	}
	if !looksLikeJWT(token) {
		obs.CountTokenVerification("access", "malformed")
		if report {
			unauthorized(w, codeInvalidToken, "malformed token")
		}
		return nil, "", false
	}

	claims, err := a.svc.Tokens().Verify(token, auth.TokenKindAccess)
	if err != nil {
		obs.CountTokenVerification("access", "rejected")
		if report {
			unauthorized(w, codeInvalidToken, "invalid token")
		}
		return nil, "", false
	}
	obs.CountTokenVerification("access", "ok")

	account, err := a.svc.AccountByID(r.Context(), claims.Subject)
	if err != nil {
		if report {
			if errors.Is(err, auth.ErrNotFound) {
				unauthorized(w, codeInvalidToken, "invalid token")
			} else {
				writeError(w, http.StatusInternalServerError, codeInternalError, "authentication error")
			}
		}
		return nil, "", false
	}
	if !account.Active {
		if report {
			writeError(w, http.StatusForbidden, codeInactiveAccount, "account is inactive")
		}
		return nil, "", false
	}
	return account, token, true
}

func (a *API) resolveQuiet(r *http.Request) (*auth.Account, string, bool) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil || !looksLikeJWT(token) {
		return nil, "", false
	}
	claims, err := a.svc.Tokens().Verify(token, auth.TokenKindAccess)
	if err != nil {
		return nil, "", false
	}
	account, err := a.svc.AccountByID(r.Context(), claims.Subject)
	if err != nil || !account.Active {
		return nil, "", false
	}
	return account, token, true
}

func unauthorized(w http.ResponseWriter, code, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="gamegate"`)
	writeError(w, http.StatusUnauthorized, code, message)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// looksLikeJWT is a cheap structural check run before any crypto: three
// non-empty base64url segments.
func looksLikeJWT(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		if _, err := base64.RawURLEncoding.DecodeString(p); err != nil {
			return false
		}
	}
	return true
}
