package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"gamegate.org/internal/auth"
	"gamegate.org/internal/obs"
)

// Machine-readable error codes carried in the JSON error envelope.
const (
	codeInvalidCredentials      = "INVALID_CREDENTIALS"
	codeInvalidToken            = "INVALID_TOKEN"
	codeInactiveAccount         = "INACTIVE_ACCOUNT"
	codeInsufficientPermissions = "INSUFFICIENT_PERMISSIONS"
	codeNotResourceOwner        = "NOT_RESOURCE_OWNER"
	codeValidationError         = "VALIDATION_ERROR"
	codeConflict                = "CONFLICT"
	codeNotFound                = "NOT_FOUND"
	codeNotConfigured           = "NOT_CONFIGURED"
	codeRateLimited             = "RATE_LIMITED"
	codeUpstreamTimeout         = "UPSTREAM_TIMEOUT"
	codeUpstreamUnavailable     = "UPSTREAM_UNAVAILABLE"
	codeInternalError           = "INTERNAL_ERROR"
)

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "gamegate",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "gamegate",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success":    false,
		"error_code": code,
		"message":    message,
	})
}

// writeServiceError maps auth-layer sentinels to HTTP answers. This and the
// resolver are the only places token and credential failures become status
// codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, codeInvalidCredentials, "invalid credentials")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, codeInvalidToken, "invalid token")
	case errors.Is(err, auth.ErrInactiveAccount):
		writeError(w, http.StatusForbidden, codeInactiveAccount, "account is inactive")
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, http.StatusConflict, codeConflict, "resource already exists")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "resource not found")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, codeValidationError, err.Error())
	case errors.Is(err, auth.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, codeNotConfigured, "identity provider not configured")
	default:
		obs.Logger().Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}

// decodeJSON reads and validates a request DTO.
func (a *API) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, codeValidationError, "malformed JSON body")
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, codeValidationError, err.Error())
		return false
	}
	return true
}
