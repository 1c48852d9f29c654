// Package httpapi is the HTTP surface of the gateway: request
// authentication, permission guards, auth endpoints and the content-service
// proxy routes.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/go-playground/validator/v10"

	"gamegate.org/internal/auth"
	"gamegate.org/internal/authz"
	"gamegate.org/internal/obs"
	"gamegate.org/internal/proxy"
)

// ReadyProbe reports readiness, typically a database ping.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API wires handlers, guards and middleware into one http.Handler.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	svc      *auth.Service
	engine   *authz.Engine
	upstream *proxy.Client
	validate *validator.Validate

	rateBurst    int
	ratePerSec   int
	maxBodyBytes int64
	corsOrigins  []string
}

// Option configures the API.
type Option func(*API)

// WithRateLimit sets the per-IP token bucket parameters.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		a.rateBurst = burst
		a.ratePerSec = perSecond
	}
}

// WithMaxBodyBytes caps request body size.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// WithCORSOrigins sets allowed cross-origin origins.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

// WithUpstream wires the content-service client; without it the proxy
// routes answer 503.
func WithUpstream(c *proxy.Client) Option {
	return func(a *API) { a.upstream = c }
}

// New builds the API.
func New(rp ReadyProbe, version string, svc *auth.Service, engine *authz.Engine, opts ...Option) *API {
	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   rp,
		version:      version,
		svc:          svc,
		engine:       engine,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		rateBurst:    20,
		ratePerSec:   10,
		maxBodyBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.routes()
	return a
}

func (a *API) routes() {
	// health and introspection
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	// authentication
	a.mux.HandleFunc("POST /auth/register", a.handleRegister)
	a.mux.HandleFunc("POST /auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("POST /auth/verify-2fa", a.handleVerifySecondFactor)
	a.mux.HandleFunc("POST /auth/password-strength", a.handlePasswordStrength)
	a.mux.Handle("POST /auth/logout", a.Authenticate(http.HandlerFunc(a.handleLogout)))
	a.mux.Handle("GET /auth/me", a.Authenticate(http.HandlerFunc(a.handleMe)))
	a.mux.Handle("GET /auth/sessions", a.Authenticate(http.HandlerFunc(a.handleSessions)))
	a.mux.Handle("POST /auth/change-password",
		a.Authenticate(a.RequirePermission(authz.PermAuthChangePassword, http.HandlerFunc(a.handleChangePassword))))
	a.mux.Handle("GET /auth/roles", a.Authenticate(http.HandlerFunc(a.handleRoles)))
	a.mux.Handle("GET /auth/roles/{role}/permissions", a.Authenticate(http.HandlerFunc(a.handleRolePermissions)))

	// two-factor enrollment, access-token sessions only
	a.mux.Handle("POST /auth/2fa/enable", a.Authenticate(http.HandlerFunc(a.handleEnableTwoFactor)))
	a.mux.Handle("POST /auth/2fa/confirm", a.Authenticate(http.HandlerFunc(a.handleConfirmTwoFactor)))
	a.mux.Handle("GET /auth/2fa/status", a.Authenticate(http.HandlerFunc(a.handleTwoFactorStatus)))
	a.mux.Handle("POST /auth/2fa/disable", a.Authenticate(http.HandlerFunc(a.handleDisableTwoFactor)))

	// proxied content routes
	a.proxyRoutes()

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "resource not found")
	})
}

// Handler returns the fully wrapped handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = RequestLogging(h)
	return obs.Instrument(h)
}
