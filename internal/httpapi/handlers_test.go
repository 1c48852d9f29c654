package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"gamegate.org/internal/auth"
	"gamegate.org/internal/authz"
	"gamegate.org/internal/proxy"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *auth.MemoryStore
	svc     *auth.Service
	t       *testing.T
}

type testOptions struct {
	idp      auth.IdentityProvider
	upstream *proxy.Client
	enforce  bool
}

func newTestAPI(t *testing.T, opts testOptions) *apiClient {
	t.Helper()

	store := auth.NewMemoryStore()
	ctx := context.Background()
	if err := store.Roles(ctx).Ensure(ctx, []auth.Role{
		{Name: authz.RoleDeveloper, Description: "Creates and maintains games"},
		{Name: authz.RoleEditor, Description: "Curates the catalog"},
		{Name: authz.RoleSuperadmin, Description: "Full administration"},
	}); err != nil {
		t.Fatalf("seed roles: %v", err)
	}

	tokens, err := auth.NewTokenService("test-secret", auth.WithIssuer("gamegate-test"))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	refresh := auth.NewRefreshService(store)

	svcOpts := []auth.ServiceOption{
		auth.WithRegisterableRoles(authz.RegisterableRoles()),
	}
	if opts.idp != nil {
		svcOpts = append(svcOpts, auth.WithIdentityProvider(opts.idp))
	} else {
		svcOpts = append(svcOpts, auth.WithInsecureSkipOTP(true))
	}
	svc, err := auth.NewService(store, tokens, refresh, svcOpts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	engineOpts := []authz.EngineOption{}
	if opts.upstream != nil {
		engineOpts = append(engineOpts, authz.WithOwnershipChecker(opts.upstream, opts.enforce))
	}
	engine := authz.NewEngine(authz.DefaultPermissions(), engineOpts...)

	apiOpts := []Option{WithRateLimit(1000, 1000)}
	if opts.upstream != nil {
		apiOpts = append(apiOpts, WithUpstream(opts.upstream))
	}
	api := New(ReadyProbe{}, "test", svc, engine, apiOpts...)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		store:   store,
		svc:     svc,
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u := c.baseURL + path
	if params != nil {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func (c *apiClient) register(email, role string) {
	c.t.Helper()
	resp := c.post("/auth/register", map[string]string{
		"email": email, "password": "Str0ng!pass", "role": role,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("register returned %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// login returns the access and refresh tokens for a registered account.
func (c *apiClient) login(email string) (string, string) {
	c.t.Helper()
	resp := c.post("/auth/login", map[string]string{
		"email": email, "password": "Str0ng!pass",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login returned %d", resp.StatusCode)
	}
	body := decodeBody(c.t, resp)
	data, _ := body["data"].(map[string]any)
	access, _ := data["access_token"].(string)
	refreshToken, _ := data["refresh_token"].(string)
	if access == "" || refreshToken == "" {
		c.t.Fatalf("login body missing tokens: %v", body)
	}
	return access, refreshToken
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t, testOptions{})

	resp := c.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz returned %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["service"] != "gamegate" || body["version"] != "test" {
		t.Fatalf("healthz body = %v", body)
	}

	resp = c.get("/readyz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz returned %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRegisterLoginMe(t *testing.T) {
	c := newTestAPI(t, testOptions{})
	c.register("dev@example.com", "developer")

	access, _ := c.login("dev@example.com")
	resp := c.get("/auth/me", nil, bearerHeader(access))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me returned %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	data := body["data"].(map[string]any)
	if data["email"] != "dev@example.com" || data["role"] != "developer" {
		t.Fatalf("me body = %v", body)
	}
}

func TestRegisterRejectsSuperadmin(t *testing.T) {
	c := newTestAPI(t, testOptions{})
	resp := c.post("/auth/register", map[string]string{
		"email": "boss@example.com", "password": "Str0ng!pass", "role": "superadmin",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("register superadmin returned %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["error_code"] != codeValidationError {
		t.Fatalf("error_code = %v", body["error_code"])
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	c := newTestAPI(t, testOptions{})
	c.register("dev@example.com", "developer")

	resp := c.post("/auth/register", map[string]string{
		"email": "dev@example.com", "password": "Str0ng!pass", "role": "editor",
	}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register returned %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["error_code"] != codeConflict {
		t.Fatalf("error_code = %v", body["error_code"])
	}
}

func TestLoginWrongPassword(t *testing.T) {
	c := newTestAPI(t, testOptions{})
	c.register("dev@example.com", "developer")

	resp := c.post("/auth/login", map[string]string{
		"email": "dev@example.com", "password": "WrongPass1!",
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password returned %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["error_code"] != codeInvalidCredentials {
		t.Fatalf("error_code = %v", body["error_code"])
	}
}

func TestInactiveAccountRejected(t *testing.T) {
	c := newTestAPI(t, testOptions{})
	c.register("dev@example.com", "developer")
	access, _ := c.login("dev@example.com")

	ctx := context.Background()
	account, err := c.store.Accounts(ctx).FindByEmail(ctx, "dev@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if err := c.store.Accounts(ctx).SetActive(ctx, account.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	resp := c.get("/auth/me", nil, bearerHeader(access))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("inactive account returned %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["error_code"] != codeInactiveAccount {
		t.Fatalf("error_code = %v", body["error_code"])
	}
}

func TestRefreshAndLogout(t *testing.T) {
	c := newTestAPI(t, testOptions{})
	c.register("dev@example.com", "developer")
	access, refreshToken := c.login("dev@example.com")

	resp := c.post("/auth/refresh", map[string]string{"refresh_token": refreshToken}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh returned %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	data := body["data"].(map[string]any)
	if data["access_token"] == "" {
		t.Fatalf("refresh body = %v", body)
	}

	resp = c.post("/auth/logout", nil, bearerHeader(access))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Every refresh token from this account is now dead.
	resp = c.post("/auth/refresh", map[string]string{"refresh_token": refreshToken}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after logout returned %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSessionListing(t *testing.T) {
	c := newTestAPI(t, testOptions{})
	c.register("dev@example.com", "developer")
	access, _ := c.login("dev@example.com")
	c.login("dev@example.com") // second device

	resp := c.get("/auth/sessions", nil, bearerHeader(access))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sessions returned %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	sessions, ok := body["data"].([]any)
	if !ok || len(sessions) != 2 {
		t.Fatalf("sessions body = %v", body)
	}
	first := sessions[0].(map[string]any)
	if first["id"] == "" || first["expires_at"] == "" {
		t.Fatalf("session entry = %v", first)
	}
}

func TestStepUpFlow(t *testing.T) {
	c := newTestAPI(t, testOptions{})
	c.register("dev@example.com", "developer")

	ctx := context.Background()
	account, err := c.store.Accounts(ctx).FindByEmail(ctx, "dev@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	enabled := true
	method := "totp"
	if err := c.store.Accounts(ctx).UpdateTwoFactor(ctx, account.ID, auth.TwoFactorUpdate{
		Enabled: &enabled, Method: &method,
	}); err != nil {
		t.Fatalf("UpdateTwoFactor: %v", err)
	}

	resp := c.post("/auth/login", map[string]string{
		"email": "dev@example.com", "password": "Str0ng!pass",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login returned %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["requires_2fa"] != true {
		t.Fatalf("expected step-up challenge, got %v", body)
	}
	data := body["data"].(map[string]any)
	stepUp, _ := data["step_up_token"].(string)
	if stepUp == "" {
		t.Fatal("missing step_up_token")
	}
	if _, hasAccess := data["access_token"]; hasAccess {
		t.Fatal("challenged login leaked an access token")
	}

	// The step-up token is not an access token.
	resp = c.get("/auth/me", nil, bearerHeader(stepUp))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("step-up token on protected route returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/auth/verify-2fa", map[string]string{
		"step_up_token": stepUp, "code": "123456",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify-2fa returned %d", resp.StatusCode)
	}
	body = decodeBody(t, resp)
	data = body["data"].(map[string]any)
	access, _ := data["access_token"].(string)
	if access == "" {
		t.Fatalf("verify-2fa body = %v", body)
	}

	resp = c.get("/auth/me", nil, bearerHeader(access))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me after step-up returned %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestChangePassword(t *testing.T) {
	c := newTestAPI(t, testOptions{})
	c.register("dev@example.com", "developer")
	access, refreshToken := c.login("dev@example.com")

	resp := c.post("/auth/change-password", map[string]string{
		"current_password": "Str0ng!pass", "new_password": "N3w!passwd",
	}, bearerHeader(access))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("change-password returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/auth/refresh", map[string]string{"refresh_token": refreshToken}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after password change returned %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestPasswordStrengthProbe(t *testing.T) {
	c := newTestAPI(t, testOptions{})

	resp := c.post("/auth/password-strength", map[string]string{"password": "weak"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("password-strength returned %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	data := body["data"].(map[string]any)
	if data["acceptable"] != false {
		t.Fatalf("weak password rated acceptable: %v", body)
	}
	problems, _ := data["problems"].([]any)
	if len(problems) == 0 {
		t.Fatal("expected problems for weak password")
	}
}

func TestRolesIntrospection(t *testing.T) {
	c := newTestAPI(t, testOptions{})
	c.register("dev@example.com", "developer")
	access, _ := c.login("dev@example.com")

	resp := c.get("/auth/roles", nil, bearerHeader(access))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("roles returned %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	roles, _ := body["data"].([]any)
	if len(roles) != 3 {
		t.Fatalf("roles = %v", body)
	}

	resp = c.get("/auth/roles/editor/permissions", nil, bearerHeader(access))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("role permissions returned %d", resp.StatusCode)
	}
	body = decodeBody(t, resp)
	data := body["data"].(map[string]any)
	perms, _ := data["permissions"].([]any)
	found := false
	for _, p := range perms {
		if p == "studio:read" {
			found = true
		}
		if p == "studio:create" {
			t.Fatal("editor granted studio:create")
		}
	}
	if !found {
		t.Fatalf("editor permissions = %v", perms)
	}

	resp = c.get("/auth/roles/auditor/permissions", nil, bearerHeader(access))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown role returned %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTwoFactorStatus(t *testing.T) {
	c := newTestAPI(t, testOptions{})
	c.register("dev@example.com", "developer")
	access, _ := c.login("dev@example.com")

	resp := c.get("/auth/2fa/status", nil, bearerHeader(access))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("2fa status returned %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	data := body["data"].(map[string]any)
	if data["enabled"] != false {
		t.Fatalf("2fa status = %v", body)
	}
}
