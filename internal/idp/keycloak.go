// Package idp talks to a Keycloak-style identity provider over its admin
// and OpenID Connect endpoints. It implements auth.IdentityProvider for
// two-factor enrollment and OTP verification.
package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gamegate.org/internal/auth"
)

const (
	discoveryTTL    = time.Hour
	tokenExpirySlop = 60 * time.Second
)

// openIDConfig is the subset of the discovery document we consume.
type openIDConfig struct {
	Issuer              string   `json:"issuer"`
	TokenEndpoint       string   `json:"token_endpoint"`
	UserinfoEndpoint    string   `json:"userinfo_endpoint"`
	GrantTypesSupported []string `json:"grant_types_supported"`
}

// Client is a Keycloak admin API client. Service tokens and the discovery
// document are cached and refreshed on expiry. Safe for concurrent use.
type Client struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string
	http         *http.Client
	log          zerolog.Logger
	now          func() time.Time

	mu             sync.Mutex
	config         *openIDConfig
	configFetched  time.Time
	serviceToken   string
	tokenExpiresAt time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithIDPClock overrides the time source.
func WithIDPClock(fn func() time.Time) Option {
	return func(c *Client) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewClient builds a client for one realm.
func NewClient(baseURL, realm, clientID, clientSecret string, opts ...Option) (*Client, error) {
	if baseURL == "" || realm == "" {
		return nil, errors.New("idp: base URL and realm are required")
	}
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         &http.Client{Timeout: 10 * time.Second},
		log:          zerolog.Nop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var _ auth.IdentityProvider = (*Client)(nil)

func (c *Client) discover(ctx context.Context) (*openIDConfig, error) {
	c.mu.Lock()
	if c.config != nil && c.now().Before(c.configFetched.Add(discoveryTTL)) {
		cfg := c.config
		c.mu.Unlock()
		return cfg, nil
	}
	c.mu.Unlock()

	discoveryURL := fmt.Sprintf("%s/auth/realms/%s/.well-known/openid-configuration", c.baseURL, c.realm)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("idp: fetch discovery document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("idp: discovery document returned %d", resp.StatusCode)
	}
	var cfg openIDConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("idp: decode discovery document: %w", err)
	}

	c.mu.Lock()
	c.config = &cfg
	c.configFetched = c.now()
	c.mu.Unlock()
	c.log.Debug().Str("issuer", cfg.Issuer).Msg("openid configuration refreshed")
	return &cfg, nil
}

// serviceAccessToken acquires (or reuses) a client_credentials token for
// the admin API.
func (c *Client) serviceAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.serviceToken != "" && c.now().Before(c.tokenExpiresAt) {
		token := c.serviceToken
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	cfg, err := c.discover(ctx)
	if err != nil {
		return "", err
	}
	if len(cfg.GrantTypesSupported) > 0 && !contains(cfg.GrantTypesSupported, "client_credentials") {
		return "", errors.New("idp: provider does not support client_credentials")
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenEndpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("idp: token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("idp: token endpoint returned %d", resp.StatusCode)
	}
	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("idp: decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", errors.New("idp: token response missing access_token")
	}
	expiresIn := time.Duration(body.ExpiresIn) * time.Second
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	c.mu.Lock()
	c.serviceToken = body.AccessToken
	c.tokenExpiresAt = c.now().Add(expiresIn - tokenExpirySlop)
	c.mu.Unlock()
	return body.AccessToken, nil
}

func (c *Client) adminURL(parts ...string) string {
	return c.baseURL + "/auth/admin/realms/" + c.realm + "/" + strings.Join(parts, "/")
}

func (c *Client) adminRequest(ctx context.Context, method, rawurl string, payload any) (*http.Response, error) {
	token, err := c.serviceAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawurl, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

// CreateUser provisions a user in the realm and returns its provider id.
// An already-existing username resolves to the existing user's id.
func (c *Client) CreateUser(ctx context.Context, username, email string) (string, error) {
	resp, err := c.adminRequest(ctx, http.MethodPost, c.adminURL("users"), map[string]any{
		"username":      username,
		"email":         email,
		"enabled":       true,
		"emailVerified": false,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		location := resp.Header.Get("Location")
		if location == "" {
			return "", errors.New("idp: create user response missing Location header")
		}
		segments := strings.Split(strings.TrimRight(location, "/"), "/")
		return segments[len(segments)-1], nil
	case http.StatusConflict:
		return c.findUserID(ctx, username)
	default:
		return "", fmt.Errorf("idp: create user returned %d", resp.StatusCode)
	}
}

func (c *Client) findUserID(ctx context.Context, username string) (string, error) {
	u := c.adminURL("users") + "?" + url.Values{
		"username": {username},
		"exact":    {"true"},
	}.Encode()
	resp, err := c.adminRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("idp: user lookup returned %d", resp.StatusCode)
	}
	var users []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return "", fmt.Errorf("idp: decode user lookup: %w", err)
	}
	if len(users) == 0 {
		return "", auth.ErrNotFound
	}
	return users[0].ID, nil
}

// GenerateOTP provisions a TOTP secret for the user and returns the
// enrollment material for the authenticator app.
func (c *Client) GenerateOTP(ctx context.Context, providerSubject string) (auth.OTPEnrollment, error) {
	resp, err := c.adminRequest(ctx, http.MethodPost, c.adminURL("users", providerSubject, "otp", "generate"), nil)
	if err != nil {
		return auth.OTPEnrollment{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return auth.OTPEnrollment{}, fmt.Errorf("idp: otp generate returned %d", resp.StatusCode)
	}
	var body struct {
		QRCode string `json:"qrCode"`
		Secret string `json:"secret"`
		Key    string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return auth.OTPEnrollment{}, fmt.Errorf("idp: decode otp response: %w", err)
	}
	return auth.OTPEnrollment{
		Secret:          body.Secret,
		ProvisioningURI: body.QRCode,
		ManualEntryKey:  body.Key,
	}, nil
}

// DeleteUser removes the user from the realm.
func (c *Client) DeleteUser(ctx context.Context, providerSubject string) error {
	resp, err := c.adminRequest(ctx, http.MethodDelete, c.adminURL("users", providerSubject), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("idp: delete user returned %d", resp.StatusCode)
	}
	return nil
}

// VerifyOTP checks one TOTP code against the user's enrollment. A false
// return with nil error means the code was rejected; an error means the
// provider could not be consulted.
func (c *Client) VerifyOTP(ctx context.Context, providerSubject, code string) (bool, error) {
	resp, err := c.adminRequest(ctx, http.MethodPost, c.adminURL("users", providerSubject, "otp", "verify"),
		map[string]string{"code": code})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest:
		return false, nil
	default:
		return false, fmt.Errorf("idp: otp verify returned %d", resp.StatusCode)
	}
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
