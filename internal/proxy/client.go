// Package proxy forwards requests to the upstream content service and
// resolves resource ownership for the authorization engine.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"gamegate.org/internal/auth"
	"gamegate.org/internal/authz"
)

const userAgent = "gamegate/1.0"

// Header carrying the authenticated caller's email to the upstream.
const AuthenticatedUserHeader = "X-Authenticated-User"

// Upstream failure classification for the HTTP layer.
var (
	ErrUpstreamTimeout     = errors.New("proxy: upstream timed out")
	ErrUpstreamUnavailable = errors.New("proxy: upstream unavailable")
)

// Client talks to the content service. Responses are forwarded verbatim;
// the gateway adds authentication, authorization and the caller identity
// header, nothing else.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
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

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient builds a client for one upstream base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("proxy: base URL is required")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Response is an upstream reply ready to relay to the caller.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Forward relays one request to the upstream. callerEmail, when non-empty,
// travels in the X-Authenticated-User header. Timeouts map to
// ErrUpstreamTimeout and connection failures to ErrUpstreamUnavailable so
// the HTTP layer can answer 504 and 503 respectively.
func (c *Client) Forward(ctx context.Context, method, path string, query url.Values, body io.Reader, callerEmail string) (*Response, error) {
	target := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if callerEmail != "" {
		req.Header.Set(AuthenticatedUserHeader, callerEmail)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("proxy: read upstream body: %w", err)
	}
	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Msg("forwarded upstream request")
	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        payload,
	}, nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}

var _ authz.OwnershipChecker = (*Client)(nil)

var resourcePaths = map[string]string{
	"game":   "api/games",
	"studio": "api/studios",
}

// ResourceOwner fetches a resource and extracts its owner identity. The
// upstream wraps payloads in a {success, data} envelope and exposes the
// owner as owner_email/owner_id or created_by_email/created_by_id.
func (c *Client) ResourceOwner(ctx context.Context, resourceType, resourceID string) (*authz.ResourceOwner, error) {
	base, ok := resourcePaths[resourceType]
	if !ok {
		return nil, fmt.Errorf("proxy: unknown resource type %q", resourceType)
	}
	resp, err := c.Forward(ctx, http.MethodGet, base+"/"+resourceID, nil, nil, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, auth.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxy: resource lookup returned %d", resp.StatusCode)
	}

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			OwnerEmail     string          `json:"owner_email"`
			CreatedByEmail string          `json:"created_by_email"`
			OwnerID        json.RawMessage `json:"owner_id"`
			CreatedByID    json.RawMessage `json:"created_by_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, fmt.Errorf("proxy: decode resource payload: %w", err)
	}
	if !envelope.Success {
		return nil, auth.ErrNotFound
	}

	owner := &authz.ResourceOwner{
		OwnerEmail: envelope.Data.OwnerEmail,
		OwnerID:    rawToString(envelope.Data.OwnerID),
	}
	if owner.OwnerEmail == "" {
		owner.OwnerEmail = envelope.Data.CreatedByEmail
	}
	if owner.OwnerID == "" {
		owner.OwnerID = rawToString(envelope.Data.CreatedByID)
	}
	return owner, nil
}

// rawToString accepts the upstream's owner ids whether they arrive as JSON
// numbers or strings.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}
