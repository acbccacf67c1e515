// Package tenantauth implements the tenant-user login surface: it drives the
// tenant-scoped login/logout endpoints and installs the resulting session in
// the credential store.
package tenantauth

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/omborsaas/go-session-client/credstore"
	"github.com/omborsaas/go-session-client/gateway"
	interrors "github.com/omborsaas/go-session-client/internal/errors"
	"github.com/omborsaas/go-session-client/session"
)

// Client performs tenant-domain authentication.
type Client struct {
	gw    *gateway.Gateway
	store *credstore.Store
	log   zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a tenant auth client.
func NewClient(gw *gateway.Gateway, store *credstore.Store, options ...Option) (*Client, error) {
	if gw == nil {
		return nil, errors.New("[tenantauth.NewClient] gateway is required")
	}
	if store == nil {
		return nil, errors.New("[tenantauth.NewClient] store is required")
	}
	c := &Client{gw: gw, store: store, log: zerolog.Nop()}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type loginResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	User    session.UserInfo `json:"user"`
	Tokens  tokenPair        `json:"tokens"`
}

// Login authenticates username/password against the tenant identified by
// slug and, on success, atomically establishes the tenant session (clearing
// any operator session). The returned user info carries the tenant's payment
// gate state, which callers use to seed the access gate before its first
// poll.
func (c *Client) Login(ctx context.Context, slug, username, password string) (session.UserInfo, error) {
	if slug == "" {
		return session.UserInfo{}, errors.New("[Client.Login] slug is required")
	}

	var out loginResponse
	err := c.gw.JSON(ctx, gateway.Call{
		Method:        http.MethodPost,
		Path:          slug + "/auth/login",
		Body:          loginRequest{Username: username, Password: password},
		Unpartitioned: true,
		Anonymous:     true,
	}, &out)
	if err != nil {
		if apiErr, ok := gateway.AsAPIError(err); ok && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			return session.UserInfo{}, errors.Wrap(interrors.ErrInvalidCredentials, apiErr.Detail)
		}
		return session.UserInfo{}, errors.Wrap(err, "[Client.Login]")
	}

	creds := session.Credentials{
		AccessToken:  out.Tokens.AccessToken,
		RefreshToken: out.Tokens.RefreshToken,
	}
	if err := c.store.EstablishTenantSession(out.User, creds, slug); err != nil {
		return session.UserInfo{}, errors.Wrap(err, "[Client.Login] establish session")
	}

	c.log.Info().Str("slug", slug).Str("user", username).Msg("tenant login succeeded")
	return out.User, nil
}

// Logout ends the active tenant session. The server-side logout call is best
// effort: local termination happens regardless of its outcome, so the user
// is never stuck logged in because of a network blip.
func (c *Client) Logout(ctx context.Context) error {
	tc, ok := c.store.TenantContext()
	if !ok {
		return errors.Wrap(interrors.ErrNoActiveSession, "[Client.Logout]")
	}

	if err := c.gw.JSON(ctx, gateway.Call{
		Method: http.MethodPost,
		Path:   "auth/logout",
	}, nil); err != nil {
		c.log.Warn().Err(err).Str("slug", tc.Slug).Msg("server-side logout failed, terminating locally")
	}

	c.store.Terminate(session.DomainTenant, session.ReasonLogout)
	return nil
}
