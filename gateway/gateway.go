// Package gateway wraps all outbound API calls with transport-level policy:
// partition routing, bearer credentials for the active identity domain, and
// one-shot recovery from authorization failures via a single-flight token
// refresh.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/omborsaas/go-session-client/credstore"
	interrors "github.com/omborsaas/go-session-client/internal/errors"
	"github.com/omborsaas/go-session-client/internal/utils"
	"github.com/omborsaas/go-session-client/partition"
	"github.com/omborsaas/go-session-client/session"
)

const defaultTimeout = 30 * time.Second

// Call describes a logical outbound API call. Path is relative to the API
// base and is partitioned by the resolver unless Unpartitioned is set.
type Call struct {
	Method string
	Path   string
	Body   interface{}
	Header http.Header

	// Unpartitioned skips partition resolution; Path already carries any
	// prefix it needs (login and other pre-session calls).
	Unpartitioned bool

	// Anonymous skips bearer credentials and the 401 recovery path.
	Anonymous bool
}

// Gateway executes Calls against the backend on behalf of whichever identity
// domain is currently active.
type Gateway struct {
	base     *url.URL
	client   *http.Client
	store    *credstore.Store
	resolver *partition.Resolver
	refresh  singleflight.Group
	metrics  *Metrics
	log      zerolog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// WithLogger sets the gateway logger.
func WithLogger(log zerolog.Logger) Option {
	return func(g *Gateway) { g.log = log }
}

// WithMetrics attaches Prometheus counters.
func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// New creates a Gateway. baseURL is the versioned API root, e.g.
// "https://api.example.com/api/v1".
func New(baseURL string, store *credstore.Store, resolver *partition.Resolver, options ...Option) (*Gateway, error) {
	if store == nil {
		return nil, errors.New("[gateway.New] store is required")
	}
	if resolver == nil {
		return nil, errors.New("[gateway.New] resolver is required")
	}
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "[gateway.New] parse base URL")
	}

	g := &Gateway{
		base:     base,
		client:   &http.Client{Timeout: defaultTimeout},
		store:    store,
		resolver: resolver,
		log:      zerolog.Nop(),
	}
	for _, opt := range options {
		opt(g)
	}
	return g, nil
}

// Do executes the call. Authenticated calls carry the active domain's bearer
// token; a 401 on a tenant-domain call triggers exactly one refresh (shared
// by all concurrent failures) and a single replay. A 401 on an
// operator-domain call terminates the operator session immediately — the
// operator has no refresh path by design. All other failures pass through
// unchanged.
//
// The caller owns the returned response body.
func (g *Gateway) Do(ctx context.Context, call Call) (*http.Response, error) {
	if !call.Anonymous && !g.store.Ready() {
		return nil, errors.Wrap(interrors.ErrStoreNotReady, "[Gateway.Do]")
	}

	var body []byte
	if call.Body != nil {
		var err error
		body, err = json.Marshal(call.Body)
		if err != nil {
			return nil, errors.Wrap(err, "[Gateway.Do] marshal body")
		}
	}

	domain := g.store.ActiveDomain()
	var slug string
	if tc, ok := g.store.TenantContext(); ok {
		slug = tc.Slug
	}

	path := call.Path
	if !call.Unpartitioned {
		path = g.resolver.Resolve(domain, slug, call.Path)
	}

	token := ""
	if !call.Anonymous {
		token = g.store.Credentials(domain).AccessToken
	}

	resp, err := g.send(ctx, call, path, body, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || call.Anonymous {
		return resp, nil
	}

	switch domain {
	case session.DomainOperator:
		// No refresh path for the operator: force logout and propagate the
		// original failure.
		g.log.Warn().Str("path", path).Msg("operator call unauthorized, terminating session")
		g.metrics.ForcedLogout(session.DomainOperator, session.ReasonUnauthorized)
		g.store.Terminate(session.DomainOperator, session.ReasonUnauthorized)
		return resp, nil

	case session.DomainTenant:
		if g.store.Credentials(session.DomainTenant).RefreshToken == "" {
			g.metrics.ForcedLogout(session.DomainTenant, session.ReasonUnauthorized)
			g.store.Terminate(session.DomainTenant, session.ReasonUnauthorized)
			return resp, nil
		}
		resp.Body.Close()

		newToken, err := g.refreshTenant(ctx, slug)
		if err != nil {
			return nil, err
		}

		// The session may have been logged out while the refresh was in
		// flight; a replay on its behalf must not happen.
		if tc, ok := g.store.TenantContext(); !ok || tc.Slug != slug {
			return nil, errors.Wrap(interrors.ErrSessionExpired, "[Gateway.Do] session ended during refresh")
		}

		g.metrics.Replay()
		g.log.Debug().Str("path", path).Msg("replaying call with refreshed token")
		return g.send(ctx, call, path, body, newToken)
	}

	return resp, nil
}

func (g *Gateway) send(ctx context.Context, call Call, path string, body []byte, token string) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, call.Method, g.join(path), reader)
	if err != nil {
		return nil, errors.Wrap(err, "[Gateway.send] build request")
	}
	for k, vs := range call.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "[Gateway.send] %s %s", call.Method, path)
	}
	return resp, nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// refreshResponse accepts both shapes the backend has been observed to
// return: tokens at the top level or nested under "tokens".
type refreshResponse struct {
	AccessToken  *string `json:"access_token,omitempty"`
	RefreshToken *string `json:"refresh_token,omitempty"`
	Tokens       *struct {
		AccessToken  *string `json:"access_token,omitempty"`
		RefreshToken *string `json:"refresh_token,omitempty"`
	} `json:"tokens,omitempty"`
}

func (rr refreshResponse) accessToken() string {
	if v := utils.Value(rr.AccessToken); v != "" {
		return v
	}
	if rr.Tokens != nil {
		return utils.Value(rr.Tokens.AccessToken)
	}
	return ""
}

func (rr refreshResponse) rotatedRefreshToken() string {
	if v := utils.Value(rr.RefreshToken); v != "" {
		return v
	}
	if rr.Tokens != nil {
		return utils.Value(rr.Tokens.RefreshToken)
	}
	return ""
}

// refreshTenant mints a new access token for the tenant session. Concurrent
// 401s share one in-flight refresh: a second failing call waits for the
// first refresh's result instead of issuing its own, which would race and
// could invalidate a freshly rotated refresh token.
func (g *Gateway) refreshTenant(ctx context.Context, slug string) (string, error) {
	v, err, _ := g.refresh.Do("tenant:"+slug, func() (interface{}, error) {
		creds := g.store.Credentials(session.DomainTenant)
		if creds.RefreshToken == "" {
			return nil, errors.Wrap(interrors.ErrNoRefreshToken, "[Gateway.refreshTenant]")
		}

		body, err := json.Marshal(refreshRequest{RefreshToken: creds.RefreshToken})
		if err != nil {
			return nil, errors.Wrap(err, "[Gateway.refreshTenant] marshal")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.join(slug+"/auth/refresh"), bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "[Gateway.refreshTenant] build request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-ID", uuid.New().String())

		resp, err := g.client.Do(req)
		if err != nil {
			// Transport failure: propagate without touching the session, the
			// next 401 will retry the refresh.
			g.metrics.Refresh("transport_error")
			return nil, errors.Wrap(err, "[Gateway.refreshTenant] refresh call")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			g.metrics.Refresh("rejected")
			g.metrics.ForcedLogout(session.DomainTenant, session.ReasonRefreshFailed)
			g.log.Warn().Int("status", resp.StatusCode).Str("slug", slug).Msg("refresh rejected, terminating tenant session")
			g.store.Terminate(session.DomainTenant, session.ReasonRefreshFailed)
			return nil, errors.Wrapf(interrors.ErrRefreshFailed, "[Gateway.refreshTenant] status %d", resp.StatusCode)
		}

		var rr refreshResponse
		if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
			g.metrics.Refresh("bad_response")
			return nil, errors.Wrap(err, "[Gateway.refreshTenant] decode response")
		}
		access := rr.accessToken()
		if access == "" {
			g.metrics.Refresh("bad_response")
			g.store.Terminate(session.DomainTenant, session.ReasonRefreshFailed)
			return nil, errors.Wrap(interrors.ErrRefreshFailed, "[Gateway.refreshTenant] response carried no access token")
		}

		if err := g.store.UpdateAccessToken(access); err != nil {
			// The same domain was logged out while the refresh was in flight.
			return nil, errors.Wrap(interrors.ErrSessionExpired, "[Gateway.refreshTenant] session ended during refresh")
		}
		if rotated := rr.rotatedRefreshToken(); rotated != "" {
			if err := g.store.RotateRefreshToken(rotated); err != nil {
				return nil, errors.Wrap(interrors.ErrSessionExpired, "[Gateway.refreshTenant] session ended during refresh")
			}
		}

		g.metrics.Refresh("success")
		g.log.Info().Str("slug", slug).Msg("access token refreshed")
		return access, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (g *Gateway) join(path string) string {
	return g.base.JoinPath(strings.Split(strings.TrimPrefix(path, "/"), "/")...).String()
}
