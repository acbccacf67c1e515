package gateway_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omborsaas/go-session-client/authtest"
	"github.com/omborsaas/go-session-client/credstore"
	"github.com/omborsaas/go-session-client/credstore/storefakes"
	"github.com/omborsaas/go-session-client/gateway"
	interrors "github.com/omborsaas/go-session-client/internal/errors"
	"github.com/omborsaas/go-session-client/partition"
	"github.com/omborsaas/go-session-client/session"
)

const (
	testSlug     = "acme"
	testUsername = "john.doe"
)

type gatewayFixture struct {
	srv   *authtest.Server
	store *credstore.Store
	gw    *gateway.Gateway

	mu    sync.Mutex
	ended []session.Event
}

func setupGateway(t *testing.T, options ...authtest.Option) *gatewayFixture {
	t.Helper()

	f := &gatewayFixture{srv: authtest.NewServer(options...)}
	t.Cleanup(f.srv.Close)

	f.srv.AddTenant(testSlug, "Acme Inc")
	f.srv.AddUser(testSlug, testUsername, "hunter2", authtest.UserInfo(1, testUsername, "John Doe", "staff"))

	store, err := credstore.New(storefakes.NewFakeStorage())
	require.NoError(t, err)
	require.NoError(t, store.Restore())
	f.store = store

	store.Subscribe(func(ev session.Event) {
		if ev.Kind != session.EventEnded {
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.ended = append(f.ended, ev)
	})

	gw, err := gateway.New(f.srv.URL(), store, partition.NewResolver())
	require.NoError(t, err)
	f.gw = gw
	return f
}

func (f *gatewayFixture) loginTenant(t *testing.T) {
	t.Helper()
	creds := f.srv.IssueTenantCredentials(testSlug, testUsername)
	require.NoError(t, f.store.EstablishTenantSession(
		authtest.UserInfo(1, testUsername, "John Doe", "staff"), creds, testSlug))
}

func (f *gatewayFixture) endedEvents() []session.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]session.Event, len(f.ended))
	copy(out, f.ended)
	return out
}

func TestDoAttachesBearerAndPartition(t *testing.T) {
	f := setupGateway(t)
	f.loginTenant(t)

	// "inventory" must resolve to /acme/inventory and carry the bearer token.
	var out struct {
		Slug string `json:"slug"`
	}
	err := f.gw.JSON(context.Background(), gateway.Call{Method: http.MethodGet, Path: "inventory"}, &out)
	require.NoError(t, err)
	require.Equal(t, testSlug, out.Slug)
}

func TestDoRefreshesAndReplaysOnce(t *testing.T) {
	f := setupGateway(t)
	f.loginTenant(t)
	before := f.store.Credentials(session.DomainTenant)

	f.srv.RevokeAccessTokens()

	var out struct {
		Slug string `json:"slug"`
	}
	err := f.gw.JSON(context.Background(), gateway.Call{Method: http.MethodGet, Path: "inventory"}, &out)
	require.NoError(t, err)
	require.Equal(t, testSlug, out.Slug)
	require.Equal(t, 1, f.srv.RefreshCalls())

	after := f.store.Credentials(session.DomainTenant)
	require.NotEqual(t, before.AccessToken, after.AccessToken)
	require.NotEqual(t, before.RefreshToken, after.RefreshToken, "rotated refresh token must be adopted")
	require.Equal(t, session.DomainTenant, f.store.ActiveDomain())
}

func TestDoAcceptsNestedRefreshResponse(t *testing.T) {
	f := setupGateway(t, authtest.WithNestedRefreshResponse())
	f.loginTenant(t)

	f.srv.RevokeAccessTokens()

	err := f.gw.JSON(context.Background(), gateway.Call{Method: http.MethodGet, Path: "inventory"}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, f.srv.RefreshCalls())
}

func TestConcurrent401sShareOneRefresh(t *testing.T) {
	f := setupGateway(t)
	f.loginTenant(t)

	f.srv.RevokeAccessTokens()
	f.srv.SetRefreshDelay(50 * time.Millisecond)

	const callers = 8
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			errs <- f.gw.JSON(context.Background(), gateway.Call{Method: http.MethodGet, Path: "inventory"}, nil)
		}()
	}
	for i := 0; i < callers; i++ {
		require.NoError(t, <-errs)
	}
	require.Equal(t, 1, f.srv.RefreshCalls())
}

func TestRejectedRefreshTerminatesTenantSession(t *testing.T) {
	f := setupGateway(t)
	f.loginTenant(t)

	f.srv.RevokeAccessTokens()
	f.srv.FailRefresh(true)
	f.srv.SetRefreshDelay(50 * time.Millisecond)

	const callers = 4
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			errs <- f.gw.JSON(context.Background(), gateway.Call{Method: http.MethodGet, Path: "inventory"}, nil)
		}()
	}
	for i := 0; i < callers; i++ {
		require.ErrorIs(t, <-errs, interrors.ErrRefreshFailed)
	}
	require.Equal(t, 1, f.srv.RefreshCalls(), "concurrent callers must share the failed refresh too")
	require.Equal(t, session.DomainNone, f.store.ActiveDomain())

	events := f.endedEvents()
	require.Len(t, events, 1)
	require.Equal(t, session.ReasonRefreshFailed, events[0].Reason)
	require.Equal(t, testSlug, events[0].Slug)
}

func TestOperator401TerminatesWithoutRefresh(t *testing.T) {
	f := setupGateway(t)
	f.srv.AddAdmin("root", "password", "1234", "")
	require.NoError(t, f.store.EstablishOperatorSession(
		session.AdminInfo{ID: 1, Username: "root"}, f.srv.IssueOperatorCredentials("root")))

	f.srv.RevokeAccessTokens()

	resp, err := f.gw.Do(context.Background(), gateway.Call{Method: http.MethodGet, Path: "dashboard"})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Zero(t, f.srv.RefreshCalls())
	require.Equal(t, session.DomainNone, f.store.ActiveDomain())

	events := f.endedEvents()
	require.Len(t, events, 1)
	require.Equal(t, session.DomainOperator, events[0].Domain)
	require.Equal(t, session.ReasonUnauthorized, events[0].Reason)
}

func TestTenant401WithoutRefreshTokenTerminates(t *testing.T) {
	f := setupGateway(t)
	creds := f.srv.IssueTenantCredentials(testSlug, testUsername)
	creds.RefreshToken = ""

	// EstablishTenantSession requires a non-empty pair; give it a stale access
	// token only.
	creds.AccessToken = "stale"
	require.NoError(t, f.store.EstablishTenantSession(
		authtest.UserInfo(1, testUsername, "John Doe", "staff"), creds, testSlug))

	resp, err := f.gw.Do(context.Background(), gateway.Call{Method: http.MethodGet, Path: "inventory"})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Zero(t, f.srv.RefreshCalls())
	require.Equal(t, session.DomainNone, f.store.ActiveDomain())
}

func TestNon401PassesThrough(t *testing.T) {
	f := setupGateway(t)
	f.loginTenant(t)

	err := f.gw.JSON(context.Background(), gateway.Call{
		Method:    http.MethodGet,
		Path:      "tenant/nope/info",
		Anonymous: true,
	}, nil)
	apiErr, ok := gateway.AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	require.Equal(t, "Tenant not found", apiErr.Detail)
	require.Zero(t, f.srv.RefreshCalls())
	require.Equal(t, session.DomainTenant, f.store.ActiveDomain())
}

func TestAnonymous401IsNotRecovered(t *testing.T) {
	f := setupGateway(t)
	f.loginTenant(t)

	err := f.gw.JSON(context.Background(), gateway.Call{
		Method:    http.MethodPost,
		Path:      testSlug + "/auth/login",
		Body:      map[string]string{"username": testUsername, "password": "wrong"},
		Anonymous: true, Unpartitioned: true,
	}, nil)
	apiErr, ok := gateway.AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	require.Zero(t, f.srv.RefreshCalls())
	require.Equal(t, session.DomainTenant, f.store.ActiveDomain())
}

func TestAuthenticatedCallBeforeRestore(t *testing.T) {
	srv := authtest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddTenant(testSlug, "Acme Inc")

	store, err := credstore.New(storefakes.NewFakeStorage())
	require.NoError(t, err)

	gw, err := gateway.New(srv.URL(), store, partition.NewResolver())
	require.NoError(t, err)

	_, err = gw.Do(context.Background(), gateway.Call{Method: http.MethodGet, Path: "inventory"})
	require.ErrorIs(t, err, interrors.ErrStoreNotReady)

	// Anonymous calls do not wait for the store.
	err = gw.JSON(context.Background(), gateway.Call{
		Method:    http.MethodGet,
		Path:      "tenant/" + testSlug + "/info",
		Anonymous: true,
	}, nil)
	require.NoError(t, err)
}
