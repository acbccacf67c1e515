package accessgate_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omborsaas/go-session-client/accessgate"
	"github.com/omborsaas/go-session-client/authtest"
	"github.com/omborsaas/go-session-client/credstore"
	"github.com/omborsaas/go-session-client/credstore/storefakes"
	"github.com/omborsaas/go-session-client/gateway"
	"github.com/omborsaas/go-session-client/partition"
	"github.com/omborsaas/go-session-client/session"
)

const testSlug = "acme"

type gateFixture struct {
	srv   *authtest.Server
	store *credstore.Store
	gate  *accessgate.Gate
}

func setupGate(t *testing.T) *gateFixture {
	t.Helper()

	f := &gateFixture{srv: authtest.NewServer()}
	t.Cleanup(f.srv.Close)
	f.srv.AddTenant(testSlug, "Acme Inc")
	f.srv.AddUser(testSlug, "john.doe", "hunter2", authtest.UserInfo(1, "john.doe", "John Doe", "staff"))

	store, err := credstore.New(storefakes.NewFakeStorage())
	require.NoError(t, err)
	require.NoError(t, store.Restore())
	f.store = store

	gw, err := gateway.New(f.srv.URL(), store, partition.NewResolver())
	require.NoError(t, err)

	gate, err := accessgate.NewGate(gw, store, accessgate.WithInterval(20*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(gate.Close)
	f.gate = gate
	return f
}

func (f *gateFixture) establishTenant(t *testing.T) {
	t.Helper()
	creds := f.srv.IssueTenantCredentials(testSlug, "john.doe")
	require.NoError(t, f.store.EstablishTenantSession(
		authtest.UserInfo(1, "john.doe", "John Doe", "staff"), creds, testSlug))
}

func waitFor(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond())
}

func TestBlockingIsNonDestructive(t *testing.T) {
	f := setupGate(t)
	f.establishTenant(t)
	creds := f.store.Credentials(session.DomainTenant)

	f.srv.SetPaymentRequired(testSlug, true, "Subscription expired")
	waitFor(t, func() bool { return f.gate.State().Blocked }, time.Second)
	require.Equal(t, "Subscription expired", f.gate.State().Message)

	// Session and tokens survive blocking untouched.
	require.Equal(t, session.DomainTenant, f.store.ActiveDomain())
	require.Equal(t, creds, f.store.Credentials(session.DomainTenant))

	// Unblocking clears on a later poll, no re-login needed.
	f.srv.SetPaymentRequired(testSlug, false, "")
	waitFor(t, func() bool { return !f.gate.State().Blocked }, time.Second)
	require.Equal(t, creds, f.store.Credentials(session.DomainTenant))
}

func TestListenersFireOnTransitionsOnly(t *testing.T) {
	f := setupGate(t)

	var mu sync.Mutex
	var changes []accessgate.State
	f.gate.Subscribe(func(s accessgate.State) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, s)
	})
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(changes)
	}

	f.srv.SetPaymentRequired(testSlug, true, "Subscription expired")
	f.establishTenant(t)

	waitFor(t, func() bool { return count() == 1 }, time.Second)

	// Repeated identical polls must not re-notify.
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, count())

	f.srv.SetPaymentRequired(testSlug, false, "")
	waitFor(t, func() bool { return count() == 2 }, time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.True(t, changes[0].Blocked)
	require.Equal(t, "Subscription expired", changes[0].Message)
	require.False(t, changes[1].Blocked)
}

func TestPollFailureKeepsPreviousState(t *testing.T) {
	f := setupGate(t)
	f.srv.SetPaymentRequired(testSlug, true, "Subscription expired")
	f.establishTenant(t)
	waitFor(t, func() bool { return f.gate.State().Blocked }, time.Second)

	// Take the backend away; the verdict must not change on failed polls.
	f.srv.Close()
	time.Sleep(100 * time.Millisecond)
	require.True(t, f.gate.State().Blocked)
	require.Equal(t, "Subscription expired", f.gate.State().Message)
}

func TestLogoutStopsPollingAndResetsState(t *testing.T) {
	f := setupGate(t)
	f.srv.SetPaymentRequired(testSlug, true, "Subscription expired")
	f.establishTenant(t)
	waitFor(t, func() bool { return f.gate.State().Blocked }, time.Second)

	f.store.Terminate(session.DomainTenant, session.ReasonLogout)
	waitFor(t, func() bool { return !f.gate.State().Blocked }, time.Second)
	require.Equal(t, accessgate.State{}, f.gate.State())
}

func TestSeedFromLoginResponse(t *testing.T) {
	f := setupGate(t)

	f.gate.Seed(true, "Subscription expired")
	require.True(t, f.gate.State().Blocked)
	require.Equal(t, "Subscription expired", f.gate.State().Message)

	// The first poll confirms or corrects the seeded verdict.
	f.establishTenant(t)
	waitFor(t, func() bool { return !f.gate.State().Blocked }, time.Second)
}

func TestOperatorSessionDoesNotPoll(t *testing.T) {
	f := setupGate(t)
	f.srv.AddAdmin("root", "password", "", "")

	creds := f.srv.IssueOperatorCredentials("root")
	require.NoError(t, f.store.EstablishOperatorSession(session.AdminInfo{Username: "root"}, creds))

	time.Sleep(80 * time.Millisecond)
	require.Equal(t, accessgate.State{}, f.gate.State())
}
