// Package accessgate continuously re-validates tenant-level access while a
// tenant session is active. A payment-blocked tenant gets a blocking overlay
// state without losing its session or tokens; unblocking clears on the next
// poll without a reload.
package accessgate

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/omborsaas/go-session-client/credstore"
	"github.com/omborsaas/go-session-client/gateway"
	"github.com/omborsaas/go-session-client/session"
)

// DefaultInterval is the reference deployment's poll interval.
const DefaultInterval = 30 * time.Second

// State is the gate's current verdict for the active tenant.
type State struct {
	Blocked bool
	Message string
}

// TenantInfo is the unauthenticated tenant status document.
type TenantInfo struct {
	Name            string `json:"name"`
	LogoURL         string `json:"logo_url"`
	PaymentRequired bool   `json:"payment_required"`
	PaymentMessage  string `json:"payment_message"`
}

// Gate polls the tenant status endpoint for the active tenant session. The
// poller is a cancellable periodic task tied to the session's lifetime: it
// starts when a tenant session is established and stops immediately on
// logout, so no orphaned timers survive a session.
//
// The gate never touches the credential store.
type Gate struct {
	gw       *gateway.Gateway
	store    *credstore.Store
	interval time.Duration
	log      zerolog.Logger

	mu        sync.Mutex
	state     State
	cancel    context.CancelFunc
	closed    bool
	unsub     func()
	listeners map[int]func(State)
	nextID    int
}

// Option configures a Gate.
type Option func(*Gate)

// WithInterval overrides the poll interval.
func WithInterval(d time.Duration) Option {
	return func(g *Gate) { g.interval = d }
}

// WithLogger sets the gate logger.
func WithLogger(log zerolog.Logger) Option {
	return func(g *Gate) { g.log = log }
}

// NewGate creates a Gate bound to the store's session lifecycle. If a tenant
// session is already active (e.g. restored from disk) polling starts
// immediately.
func NewGate(gw *gateway.Gateway, store *credstore.Store, options ...Option) (*Gate, error) {
	if gw == nil {
		return nil, errors.New("[accessgate.NewGate] gateway is required")
	}
	if store == nil {
		return nil, errors.New("[accessgate.NewGate] store is required")
	}
	g := &Gate{
		gw:        gw,
		store:     store,
		interval:  DefaultInterval,
		log:       zerolog.Nop(),
		listeners: make(map[int]func(State)),
	}
	for _, opt := range options {
		opt(g)
	}

	g.unsub = store.Subscribe(func(ev session.Event) {
		if ev.Domain != session.DomainTenant {
			return
		}
		switch ev.Kind {
		case session.EventEstablished:
			g.start()
		case session.EventEnded:
			g.stop()
		}
	})

	if store.ActiveDomain() == session.DomainTenant {
		g.start()
	}
	return g, nil
}

// State returns the latest verdict.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Subscribe registers a state-change listener and returns a removal
// function. Listeners fire only on transitions.
func (g *Gate) Subscribe(fn func(State)) func() {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		delete(g.listeners, id)
		g.mu.Unlock()
	}
}

// Seed installs an initial verdict before the first poll, typically from the
// payment fields of the login response.
func (g *Gate) Seed(blocked bool, message string) {
	g.apply(State{Blocked: blocked, Message: message})
}

// Close stops polling and detaches from the store.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	unsub := g.unsub
	g.unsub = nil
	g.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	g.stop()
}

func (g *Gate) start() {
	g.mu.Lock()
	if g.closed || g.cancel != nil {
		g.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.mu.Unlock()

	go g.run(ctx)
}

func (g *Gate) stop() {
	g.mu.Lock()
	cancel := g.cancel
	g.cancel = nil
	g.state = State{}
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// run polls once immediately, then on every tick until cancelled.
func (g *Gate) run(ctx context.Context) {
	g.poll(ctx)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.poll(ctx)
		}
	}
}

// poll fetches the tenant status. Failures are swallowed — a transient
// network blip must not lock users out — so the state only changes on a
// successful poll.
func (g *Gate) poll(ctx context.Context) {
	tc, ok := g.store.TenantContext()
	if !ok {
		return
	}

	var info TenantInfo
	err := g.gw.JSON(ctx, gateway.Call{
		Method:    http.MethodGet,
		Path:      "tenant/" + tc.Slug + "/info",
		Anonymous: true,
	}, &info)
	if err != nil {
		g.log.Debug().Err(err).Str("slug", tc.Slug).Msg("tenant status poll failed, keeping previous state")
		return
	}

	g.apply(State{Blocked: info.PaymentRequired, Message: info.PaymentMessage})
}

func (g *Gate) apply(next State) {
	g.mu.Lock()
	if g.state == next {
		g.mu.Unlock()
		return
	}
	prev := g.state
	g.state = next
	fns := make([]func(State), 0, len(g.listeners))
	for _, fn := range g.listeners {
		fns = append(fns, fn)
	}
	g.mu.Unlock()

	if next.Blocked != prev.Blocked {
		g.log.Info().Bool("blocked", next.Blocked).Msg("access gate state changed")
	}
	for _, fn := range fns {
		fn(next)
	}
}
