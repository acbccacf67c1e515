package credstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	interrors "github.com/omborsaas/go-session-client/internal/errors"
	"github.com/omborsaas/go-session-client/session"
)

// Store is the single source of truth for "who is logged in, in which domain,
// with which tokens". In-memory state is updated synchronously under the lock;
// the durable write happens in the background so readers never observe stale
// state while persistence is in flight.
//
// Invariant: at most one identity domain has non-empty credentials.
type Store struct {
	mu    sync.RWMutex
	state Snapshot

	storage Storage
	log     zerolog.Logger

	persistMu   sync.Mutex // serializes background writes
	persistSeq  uint64     // next sequence number handed to a write
	lastWritten uint64     // highest sequence that reached storage

	readyOnce sync.Once
	ready     chan struct{}

	listenerMu sync.Mutex
	listeners  map[int]session.Listener
	nextListen int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for persistence failures and lifecycle logs.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New creates a Store backed by the given durable storage. The store is not
// usable for authenticated calls until Restore has completed.
func New(storage Storage, options ...Option) (*Store, error) {
	if storage == nil {
		return nil, errors.New("[credstore.New] storage is required")
	}
	s := &Store{
		storage:   storage,
		log:       zerolog.Nop(),
		ready:     make(chan struct{}),
		listeners: make(map[int]session.Listener),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Restore reconstructs state from durable storage. It must be called once at
// process start, before any authenticated call is issued; Ready/WaitReady let
// callers block until it has completed so the UI never flashes "logged out"
// for a user who still has a valid session.
func (s *Store) Restore() error {
	snap, err := s.storage.Load()
	if err != nil {
		return errors.Wrap(err, "[Store.Restore] storage.Load")
	}

	s.mu.Lock()
	if snap != nil {
		if !snap.TenantCreds.Empty() && !snap.OperatorCreds.Empty() {
			s.mu.Unlock()
			return errors.Wrap(interrors.ErrInvariant, "[Store.Restore] persisted state")
		}
		s.state = *snap
	}
	if s.state.ClientID == "" {
		s.state.ClientID = uuid.New().String()
		s.persistLocked()
	}
	domain := s.state.Domain
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
	s.log.Debug().Str("domain", string(domain)).Msg("credential store restored")
	return nil
}

// Ready reports whether Restore has completed.
func (s *Store) Ready() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// WaitReady blocks until Restore has completed or the context is done.
func (s *Store) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "[Store.WaitReady]")
	}
}

// EstablishTenantSession atomically installs a tenant session and clears any
// operator session. The in-memory switch is immediate; the durable write
// follows in the background.
func (s *Store) EstablishTenantSession(user session.UserInfo, creds session.Credentials, slug string) error {
	if slug == "" {
		return errors.New("[Store.EstablishTenantSession] slug is required")
	}
	if creds.Empty() {
		return errors.New("[Store.EstablishTenantSession] credentials are required")
	}

	s.mu.Lock()
	hadOperator := !s.state.OperatorCreds.Empty()
	s.state.Domain = session.DomainTenant
	s.state.Tenant = &session.TenantContext{Slug: slug, DisplayUser: user.FullName}
	s.state.User = &user
	s.state.TenantCreds = creds
	s.state.Admin = nil
	s.state.OperatorCreds = session.Credentials{}
	s.persistLocked()
	s.mu.Unlock()

	if hadOperator {
		s.notify(session.Event{Kind: session.EventEnded, Domain: session.DomainOperator, Reason: session.ReasonDomainSwitch})
	}
	s.notify(session.Event{Kind: session.EventEstablished, Domain: session.DomainTenant, Slug: slug})
	s.log.Info().Str("slug", slug).Str("user", user.Username).Msg("tenant session established")
	return nil
}

// EstablishOperatorSession atomically installs an operator session and clears
// any tenant session.
func (s *Store) EstablishOperatorSession(admin session.AdminInfo, creds session.Credentials) error {
	if creds.Empty() {
		return errors.New("[Store.EstablishOperatorSession] credentials are required")
	}

	s.mu.Lock()
	hadTenant := !s.state.TenantCreds.Empty()
	var endedSlug string
	if s.state.Tenant != nil {
		endedSlug = s.state.Tenant.Slug
	}
	s.state.Domain = session.DomainOperator
	s.state.Admin = &admin
	s.state.OperatorCreds = creds
	s.state.Tenant = nil
	s.state.User = nil
	s.state.TenantCreds = session.Credentials{}
	s.persistLocked()
	s.mu.Unlock()

	if hadTenant {
		s.notify(session.Event{Kind: session.EventEnded, Domain: session.DomainTenant, Slug: endedSlug, Reason: session.ReasonDomainSwitch})
	}
	s.notify(session.Event{Kind: session.EventEstablished, Domain: session.DomainOperator})
	s.log.Info().Str("admin", admin.Username).Msg("operator session established")
	return nil
}

// UpdateAccessToken replaces only the access token of the currently active
// domain; the refresh token and identity are untouched.
func (s *Store) UpdateAccessToken(token string) error {
	if token == "" {
		return errors.New("[Store.UpdateAccessToken] token is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state.Domain {
	case session.DomainTenant:
		s.state.TenantCreds.AccessToken = token
	case session.DomainOperator:
		s.state.OperatorCreds.AccessToken = token
	default:
		return errors.Wrap(interrors.ErrNoActiveSession, "[Store.UpdateAccessToken]")
	}
	s.persistLocked()
	return nil
}

// RotateRefreshToken adopts a rotated refresh token for the active domain.
// The backend rotates refresh tokens on use, so the old one is dead the
// moment a new one arrives.
func (s *Store) RotateRefreshToken(token string) error {
	if token == "" {
		return errors.New("[Store.RotateRefreshToken] token is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state.Domain {
	case session.DomainTenant:
		s.state.TenantCreds.RefreshToken = token
	case session.DomainOperator:
		s.state.OperatorCreds.RefreshToken = token
	default:
		return errors.Wrap(interrors.ErrNoActiveSession, "[Store.RotateRefreshToken]")
	}
	s.persistLocked()
	return nil
}

// Terminate clears all fields of the given domain and leaves the other domain
// untouched. Terminating a domain that holds no session is a no-op.
func (s *Store) Terminate(domain session.Domain, reason session.EndReason) {
	s.mu.Lock()
	var ended bool
	var endedSlug string
	switch domain {
	case session.DomainTenant:
		ended = !s.state.TenantCreds.Empty()
		if s.state.Tenant != nil {
			endedSlug = s.state.Tenant.Slug
		}
		s.state.Tenant = nil
		s.state.User = nil
		s.state.TenantCreds = session.Credentials{}
		if s.state.Domain == session.DomainTenant {
			s.state.Domain = session.DomainNone
		}
	case session.DomainOperator:
		ended = !s.state.OperatorCreds.Empty()
		s.state.Admin = nil
		s.state.OperatorCreds = session.Credentials{}
		if s.state.Domain == session.DomainOperator {
			s.state.Domain = session.DomainNone
		}
	}
	if ended {
		s.persistLocked()
	}
	s.mu.Unlock()

	if ended {
		s.notify(session.Event{Kind: session.EventEnded, Domain: domain, Slug: endedSlug, Reason: reason})
		s.log.Info().Str("domain", string(domain)).Str("reason", string(reason)).Msg("session terminated")
	}
}

// ActiveDomain returns the currently authenticated domain, or DomainNone.
func (s *Store) ActiveDomain() session.Domain {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Domain
}

// Credentials returns the credential pair for the given domain.
func (s *Store) Credentials(domain session.Domain) session.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch domain {
	case session.DomainTenant:
		return s.state.TenantCreds
	case session.DomainOperator:
		return s.state.OperatorCreds
	}
	return session.Credentials{}
}

// TenantContext returns the tenant context bound to the active tenant
// session, if any.
func (s *Store) TenantContext() (session.TenantContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Tenant == nil {
		return session.TenantContext{}, false
	}
	return *s.state.Tenant, true
}

// User returns the tenant user identity, if a tenant session is active.
func (s *Store) User() (session.UserInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.User == nil {
		return session.UserInfo{}, false
	}
	return *s.state.User, true
}

// Admin returns the operator identity, if an operator session is active.
func (s *Store) Admin() (session.AdminInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Admin == nil {
		return session.AdminInfo{}, false
	}
	return *s.state.Admin, true
}

// ClientID returns the stable per-installation identifier.
func (s *Store) ClientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ClientID
}

// Subscribe registers a lifecycle listener and returns a function that
// removes it.
func (s *Store) Subscribe(l session.Listener) func() {
	s.listenerMu.Lock()
	id := s.nextListen
	s.nextListen++
	s.listeners[id] = l
	s.listenerMu.Unlock()
	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

// Flush synchronously writes the current state to durable storage. Mostly
// useful on orderly shutdown.
func (s *Store) Flush() error {
	s.mu.RLock()
	snap := s.state
	s.mu.RUnlock()

	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if err := s.storage.Save(snap); err != nil {
		return errors.Wrap(err, "[Store.Flush] storage.Save")
	}
	return nil
}

func (s *Store) notify(ev session.Event) {
	s.listenerMu.Lock()
	ls := make([]session.Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.listenerMu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

// persistLocked schedules a background durable write of the current state.
// Caller must hold s.mu. Writes are sequenced so a stale snapshot never
// overwrites a newer one.
func (s *Store) persistLocked() {
	s.persistSeq++
	seq := s.persistSeq
	snap := s.state
	go func() {
		s.persistMu.Lock()
		defer s.persistMu.Unlock()
		if seq <= s.lastWritten {
			return // a newer snapshot already reached storage
		}
		s.lastWritten = seq
		if err := s.storage.Save(snap); err != nil {
			s.log.Error().Err(err).Msg("failed to persist session state")
		}
	}()
}
