// Package idle enforces the inactivity timeout: a single deadline per active
// identity domain, reset by any tracked user-activity signal, whose firing is
// equivalent to an explicit logout of that domain.
package idle

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/omborsaas/go-session-client/credstore"
	"github.com/omborsaas/go-session-client/session"
)

// DefaultTimeout is the reference deployment's inactivity window.
const DefaultTimeout = 30 * time.Minute

// Monitor terminates whichever domain is active after a fixed inactivity
// window. It follows the session lifecycle through store events: the timer
// arms when a session is established and disarms when it ends, so a logout
// never leaves an orphaned timer behind.
type Monitor struct {
	store   *credstore.Store
	timeout time.Duration
	log     zerolog.Logger

	mu     sync.Mutex
	timer  *time.Timer
	armed  bool
	closed bool
	unsub  func()
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithTimeout overrides the inactivity window.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// WithLogger sets the monitor logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

// NewMonitor creates a Monitor bound to the store's session lifecycle. If a
// session is already active the timer arms immediately.
func NewMonitor(store *credstore.Store, options ...Option) (*Monitor, error) {
	if store == nil {
		return nil, errors.New("[idle.NewMonitor] store is required")
	}
	m := &Monitor{store: store, timeout: DefaultTimeout, log: zerolog.Nop()}
	for _, opt := range options {
		opt(m)
	}

	m.unsub = store.Subscribe(func(ev session.Event) {
		switch ev.Kind {
		case session.EventEstablished:
			m.Start()
		case session.EventEnded:
			// Only disarm when no session remains; a domain switch ends one
			// session and establishes the other in the same breath.
			if m.store.ActiveDomain() == session.DomainNone {
				m.Stop()
			}
		}
	})

	if store.ActiveDomain() != session.DomainNone {
		m.Start()
	}
	return m, nil
}

// Start arms the idle timer. Idempotent: starting an armed monitor just
// resets the deadline, so remounts never accumulate duplicate timers.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.armed = true
	m.resetLocked()
}

// Stop disarms the timer. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armed = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Touch registers a user-activity signal (pointer movement, key press,
// scroll, touch — the embedder forwards whatever it tracks) and pushes the
// deadline out. Signals arriving while a network call is in flight still
// reset the deadline; resets are idempotent and commutative.
func (m *Monitor) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.armed {
		return
	}
	m.resetLocked()
}

// Close detaches the monitor from the store and disarms the timer.
func (m *Monitor) Close() {
	m.mu.Lock()
	m.closed = true
	unsub := m.unsub
	m.unsub = nil
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	m.Stop()
}

func (m *Monitor) resetLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.timeout, m.fire)
}

// fire terminates whichever domain is active. Firing is equivalent to an
// explicit logout of that domain.
func (m *Monitor) fire() {
	m.mu.Lock()
	if !m.armed {
		m.mu.Unlock()
		return
	}
	m.armed = false
	m.timer = nil
	m.mu.Unlock()

	domain := m.store.ActiveDomain()
	if domain == session.DomainNone {
		return
	}
	m.log.Info().Str("domain", string(domain)).Dur("timeout", m.timeout).Msg("idle timeout reached, terminating session")
	m.store.Terminate(domain, session.ReasonIdleTimeout)
}
