package session

// EventKind classifies a session lifecycle event.
type EventKind string

const (
	EventEstablished EventKind = "established"
	EventEnded       EventKind = "ended"
)

// EndReason explains why a session ended. The embedding application's routing
// layer reacts to these (e.g. navigate to the tenant login page) — the core
// itself performs no navigation.
type EndReason string

const (
	ReasonLogout        EndReason = "logout"
	ReasonIdleTimeout   EndReason = "idle_timeout"
	ReasonUnauthorized  EndReason = "unauthorized"
	ReasonRefreshFailed EndReason = "refresh_failed"
	ReasonDomainSwitch  EndReason = "domain_switch"
)

// Event describes a session lifecycle transition. Slug is set for
// tenant-domain events so the router can target the tenant-specific login
// surface; it is empty for operator events.
type Event struct {
	Kind   EventKind
	Domain Domain
	Slug   string
	Reason EndReason
}

// Listener receives session lifecycle events. Listeners are invoked
// synchronously and must not block.
type Listener func(Event)
