package credstore

import "github.com/omborsaas/go-session-client/session"

// Snapshot is the durable form of the store's state. Exactly one of the two
// credential pairs is populated at any time (both may be empty).
type Snapshot struct {
	ClientID string `json:"client_id,omitempty"` // stable per-installation identifier

	Domain session.Domain `json:"domain,omitempty"`

	Tenant      *session.TenantContext `json:"tenant,omitempty"`
	User        *session.UserInfo      `json:"user,omitempty"`
	TenantCreds session.Credentials    `json:"tenant_credentials,omitempty"`

	Admin         *session.AdminInfo  `json:"admin,omitempty"`
	OperatorCreds session.Credentials `json:"operator_credentials,omitempty"`
}

// Storage persists snapshots across process restarts. Implementations must be
// safe for use from a single writer goroutine; the store serializes writes
// itself.
type Storage interface {
	Save(snapshot Snapshot) error
	Load() (*Snapshot, error) // (nil, nil) when nothing has been persisted yet
	Clear() error
}
