package session

// Domain identifies which of the two independent identity domains a session
// belongs to. At most one domain is authenticated at any time; establishing
// one clears the other.
type Domain string

const (
	// DomainNone means no session is active.
	DomainNone Domain = ""
	// DomainTenant is a regular user session scoped to a single tenant.
	DomainTenant Domain = "tenant"
	// DomainOperator is the privileged cross-tenant super-admin session.
	DomainOperator Domain = "operator"
)

// Credentials is an access/refresh token pair. Both tokens are opaque to the
// client; the access token is the only credential attached to outgoing calls,
// the refresh token exists solely to mint a new pair.
type Credentials struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Empty reports whether the pair carries no tokens at all.
func (c Credentials) Empty() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}

// TenantContext binds a tenant-domain session to its backend partition.
type TenantContext struct {
	Slug        string `json:"slug"`
	DisplayUser string `json:"display_user,omitempty"`
}

// UserInfo is the tenant user identity returned by the tenant login endpoint.
type UserInfo struct {
	ID             int64  `json:"id,omitempty"`
	Username       string `json:"username,omitempty"`
	FullName       string `json:"full_name,omitempty"`
	Role           string `json:"role,omitempty"`
	TenantName     string `json:"tenant_name,omitempty"`
	PaymentBlocked bool   `json:"payment_required,omitempty"`
	PaymentMessage string `json:"payment_message,omitempty"`
}

// AdminInfo is the operator identity returned at the end of the progressive
// login flow.
type AdminInfo struct {
	ID       int64  `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
	FullName string `json:"full_name,omitempty"`
}
