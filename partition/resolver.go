// Package partition decides which backend partition an outgoing call targets.
// Tenant-domain calls are prefixed with the tenant's slug; operator calls use
// the fixed operator partition; a small allow-list of paths is
// partition-independent (operator endpoints and the unauthenticated tenant
// status lookup).
package partition

import (
	"strings"

	"github.com/omborsaas/go-session-client/session"
)

// DefaultAgnosticPrefixes are the path prefixes that are never partitioned by
// a tenant slug, matching the backend's routing table.
var DefaultAgnosticPrefixes = []string{
	"super-admin",
	"tenant",
}

// Resolver computes the partition prefix for a logical call path.
type Resolver struct {
	operatorBase     string
	agnosticPrefixes []string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithOperatorBase overrides the fixed operator partition prefix.
func WithOperatorBase(base string) Option {
	return func(r *Resolver) { r.operatorBase = strings.Trim(base, "/") }
}

// WithAgnosticPrefixes replaces the partition-independent path allow-list.
func WithAgnosticPrefixes(prefixes []string) Option {
	return func(r *Resolver) { r.agnosticPrefixes = prefixes }
}

// NewResolver creates a Resolver with the reference deployment's routing.
func NewResolver(options ...Option) *Resolver {
	r := &Resolver{
		operatorBase:     "super-admin",
		agnosticPrefixes: DefaultAgnosticPrefixes,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Resolve maps a logical path to its partitioned path given the active
// domain and tenant slug.
//
// Operator-domain calls always target the operator partition regardless of
// any tenant state. Allow-listed paths pass through unpartitioned even while
// a tenant session is active. With no slug known the path falls back to the
// unscoped partition; such calls are expected to fail authorization, which is
// the normal transition into the login flow.
func (r *Resolver) Resolve(domain session.Domain, slug, path string) string {
	path = strings.TrimPrefix(path, "/")

	if r.isAgnostic(path) {
		return path
	}
	if domain == session.DomainOperator {
		return r.operatorBase + "/" + path
	}
	if domain == session.DomainTenant && slug != "" {
		return slug + "/" + path
	}
	return path
}

func (r *Resolver) isAgnostic(path string) bool {
	for _, prefix := range r.agnosticPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}
