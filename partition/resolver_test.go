package partition_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omborsaas/go-session-client/partition"
	"github.com/omborsaas/go-session-client/session"
)

func TestResolve(t *testing.T) {
	resolver := partition.NewResolver()

	tests := []struct {
		name   string
		domain session.Domain
		slug   string
		path   string
		want   string
	}{
		{
			name:   "tenant call is prefixed with the slug",
			domain: session.DomainTenant,
			slug:   "acme",
			path:   "inventory",
			want:   "acme/inventory",
		},
		{
			name:   "leading slash is normalized",
			domain: session.DomainTenant,
			slug:   "acme",
			path:   "/inventory",
			want:   "acme/inventory",
		},
		{
			name:   "operator call targets the operator partition",
			domain: session.DomainOperator,
			path:   "dashboard",
			want:   "super-admin/dashboard",
		},
		{
			name:   "operator paths pass through even with an active tenant",
			domain: session.DomainTenant,
			slug:   "acme",
			path:   "super-admin/auth/verify-step1",
			want:   "super-admin/auth/verify-step1",
		},
		{
			name:   "tenant status lookup is never partitioned",
			domain: session.DomainTenant,
			slug:   "acme",
			path:   "tenant/acme/info",
			want:   "tenant/acme/info",
		},
		{
			name:   "prefix match requires a path boundary",
			domain: session.DomainTenant,
			slug:   "acme",
			path:   "tenants/list",
			want:   "acme/tenants/list",
		},
		{
			name:   "no domain falls back to the unscoped partition",
			domain: session.DomainNone,
			path:   "inventory",
			want:   "inventory",
		},
		{
			name:   "tenant domain without a slug falls back unscoped",
			domain: session.DomainTenant,
			path:   "inventory",
			want:   "inventory",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, resolver.Resolve(tt.domain, tt.slug, tt.path))
		})
	}
}

func TestResolveWithCustomOperatorBase(t *testing.T) {
	resolver := partition.NewResolver(
		partition.WithOperatorBase("/ops/"),
		partition.WithAgnosticPrefixes([]string{"ops"}),
	)

	require.Equal(t, "ops/dashboard", resolver.Resolve(session.DomainOperator, "", "dashboard"))
	require.Equal(t, "ops/auth/verify-step1", resolver.Resolve(session.DomainNone, "", "ops/auth/verify-step1"))
	require.Equal(t, "acme/super-admin-report", resolver.Resolve(session.DomainTenant, "acme", "super-admin-report"))
}
