package credstore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omborsaas/go-session-client/credstore"
	"github.com/omborsaas/go-session-client/session"
)

func TestFileStorageRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "session.json")
	storage := credstore.NewFileStorage(path)

	loaded, err := storage.Load()
	require.NoError(t, err)
	require.Nil(t, loaded)

	snap := credstore.Snapshot{
		ClientID:    "client-1",
		Domain:      session.DomainTenant,
		Tenant:      &session.TenantContext{Slug: "acme", DisplayUser: "John Doe"},
		TenantCreds: session.Credentials{AccessToken: "a", RefreshToken: "r"},
	}
	require.NoError(t, storage.Save(snap))

	loaded, err = storage.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, snap, *loaded)

	// Overwrites replace the previous snapshot wholesale.
	require.NoError(t, storage.Save(credstore.Snapshot{ClientID: "client-1"}))
	loaded, err = storage.Load()
	require.NoError(t, err)
	require.Equal(t, session.DomainNone, loaded.Domain)
	require.Nil(t, loaded.Tenant)

	require.NoError(t, storage.Clear())
	loaded, err = storage.Load()
	require.NoError(t, err)
	require.Nil(t, loaded)

	// Clearing twice is fine.
	require.NoError(t, storage.Clear())
}

func TestFileStorageRejectsCorruptState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	storage := credstore.NewFileStorage(path)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := storage.Load()
	require.Error(t, err)
}
