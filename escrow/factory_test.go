package escrow

import (
	"log/slog"
	"testing"

	"github.com/docsafe/docsafe/interfaces"
	"github.com/stretchr/testify/require"
)

func TestStoreFromURI(t *testing.T) {
	log := slog.Default()

	store, err := StoreFromURI("memory://", log)
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, store)

	store, err = StoreFromURI("file://"+t.TempDir(), log)
	require.NoError(t, err)
	require.IsType(t, &FileStore{}, store)

	store, err = StoreFromURI("https://escrow.example.com", log)
	require.NoError(t, err)
	require.IsType(t, &RemoteStore{}, store)

	store, err = StoreFromURI("vault://token@vault.example.com:8200/secret/docsafe", log)
	require.NoError(t, err)
	require.IsType(t, &VaultStore{}, store)
}

func TestStoreFromURIErrors(t *testing.T) {
	log := slog.Default()

	_, err := StoreFromURI("ftp://example.com", log)
	require.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	// Vault needs a token and mount/path.
	_, err = StoreFromURI("vault://vault.example.com:8200/secret/docsafe", log)
	require.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	_, err = StoreFromURI("vault://token@vault.example.com:8200/secret", log)
	require.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}
