package wiring

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storegrid-backend/pkg/config"
)

func encodedKey(b byte) string {
	return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{b}, 32))
}

func TestNewVaultCurrentKeyOnly(t *testing.T) {
	vault, err := NewVault(config.VaultConfig{Key: encodedKey(1)})
	require.NoError(t, err)

	sealed, err := vault.Encrypt("postgres://app:secret@db:5432/shop")
	require.NoError(t, err)
	opened, err := vault.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "postgres://app:secret@db:5432/shop", opened)
}

func TestNewVaultWithPreviousKey(t *testing.T) {
	old, err := NewVault(config.VaultConfig{Key: encodedKey(1)})
	require.NoError(t, err)
	sealed, err := old.Encrypt("file:tenant.db")
	require.NoError(t, err)

	rotated, err := NewVault(config.VaultConfig{Key: encodedKey(2), PreviousKey: encodedKey(1)})
	require.NoError(t, err)
	opened, err := rotated.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "file:tenant.db", opened)
	assert.Equal(t, old.KeyID() != rotated.KeyID(), rotated.NeedsRekey(sealed))
}

func TestNewVaultRejectsBadKeys(t *testing.T) {
	_, err := NewVault(config.VaultConfig{Key: "not base64!"})
	require.Error(t, err)

	_, err = NewVault(config.VaultConfig{Key: base64.StdEncoding.EncodeToString([]byte("short"))})
	require.Error(t, err)

	_, err = NewVault(config.VaultConfig{Key: encodedKey(1), PreviousKey: "%%%"})
	require.Error(t, err)
}

func TestBuildRequiresClients(t *testing.T) {
	_, err := Build(Params{})
	require.Error(t, err)
}
