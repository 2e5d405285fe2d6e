package creds

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

func TestVaultProvider_StoreThenLookup(t *testing.T) {
	t.Setenv("UNBROWSE_VAULT_KEY", "0123456789abcdef0123456789abcdef")
	dir := t.TempDir()

	vault, err := OpenVault(filepath.Join(dir, "vault.db"), dir)
	assert.NoError(t, err)

	assert.NoError(t, vault.Store("api.example.com", "login", "alice", "s3cr3t"))

	cred, ok, err := vault.LookupCredentials("api.example.com", "login")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alice", cred.Username)
	assert.Equal(t, "s3cr3t", cred.Secret)
	assert.Equal(t, models.CredentialSourceVault, cred.Source)
}

func TestVaultProvider_LookupMissingEntryReturnsFalse(t *testing.T) {
	t.Setenv("UNBROWSE_VAULT_KEY", "0123456789abcdef0123456789abcdef")
	dir := t.TempDir()

	vault, err := OpenVault(filepath.Join(dir, "vault.db"), dir)
	assert.NoError(t, err)

	assert.NoError(t, vault.Store("other.example.com", "login", "bob", "pw"))

	_, ok, err := vault.LookupCredentials("api.example.com", "login")
	assert.NoError(t, err)
	assert.False(t, ok)
}
