package creds

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zalando/go-keyring"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

func TestKeychainProvider_StoreThenLookup(t *testing.T) {
	keyring.MockInit()

	assert.NoError(t, KeychainProvider{}.Store("api.example.com", "login", "s3cr3t"))

	cred, ok, err := KeychainProvider{}.LookupCredentials("api.example.com", "login")

	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s3cr3t", cred.Secret)
	assert.Equal(t, models.CredentialSourceKeychain, cred.Source)
}

func TestKeychainProvider_NotFoundReturnsFalse(t *testing.T) {
	keyring.MockInit()

	_, ok, err := KeychainProvider{}.LookupCredentials("unknown.example.com", "login")

	assert.NoError(t, err)
	assert.False(t, ok)
}

// TestWalletProvider_MigratesOnFirstUse covers spec.md §4.10's wallet
// provider migration contract: an on-disk wallet.json is consumed exactly
// once, its secret moved into the keychain, and the file removed.
func TestWalletProvider_MigratesOnFirstUse(t *testing.T) {
	keyring.MockInit()

	dir := t.TempDir()
	walletPath := filepath.Join(dir, "wallet.json")
	record := models.WalletRecord{CreatorWallet: "0xabc", PlaintextToken: "signing-key-material"}
	raw, err := json.Marshal(record)
	assert.NoError(t, err)
	assert.NoError(t, os.WriteFile(walletPath, raw, 0o600))

	w := &WalletProvider{WalletPath: walletPath}

	key, err := w.Key()
	assert.NoError(t, err)
	assert.Equal(t, "signing-key-material", key)

	_, statErr := os.Stat(walletPath)
	assert.True(t, os.IsNotExist(statErr), "wallet.json is removed after migration")

	key2, err := w.Key()
	assert.NoError(t, err)
	assert.Equal(t, "signing-key-material", key2, "second call reads from the keychain, not disk")
}
