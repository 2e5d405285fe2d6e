package creds

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

// VaultProvider is an on-disk go.etcd.io/bbolt key-value store, one bucket
// per domain, each VaultEntry's secret encrypted with
// golang.org/x/crypto/nacl/secretbox under a key derived from
// UNBROWSE_VAULT_KEY or a key file in baseDir, per SPEC_FULL.md §4.15.
type VaultProvider struct {
	path string
	key  *[32]byte
}

// OpenVault returns a provider for the vault database at dbPath, loading or
// minting the secretbox key from baseDir. The database itself is not opened
// here; each lookup or store opens it.
func OpenVault(dbPath, baseDir string) (*VaultProvider, error) {
	key, err := loadOrCreateVaultKey(baseDir)
	if err != nil {
		return nil, fmt.Errorf("vault key: %w", err)
	}
	return &VaultProvider{path: dbPath, key: key}, nil
}

func loadOrCreateVaultKey(baseDir string) (*[32]byte, error) {
	if envKey := os.Getenv("UNBROWSE_VAULT_KEY"); envKey != "" {
		var key [32]byte
		copy(key[:], envKey)
		return &key, nil
	}

	keyPath := filepath.Join(baseDir, "vault.key")
	if data, err := os.ReadFile(keyPath); err == nil && len(data) == 32 {
		var key [32]byte
		copy(key[:], data)
		return &key, nil
	}

	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, key[:], 0o600); err != nil {
		return nil, err
	}
	return &key, nil
}

// LookupCredentials opens the vault read-only and decrypts the entry for
// domain/purpose, if present, per spec.md §5's shared-resource rules.
func (v *VaultProvider) LookupCredentials(domain, purpose string) (*models.LoginCredential, bool, error) {
	db, err := bbolt.Open(v.path, 0o600, &bbolt.Options{ReadOnly: true})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) || os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer db.Close()

	var entry *models.VaultEntry
	err = db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(domain))
		if bucket == nil {
			return nil
		}
		raw := bucket.Get([]byte(purpose))
		if raw == nil {
			return nil
		}
		var e models.VaultEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		entry = &e
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if entry == nil {
		return nil, false, nil
	}

	secret, ok := secretbox.Open(nil, entry.SecretCiphertext, &entry.Nonce, v.key)
	if !ok {
		return nil, false, fmt.Errorf("vault: decrypt failed for %s/%s", domain, purpose)
	}

	return &models.LoginCredential{
		Domain:   domain,
		Purpose:  purpose,
		Username: entry.Username,
		Secret:   string(secret),
		Source:   models.CredentialSourceVault,
	}, true, nil
}

// Store encrypts secret and writes entry for domain/purpose.
func (v *VaultProvider) Store(domain, purpose, username, secret string) error {
	db, err := bbolt.Open(v.path, 0o600, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return err
	}
	ciphertext := secretbox.Seal(nil, []byte(secret), &nonce, v.key)

	entry := models.VaultEntry{
		Domain:           domain,
		Purpose:          purpose,
		Username:         username,
		SecretCiphertext: ciphertext,
		Nonce:            nonce,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(domain))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(purpose), raw)
	})
}
