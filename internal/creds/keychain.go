package creds

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/zalando/go-keyring"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

const keychainService = "unbrowse"

// KeychainProvider queries the OS secret store under service "unbrowse",
// account "<domain>:<purpose>", per SPEC_FULL.md §4.15.
type KeychainProvider struct{}

func (KeychainProvider) LookupCredentials(domain, purpose string) (*models.LoginCredential, bool, error) {
	account := domain + ":" + purpose
	secret, err := keyring.Get(keychainService, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &models.LoginCredential{
		Domain:  domain,
		Purpose: purpose,
		Secret:  secret,
		Source:  models.CredentialSourceKeychain,
	}, true, nil
}

// Store saves secret in the OS keychain for domain/purpose.
func (KeychainProvider) Store(domain, purpose, secret string) error {
	return keyring.Set(keychainService, domain+":"+purpose, secret)
}

// WalletProvider resolves the agent's signing key from the OS keychain
// first; on first use it migrates the PlaintextToken co-located in an
// on-disk wallet.json (a WalletRecord) into the keychain, then deletes the
// file copy, per spec.md §4.10's wallet provider contract. After migration
// the signing key never touches WalletRecord again.
type WalletProvider struct {
	WalletPath string
}

const walletAccount = "wallet"

// Key returns the wallet's private key material, migrating from disk on
// first use.
func (w *WalletProvider) Key() (string, error) {
	if key, err := keyring.Get(keychainService, walletAccount); err == nil {
		return key, nil
	} else if !errors.Is(err, keyring.ErrNotFound) {
		return "", err
	}

	data, err := os.ReadFile(w.WalletPath)
	if err != nil {
		return "", err
	}
	var record models.WalletRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return "", err
	}

	if err := keyring.Set(keychainService, walletAccount, record.PlaintextToken); err != nil {
		return "", err
	}
	if err := os.Remove(w.WalletPath); err != nil {
		return "", err
	}
	return record.PlaintextToken, nil
}
