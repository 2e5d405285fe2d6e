// Package creds resolves login credentials for a domain from one of a
// small set of optional sources (environment, an on-disk encrypted vault,
// the OS keychain), per spec.md §4.10 and SPEC_FULL.md §4.15.
package creds

import (
	"fmt"
	"os"
	"strings"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

// Provider resolves a LoginCredential for (domain, purpose), or reports it
// has none.
type Provider interface {
	LookupCredentials(domain, purpose string) (*models.LoginCredential, bool, error)
}

// EnvProvider reads UNBROWSE_CRED_<DOMAIN>_{USERNAME,PASSWORD}.
type EnvProvider struct{}

func (EnvProvider) LookupCredentials(domain, purpose string) (*models.LoginCredential, bool, error) {
	key := envKey(domain)
	username := os.Getenv("UNBROWSE_CRED_" + key + "_USERNAME")
	password := os.Getenv("UNBROWSE_CRED_" + key + "_PASSWORD")
	if username == "" && password == "" {
		return nil, false, nil
	}
	return &models.LoginCredential{
		Domain:   domain,
		Purpose:  purpose,
		Username: username,
		Secret:   password,
		Source:   models.CredentialSourceEnv,
	}, true, nil
}

func envKey(domain string) string {
	upper := strings.ToUpper(domain)
	return strings.NewReplacer(".", "_", "-", "_").Replace(upper)
}

// Chain tries each provider in order, returning the first hit.
type Chain struct {
	Providers []Provider
}

func (c Chain) LookupCredentials(domain, purpose string) (*models.LoginCredential, bool, error) {
	for _, p := range c.Providers {
		cred, ok, err := p.LookupCredentials(domain, purpose)
		if err != nil {
			return nil, false, fmt.Errorf("credential provider: %w", err)
		}
		if ok {
			return cred, true, nil
		}
	}
	return nil, false, nil
}

// BuildChain constructs the configured provider chain from the `none | env |
// vault | keychain` option list, per spec.md §4.10's table. "none" yields an
// empty chain (only explicit-per-call credentials work).
func BuildChain(options []string, vault *VaultProvider, keychain *KeychainProvider) Chain {
	var chain Chain
	for _, opt := range options {
		switch opt {
		case "none":
			return Chain{}
		case "env":
			chain.Providers = append(chain.Providers, EnvProvider{})
		case "vault":
			if vault != nil {
				chain.Providers = append(chain.Providers, vault)
			}
		case "keychain":
			if keychain != nil {
				chain.Providers = append(chain.Providers, keychain)
			}
		}
	}
	return chain
}
