package creds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/unbrowse-ai/unbrowse-core/internal/models"
)

func TestEnvProvider_LookupCredentials(t *testing.T) {
	t.Setenv("UNBROWSE_CRED_API_EXAMPLE_COM_USERNAME", "alice")
	t.Setenv("UNBROWSE_CRED_API_EXAMPLE_COM_PASSWORD", "hunter2")

	cred, ok, err := EnvProvider{}.LookupCredentials("api.example.com", "login")

	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alice", cred.Username)
	assert.Equal(t, "hunter2", cred.Secret)
	assert.Equal(t, models.CredentialSourceEnv, cred.Source)
}

func TestEnvProvider_NoMatchReturnsFalse(t *testing.T) {
	_, ok, err := EnvProvider{}.LookupCredentials("unset.example.com", "login")
	assert.NoError(t, err)
	assert.False(t, ok)
}

type fakeProvider struct {
	cred *models.LoginCredential
	ok   bool
	err  error
}

func (f fakeProvider) LookupCredentials(domain, purpose string) (*models.LoginCredential, bool, error) {
	return f.cred, f.ok, f.err
}

func TestChain_ReturnsFirstHit(t *testing.T) {
	want := &models.LoginCredential{Domain: "example.com", Source: models.CredentialSourceVault}
	chain := Chain{Providers: []Provider{
		fakeProvider{ok: false},
		fakeProvider{cred: want, ok: true},
		fakeProvider{cred: &models.LoginCredential{Source: models.CredentialSourceKeychain}, ok: true},
	}}

	cred, ok, err := chain.LookupCredentials("example.com", "login")

	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Same(t, want, cred)
}

func TestBuildChain_NoneDisablesEverything(t *testing.T) {
	chain := BuildChain([]string{"env", "none", "vault"}, nil, nil)
	assert.Empty(t, chain.Providers)
}

func TestBuildChain_SkipsNilVaultAndKeychain(t *testing.T) {
	chain := BuildChain([]string{"env", "vault", "keychain"}, nil, nil)
	assert.Len(t, chain.Providers, 1)
}
