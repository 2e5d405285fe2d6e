// Package config loads Unbrowse's runtime configuration from the
// environment, per spec.md §6's enumerated variable table.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the control service and CLI's shared runtime configuration.
type Config struct {
	// BaseDir is the root of persisted state (skills/, vault.db, wallet.json,
	// header-profiles/), defaulting to <home>/.unbrowse.
	BaseDir string

	// SkillsDir overrides BaseDir/skills when UNBROWSE_SKILLS_DIR or the
	// legacy OPENCLAW_SKILLS_DIR is set.
	SkillsDir string

	// ControlServiceURL is the base URL CLI clients talk to.
	ControlServiceURL string

	// IndexURL is the marketplace base URL.
	IndexURL string

	// CreatorWallet is the public wallet address attached to published skills.
	CreatorWallet string

	// CredentialSource selects the creds.Provider chain: none, env, vault, keychain.
	CredentialSource string

	// ToolTimeout bounds live-capture and other long outbound calls.
	ToolTimeout time.Duration

	// TOSAccepted bypasses the first-run prompt when true.
	TOSAccepted bool

	// GenkitModel is the default model name similarity scoring and skill
	// generation flows pass to genkit.
	GenkitModel string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func firstNonEmptyEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

// Load reads .env (if present, ignoring a missing file) and the process
// environment into a Config, applying spec.md §6's documented defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	baseDir := getEnvOrDefault("UNBROWSE_BASE_DIR", filepath.Join(home, ".unbrowse"))

	skillsDir := firstNonEmptyEnv("UNBROWSE_SKILLS_DIR", "OPENCLAW_SKILLS_DIR")
	if skillsDir == "" {
		skillsDir = filepath.Join(baseDir, "skills")
	}

	toolTimeout := 60 * time.Second
	if raw := os.Getenv("UNBROWSE_TOOL_TIMEOUT"); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			toolTimeout = time.Duration(seconds) * time.Second
		}
	}

	return &Config{
		BaseDir:           baseDir,
		SkillsDir:         skillsDir,
		ControlServiceURL: getEnvOrDefault("UNBROWSE_URL", "http://127.0.0.1:8911"),
		IndexURL:          getEnvOrDefault("UNBROWSE_INDEX_URL", "https://index.unbrowse.ai"),
		CreatorWallet:     os.Getenv("UNBROWSE_CREATOR_WALLET"),
		CredentialSource:  getEnvOrDefault("UNBROWSE_CREDENTIAL_SOURCE", "none"),
		ToolTimeout:       toolTimeout,
		TOSAccepted:       os.Getenv("UNBROWSE_TOS_ACCEPTED") != "",
		GenkitModel:       getEnvOrDefault("UNBROWSE_GENKIT_MODEL", "googleai/gemini-2.5-flash"),
	}, nil
}
