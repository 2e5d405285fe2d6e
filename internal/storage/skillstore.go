// Package storage implements the on-disk persisted-state layout from
// spec.md §6: skills/<service-slug>/{skill.json, SKILL.md}, one directory
// per learned or marketplace-fetched skill.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/unbrowse-ai/unbrowse-core/internal/models"
	"github.com/unbrowse-ai/unbrowse-core/internal/orchestrator"
)

const (
	manifestFile = "skill.json"
	docFile      = "SKILL.md"
	readCacheTTL = 5 * time.Minute
	readCacheCap = 256
)

var slugDisallowed = regexp.MustCompile(`[^a-z0-9]+`)

var _ orchestrator.SkillStore = (*SkillStore)(nil)

// SkillStore persists skill manifests under baseDir/<slug>/, satisfying
// orchestrator.SkillStore. Reads are served through a pair of
// hashicorp/golang-lru read-through caches (by id, by domain), per
// SPEC_FULL.md §4.16's third process-wide cache; writes go straight to
// disk and refresh both caches.
type SkillStore struct {
	baseDir string

	mu       sync.Mutex
	byID     *orchestrator.Cache[*models.SkillManifest]
	byDomain *orchestrator.Cache[*models.SkillManifest]
}

// NewSkillStore opens a store rooted at baseDir, creating it if absent.
func NewSkillStore(baseDir string) (*SkillStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating skills dir: %w", err)
	}
	return &SkillStore{
		baseDir:  baseDir,
		byID:     orchestrator.NewCache[*models.SkillManifest](readCacheCap, readCacheTTL),
		byDomain: orchestrator.NewCache[*models.SkillManifest](readCacheCap, readCacheTTL),
	}, nil
}

// Slug derives the directory-safe service slug spec.md's layout uses,
// e.g. "api.example.com" -> "api-example-com".
func Slug(domain string) string {
	lower := strings.ToLower(domain)
	slug := slugDisallowed.ReplaceAllString(lower, "-")
	return strings.Trim(slug, "-")
}

func (s *SkillStore) dirFor(domain string) string {
	return filepath.Join(s.baseDir, Slug(domain))
}

// LoadForDomain returns the active skill learned for domain, if any.
func (s *SkillStore) LoadForDomain(domain string) (*models.SkillManifest, bool, error) {
	if skill, ok := s.byDomain.Get(domain); ok {
		return skill, true, nil
	}

	path := filepath.Join(s.dirFor(domain), manifestFile)
	skill, found, err := readManifest(path)
	if err != nil || !found {
		return nil, found, err
	}
	s.byDomain.Put(domain, skill)
	s.byID.Put(skill.SkillID, skill)
	return skill, true, nil
}

// LoadByID returns the skill with the given id, scanning baseDir's
// immediate subdirectories on a cache miss.
func (s *SkillStore) LoadByID(skillID string) (*models.SkillManifest, bool, error) {
	if skill, ok := s.byID.Get(skillID); ok {
		return skill, true, nil
	}

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("scanning skills dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(s.baseDir, entry.Name(), manifestFile)
		skill, found, err := readManifest(path)
		if err != nil || !found {
			continue
		}
		if skill.SkillID == skillID {
			s.byID.Put(skillID, skill)
			s.byDomain.Put(skill.Domain, skill)
			return skill, true, nil
		}
	}
	return nil, false, nil
}

// Save writes skill to disk under its domain's slug directory and
// refreshes both read caches.
func (s *SkillStore) Save(skill *models.SkillManifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.dirFor(skill.Domain)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating skill dir: %w", err)
	}

	raw, err := json.MarshalIndent(skill, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding skill manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), raw, 0o644); err != nil {
		return fmt.Errorf("writing skill manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, docFile), []byte(renderDoc(skill)), 0o644); err != nil {
		return fmt.Errorf("writing skill doc: %w", err)
	}

	s.byID.Put(skill.SkillID, skill)
	s.byDomain.Put(skill.Domain, skill)
	return nil
}

// List returns every persisted skill, for the control service's skill-list
// endpoint. Bypasses the read caches since callers want the full set, not
// one key.
func (s *SkillStore) List() ([]*models.SkillManifest, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning skills dir: %w", err)
	}

	skills := make([]*models.SkillManifest, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skill, found, err := readManifest(filepath.Join(s.baseDir, entry.Name(), manifestFile))
		if err != nil || !found {
			continue
		}
		skills = append(skills, skill)
	}
	return skills, nil
}

func readManifest(path string) (*models.SkillManifest, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading skill manifest: %w", err)
	}
	var skill models.SkillManifest
	if err := json.Unmarshal(raw, &skill); err != nil {
		return nil, false, fmt.Errorf("parsing skill manifest: %w", err)
	}
	return &skill, true, nil
}

func renderDoc(skill *models.SkillManifest) string {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "name: %s\n", skill.Name)
	fmt.Fprintf(&b, "description: %s\n", skill.Description)
	fmt.Fprintf(&b, "domain: %s\n", skill.Domain)
	fmt.Fprintf(&b, "skill_id: %s\n", skill.SkillID)
	fmt.Fprintf(&b, "version: %s\n", skill.Version)
	fmt.Fprintf(&b, "lifecycle: %s\n", skill.Lifecycle)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n\n%s\n\n", skill.Name, skill.Description)
	b.WriteString("## Endpoints\n\n")
	for _, ep := range skill.Endpoints {
		fmt.Fprintf(&b, "- `%s %s` (%s, reliability %.2f)\n", ep.Method, ep.URLTemplate, ep.VerificationStatus, ep.ReliabilityScore)
	}
	return b.String()
}
