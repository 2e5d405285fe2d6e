package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/unbrowse-ai/unbrowse-core/internal/projection"
)

const recipesDir = "recipes"

// RecipeStore persists per-endpoint extraction recipes set via
// POST /v1/skills/:id/endpoints/:eid/recipe, one JSON file per
// (skill, endpoint) pair under baseDir/recipes/.
type RecipeStore struct {
	baseDir string
	mu      sync.RWMutex
	cache   map[string]projection.Recipe
}

// NewRecipeStore opens a recipe store rooted at baseDir, creating its
// recipes subdirectory if absent.
func NewRecipeStore(baseDir string) (*RecipeStore, error) {
	dir := filepath.Join(baseDir, recipesDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating recipes dir: %w", err)
	}
	return &RecipeStore{baseDir: baseDir, cache: map[string]projection.Recipe{}}, nil
}

func recipeKey(skillID, endpointID string) string {
	return skillID + "::" + endpointID
}

func (s *RecipeStore) path(skillID, endpointID string) string {
	return filepath.Join(s.baseDir, recipesDir, Slug(skillID)+"__"+Slug(endpointID)+".json")
}

// SaveRecipe persists recipe for (skillID, endpointID) and refreshes the
// in-memory cache LoadRecipe serves from.
func (s *RecipeStore) SaveRecipe(skillID, endpointID string, recipe projection.Recipe) error {
	raw, err := json.MarshalIndent(recipe, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding recipe: %w", err)
	}
	if err := os.WriteFile(s.path(skillID, endpointID), raw, 0o644); err != nil {
		return fmt.Errorf("writing recipe: %w", err)
	}

	s.mu.Lock()
	s.cache[recipeKey(skillID, endpointID)] = recipe
	s.mu.Unlock()
	return nil
}

// LoadRecipe returns the stored recipe for (skillID, endpointID), reading
// through to disk on a cache miss.
func (s *RecipeStore) LoadRecipe(skillID, endpointID string) (projection.Recipe, bool) {
	key := recipeKey(skillID, endpointID)

	s.mu.RLock()
	recipe, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return recipe, true
	}

	raw, err := os.ReadFile(s.path(skillID, endpointID))
	if err != nil {
		return projection.Recipe{}, false
	}
	if err := json.Unmarshal(raw, &recipe); err != nil {
		return projection.Recipe{}, false
	}

	s.mu.Lock()
	s.cache[key] = recipe
	s.mu.Unlock()
	return recipe, true
}
