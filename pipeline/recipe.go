// ABOUTME: Recipe and Step definitions plus the two-layer RecipeRegistry (bundled + workspace overrides).
// ABOUTME: Project recipes under <workspace>/recipes shadow bundled recipes that share an identifier.
package pipeline

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed bundled/*.json
var bundledFS embed.FS

// BundledRecipes returns the recipes compiled into the binary, rooted so that
// every recipe file sits at the top level of the returned filesystem.
func BundledRecipes() fs.FS {
	sub, err := fs.Sub(bundledFS, "bundled")
	if err != nil {
		// fs.Sub only fails on an invalid path literal.
		panic(err)
	}
	return sub
}

// ErrRecipeNotFound is returned when a run is requested for an unknown recipe.
var ErrRecipeNotFound = errors.New("recipe not found")

// Step is one declared unit of work inside a recipe.
type Step struct {
	ID         string         `json:"id" yaml:"id"`
	Tool       string         `json:"tool" yaml:"tool"`
	OutputSlot string         `json:"output" yaml:"output"`
	Args       map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
}

// Recipe is a named sequence of Phase A tool steps plus an optional Phase B
// list that is recorded but never executed.
type Recipe struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	PhaseA      []Step `json:"phase_a" yaml:"phase_a"`
	PhaseB      []Step `json:"phase_b,omitempty" yaml:"phase_b,omitempty"`

	// Source is "bundled" or the override file path the recipe was loaded from.
	Source string `json:"source,omitempty" yaml:"-"`
}

// ReloadReport summarizes one RecipeRegistry.Reload pass.
type ReloadReport struct {
	Bundled int      `json:"bundled"`
	Project int      `json:"project"`
	Skipped []string `json:"skipped,omitempty"`
}

// RecipeRegistry is the authoritative identifier → recipe map, merged from
// a bundled filesystem and a per-workspace override directory.
type RecipeRegistry struct {
	bundled     fs.FS
	overrideDir string
	logger      *slog.Logger

	mu      sync.RWMutex
	recipes map[string]*Recipe
}

// NewRecipeRegistry creates a registry over the given bundled filesystem and
// the workspace's recipes/ directory. Call Reload to populate it.
func NewRecipeRegistry(bundled fs.FS, workspace string, logger *slog.Logger) *RecipeRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecipeRegistry{
		bundled:     bundled,
		overrideDir: filepath.Join(workspace, "recipes"),
		logger:      logger,
		recipes:     make(map[string]*Recipe),
	}
}

// Reload rebuilds the merged map from scratch. The new map is assembled
// locally and swapped in at the end, so readers never observe partial state.
// Unreadable or identifier-less files are skipped with a warning.
func (r *RecipeRegistry) Reload() ReloadReport {
	merged := make(map[string]*Recipe)
	var report ReloadReport

	if r.bundled != nil {
		entries, err := fs.ReadDir(r.bundled, ".")
		if err != nil {
			r.logger.Warn("pipeline: read bundled recipes", "error", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !isRecipeFile(entry.Name()) {
				continue
			}
			data, err := fs.ReadFile(r.bundled, entry.Name())
			if err != nil {
				report.Skipped = append(report.Skipped, "bundled:"+entry.Name())
				r.logger.Warn("pipeline: skip bundled recipe", "file", entry.Name(), "error", err)
				continue
			}
			recipe, err := decodeRecipe(entry.Name(), data)
			if err != nil {
				report.Skipped = append(report.Skipped, "bundled:"+entry.Name())
				r.logger.Warn("pipeline: skip bundled recipe", "file", entry.Name(), "error", err)
				continue
			}
			recipe.Source = "bundled"
			merged[recipe.ID] = recipe
			report.Bundled++
		}
	}

	entries, err := os.ReadDir(r.overrideDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.logger.Warn("pipeline: read recipe overrides", "dir", r.overrideDir, "error", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isRecipeFile(entry.Name()) {
			continue
		}
		full := filepath.Join(r.overrideDir, entry.Name())
		data, err := os.ReadFile(full)
		if err != nil {
			report.Skipped = append(report.Skipped, full)
			r.logger.Warn("pipeline: skip project recipe", "file", full, "error", err)
			continue
		}
		recipe, err := decodeRecipe(entry.Name(), data)
		if err != nil {
			report.Skipped = append(report.Skipped, full)
			r.logger.Warn("pipeline: skip project recipe", "file", full, "error", err)
			continue
		}
		if prev, ok := merged[recipe.ID]; ok && prev.Source == "bundled" {
			r.logger.Info("pipeline: project recipe shadows bundled", "recipe_id", recipe.ID, "file", full)
		}
		recipe.Source = full
		merged[recipe.ID] = recipe
		report.Project++
	}

	r.mu.Lock()
	r.recipes = merged
	r.mu.Unlock()

	r.logger.Info("pipeline: recipes loaded",
		"bundled", report.Bundled, "project", report.Project, "skipped", len(report.Skipped))
	return report
}

// Get returns the recipe with the given identifier.
func (r *RecipeRegistry) Get(id string) (*Recipe, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	recipe, ok := r.recipes[id]
	return recipe, ok
}

// Has reports whether a recipe with the given identifier is loaded.
func (r *RecipeRegistry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// All returns a snapshot copy of the merged map. Mutating the result does
// not affect the registry.
func (r *RecipeRegistry) All() map[string]*Recipe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Recipe, len(r.recipes))
	for id, recipe := range r.recipes {
		cp := *recipe
		cp.PhaseA = append([]Step(nil), recipe.PhaseA...)
		cp.PhaseB = append([]Step(nil), recipe.PhaseB...)
		out[id] = &cp
	}
	return out
}

// IDs returns the loaded recipe identifiers in sorted order.
func (r *RecipeRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.recipes))
	for id := range r.recipes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func isRecipeFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// decodeRecipe parses a recipe file by extension and rejects files without an identifier.
func decodeRecipe(name string, data []byte) (*Recipe, error) {
	var recipe Recipe
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &recipe); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &recipe); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}
	if strings.TrimSpace(recipe.ID) == "" {
		return nil, errors.New("recipe has no id")
	}
	for i := range recipe.PhaseA {
		step := &recipe.PhaseA[i]
		if step.Tool == "" || step.OutputSlot == "" {
			return nil, fmt.Errorf("recipe %q: phase_a step %d needs tool and output", recipe.ID, i)
		}
		if step.ID == "" {
			step.ID = fmt.Sprintf("step_%d", i)
		}
	}
	return &recipe, nil
}
