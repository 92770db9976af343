package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/apierrors"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/logging"
)

type memoEntry struct {
	result    Result
	expiresAt time.Time
}

// Registry is the Template Registry (C1): an in-memory index of templates
// keyed by "id@version", with a tag inverted index, SHA-256-keyed
// validation memoization, and optional hot-reload.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template // "id@version"
	byID      map[string][]string  // id -> sorted versions (desc)
	byTag     map[string]map[string]bool
	byPath    map[string]string // SourcePath -> "id@version", for watcher delete/rename events
	dirs      []string

	memo    *lru.Cache[string, memoEntry]
	memoTTL time.Duration

	log *logging.Logger
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithLogger attaches a component logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// New builds an empty Registry. memoCacheSize bounds the LRU validation
// cache; memoTTL enforces per-entry
// freshness on top of LRU eviction.
func New(memoCacheSize int, memoTTL time.Duration, opts ...Option) (*Registry, error) {
	if memoCacheSize <= 0 {
		memoCacheSize = 512
	}
	cache, err := lru.New[string, memoEntry](memoCacheSize)
	if err != nil {
		return nil, fmt.Errorf("registry: build memo cache: %w", err)
	}
	r := &Registry{
		templates: make(map[string]*Template),
		byID:      make(map[string][]string),
		byTag:     make(map[string]map[string]bool),
		byPath:    make(map[string]string),
		memo:      cache,
		memoTTL:   memoTTL,
		log:       logging.NewFromEnv("registry"),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Load scans a directory for .yaml/.yml/.json template files and registers
// each (at most one template per file).
func (r *Registry) Load(dir string) error {
	r.mu.Lock()
	found := false
	for _, d := range r.dirs {
		if d == dir {
			found = true
			break
		}
	}
	if !found {
		r.dirs = append(r.dirs, dir)
	}
	r.mu.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("registry: read dir %s: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := r.loadFile(path); err != nil {
			r.log.WithError(err).WithFields(map[string]interface{}{"path": path}).Warn("template load failed")
		}
	}
	return nil
}

func (r *Registry) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var t Template
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	t.SourcePath = path
	t.LoadedAt = time.Now()
	return r.Register(&t)
}

// Register validates t through the six-stage pipeline plus the
// registry-scoped uniqueness check, then installs it if validation passed.
func (r *Registry) Register(t *Template) error {
	result := Validate(t, r.resolveExtends)
	if !result.Valid {
		return apierrors.New(apierrors.CodeValidation, "template validation failed").
			WithDetail("template", t.Key()).
			WithDetail("issues", result.Issues)
	}

	key := t.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.templates[key]; exists {
		return apierrors.New(apierrors.CodeValidation, "duplicate template registration").
			WithDetail("template", key)
	}

	r.templates[key] = t
	r.insertVersionLocked(t.ID, t.Version)
	for _, tag := range t.Tags {
		if r.byTag[tag] == nil {
			r.byTag[tag] = make(map[string]bool)
		}
		r.byTag[tag][key] = true
	}
	if t.SourcePath != "" {
		r.byPath[t.SourcePath] = key
	}
	return nil
}

// KeyForPath returns the (id, version) registered from sourcePath, if any.
// The hot-reload watcher uses this to resolve a bare filesystem delete or
// rename event back to the template it needs to remove.
func (r *Registry) KeyForPath(sourcePath string) (id, version string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, exists := r.byPath[sourcePath]
	if !exists {
		return "", "", false
	}
	idx := strings.LastIndex(key, "@")
	if idx < 0 {
		return "", "", false
	}
	return key[:idx], key[idx+1:], true
}

func (r *Registry) resolveExtends(id, version string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if version == "" {
		versions := r.byID[id]
		if len(versions) == 0 {
			return nil, false
		}
		version = versions[0]
	}
	t, ok := r.templates[id+"@"+version]
	return t, ok
}

func (r *Registry) insertVersionLocked(id, version string) {
	versions := r.byID[id]
	versions = append(versions, version)
	sort.Slice(versions, func(i, j int) bool {
		vi, erri := semver.NewVersion(versions[i])
		vj, errj := semver.NewVersion(versions[j])
		if erri != nil || errj != nil {
			return versions[i] > versions[j]
		}
		return vi.GreaterThan(vj)
	})
	r.byID[id] = versions
}

// Get returns the template by id and optional version (latest if empty).
func (r *Registry) Get(id, version string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if version == "" {
		versions := r.byID[id]
		if len(versions) == 0 {
			return nil, apierrors.NotFound("template", id)
		}
		version = versions[0]
	}
	t, ok := r.templates[id+"@"+version]
	if !ok {
		return nil, apierrors.NotFound("template", id+"@"+version)
	}
	return t, nil
}

// Versions returns id's known versions, newest first.
func (r *Registry) Versions(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.byID[id]))
	copy(out, r.byID[id])
	return out
}

// ListFilter narrows List's results.
type ListFilter struct {
	Category string
	Tags     []string
}

// List returns TemplateInfo summaries matching filter (latest version of
// each id only).
func (r *Registry) List(filter ListFilter) []TemplateInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidateKeys map[string]bool
	if len(filter.Tags) > 0 {
		candidateKeys = make(map[string]bool)
		for i, tag := range filter.Tags {
			matches := r.byTag[tag]
			if i == 0 {
				for k := range matches {
					candidateKeys[k] = true
				}
				continue
			}
			for k := range candidateKeys {
				if !matches[k] {
					delete(candidateKeys, k)
				}
			}
		}
	}

	out := make([]TemplateInfo, 0, len(r.byID))
	for id, versions := range r.byID {
		if len(versions) == 0 {
			continue
		}
		key := id + "@" + versions[0]
		if candidateKeys != nil && !candidateKeys[key] {
			continue
		}
		t := r.templates[key]
		if filter.Category != "" && t.Category != filter.Category {
			continue
		}
		out = append(out, TemplateInfo{ID: t.ID, Version: t.Version, Category: t.Category, Description: t.Description, Tags: t.Tags})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reload re-reads id@version from its source file and re-validates it,
// replacing the in-memory entry on success.
func (r *Registry) Reload(id, version string) error {
	r.mu.RLock()
	existing, ok := r.templates[id+"@"+version]
	r.mu.RUnlock()
	if !ok {
		return apierrors.NotFound("template", id+"@"+version)
	}

	raw, err := os.ReadFile(existing.SourcePath)
	if err != nil {
		return fmt.Errorf("registry: reload %s: %w", existing.SourcePath, err)
	}
	var t Template
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return fmt.Errorf("registry: reload parse %s: %w", existing.SourcePath, err)
	}
	t.SourcePath = existing.SourcePath
	t.LoadedAt = time.Now()

	result := Validate(&t, r.resolveExtends)
	if !result.Valid {
		return apierrors.New(apierrors.CodeValidation, "template validation failed").
			WithDetail("template", t.Key()).
			WithDetail("issues", result.Issues)
	}

	r.mu.Lock()
	r.templates[t.Key()] = &t
	r.mu.Unlock()

	digest, err := CanonicalDigest(&t)
	if err == nil {
		r.memo.Remove(digest)
	}
	return nil
}

// Remove deletes id@version from the registry (used by the hot-reload
// watcher's deletion branch).
func (r *Registry) Remove(id, version string) {
	key := id + "@" + version
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.templates[key]; ok && t.SourcePath != "" {
		delete(r.byPath, t.SourcePath)
	}
	delete(r.templates, key)
	versions := r.byID[id]
	for i, v := range versions {
		if v == version {
			r.byID[id] = append(versions[:i], versions[i+1:]...)
			break
		}
	}
	for tag, keys := range r.byTag {
		delete(keys, key)
		if len(keys) == 0 {
			delete(r.byTag, tag)
		}
	}
}

// ValidateMemoized runs Validate but serves a cached result when the
// template's canonical digest was validated within memoTTL.
func (r *Registry) ValidateMemoized(t *Template) (Result, error) {
	digest, err := CanonicalDigest(t)
	if err != nil {
		return Result{}, err
	}

	if cached, ok := r.memo.Get(digest); ok {
		if r.memoTTL <= 0 || time.Now().Before(cached.expiresAt) {
			return cached.result, nil
		}
		r.memo.Remove(digest)
	}

	result := Validate(t, r.resolveExtends)
	r.memo.Add(digest, memoEntry{result: result, expiresAt: time.Now().Add(r.memoTTL)})
	return result, nil
}
