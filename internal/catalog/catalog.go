// Package catalog holds the read-only animation catalog loaded from YAML.
//
// A [Catalog] is a snapshot map behind a read-write mutex. [Catalog.Reload]
// parses every configured file first and then swaps the whole map, so a
// broken edit never leaves the catalog half-updated, and running sessions keep
// the definitions they already hold.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/framecast/pkg/anim"
)

var (
	_ anim.Catalog   = (*Catalog)(nil)
	_ anim.Suggester = (*Catalog)(nil)
)

// ErrNotLoaded is returned by [Catalog.Check] before the first successful load.
var ErrNotLoaded = errors.New("catalog: not loaded")

const (
	defaultSuggestThreshold = 0.80
	defaultMaxSuggestions   = 3
)

// Sources lists where a catalog reads its animations.
type Sources struct {
	// Files are individual YAML files.
	Files []string

	// Dirs are scanned (non-recursively) for *.yaml and *.yml files.
	Dirs []string
}

// Option configures a [Catalog].
type Option func(*Catalog)

// WithSuggestThreshold sets the minimum Jaro-Winkler score for a name to be
// suggested. Default: 0.80.
func WithSuggestThreshold(v float64) Option {
	return func(c *Catalog) { c.threshold = v }
}

// WithMaxSuggestions caps the number of suggestions. Default: 3.
func WithMaxSuggestions(n int) Option {
	return func(c *Catalog) { c.maxSuggestions = n }
}

// Catalog is a thread-safe animation lookup. The zero value is an empty,
// unloaded catalog.
type Catalog struct {
	mu       sync.RWMutex
	defs     map[string]*anim.Definition
	names    []string
	src      Sources
	loadedAt time.Time

	threshold      float64
	maxSuggestions int
}

// New returns an empty catalog reading from src. Call [Catalog.Reload] to
// load it.
func New(src Sources, opts ...Option) *Catalog {
	c := &Catalog{
		src:            src,
		threshold:      defaultSuggestThreshold,
		maxSuggestions: defaultMaxSuggestions,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FromDefinitions returns a loaded catalog holding defs. Names must be unique.
func FromDefinitions(defs ...*anim.Definition) (*Catalog, error) {
	c := New(Sources{})
	m := make(map[string]*anim.Definition, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		if _, dup := m[d.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate animation %q", d.Name)
		}
		m[d.Name] = d
	}
	c.replace(m)
	return c, nil
}

// SetSources changes where the next [Catalog.Reload] reads from.
func (c *Catalog) SetSources(src Sources) {
	c.mu.Lock()
	c.src = src
	c.mu.Unlock()
}

// Reload parses every source and swaps the catalog contents. On error the
// previous contents stay in place.
func (c *Catalog) Reload() error {
	c.mu.RLock()
	src := c.src
	c.mu.RUnlock()

	paths, err := src.paths()
	if err != nil {
		return err
	}

	m := make(map[string]*anim.Definition)
	origin := make(map[string]string)
	var errs []error
	for _, p := range paths {
		f, err := LoadFile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for i, e := range f.Animations {
			def, err := e.Definition()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: animations[%d]: %w", p, i, err))
				continue
			}
			if prev, dup := origin[def.Name]; dup {
				errs = append(errs, fmt.Errorf("%s: duplicate animation %q (first defined in %s)", p, def.Name, prev))
				continue
			}
			origin[def.Name] = p
			m[def.Name] = def
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("catalog: reload: %w", errors.Join(errs...))
	}

	c.replace(m)
	slog.Info("catalog: loaded", "animations", len(m), "files", len(paths))
	return nil
}

func (c *Catalog) replace(m map[string]*anim.Definition) {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)

	c.mu.Lock()
	c.defs = m
	c.names = names
	c.loadedAt = time.Now()
	c.mu.Unlock()
}

// Lookup implements [anim.Catalog].
func (c *Catalog) Lookup(name string) (*anim.Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.defs[name]
	return d, ok
}

// Names implements [anim.Catalog]. The result is sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.names)
}

// Len returns the number of animations.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.defs)
}

// Suggest implements [anim.Suggester]. Names are ranked by Jaro-Winkler
// similarity; names sharing a Double Metaphone code with the query get a
// small boost so that misheard spellings still surface.
func (c *Catalog) Suggest(name string) []string {
	query := strings.ToLower(strings.TrimSpace(name))
	if query == "" {
		return nil
	}
	qp, qs := matchr.DoubleMetaphone(query)

	c.mu.RLock()
	names := c.names
	c.mu.RUnlock()

	type scored struct {
		name  string
		score float64
	}
	var hits []scored
	for _, n := range names {
		lower := strings.ToLower(n)
		score := matchr.JaroWinkler(query, lower, false)
		if strings.HasPrefix(lower, query) || strings.Contains(lower, query) {
			score = max(score, 0.9)
		}
		if p, s := matchr.DoubleMetaphone(lower); qp != "" && (p == qp || (s != "" && s == qs)) {
			score += 0.05
		}
		if score >= c.threshold {
			hits = append(hits, scored{n, score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > c.maxSuggestions {
		hits = hits[:c.maxSuggestions]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.name
	}
	return out
}

// Check reports [ErrNotLoaded] until the first successful load. It is shaped
// for the readiness endpoint.
func (c *Catalog) Check(context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.loadedAt.IsZero() {
		return ErrNotLoaded
	}
	return nil
}

// paths expands dirs and de-duplicates the file list.
func (s Sources) paths() ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if clean := filepath.Clean(p); !seen[clean] {
			seen[clean] = true
			out = append(out, clean)
		}
	}
	for _, f := range s.Files {
		add(f)
	}
	for _, d := range s.Dirs {
		entries, err := os.ReadDir(d)
		if err != nil {
			return nil, fmt.Errorf("catalog: read dir %q: %w", d, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch filepath.Ext(e.Name()) {
			case ".yaml", ".yml":
				add(filepath.Join(d, e.Name()))
			}
		}
	}
	return out, nil
}
