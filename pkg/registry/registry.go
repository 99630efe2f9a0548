package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/opentox/toxotis/pkg/opentox"
)

// ErrUnknownAlias is returned by Resolve for a name that is neither a
// registered alias nor an absolute URI.
var ErrUnknownAlias = errors.New("unknown algorithm alias")

// Entry maps a short alias to an OpenTox algorithm URI.
type Entry struct {
	Alias string      `json:"alias"`
	URI   opentox.URI `json:"uri"`
	Title string      `json:"title,omitempty"`
}

// Registry is a threadsafe in-memory alias table, populated from configuration.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: map[string]Entry{}}
}

// FromMap builds a registry from alias -> URI pairs, as found in configuration.
func FromMap(aliases map[string]string) (*Registry, error) {
	r := New()
	for alias, raw := range aliases {
		uri, err := opentox.ParseURI(raw)
		if err != nil {
			return nil, fmt.Errorf("algorithm %q: %w", alias, err)
		}
		r.Set(Entry{Alias: alias, URI: uri})
	}
	return r, nil
}

// Set stores or updates an entry. Aliases are case-insensitive.
func (r *Registry) Set(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key(entry.Alias)] = entry
}

// Get retrieves an entry by alias.
func (r *Registry) Get(alias string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[key(alias)]
	return entry, ok
}

// List returns all entries sorted by alias.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i].Alias) < key(out[j].Alias) })
	return out
}

// Resolve turns an alias or an absolute URI into an algorithm URI. Aliases win
// over URIs, so a registered alias can never be shadowed.
func (r *Registry) Resolve(nameOrURI string) (opentox.URI, error) {
	name := strings.TrimSpace(nameOrURI)
	if entry, ok := r.Get(name); ok {
		return entry.URI, nil
	}
	if strings.Contains(name, "://") {
		return opentox.ParseURI(name)
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAlias, name)
}

func key(alias string) string {
	return strings.ToLower(strings.TrimSpace(alias))
}
