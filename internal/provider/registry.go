package provider

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Registry maps provider names and aliases to providers
type Registry struct {
	providers map[string]Provider
	aliases   map[string]string
}

// NewRegistry creates a registry holding the given providers
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{
		providers: make(map[string]Provider),
		aliases:   make(map[string]string),
	}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Default returns a registry with every bundled provider
func Default(logger *slog.Logger) *Registry {
	r := NewRegistry(NewClaude(logger), NewGemini(logger))
	r.Alias("claude-code", ClaudeName)
	r.Alias("gemini-cli", GeminiName)
	return r
}

// Register adds a provider. Names must be unique.
func (r *Registry) Register(p Provider) error {
	if _, ok := r.providers[p.Name()]; ok {
		return fmt.Errorf("provider %q already registered", p.Name())
	}
	r.providers[p.Name()] = p
	return nil
}

// Alias makes alias resolve to the provider called name
func (r *Registry) Alias(alias, name string) {
	r.aliases[alias] = name
}

// Normalize converts a name or alias to the canonical provider name
func (r *Registry) Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := r.aliases[name]; ok {
		return canonical
	}
	return name
}

// Get looks up a provider by name or alias
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[r.Normalize(name)]
	return p, ok
}

// Names returns the canonical provider names, sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
