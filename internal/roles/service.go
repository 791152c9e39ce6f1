package roles

import (
	"context"
	"fmt"
	"sort"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
}

// Registry resolves role names to their definitions.
type Registry struct {
	byName map[string]Role
}

// NewRegistry builds a registry from defs; later entries override earlier ones.
func NewRegistry(defs ...Role) *Registry {
	r := &Registry{byName: make(map[string]Role, len(defs))}
	for _, def := range defs {
		r.byName[def.Name] = def
	}
	return r
}

// DefaultRegistry returns a registry holding Defaults.
func DefaultRegistry() *Registry {
	return NewRegistry(Defaults...)
}

// Lookup returns the definition for name.
func (r *Registry) Lookup(name string) (Role, bool) {
	if r == nil {
		return Role{}, false
	}
	role, ok := r.byName[name]
	return role, ok
}

// LevelFor returns the highest level implied by names. Unknown names imply
// nothing; ok is false when none of the names is known.
func (r *Registry) LevelFor(names ...string) (level int, ok bool) {
	for _, name := range names {
		role, found := r.Lookup(name)
		if !found {
			continue
		}
		if !ok || role.Level > level {
			level = role.Level
		}
		ok = true
	}
	return level, ok
}

// Roles returns all definitions sorted by descending level then name.
func (r *Registry) Roles() []Role {
	if r == nil {
		return nil
	}
	out := make([]Role, 0, len(r.byName))
	for _, role := range r.byName {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Service handles role business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// LoadRegistry overlays stored definitions on Defaults.
func (s *Service) LoadRegistry(ctx context.Context) (*Registry, error) {
	if s == nil || s.repo == nil {
		return DefaultRegistry(), nil
	}
	stored, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("roles: list roles: %w", err)
	}
	defs := append(append([]Role(nil), Defaults...), stored...)
	return NewRegistry(defs...), nil
}
