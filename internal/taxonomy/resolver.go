package taxonomy

import (
	"context"
	"errors"
	"fmt"
)

// TermSource finds and creates terms.
type TermSource interface {
	FindTerm(ctx context.Context, tenantID int64, label, namespace string) (Term, error)
	CreateTerm(ctx context.Context, tenantID int64, label, namespace string) (Term, error)
}

// Resolver memoises label to term id lookups for a single run. It performs
// at most one store mutation per distinct label and is not safe for
// concurrent use.
type Resolver struct {
	store    TermSource
	tenantID int64
	ids      map[string]map[string]int64
}

// NewResolver returns an empty resolver bound to tenantID.
func NewResolver(store TermSource, tenantID int64) *Resolver {
	return &Resolver{store: store, tenantID: tenantID, ids: make(map[string]map[string]int64)}
}

// Resolve returns the id of the term labelled label in namespace, creating
// the term when it does not exist yet.
func (r *Resolver) Resolve(ctx context.Context, namespace, label string) (int64, error) {
	if id, ok := r.ids[namespace][label]; ok {
		return id, nil
	}
	term, err := r.store.FindTerm(ctx, r.tenantID, label, namespace)
	if errors.Is(err, ErrTermNotFound) {
		term, err = r.store.CreateTerm(ctx, r.tenantID, label, namespace)
		if errors.Is(err, ErrTermExists) {
			term, err = r.store.FindTerm(ctx, r.tenantID, label, namespace)
		}
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %w", ErrTermResolution, namespace, label, err)
	}
	cache, ok := r.ids[namespace]
	if !ok {
		cache = make(map[string]int64)
		r.ids[namespace] = cache
	}
	cache[label] = term.ID
	return term.ID, nil
}

// Len returns how many labels of namespace are memoised.
func (r *Resolver) Len(namespace string) int {
	return len(r.ids[namespace])
}
