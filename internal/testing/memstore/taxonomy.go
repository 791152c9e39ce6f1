// Package memstore provides in-memory user and taxonomy stores for tests.
package memstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/odyssey-erp/roleterms/internal/taxonomy"
)

// Taxonomy is an in-memory taxonomy.Store. Like the SQL schema it keeps
// duplicate assignment rows when InsertAssignments appends them.
type Taxonomy struct {
	mu          sync.Mutex
	namespaces  map[int64]map[string]taxonomy.Namespace
	terms       map[int64]*taxonomy.Term
	assignments []taxonomy.Assignment
	nextID      int64

	// InsertErr, when set, fails every InsertAssignments call.
	InsertErr error

	Finds    int
	Creates  int
	Recounts int
	Inserts  int
}

// NewTaxonomy returns an empty store.
func NewTaxonomy() *Taxonomy {
	return &Taxonomy{
		namespaces: make(map[int64]map[string]taxonomy.Namespace),
		terms:      make(map[int64]*taxonomy.Term),
	}
}

var _ taxonomy.Store = (*Taxonomy)(nil)

// EnsureNamespace implements taxonomy.Store.
func (t *Taxonomy) EnsureNamespace(_ context.Context, tenantID int64, ns taxonomy.Namespace) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.namespaces[tenantID]
	if !ok {
		set = make(map[string]taxonomy.Namespace)
		t.namespaces[tenantID] = set
	}
	if _, exists := set[ns.Name]; !exists {
		set[ns.Name] = ns
	}
	return nil
}

// Namespaces lists the names registered for tenantID.
func (t *Taxonomy) Namespaces(tenantID int64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var names []string
	for name := range t.namespaces[tenantID] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Taxonomy) find(tenantID int64, label, namespace string) (*taxonomy.Term, bool) {
	slug := taxonomy.Slug(label)
	for _, term := range t.terms {
		if term.TenantID == tenantID && term.Namespace == namespace && term.Slug == slug {
			return term, true
		}
	}
	return nil, false
}

// FindTerm implements taxonomy.Store.
func (t *Taxonomy) FindTerm(_ context.Context, tenantID int64, label, namespace string) (taxonomy.Term, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Finds++
	term, ok := t.find(tenantID, label, namespace)
	if !ok {
		return taxonomy.Term{}, taxonomy.ErrTermNotFound
	}
	return *term, nil
}

// CreateTerm implements taxonomy.Store.
func (t *Taxonomy) CreateTerm(_ context.Context, tenantID int64, label, namespace string) (taxonomy.Term, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Creates++
	label = strings.TrimSpace(label)
	if label == "" {
		return taxonomy.Term{}, errors.New("memstore: term label required")
	}
	if _, ok := t.find(tenantID, label, namespace); ok {
		return taxonomy.Term{}, taxonomy.ErrTermExists
	}
	return *t.create(tenantID, label, namespace), nil
}

func (t *Taxonomy) create(tenantID int64, label, namespace string) *taxonomy.Term {
	t.nextID++
	term := &taxonomy.Term{ID: t.nextID, TenantID: tenantID, Namespace: namespace, Label: label, Slug: taxonomy.Slug(label)}
	t.terms[term.ID] = term
	return term
}

func (t *Taxonomy) objectTermIDs(tenantID, objectID int64, namespace string) map[int64]struct{} {
	ids := make(map[int64]struct{})
	for _, a := range t.assignments {
		if a.ObjectID != objectID {
			continue
		}
		if term := t.terms[a.TermID]; term != nil && term.TenantID == tenantID && term.Namespace == namespace {
			ids[a.TermID] = struct{}{}
		}
	}
	return ids
}

// SetAssignments implements taxonomy.Store.
func (t *Taxonomy) SetAssignments(ctx context.Context, tenantID, objectID int64, labels []string, namespace string, appendMode bool, opts taxonomy.WriteOptions) error {
	t.mu.Lock()
	want := make(map[int64]struct{}, len(labels))
	order := make([]int64, 0, len(labels))
	for _, label := range labels {
		term, ok := t.find(tenantID, label, namespace)
		if !ok {
			term = t.create(tenantID, label, namespace)
		}
		if _, dup := want[term.ID]; !dup {
			order = append(order, term.ID)
		}
		want[term.ID] = struct{}{}
	}

	var touched []int64
	current := t.objectTermIDs(tenantID, objectID, namespace)
	if !appendMode {
		kept := t.assignments[:0]
		for _, a := range t.assignments {
			_, inScope := current[a.TermID]
			_, wanted := want[a.TermID]
			if a.ObjectID == objectID && inScope && !wanted {
				touched = append(touched, a.TermID)
				continue
			}
			kept = append(kept, a)
		}
		t.assignments = kept
	}
	for _, id := range order {
		if _, ok := current[id]; ok {
			continue
		}
		t.assignments = append(t.assignments, taxonomy.Assignment{ObjectID: objectID, TermID: id})
		touched = append(touched, id)
	}
	t.mu.Unlock()
	return opts.Settle(ctx, t, tenantID, namespace, touched)
}

// RemoveAssignments implements taxonomy.Store.
func (t *Taxonomy) RemoveAssignments(ctx context.Context, tenantID, objectID int64, labels []string, namespace string, opts taxonomy.WriteOptions) error {
	t.mu.Lock()
	drop := make(map[int64]struct{})
	for _, label := range labels {
		if term, ok := t.find(tenantID, label, namespace); ok {
			drop[term.ID] = struct{}{}
		}
	}
	var touched []int64
	kept := t.assignments[:0]
	for _, a := range t.assignments {
		if _, ok := drop[a.TermID]; ok && a.ObjectID == objectID {
			touched = append(touched, a.TermID)
			continue
		}
		kept = append(kept, a)
	}
	t.assignments = kept
	t.mu.Unlock()
	return opts.Settle(ctx, t, tenantID, namespace, touched)
}

// ObjectTerms implements taxonomy.Store.
func (t *Taxonomy) ObjectTerms(_ context.Context, tenantID, objectID int64, namespace string) ([]taxonomy.Term, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []taxonomy.Term
	for id := range t.objectTermIDs(tenantID, objectID, namespace) {
		out = append(out, *t.terms[id])
	}
	sortTerms(out)
	return out, nil
}

// GetTerms implements taxonomy.Store.
func (t *Taxonomy) GetTerms(_ context.Context, tenantID int64, namespace string, q taxonomy.TermQuery) ([]taxonomy.Term, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var slugs map[string]struct{}
	if len(q.Labels) > 0 {
		slugs = make(map[string]struct{}, len(q.Labels))
		for _, label := range q.Labels {
			slugs[taxonomy.Slug(label)] = struct{}{}
		}
	}
	var out []taxonomy.Term
	for _, term := range t.terms {
		if term.TenantID != tenantID || term.Namespace != namespace {
			continue
		}
		if q.HideEmpty && term.Count <= 0 {
			continue
		}
		if slugs != nil {
			if _, ok := slugs[term.Slug]; !ok {
				continue
			}
		}
		out = append(out, *term)
	}
	sortTerms(out)
	return out, nil
}

// RecomputeCounts implements taxonomy.Store. Duplicate rows are counted.
func (t *Taxonomy) RecomputeCounts(_ context.Context, tenantID int64, termIDs []int64, namespace string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Recounts++
	for _, id := range termIDs {
		term := t.terms[id]
		if term == nil || term.TenantID != tenantID || term.Namespace != namespace {
			continue
		}
		var n int64
		for _, a := range t.assignments {
			if a.TermID == id {
				n++
			}
		}
		term.Count = n
	}
	return nil
}

// InsertAssignments implements taxonomy.Store.
func (t *Taxonomy) InsertAssignments(_ context.Context, rows []taxonomy.Assignment) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.InsertErr != nil {
		return t.InsertErr
	}
	t.Inserts++
	t.assignments = append(t.assignments, rows...)
	return nil
}

// Labels returns the labels assigned to objectID in namespace, one entry per
// assignment row, sorted.
func (t *Taxonomy) Labels(tenantID, objectID int64, namespace string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, a := range t.assignments {
		term := t.terms[a.TermID]
		if a.ObjectID == objectID && term != nil && term.TenantID == tenantID && term.Namespace == namespace {
			out = append(out, term.Label)
		}
	}
	sort.Strings(out)
	return out
}

// Rows returns the number of assignment rows.
func (t *Taxonomy) Rows() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.assignments)
}

// Count returns the stored count of the labelled term, or -1 when absent.
func (t *Taxonomy) Count(tenantID int64, namespace, label string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	term, ok := t.find(tenantID, label, namespace)
	if !ok {
		return -1
	}
	return term.Count
}

// AssignedTermIDs returns the distinct term ids objectID holds in namespace.
func (t *Taxonomy) AssignedTermIDs(tenantID, objectID int64, namespace string) map[int64]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.objectTermIDs(tenantID, objectID, namespace)
}

func sortTerms(terms []taxonomy.Term) {
	sort.Slice(terms, func(i, j int) bool { return terms[i].Label < terms[j].Label })
}
