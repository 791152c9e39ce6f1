// Package taxonomy stores classification namespaces, their terms and the
// assignments of terms to objects.
package taxonomy

import (
	"errors"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Namespaces the role taxonomy uses.
const (
	NamespaceRoles  = "roles"
	NamespaceLevels = "levels"
)

// ObjectTypeUser is the object type both namespaces classify.
const ObjectTypeUser = "user"

var (
	// ErrTermNotFound indicates no term with the label exists in the namespace.
	ErrTermNotFound = errors.New("taxonomy: term not found")
	// ErrTermExists indicates a concurrent writer created the term first.
	ErrTermExists = errors.New("taxonomy: term already exists")
	// ErrTermResolution wraps any failure to find or create a term.
	ErrTermResolution = errors.New("taxonomy: term resolution failed")
)

// Namespace is a flat label space registered per tenant.
type Namespace struct {
	Name       string
	ObjectType string
	Public     bool
}

// Term is a labelled node of a namespace.
type Term struct {
	ID        int64
	TenantID  int64
	Namespace string
	Label     string
	Slug      string
	Count     int64
}

// Assignment relates an object to a term.
type Assignment struct {
	ObjectID int64
	TermID   int64
}

// TermQuery filters GetTerms.
type TermQuery struct {
	HideEmpty bool
	Labels    []string
}

var (
	slugFolder  = cases.Lower(language.Und)
	slugSpacing = regexp.MustCompile(`\s+`)
)

// Slug normalises a label into the unique key terms are stored under.
func Slug(label string) string {
	s := slugFolder.String(strings.TrimSpace(label))
	return slugSpacing.ReplaceAllString(s, "-")
}

// SumCounts adds up the assignment counts of terms.
func SumCounts(terms []Term) int64 {
	var total int64
	for _, t := range terms {
		total += t.Count
	}
	return total
}
