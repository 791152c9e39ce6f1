package taxonomy

import "context"

// Store is the classification storage engine.
type Store interface {
	TermSource
	Counter
	EnsureNamespace(ctx context.Context, tenantID int64, ns Namespace) error
	SetAssignments(ctx context.Context, tenantID, objectID int64, labels []string, namespace string, appendMode bool, opts WriteOptions) error
	RemoveAssignments(ctx context.Context, tenantID, objectID int64, labels []string, namespace string, opts WriteOptions) error
	ObjectTerms(ctx context.Context, tenantID, objectID int64, namespace string) ([]Term, error)
	GetTerms(ctx context.Context, tenantID int64, namespace string, q TermQuery) ([]Term, error)
	InsertAssignments(ctx context.Context, rows []Assignment) error
}

var _ Store = (*Repository)(nil)
