package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/roleterms/internal/platform/db"
)

// maxInsertParams keeps a single multi-row insert under the Postgres bind
// parameter limit.
const maxInsertParams = 65535

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureNamespace registers ns for tenantID; registering twice is a no-op.
func (r *Repository) EnsureNamespace(ctx context.Context, tenantID int64, ns Namespace) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO taxonomy_namespaces (tenant_id, name, object_type, public)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tenant_id, name) DO NOTHING`, tenantID, ns.Name, ns.ObjectType, ns.Public)
	if err != nil {
		return fmt.Errorf("taxonomy: ensure namespace %s: %w", ns.Name, err)
	}
	return nil
}

const termColumns = `id, tenant_id, namespace, label, slug, count`

func scanTerm(row pgx.Row) (Term, error) {
	var t Term
	err := row.Scan(&t.ID, &t.TenantID, &t.Namespace, &t.Label, &t.Slug, &t.Count)
	return t, err
}

// FindTerm returns the term whose slug matches label.
func (r *Repository) FindTerm(ctx context.Context, tenantID int64, label, namespace string) (Term, error) {
	term, err := scanTerm(r.pool.QueryRow(ctx,
		`SELECT `+termColumns+` FROM terms WHERE tenant_id = $1 AND namespace = $2 AND slug = $3`,
		tenantID, namespace, Slug(label)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Term{}, ErrTermNotFound
		}
		return Term{}, fmt.Errorf("taxonomy: find term: %w", err)
	}
	return term, nil
}

// CreateTerm inserts a new term with a zero count.
func (r *Repository) CreateTerm(ctx context.Context, tenantID int64, label, namespace string) (Term, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return Term{}, errors.New("taxonomy: term label required")
	}
	term, err := scanTerm(r.pool.QueryRow(ctx, `
INSERT INTO terms (tenant_id, namespace, label, slug, count)
VALUES ($1, $2, $3, $4, 0)
RETURNING `+termColumns, tenantID, namespace, label, Slug(label)))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Term{}, ErrTermExists
		}
		return Term{}, fmt.Errorf("taxonomy: create term: %w", err)
	}
	return term, nil
}

func (r *Repository) findOrCreate(ctx context.Context, tenantID int64, label, namespace string) (Term, error) {
	term, err := r.FindTerm(ctx, tenantID, label, namespace)
	if errors.Is(err, ErrTermNotFound) {
		term, err = r.CreateTerm(ctx, tenantID, label, namespace)
		if errors.Is(err, ErrTermExists) {
			term, err = r.FindTerm(ctx, tenantID, label, namespace)
		}
	}
	return term, err
}

// SetAssignments relates objectID to the terms labelled labels. Without
// appendMode every other assignment of the object in namespace is removed,
// so an empty labels slice clears the namespace for the object.
func (r *Repository) SetAssignments(ctx context.Context, tenantID, objectID int64, labels []string, namespace string, appendMode bool, opts WriteOptions) error {
	termIDs := make([]int64, 0, len(labels))
	for _, label := range labels {
		term, err := r.findOrCreate(ctx, tenantID, label, namespace)
		if err != nil {
			return err
		}
		termIDs = append(termIDs, term.ID)
	}

	var touched []int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if !appendMode {
			rows, err := tx.Query(ctx, `
DELETE FROM term_assignments ta
USING terms t
WHERE ta.term_id = t.id AND t.tenant_id = $1 AND t.namespace = $2
  AND ta.object_id = $3 AND NOT (ta.term_id = ANY($4))
RETURNING ta.term_id`, tenantID, namespace, objectID, termIDs)
			if err != nil {
				return err
			}
			removed, err := pgx.CollectRows(rows, pgx.RowTo[int64])
			if err != nil {
				return err
			}
			touched = append(touched, removed...)
		}
		for _, id := range termIDs {
			tag, err := tx.Exec(ctx, `
INSERT INTO term_assignments (object_id, term_id, term_order)
SELECT $1, $2, 0
WHERE NOT EXISTS (SELECT 1 FROM term_assignments WHERE object_id = $1 AND term_id = $2)`, objectID, id)
			if err != nil {
				return err
			}
			if tag.RowsAffected() > 0 {
				touched = append(touched, id)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("taxonomy: set assignments %s: %w", namespace, err)
	}
	return opts.Settle(ctx, r, tenantID, namespace, touched)
}

// RemoveAssignments deletes the object's assignments to the labelled terms.
func (r *Repository) RemoveAssignments(ctx context.Context, tenantID, objectID int64, labels []string, namespace string, opts WriteOptions) error {
	if len(labels) == 0 {
		return nil
	}
	slugs := make([]string, len(labels))
	for i, label := range labels {
		slugs[i] = Slug(label)
	}
	rows, err := r.pool.Query(ctx, `
DELETE FROM term_assignments ta
USING terms t
WHERE ta.term_id = t.id AND t.tenant_id = $1 AND t.namespace = $2
  AND ta.object_id = $3 AND t.slug = ANY($4)
RETURNING ta.term_id`, tenantID, namespace, objectID, slugs)
	if err != nil {
		return fmt.Errorf("taxonomy: remove assignments %s: %w", namespace, err)
	}
	removed, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return fmt.Errorf("taxonomy: remove assignments %s: %w", namespace, err)
	}
	return opts.Settle(ctx, r, tenantID, namespace, removed)
}

// ObjectTerms lists the terms of namespace assigned to objectID.
func (r *Repository) ObjectTerms(ctx context.Context, tenantID, objectID int64, namespace string) ([]Term, error) {
	rows, err := r.pool.Query(ctx, `
SELECT DISTINCT t.id, t.tenant_id, t.namespace, t.label, t.slug, t.count
FROM terms t
JOIN term_assignments ta ON ta.term_id = t.id
WHERE t.tenant_id = $1 AND t.namespace = $2 AND ta.object_id = $3
ORDER BY t.label`, tenantID, namespace, objectID)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: object terms: %w", err)
	}
	return collectTerms(rows)
}

// GetTerms lists the terms of namespace.
func (r *Repository) GetTerms(ctx context.Context, tenantID int64, namespace string, q TermQuery) ([]Term, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + termColumns + ` FROM terms WHERE tenant_id = $1 AND namespace = $2`)
	args := []any{tenantID, namespace}
	if q.HideEmpty {
		b.WriteString(` AND count > 0`)
	}
	if len(q.Labels) > 0 {
		slugs := make([]string, len(q.Labels))
		for i, label := range q.Labels {
			slugs[i] = Slug(label)
		}
		args = append(args, slugs)
		fmt.Fprintf(&b, ` AND slug = ANY($%d)`, len(args))
	}
	b.WriteString(` ORDER BY label`)
	rows, err := r.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: get terms: %w", err)
	}
	return collectTerms(rows)
}

func collectTerms(rows pgx.Rows) ([]Term, error) {
	defer rows.Close()
	var terms []Term
	for rows.Next() {
		t, err := scanTerm(rows)
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return terms, nil
}

// RecomputeCounts sets each term's count to its number of assignment rows.
func (r *Repository) RecomputeCounts(ctx context.Context, tenantID int64, termIDs []int64, namespace string) error {
	if len(termIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
UPDATE terms t
SET count = (SELECT COUNT(*) FROM term_assignments ta WHERE ta.term_id = t.id)
WHERE t.tenant_id = $1 AND t.namespace = $2 AND t.id = ANY($3)`, tenantID, namespace, termIDs)
	if err != nil {
		return fmt.Errorf("taxonomy: recompute counts %s: %w", namespace, err)
	}
	return nil
}

// InsertAssignments appends rows with one multi-row INSERT. It does not
// check for existing assignments and does not touch term counts.
func (r *Repository) InsertAssignments(ctx context.Context, rows []Assignment) error {
	if len(rows) == 0 {
		return nil
	}
	if len(rows)*2 > maxInsertParams {
		return fmt.Errorf("taxonomy: bulk insert of %d rows exceeds parameter limit", len(rows))
	}
	var b strings.Builder
	b.WriteString(`INSERT INTO term_assignments (object_id, term_id, term_order) VALUES `)
	args := make([]any, 0, len(rows)*2)
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "($%d, $%d, 0)", len(args)+1, len(args)+2)
		args = append(args, row.ObjectID, row.TermID)
	}
	if _, err := r.pool.Exec(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("taxonomy: bulk insert: %w", err)
	}
	return nil
}
