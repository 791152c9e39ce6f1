package roleterms

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/roleterms/internal/legacy"
	"github.com/odyssey-erp/roleterms/internal/taxonomy"
	"github.com/odyssey-erp/roleterms/internal/tenant"
	"github.com/odyssey-erp/roleterms/internal/users"
)

// TermReader reads terms of a namespace.
type TermReader interface {
	GetTerms(ctx context.Context, tenantID int64, namespace string, q taxonomy.TermQuery) ([]taxonomy.Term, error)
}

// Rewriter serves role filters of user listings from the roles taxonomy.
// It is safe for concurrent use; scope switches go through the tenant
// tracker carried by the request context.
type Rewriter struct {
	terms         TermReader
	defaultTenant int64
	logger        *slog.Logger
	group         singleflight.Group
}

// NewRewriter builds a Rewriter. defaultTenant is the active scope when a
// context carries no tracker.
func NewRewriter(terms TermReader, defaultTenant int64, logger *slog.Logger) *Rewriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{terms: terms, defaultTenant: defaultTenant, logger: logger}
}

var _ users.QueryHooks = (*Rewriter)(nil)

// tracker returns the request tracker installed by the HTTP middleware.
// Callers outside a request get a private tracker rooted at the default
// tenant, so the scope switch is local to the call.
func (r *Rewriter) tracker(ctx context.Context) *tenant.Tracker {
	if t := tenant.FromContext(ctx); t != nil {
		return t
	}
	return tenant.NewTracker(r.defaultTenant)
}

// PrepareQuery moves the role parameters of a tenant scoped query into term
// clauses and clears them from the live query.
func (r *Rewriter) PrepareQuery(_ context.Context, q *users.Query) error {
	if q.TenantID == 0 || q.Shadow != nil {
		return nil
	}

	var clauses []taxonomy.Clause
	if q.Role != "" {
		clauses = append(clauses, taxonomy.Clause{Namespace: taxonomy.NamespaceRoles, Operator: taxonomy.OpIn, Labels: []string{q.Role}})
	}
	if len(q.RoleIn) > 0 {
		clauses = append(clauses, taxonomy.Clause{Namespace: taxonomy.NamespaceRoles, Operator: taxonomy.OpIn, Labels: q.RoleIn})
	}
	if len(q.RoleNotIn) > 0 {
		clauses = append(clauses, taxonomy.Clause{Namespace: taxonomy.NamespaceRoles, Operator: taxonomy.OpNotIn, Labels: q.RoleNotIn})
	}
	if len(clauses) == 0 {
		clauses = append(clauses, taxonomy.Clause{Namespace: taxonomy.NamespaceRoles, Operator: taxonomy.OpExists})
	}
	if q.Who == users.WhoAuthors {
		clauses = append(clauses,
			taxonomy.Clause{Namespace: taxonomy.NamespaceLevels, Operator: taxonomy.OpNotIn, Labels: []string{legacy.LevelLabel(0)}},
			taxonomy.Clause{Namespace: taxonomy.NamespaceLevels, Operator: taxonomy.OpExists},
		)
	}

	extra := hasExtraSearch(q)
	q.Shadow = &users.Shadow{
		TenantID:  q.TenantID,
		Role:      q.Role,
		RoleIn:    q.RoleIn,
		RoleNotIn: q.RoleNotIn,
		Who:       q.Who,
	}
	q.Role, q.RoleIn, q.RoleNotIn, q.Who, q.TenantID = "", nil, nil, "", 0
	q.TermClauses = clauses
	q.SkipCount = !extra
	return nil
}

// hasExtraSearch reports whether q filters on anything the role term counts
// cannot account for. Besides the listing filters it treats role exclusions
// and the authors modifier as extra searches: term counts cannot subtract
// excluded or level zero users, so those queries are counted row by row.
func hasExtraSearch(q *users.Query) bool {
	return q.MetaKey != "" || q.MetaValue != "" ||
		len(q.Include) > 0 || len(q.Exclude) > 0 ||
		q.Search != "" || q.HasPublishedPosts ||
		q.Nicename != "" || len(q.NicenameIn) > 0 || len(q.NicenameNotIn) > 0 ||
		q.Login != "" || len(q.LoginIn) > 0 || len(q.LoginNotIn) > 0 ||
		len(q.RoleNotIn) > 0 || q.Who != ""
}

// BuildClauses resolves the term clauses in the stashed tenant scope and
// appends their SQL to qs.
func (r *Rewriter) BuildClauses(ctx context.Context, q *users.Query, qs *users.QuerySQL) error {
	if q.Shadow == nil || len(q.TermClauses) == 0 {
		return nil
	}
	tr := r.tracker(ctx)
	restore := tr.Enter(q.Shadow.TenantID)
	defer restore()
	tenantID := tr.Current()

	for i := range q.TermClauses {
		c := &q.TermClauses[i]
		if err := r.resolve(ctx, tenantID, c); err != nil {
			return err
		}
		if frag := clauseSQL(qs, *c); frag != "" {
			qs.Where = append(qs.Where, frag)
		}
	}
	if q.HasPublishedPosts && q.TenantID == 0 {
		users.AddPublishedPostsClause(qs, q.Shadow.TenantID)
	}
	return nil
}

func (r *Rewriter) resolve(ctx context.Context, tenantID int64, c *taxonomy.Clause) error {
	c.TenantID = tenantID
	c.TermIDs = nil
	if c.Operator == taxonomy.OpIn || c.Operator == taxonomy.OpNotIn {
		terms, err := r.terms.GetTerms(ctx, tenantID, c.Namespace, taxonomy.TermQuery{Labels: c.Labels})
		if err != nil {
			return fmt.Errorf("roleterms: resolve %s clause: %w", c.Namespace, err)
		}
		for _, t := range terms {
			c.TermIDs = append(c.TermIDs, t.ID)
		}
	}
	c.Resolved = true
	return nil
}

// clauseSQL renders a resolved clause. An IN clause without terms matches
// nothing and a NOT IN clause without terms matches everything.
func clauseSQL(qs *users.QuerySQL, c taxonomy.Clause) string {
	switch c.Operator {
	case taxonomy.OpExists, taxonomy.OpNotExists:
		sub := "SELECT 1 FROM term_assignments ta JOIN terms t ON t.id = ta.term_id WHERE ta.object_id = u.id AND t.tenant_id = " +
			qs.Arg(c.TenantID) + " AND t.namespace = " + qs.Arg(c.Namespace)
		return c.Operator + " (" + sub + ")"
	case taxonomy.OpNotIn:
		if len(c.TermIDs) == 0 {
			return ""
		}
		return "u.id NOT IN (SELECT ta.object_id FROM term_assignments ta WHERE ta.term_id = ANY(" + qs.Arg(c.TermIDs) + "))"
	default:
		if len(c.TermIDs) == 0 {
			return "0 = 1"
		}
		return "u.id IN (SELECT ta.object_id FROM term_assignments ta WHERE ta.term_id = ANY(" + qs.Arg(c.TermIDs) + "))"
	}
}

// CountTotal sums the role term counts in place of counting rows.
func (r *Rewriter) CountTotal(ctx context.Context, q *users.Query) (int64, bool, error) {
	if q.Shadow == nil || !q.SkipCount {
		return 0, false, nil
	}
	tr := r.tracker(ctx)
	restore := tr.Enter(q.Shadow.TenantID)
	defer restore()
	tenantID := tr.Current()

	var tq taxonomy.TermQuery
	switch {
	case q.Shadow.Role != "":
		tq.Labels = []string{q.Shadow.Role}
	case len(q.Shadow.RoleIn) > 0:
		tq.Labels = q.Shadow.RoleIn
	default:
		tq.HideEmpty = true
	}

	key := strings.Join([]string{"total", strconv.FormatInt(tenantID, 10), strings.Join(tq.Labels, ",")}, "|")
	// The lookup is shared; one caller going away must not fail the others.
	shared := context.WithoutCancel(ctx)
	v, err, joined := r.group.Do(key, func() (any, error) {
		terms, err := r.terms.GetTerms(shared, tenantID, taxonomy.NamespaceRoles, tq)
		if err != nil {
			return int64(0), err
		}
		return taxonomy.SumCounts(terms), nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("roleterms: count total: %w", err)
	}
	if joined {
		r.logger.Debug("role count lookup shared", slog.String("key", key))
	}
	return v.(int64), true, nil
}
