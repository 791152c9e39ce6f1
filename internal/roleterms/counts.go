package roleterms

import (
	"context"
	"fmt"
	"strconv"

	"github.com/odyssey-erp/roleterms/internal/taxonomy"
)

// RoleCount is the number of users holding one role.
type RoleCount struct {
	Role  string `json:"role"`
	Users int64  `json:"users"`
}

// UserCounts summarises tenant membership by role.
type UserCounts struct {
	TenantID   int64       `json:"tenant_id"`
	AvailRoles []RoleCount `json:"avail_roles"`
	TotalUsers int64       `json:"total_users"`
}

// CountUsers reads per role user counts from the roles taxonomy of tenantID.
// Users holding several roles are counted once per role.
func (r *Rewriter) CountUsers(ctx context.Context, tenantID int64) (UserCounts, error) {
	tr := r.tracker(ctx)
	restore := tr.Enter(tenantID)
	defer restore()
	scope := tr.Current()

	shared := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do("count_users|"+strconv.FormatInt(scope, 10), func() (any, error) {
		return r.terms.GetTerms(shared, scope, taxonomy.NamespaceRoles, taxonomy.TermQuery{HideEmpty: true})
	})
	if err != nil {
		return UserCounts{}, fmt.Errorf("roleterms: count users: %w", err)
	}
	terms := v.([]taxonomy.Term)

	out := UserCounts{TenantID: scope, AvailRoles: make([]RoleCount, 0, len(terms))}
	for _, t := range terms {
		out.AvailRoles = append(out.AvailRoles, RoleCount{Role: t.Slug, Users: t.Count})
	}
	out.TotalUsers = taxonomy.SumCounts(terms)
	return out, nil
}
