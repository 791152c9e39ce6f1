package users

import (
	"fmt"
	"strings"

	"github.com/odyssey-erp/roleterms/internal/legacy"
)

var orderColumns = map[string]string{
	"id":            "u.id",
	"login":         "u.login",
	"nicename":      "u.nicename",
	"email":         "u.email",
	"display_name":  "u.display_name",
	"registered_at": "u.registered_at",
}

// QuerySQL accumulates the FROM and WHERE fragments of a user listing.
// Fragments reference the users table as u and bind values through Arg.
type QuerySQL struct {
	From  []string
	Where []string
	args  []any
}

// Arg binds v and returns its placeholder.
func (qs *QuerySQL) Arg(v any) string {
	qs.args = append(qs.args, v)
	return fmt.Sprintf("$%d", len(qs.args))
}

// Args returns the bound values in placeholder order.
func (qs *QuerySQL) Args() []any {
	return qs.args
}

func (qs *QuerySQL) body() string {
	var b strings.Builder
	b.WriteString("FROM users u")
	for _, from := range qs.From {
		b.WriteString(" ")
		b.WriteString(from)
	}
	if len(qs.Where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(qs.Where, " AND "))
	}
	return b.String()
}

// SelectSQL renders the id listing for q.
func (qs *QuerySQL) SelectSQL(q *Query) (string, []any) {
	column, ok := orderColumns[q.OrderBy]
	if !ok {
		column = "u.id"
	}
	dir := "ASC"
	if strings.EqualFold(q.Order, "DESC") {
		dir = "DESC"
	}
	args := append([]any(nil), qs.args...)
	sql := "SELECT DISTINCT u.id, " + column + " " + qs.body() + " ORDER BY " + column + " " + dir
	if column != "u.id" {
		sql += ", u.id " + dir
	}
	if q.Number > 0 {
		args = append(args, q.Number)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return sql, args
}

// CountSQL renders the total row count for the same fragments.
func (qs *QuerySQL) CountSQL() (string, []any) {
	return "SELECT COUNT(DISTINCT u.id) " + qs.body(), qs.args
}

// BuildQuerySQL translates the live parameters of q. Role parameters are
// matched against the serialized capability blob, which is what the legacy
// store supports; a query hook may clear them first to filter differently.
func BuildQuerySQL(q *Query) *QuerySQL {
	qs := &QuerySQL{}

	if q.TenantID != 0 || q.Role != "" || len(q.RoleIn) > 0 || len(q.RoleNotIn) > 0 {
		conds := []string{"m.user_id = u.id", "m.meta_key = " + qs.Arg(legacy.KeyCapabilities)}
		if q.TenantID != 0 {
			conds = append(conds, "m.tenant_id = "+qs.Arg(q.TenantID))
		}
		if q.Role != "" {
			conds = append(conds, "m.meta_value LIKE "+qs.Arg(rolePattern(q.Role)))
		}
		if len(q.RoleIn) > 0 {
			ors := make([]string, len(q.RoleIn))
			for i, role := range q.RoleIn {
				ors[i] = "m.meta_value LIKE " + qs.Arg(rolePattern(role))
			}
			conds = append(conds, "("+strings.Join(ors, " OR ")+")")
		}
		for _, role := range q.RoleNotIn {
			conds = append(conds, "m.meta_value NOT LIKE "+qs.Arg(rolePattern(role)))
		}
		qs.Where = append(qs.Where, "EXISTS (SELECT 1 FROM user_meta m WHERE "+strings.Join(conds, " AND ")+")")
	}

	if q.Who == WhoAuthors {
		conds := []string{"l.user_id = u.id", "l.meta_key = " + qs.Arg(legacy.KeyUserLevel), "l.meta_value <> '0'"}
		if q.TenantID != 0 {
			conds = append(conds, "l.tenant_id = "+qs.Arg(q.TenantID))
		}
		qs.Where = append(qs.Where, "EXISTS (SELECT 1 FROM user_meta l WHERE "+strings.Join(conds, " AND ")+")")
	}

	if len(q.Include) > 0 {
		qs.Where = append(qs.Where, "u.id = ANY("+qs.Arg(q.Include)+")")
	}
	if len(q.Exclude) > 0 {
		qs.Where = append(qs.Where, "NOT (u.id = ANY("+qs.Arg(q.Exclude)+"))")
	}

	if q.MetaKey != "" {
		cond := "mk.user_id = u.id AND mk.meta_key = " + qs.Arg(q.MetaKey)
		if q.MetaValue != "" {
			cond += " AND mk.meta_value = " + qs.Arg(q.MetaValue)
		}
		qs.Where = append(qs.Where, "EXISTS (SELECT 1 FROM user_meta mk WHERE "+cond+")")
	}

	if q.Search != "" {
		pattern := searchPattern(q.Search)
		columns := []string{"u.login", "u.nicename", "u.display_name", "u.email"}
		if strings.Contains(q.Search, "@") {
			columns = []string{"u.email"}
		}
		placeholder := qs.Arg(pattern)
		ors := make([]string, len(columns))
		for i, col := range columns {
			ors[i] = col + " ILIKE " + placeholder
		}
		qs.Where = append(qs.Where, "("+strings.Join(ors, " OR ")+")")
	}

	if q.HasPublishedPosts {
		AddPublishedPostsClause(qs, q.TenantID)
	}

	addStringFilter(qs, "u.nicename", q.Nicename, q.NicenameIn, q.NicenameNotIn)
	addStringFilter(qs, "u.login", q.Login, q.LoginIn, q.LoginNotIn)

	return qs
}

// AddPublishedPostsClause limits qs to authors of at least one published
// post. A zero tenantID matches posts of any tenant.
func AddPublishedPostsClause(qs *QuerySQL, tenantID int64) {
	cond := "p.author_id = u.id AND p.status = 'publish'"
	if tenantID != 0 {
		cond += " AND p.tenant_id = " + qs.Arg(tenantID)
	}
	qs.Where = append(qs.Where, "EXISTS (SELECT 1 FROM posts p WHERE "+cond+")")
}

func addStringFilter(qs *QuerySQL, column, eq string, in, notIn []string) {
	if eq != "" {
		qs.Where = append(qs.Where, column+" = "+qs.Arg(eq))
	}
	if len(in) > 0 {
		qs.Where = append(qs.Where, column+" = ANY("+qs.Arg(in)+")")
	}
	if len(notIn) > 0 {
		qs.Where = append(qs.Where, "NOT ("+column+" = ANY("+qs.Arg(notIn)+"))")
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// rolePattern matches a role key inside either blob encoding; both quote keys.
func rolePattern(role string) string {
	return `%"` + likeEscaper.Replace(role) + `"%`
}

// searchPattern honours leading and trailing * wildcards; without any the
// term must match a column exactly.
func searchPattern(search string) string {
	leading := strings.HasPrefix(search, "*")
	trailing := strings.HasSuffix(search, "*")
	term := likeEscaper.Replace(strings.Trim(search, "*"))
	if leading {
		term = "%" + term
	}
	if trailing {
		term += "%"
	}
	return term
}
