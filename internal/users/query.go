package users

import (
	"context"

	"github.com/odyssey-erp/roleterms/internal/taxonomy"
)

// WhoAuthors limits a query to users whose level is above zero.
const WhoAuthors = "authors"

// Query describes a user listing. Zero values mean "no constraint".
type Query struct {
	TenantID  int64    `validate:"gte=0"`
	Role      string   `validate:"omitempty,max=64"`
	RoleIn    []string `validate:"omitempty,dive,max=64"`
	RoleNotIn []string `validate:"omitempty,dive,max=64"`
	Who       string   `validate:"omitempty,oneof=authors"`

	Search            string  `validate:"omitempty,max=200"`
	Include           []int64 `validate:"omitempty,dive,gt=0"`
	Exclude           []int64 `validate:"omitempty,dive,gt=0"`
	MetaKey           string  `validate:"omitempty,max=255"`
	MetaValue         string
	HasPublishedPosts bool
	Nicename          string
	NicenameIn        []string
	NicenameNotIn     []string
	Login             string
	LoginIn           []string
	LoginNotIn        []string

	OrderBy string `validate:"omitempty,oneof=id login nicename email display_name registered_at"`
	Order   string `validate:"omitempty,oneof=ASC DESC asc desc"`
	Number  int    `validate:"gte=0,lte=1000"`
	Offset  int    `validate:"gte=0"`

	// Set by query hooks.
	Shadow      *Shadow
	TermClauses []taxonomy.Clause
	SkipCount   bool
}

// Shadow keeps the role parameters a hook took over from the live query.
type Shadow struct {
	TenantID  int64
	Role      string
	RoleIn    []string
	RoleNotIn []string
	Who       string
}

// QueryHooks let another component take over parts of a listing. The
// service calls PrepareQuery before building SQL, BuildClauses after the
// default clauses are built, and CountTotal when SkipCount is set.
type QueryHooks interface {
	PrepareQuery(ctx context.Context, q *Query) error
	BuildClauses(ctx context.Context, q *Query, qs *QuerySQL) error
	// CountTotal reports the total row count; ok is false when the hook
	// cannot answer and the store must count.
	CountTotal(ctx context.Context, q *Query) (total int64, ok bool, err error)
}

// Result is one page of a listing.
type Result struct {
	Users []User `json:"users"`
	Total int64  `json:"total"`
}
