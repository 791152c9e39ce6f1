package taxonomy

// Clause operators.
const (
	OpIn        = "IN"
	OpNotIn     = "NOT IN"
	OpExists    = "EXISTS"
	OpNotExists = "NOT EXISTS"
)

// Clause filters objects by their assignments in one namespace. Clauses of a
// query are combined with AND.
type Clause struct {
	Namespace string
	Operator  string
	Labels    []string

	// Set once the labels were resolved in TenantID's scope. Labels without
	// a term are dropped from TermIDs.
	TenantID int64
	TermIDs  []int64
	Resolved bool
}

// Match reports whether an object whose assignments in the clause namespace
// are assigned satisfies a resolved clause.
func (c Clause) Match(assigned map[int64]struct{}) bool {
	switch c.Operator {
	case OpExists:
		return len(assigned) > 0
	case OpNotExists:
		return len(assigned) == 0
	case OpNotIn:
		for _, id := range c.TermIDs {
			if _, ok := assigned[id]; ok {
				return false
			}
		}
		return true
	default:
		for _, id := range c.TermIDs {
			if _, ok := assigned[id]; ok {
				return true
			}
		}
		return false
	}
}
