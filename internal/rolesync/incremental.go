package rolesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/roleterms/internal/taxonomy"
	"github.com/odyssey-erp/roleterms/internal/users"
)

// Incremental re-derives each user's canonical role and writes it through
// the role hooks with replace semantics. Re-running it is idempotent. A user
// whose capability blob cannot be decoded is synced with no role.
type Incremental struct {
	users UserSource
	hooks users.Listener
	terms taxonomy.Counter
}

// NewIncremental builds the strategy.
func NewIncremental(src UserSource, hooks users.Listener, terms taxonomy.Counter) *Incremental {
	return &Incremental{users: src, hooks: hooks, terms: terms}
}

// Name implements Strategy.
func (s *Incremental) Name() string { return StrategyIncremental }

// SyncPage implements Strategy.
func (s *Incremental) SyncPage(ctx context.Context, run *Run, ids []int64) (int, error) {
	n := 0
	for _, id := range ids {
		u, err := s.users.GetUser(ctx, run.TenantID, id)
		if errors.Is(err, users.ErrUserNotFound) {
			run.Logger.Warn("user vanished during sync", slog.Int64("user_id", id))
			continue
		}
		if err != nil {
			return n, fmt.Errorf("rolesync: load user %d: %w", id, err)
		}
		if u.RolesMalformed {
			run.Logger.Warn("skipping malformed capabilities", slog.Int64("user_id", id))
		}
		role, _ := u.PrimaryRole()
		err = s.hooks.RoleReplaced(ctx, users.RoleReplaced{
			TenantID: run.TenantID,
			UserID:   id,
			Role:     role,
			OldRoles: u.Roles,
			Counting: run.Counts,
		})
		if err != nil {
			return n, err
		}
		n++
		if !u.RolesMalformed {
			run.verbosef("Synced user %d with role %s", id, role)
		}
	}
	return n, nil
}

// Finish recounts every term touched during the run.
func (s *Incremental) Finish(ctx context.Context, run *Run) error {
	return run.Counts.Flush(ctx, s.terms)
}
