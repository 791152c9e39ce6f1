package rolesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/roleterms/internal/legacy"
	"github.com/odyssey-erp/roleterms/internal/taxonomy"
)

// FastBulk reads raw attribute rows for a whole page and appends the derived
// assignments with one insert per page. It bypasses the role hooks, so
// running it twice duplicates assignment rows.
type FastBulk struct {
	users UserSource
	terms taxonomy.Store
	cache ObjectCache
}

// NewFastBulk builds the strategy. cache may be nil.
func NewFastBulk(src UserSource, terms taxonomy.Store, cache ObjectCache) *FastBulk {
	return &FastBulk{users: src, terms: terms, cache: cache}
}

// Name implements Strategy.
func (s *FastBulk) Name() string { return StrategyFastBulk }

// SyncPage implements Strategy. A failed insert is logged and counted; the
// page still counts as processed.
func (s *FastBulk) SyncPage(ctx context.Context, run *Run, ids []int64) (int, error) {
	caps, err := s.users.AttributeRows(ctx, run.TenantID, ids, legacy.KeyCapabilities)
	if err != nil {
		return 0, err
	}
	levels, err := s.users.AttributeRows(ctx, run.TenantID, ids, legacy.KeyUserLevel)
	if err != nil {
		return 0, err
	}

	rows := make([]taxonomy.Assignment, 0, len(caps)+len(levels))
	for _, row := range caps {
		role, ok, err := legacy.CanonicalRole(row.Value)
		if err != nil {
			run.Logger.Warn("skipping malformed capabilities", slog.Int64("user_id", row.UserID), slog.Any("error", err))
			continue
		}
		if ok {
			termID, err := run.Resolver.Resolve(ctx, taxonomy.NamespaceRoles, role)
			if err != nil {
				return 0, err
			}
			rows = append(rows, taxonomy.Assignment{ObjectID: row.UserID, TermID: termID})
		}
		run.verbosef("Synced user %d with role %s", row.UserID, role)
	}
	for _, row := range levels {
		label, ok := legacy.LevelLabelFromRaw(row.Value)
		if !ok {
			continue
		}
		termID, err := run.Resolver.Resolve(ctx, taxonomy.NamespaceLevels, label)
		if err != nil {
			return 0, err
		}
		rows = append(rows, taxonomy.Assignment{ObjectID: row.UserID, TermID: termID})
	}

	if len(rows) > 0 {
		if err := s.terms.InsertAssignments(ctx, rows); err != nil {
			run.InsertFailures++
			run.Logger.Error(fmt.Sprintf("Could not run insert query. %v", err), slog.Int("rows", len(rows)))
			run.verbosef("Could not run insert query. %v", err)
		}
	}
	return len(ids), nil
}

// Finish drops every cached object, since the inserts bypassed cache
// invalidation, and recounts both namespaces in full.
func (s *FastBulk) Finish(ctx context.Context, run *Run) error {
	var errs []error
	if s.cache != nil {
		if err := s.cache.FlushAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush cache: %w", err))
		}
	}
	for _, ns := range []string{taxonomy.NamespaceRoles, taxonomy.NamespaceLevels} {
		terms, err := s.terms.GetTerms(ctx, run.TenantID, ns, taxonomy.TermQuery{})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ids := make([]int64, len(terms))
		for i, t := range terms {
			ids[i] = t.ID
		}
		if err := s.terms.RecomputeCounts(ctx, run.TenantID, ids, ns); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
