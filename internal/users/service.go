package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/odyssey-erp/roleterms/internal/legacy"
)

const cacheGroup = "users"

// ErrRoleRequired is returned when a role operation names no role.
var ErrRoleRequired = errors.New("users: role required")

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	PageUserIDs(ctx context.Context, req PageRequest) ([]int64, error)
	CountMembers(ctx context.Context, tenantID int64) (int64, error)
	GetUser(ctx context.Context, tenantID, id int64) (User, error)
	Attribute(ctx context.Context, tenantID, userID int64, key string) (string, bool, error)
	AttributeRows(ctx context.Context, tenantID int64, userIDs []int64, key string) ([]AttributeRow, error)
	SaveAttributes(ctx context.Context, tenantID, userID int64, capabilities string, level *int) error
	DeleteTenantAttributes(ctx context.Context, tenantID, userID int64) error
	SelectUserIDs(ctx context.Context, q *Query, qs *QuerySQL) ([]int64, error)
	CountUserIDs(ctx context.Context, q *Query, qs *QuerySQL) (int64, error)
}

// ObjectCache caches user records.
type ObjectCache interface {
	FetchJSON(ctx context.Context, group, key string, dest any, loader func(context.Context) (any, error)) error
	Delete(ctx context.Context, group, key string) error
}

// LevelResolver derives the numeric user level from role names.
type LevelResolver interface {
	LevelFor(names ...string) (int, bool)
}

// Service is the user store and the normal role write path.
type Service struct {
	repo      RepositoryPort
	cache     ObjectCache
	levels    LevelResolver
	logger    *slog.Logger
	listeners []Listener
	hooks     QueryHooks
}

// NewService builds Service instance. cache may be nil.
func NewService(repo RepositoryPort, cache ObjectCache, levels LevelResolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, levels: levels, logger: logger}
}

// Subscribe registers l for role change events.
func (s *Service) Subscribe(l Listener) {
	s.listeners = append(s.listeners, l)
}

// UseQueryHooks installs hooks consulted by ListUsers.
func (s *Service) UseQueryHooks(h QueryHooks) {
	s.hooks = h
}

func cacheKey(tenantID, userID int64) string {
	return strconv.FormatInt(tenantID, 10) + ":" + strconv.FormatInt(userID, 10)
}

// GetUser returns the user as seen from tenantID, reading through the cache.
func (s *Service) GetUser(ctx context.Context, tenantID, id int64) (User, error) {
	if s.cache == nil {
		return s.repo.GetUser(ctx, tenantID, id)
	}
	var u User
	err := s.cache.FetchJSON(ctx, cacheGroup, cacheKey(tenantID, id), &u, func(ctx context.Context) (any, error) {
		return s.repo.GetUser(ctx, tenantID, id)
	})
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// PageUserIDs returns one page of tenant member ids.
func (s *Service) PageUserIDs(ctx context.Context, req PageRequest) ([]int64, error) {
	return s.repo.PageUserIDs(ctx, req)
}

// CountMembers counts the members of tenantID.
func (s *Service) CountMembers(ctx context.Context, tenantID int64) (int64, error) {
	return s.repo.CountMembers(ctx, tenantID)
}

// AttributeRows returns raw attribute values for a page of users.
func (s *Service) AttributeRows(ctx context.Context, tenantID int64, userIDs []int64, key string) ([]AttributeRow, error) {
	return s.repo.AttributeRows(ctx, tenantID, userIDs, key)
}

// ListUsers runs q through the installed query hooks and the store.
func (s *Service) ListUsers(ctx context.Context, q Query) (Result, error) {
	if s.hooks != nil {
		if err := s.hooks.PrepareQuery(ctx, &q); err != nil {
			return Result{}, fmt.Errorf("users: prepare query: %w", err)
		}
	}
	qs := BuildQuerySQL(&q)
	if s.hooks != nil {
		if err := s.hooks.BuildClauses(ctx, &q, qs); err != nil {
			return Result{}, fmt.Errorf("users: build clauses: %w", err)
		}
	}

	ids, err := s.repo.SelectUserIDs(ctx, &q, qs)
	if err != nil {
		return Result{}, err
	}
	tenantID := q.TenantID
	if q.Shadow != nil {
		tenantID = q.Shadow.TenantID
	}
	list := make([]User, 0, len(ids))
	for _, id := range ids {
		u, err := s.GetUser(ctx, tenantID, id)
		if err != nil {
			return Result{}, err
		}
		list = append(list, u)
	}

	total, err := s.total(ctx, &q, qs)
	if err != nil {
		return Result{}, err
	}
	return Result{Users: list, Total: total}, nil
}

func (s *Service) total(ctx context.Context, q *Query, qs *QuerySQL) (int64, error) {
	if q.SkipCount && s.hooks != nil {
		total, ok, err := s.hooks.CountTotal(ctx, q)
		if err != nil {
			return 0, fmt.Errorf("users: count total: %w", err)
		}
		if ok {
			return total, nil
		}
	}
	return s.repo.CountUserIDs(ctx, q, qs)
}

func (s *Service) capabilities(ctx context.Context, tenantID, userID int64) (legacy.Capabilities, error) {
	raw, _, err := s.repo.Attribute(ctx, tenantID, userID, legacy.KeyCapabilities)
	if err != nil {
		return legacy.Capabilities{}, err
	}
	caps, err := legacy.DecodeCapabilities(raw)
	if err != nil {
		return legacy.Capabilities{}, fmt.Errorf("users: user %d: %w", userID, err)
	}
	return caps, nil
}

func (s *Service) persist(ctx context.Context, tenantID, userID int64, caps legacy.Capabilities) error {
	var level *int
	if s.levels != nil {
		if lvl, ok := s.levels.LevelFor(caps.Granted()...); ok {
			level = &lvl
		}
	}
	if err := s.repo.SaveAttributes(ctx, tenantID, userID, caps.Encode(), level); err != nil {
		return err
	}
	return s.invalidate(ctx, tenantID, userID)
}

func (s *Service) invalidate(ctx context.Context, tenantID, userID int64) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Delete(ctx, cacheGroup, cacheKey(tenantID, userID)); err != nil {
		return fmt.Errorf("users: invalidate %d: %w", userID, err)
	}
	return nil
}

// SetRole replaces every role of the user with role. An empty role leaves
// the user without a role but still a member of the tenant.
func (s *Service) SetRole(ctx context.Context, tenantID, userID int64, role string) error {
	role = strings.TrimSpace(role)
	caps, err := s.capabilities(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	old := caps.Names()
	if len(old) == 1 && old[0] == role {
		return nil
	}
	next := legacy.NewCapabilities()
	if role != "" {
		next = legacy.NewCapabilities(role)
	}
	if err := s.persist(ctx, tenantID, userID, next); err != nil {
		return err
	}
	s.logger.Debug("role replaced", slog.Int64("tenant_id", tenantID), slog.Int64("user_id", userID), slog.String("role", role))
	return s.dispatch(func(l Listener) error {
		return l.RoleReplaced(ctx, RoleReplaced{TenantID: tenantID, UserID: userID, Role: role, OldRoles: old})
	})
}

// AddRole grants role in addition to the user's existing roles.
func (s *Service) AddRole(ctx context.Context, tenantID, userID int64, role string) error {
	role = strings.TrimSpace(role)
	if role == "" {
		return ErrRoleRequired
	}
	caps, err := s.capabilities(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if err := s.persist(ctx, tenantID, userID, caps.With(role)); err != nil {
		return err
	}
	return s.dispatch(func(l Listener) error {
		return l.RoleAdded(ctx, RoleAdded{TenantID: tenantID, UserID: userID, Role: role})
	})
}

// RemoveRole revokes role. Removing a role the user does not hold is a no-op.
func (s *Service) RemoveRole(ctx context.Context, tenantID, userID int64, role string) error {
	role = strings.TrimSpace(role)
	if role == "" {
		return ErrRoleRequired
	}
	caps, err := s.capabilities(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	next := caps.Without(role)
	if next.Len() == caps.Len() {
		return nil
	}
	if err := s.persist(ctx, tenantID, userID, next); err != nil {
		return err
	}
	return s.dispatch(func(l Listener) error {
		return l.RoleRemoved(ctx, RoleRemoved{TenantID: tenantID, UserID: userID, Role: role})
	})
}

// RemoveFromTenant drops the user's membership of tenantID.
func (s *Service) RemoveFromTenant(ctx context.Context, tenantID, userID int64) error {
	if err := s.repo.DeleteTenantAttributes(ctx, tenantID, userID); err != nil {
		return err
	}
	if err := s.invalidate(ctx, tenantID, userID); err != nil {
		return err
	}
	return s.dispatch(func(l Listener) error {
		return l.UserRemovedFromTenant(ctx, UserRemovedFromTenant{TenantID: tenantID, UserID: userID})
	})
}

func (s *Service) dispatch(call func(Listener) error) error {
	for _, l := range s.listeners {
		if err := call(l); err != nil {
			return fmt.Errorf("users: listener: %w", err)
		}
	}
	return nil
}
