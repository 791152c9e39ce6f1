package users

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/roleterms/internal/legacy"
	"github.com/odyssey-erp/roleterms/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const membershipSQL = `EXISTS (SELECT 1 FROM user_meta m WHERE m.user_id = u.id AND m.tenant_id = $1 AND m.meta_key = 'capabilities')`

// PageUserIDs returns one page of tenant member ids ordered by id.
func (r *Repository) PageUserIDs(ctx context.Context, req PageRequest) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
SELECT u.id FROM users u
WHERE `+membershipSQL+`
ORDER BY u.id
LIMIT $2 OFFSET $3`, req.TenantID, req.PageSize, req.Offset)
	if err != nil {
		return nil, fmt.Errorf("users: page ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("users: page ids: %w", err)
	}
	return ids, nil
}

// CountMembers counts the users holding a capability blob in tenantID.
func (r *Repository) CountMembers(ctx context.Context, tenantID int64) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users u WHERE `+membershipSQL, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("users: count members: %w", err)
	}
	return n, nil
}

// GetUser loads the account and its legacy attributes in tenantID.
func (r *Repository) GetUser(ctx context.Context, tenantID, id int64) (User, error) {
	var (
		u        User
		caps     *string
		levelRaw *string
	)
	err := r.pool.QueryRow(ctx, `
SELECT u.id, u.login, u.nicename, u.email, u.display_name, u.registered_at,
       (SELECT meta_value FROM user_meta WHERE user_id = u.id AND tenant_id = $2 AND meta_key = $3),
       (SELECT meta_value FROM user_meta WHERE user_id = u.id AND tenant_id = $2 AND meta_key = $4)
FROM users u
WHERE u.id = $1`, id, tenantID, legacy.KeyCapabilities, legacy.KeyUserLevel).
		Scan(&u.ID, &u.Login, &u.Nicename, &u.Email, &u.DisplayName, &u.RegisteredAt, &caps, &levelRaw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("users: get user: %w", err)
	}
	u.TenantID = tenantID
	if caps != nil {
		decoded, err := legacy.DecodeCapabilities(*caps)
		if errors.Is(err, legacy.ErrMalformed) {
			u.RolesMalformed = true
		} else {
			u.Roles = decoded.Names()
		}
	}
	if levelRaw != nil {
		if lvl, ok := legacy.ParseLevel(*levelRaw); ok {
			u.Level = &lvl
		}
	}
	return u, nil
}

// Attribute returns the raw value of key for one user; ok is false when unset.
func (r *Repository) Attribute(ctx context.Context, tenantID, userID int64, key string) (string, bool, error) {
	var value string
	err := r.pool.QueryRow(ctx, `
SELECT meta_value FROM user_meta WHERE user_id = $1 AND tenant_id = $2 AND meta_key = $3`,
		userID, tenantID, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("users: attribute %s: %w", key, err)
	}
	return value, true, nil
}

// AttributeRows returns the raw values of key for every user in userIDs
// that has one, in one query.
func (r *Repository) AttributeRows(ctx context.Context, tenantID int64, userIDs []int64, key string) ([]AttributeRow, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
SELECT user_id, meta_value FROM user_meta
WHERE tenant_id = $1 AND meta_key = $2 AND user_id = ANY($3)
ORDER BY user_id, id`, tenantID, key, userIDs)
	if err != nil {
		return nil, fmt.Errorf("users: attribute rows %s: %w", key, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (AttributeRow, error) {
		var a AttributeRow
		err := row.Scan(&a.UserID, &a.Value)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("users: attribute rows %s: %w", key, err)
	}
	return out, nil
}

// SaveAttributes writes the capability blob and the level of a user in one
// transaction. A nil level deletes the stored level.
func (r *Repository) SaveAttributes(ctx context.Context, tenantID, userID int64, capabilities string, level *int) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := upsertMeta(ctx, tx, tenantID, userID, legacy.KeyCapabilities, capabilities); err != nil {
			return err
		}
		if level == nil {
			_, err := tx.Exec(ctx, `DELETE FROM user_meta WHERE user_id = $1 AND tenant_id = $2 AND meta_key = $3`,
				userID, tenantID, legacy.KeyUserLevel)
			return err
		}
		return upsertMeta(ctx, tx, tenantID, userID, legacy.KeyUserLevel, strconv.Itoa(*level))
	})
	if err != nil {
		return fmt.Errorf("users: save attributes: %w", err)
	}
	return nil
}

func upsertMeta(ctx context.Context, tx pgx.Tx, tenantID, userID int64, key, value string) error {
	_, err := tx.Exec(ctx, `
INSERT INTO user_meta (user_id, tenant_id, meta_key, meta_value)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, tenant_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value`,
		userID, tenantID, key, value)
	return err
}

// DeleteTenantAttributes removes the user's legacy attributes in tenantID.
func (r *Repository) DeleteTenantAttributes(ctx context.Context, tenantID, userID int64) error {
	_, err := r.pool.Exec(ctx, `
DELETE FROM user_meta WHERE user_id = $1 AND tenant_id = $2 AND meta_key = ANY($3)`,
		userID, tenantID, []string{legacy.KeyCapabilities, legacy.KeyUserLevel})
	if err != nil {
		return fmt.Errorf("users: delete tenant attributes: %w", err)
	}
	return nil
}

// SelectUserIDs runs the listing rendered from qs.
func (r *Repository) SelectUserIDs(ctx context.Context, q *Query, qs *QuerySQL) ([]int64, error) {
	sql, args := qs.SelectSQL(q)
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("users: select: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var (
			id      int64
			sortKey any
		)
		if err := rows.Scan(&id, &sortKey); err != nil {
			return nil, fmt.Errorf("users: select: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("users: select: %w", err)
	}
	return ids, nil
}

// CountUserIDs counts every row the listing rendered from qs matches.
func (r *Repository) CountUserIDs(ctx context.Context, _ *Query, qs *QuerySQL) (int64, error) {
	sql, args := qs.CountSQL()
	var n int64
	if err := r.pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("users: count: %w", err)
	}
	return n, nil
}
