package rolesync

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/roleterms/internal/users"
)

// ErrExhausted signals that the cursor has no further pages. It is the
// normal end of a run.
var ErrExhausted = errors.New("rolesync: source exhausted")

// UserPager lists tenant member ids in id order.
type UserPager interface {
	PageUserIDs(ctx context.Context, req users.PageRequest) ([]int64, error)
}

// PageResetter drops process-local caches between pages.
type PageResetter interface {
	ResetLocal()
}

// CursorConfig positions a cursor.
type CursorConfig struct {
	TenantID int64
	PageSize int
	Offset   int
	// Limit caps the number of processed users; zero means unlimited.
	Limit int
}

// Cursor walks the user source page by page. It is not restartable.
type Cursor struct {
	src       UserPager
	cfg       CursorConfig
	resetter  PageResetter
	pages     int
	processed int
	done      bool
}

// NewCursor builds a cursor. resetter may be nil.
func NewCursor(src UserPager, cfg CursorConfig, resetter PageResetter) *Cursor {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultBatchSize
	}
	return &Cursor{src: src, cfg: cfg, resetter: resetter}
}

// Next fetches the next page. It returns ErrExhausted once the previous page
// was short or the limit has been reached, without querying the source.
func (c *Cursor) Next(ctx context.Context) ([]int64, error) {
	if c.done || c.limitReached() {
		c.done = true
		return nil, ErrExhausted
	}
	if c.pages > 0 && c.resetter != nil {
		c.resetter.ResetLocal()
	}
	ids, err := c.src.PageUserIDs(ctx, users.PageRequest{
		TenantID: c.cfg.TenantID,
		PageSize: c.cfg.PageSize,
		Offset:   c.cfg.Offset + c.pages*c.cfg.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("rolesync: fetch page %d: %w", c.pages+1, err)
	}
	c.pages++
	if len(ids) < c.cfg.PageSize {
		c.done = true
	}
	if len(ids) == 0 {
		return nil, ErrExhausted
	}
	return ids, nil
}

func (c *Cursor) limitReached() bool {
	return c.cfg.Limit > 0 && c.processed >= c.cfg.Limit
}

// Record adds n processed users.
func (c *Cursor) Record(n int) {
	c.processed += n
}

// Remaining returns how many users may still be processed; limited is false
// when the cursor has no limit.
func (c *Cursor) Remaining() (n int, limited bool) {
	if c.cfg.Limit <= 0 {
		return 0, false
	}
	if rem := c.cfg.Limit - c.processed; rem > 0 {
		return rem, true
	}
	return 0, true
}

// Processed returns the number of users recorded so far.
func (c *Cursor) Processed() int { return c.processed }

// Pages returns the number of pages fetched from the source.
func (c *Cursor) Pages() int { return c.pages }
