package taxonomy

import (
	"context"
	"fmt"
	"sort"
)

// Counter recomputes the assignment counts of terms.
type Counter interface {
	RecomputeCounts(ctx context.Context, tenantID int64, termIDs []int64, namespace string) error
}

// WriteOptions carries per-call write behaviour into the store.
type WriteOptions struct {
	// Counting collects touched terms instead of recounting them on every
	// write. The owner must Flush it before returning. Nil recounts at once.
	Counting *DeferredCounts
}

// Settle either records ids for a deferred recount or recounts them now.
func (o WriteOptions) Settle(ctx context.Context, c Counter, tenantID int64, namespace string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if o.Counting != nil {
		o.Counting.Add(tenantID, namespace, ids...)
		return nil
	}
	return c.RecomputeCounts(ctx, tenantID, ids, namespace)
}

type countScope struct {
	tenantID  int64
	namespace string
}

// DeferredCounts accumulates terms whose counts are stale.
type DeferredCounts struct {
	pending map[countScope]map[int64]struct{}
}

// NewDeferredCounts returns an empty accumulator.
func NewDeferredCounts() *DeferredCounts {
	return &DeferredCounts{pending: make(map[countScope]map[int64]struct{})}
}

// Add marks ids as needing a recount.
func (d *DeferredCounts) Add(tenantID int64, namespace string, ids ...int64) {
	key := countScope{tenantID: tenantID, namespace: namespace}
	set, ok := d.pending[key]
	if !ok {
		set = make(map[int64]struct{}, len(ids))
		d.pending[key] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

// Len returns the number of pending terms.
func (d *DeferredCounts) Len() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, set := range d.pending {
		n += len(set)
	}
	return n
}

// Flush recounts every pending term and clears the accumulator. Scopes that
// fail stay pending so a later Flush can retry them.
func (d *DeferredCounts) Flush(ctx context.Context, c Counter) error {
	if d == nil {
		return nil
	}
	keys := make([]countScope, 0, len(d.pending))
	for key := range d.pending {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].tenantID != keys[j].tenantID {
			return keys[i].tenantID < keys[j].tenantID
		}
		return keys[i].namespace < keys[j].namespace
	})
	for _, key := range keys {
		set := d.pending[key]
		ids := make([]int64, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		if err := c.RecomputeCounts(ctx, key.tenantID, ids, key.namespace); err != nil {
			return fmt.Errorf("taxonomy: flush counts %s: %w", key.namespace, err)
		}
		delete(d.pending, key)
	}
	return nil
}
