// Package tenant tracks which tenant scope term lookups run against.
package tenant

// Tracker holds the active tenant scope for one request or batch run.
// It is not safe for concurrent use; build one per request.
type Tracker struct {
	current int64
	depth   int
}

// NewTracker returns a tracker whose active scope is id.
func NewTracker(id int64) *Tracker {
	return &Tracker{current: id}
}

// Current returns the active tenant id.
func (t *Tracker) Current() int64 {
	if t == nil {
		return 0
	}
	return t.current
}

// Switched reports whether Enter moved away from the original scope.
func (t *Tracker) Switched() bool {
	return t != nil && t.depth > 0
}

// Enter makes id the active scope and returns a func restoring the previous
// one. Callers defer the returned func so every exit path restores the scope.
// Entering the scope that is already active is a no-op.
func (t *Tracker) Enter(id int64) (restore func()) {
	if t == nil || id == t.current {
		return func() {}
	}
	prev := t.current
	t.current = id
	t.depth++
	restored := false
	return func() {
		if restored {
			return
		}
		restored = true
		t.current = prev
		t.depth--
	}
}
