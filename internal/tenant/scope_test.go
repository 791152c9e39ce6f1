package tenant

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnterRestoresPreviousScope(t *testing.T) {
	tr := NewTracker(1)
	restore := tr.Enter(2)
	require.Equal(t, int64(2), tr.Current())
	require.True(t, tr.Switched())
	restore()
	require.Equal(t, int64(1), tr.Current())
	require.False(t, tr.Switched())

	// Second call must not clobber a later switch.
	restore()
	require.Equal(t, int64(1), tr.Current())
}

func TestEnterSameScopeIsNoop(t *testing.T) {
	tr := NewTracker(3)
	restore := tr.Enter(3)
	require.False(t, tr.Switched())
	restore()
	require.Equal(t, int64(3), tr.Current())
}

func TestEnterRestoresOnErrorPath(t *testing.T) {
	tr := NewTracker(1)
	errBoom := errors.New("boom")
	lookup := func() error {
		defer tr.Enter(9)()
		if tr.Current() != 9 {
			t.Fatalf("expected scope 9, got %d", tr.Current())
		}
		return errBoom
	}
	require.ErrorIs(t, lookup(), errBoom)
	require.Equal(t, int64(1), tr.Current())
}

func TestNestedEnter(t *testing.T) {
	tr := NewTracker(1)
	outer := tr.Enter(2)
	inner := tr.Enter(3)
	require.Equal(t, int64(3), tr.Current())
	inner()
	require.Equal(t, int64(2), tr.Current())
	outer()
	require.Equal(t, int64(1), tr.Current())
}
