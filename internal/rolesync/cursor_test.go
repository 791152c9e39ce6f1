package rolesync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/roleterms/internal/users"
)

type stubPager struct {
	ids      []int64
	requests []users.PageRequest
	err      error
}

func (s *stubPager) PageUserIDs(_ context.Context, req users.PageRequest) ([]int64, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if req.Offset >= len(s.ids) {
		return nil, nil
	}
	end := req.Offset + req.PageSize
	if end > len(s.ids) {
		end = len(s.ids)
	}
	return s.ids[req.Offset:end], nil
}

type countingResetter struct{ resets int }

func (c *countingResetter) ResetLocal() { c.resets++ }

func TestCursorStopsAfterShortPage(t *testing.T) {
	pager := &stubPager{ids: []int64{1, 2, 3, 4, 5}}
	resetter := &countingResetter{}
	c := NewCursor(pager, CursorConfig{TenantID: 1, PageSize: 2}, resetter)
	ctx := context.Background()

	var got [][]int64
	for {
		ids, err := c.Next(ctx)
		if errors.Is(err, ErrExhausted) {
			break
		}
		require.NoError(t, err)
		got = append(got, ids)
		c.Record(len(ids))
	}
	require.Equal(t, [][]int64{{1, 2}, {3, 4}, {5}}, got)
	require.Len(t, pager.requests, 3)
	require.Equal(t, 3, c.Pages())
	require.Equal(t, 5, c.Processed())
	require.Equal(t, 2, resetter.resets)
}

func TestCursorPagesFromOffset(t *testing.T) {
	pager := &stubPager{ids: []int64{1, 2, 3, 4, 5, 6, 7}}
	c := NewCursor(pager, CursorConfig{PageSize: 2, Offset: 3}, nil)
	ctx := context.Background()

	first, err := c.Next(ctx)
	require.NoError(t, err)
	second, err := c.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{4, 5}, first)
	require.Equal(t, []int64{6, 7}, second)
	require.Equal(t, 3, pager.requests[0].Offset)
	require.Equal(t, 5, pager.requests[1].Offset)
}

func TestCursorEmptyExactPageEndsRun(t *testing.T) {
	pager := &stubPager{ids: []int64{1, 2}}
	c := NewCursor(pager, CursorConfig{PageSize: 2}, nil)
	ctx := context.Background()

	_, err := c.Next(ctx)
	require.NoError(t, err)
	_, err = c.Next(ctx)
	require.ErrorIs(t, err, ErrExhausted)
	require.Len(t, pager.requests, 2)
}

func TestCursorLimitStopsWithoutFetching(t *testing.T) {
	pager := &stubPager{ids: []int64{1, 2, 3, 4, 5, 6, 7, 8}}
	c := NewCursor(pager, CursorConfig{PageSize: 2, Limit: 3}, nil)
	ctx := context.Background()

	ids, err := c.Next(ctx)
	require.NoError(t, err)
	c.Record(len(ids))
	rem, limited := c.Remaining()
	require.True(t, limited)
	require.Equal(t, 1, rem)

	ids, err = c.Next(ctx)
	require.NoError(t, err)
	c.Record(len(ids[:rem]))

	_, err = c.Next(ctx)
	require.ErrorIs(t, err, ErrExhausted)
	require.Len(t, pager.requests, 2)
}

func TestCursorUnlimited(t *testing.T) {
	c := NewCursor(&stubPager{}, CursorConfig{}, nil)
	_, limited := c.Remaining()
	require.False(t, limited)
}

func TestCursorWrapsSourceErrors(t *testing.T) {
	boom := errors.New("connection refused")
	c := NewCursor(&stubPager{err: boom}, CursorConfig{PageSize: 2}, nil)
	_, err := c.Next(context.Background())
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrExhausted)
}
