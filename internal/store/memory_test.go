package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cabb/almabatch/internal/cache"
	"github.com/cabb/almabatch/internal/record"
)

func seed(m *Memory, ids ...string) {
	for _, id := range ids {
		m.Put(id, []byte(fmt.Sprintf(bibXML, id, id, id)))
	}
}

func TestMemory_ListMembers(t *testing.T) {
	m := NewMemory()
	m.SetMembers("s", []string{"a", "b", "c"})
	ctx := context.Background()

	page, err := m.ListMembers(ctx, "s", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, MemberPage{Members: []string{"a", "b"}, Total: 3}, page)

	page, err = m.ListMembers(ctx, "s", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, page.Members)

	page, err = m.ListMembers(ctx, "s", 5, 2)
	require.NoError(t, err)
	assert.Empty(t, page.Members)

	m.SetReportedTotal("s", 10)
	page, err = m.ListMembers(ctx, "s", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 10, page.Total)

	_, err = m.ListMembers(ctx, "missing", 0, 2)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	assert.Equal(t, 5, m.Calls().ListMembers)
}

func TestMemory_FetchBatch(t *testing.T) {
	m := NewMemory()
	seed(m, "1", "2")
	ctx := context.Background()

	recs, err := m.FetchBatch(ctx, []string{"1", "x", "2"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "1", recs[0].ID)
	assert.Equal(t, "2", recs[1].ID)

	boom := errors.New("boom")
	m.FailFetch = func(call int, _ []string) error {
		if call == 2 {
			return boom
		}
		return nil
	}
	_, err = m.FetchBatch(ctx, []string{"1"})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, m.Calls().FetchBatch)
}

func TestMemory_FetchReturnsIndependentRecords(t *testing.T) {
	m := NewMemory()
	seed(m, "1")
	ctx := context.Background()

	first, err := m.FetchOne(ctx, "1")
	require.NoError(t, err)
	nodes, err := first.Occurrences(record.DC("title"))
	require.NoError(t, err)
	first.SetValue(nodes[0], "changed locally")

	second, err := m.FetchOne(ctx, "1")
	require.NoError(t, err)
	nodes, err = second.Occurrences(record.DC("title"))
	require.NoError(t, err)
	assert.Equal(t, "T1", nodes[0].Text())
}

func TestMemory_WriteOne(t *testing.T) {
	m := NewMemory()
	seed(m, "1")
	ctx := context.Background()

	rec, err := m.FetchOne(ctx, "1")
	require.NoError(t, err)
	_, err = rec.Add(record.DC("subject"), "Campus")
	require.NoError(t, err)
	require.NoError(t, m.WriteOne(ctx, "1", rec))
	assert.Equal(t, []string{"1"}, m.Writes())

	again, err := m.FetchOne(ctx, "1")
	require.NoError(t, err)
	nodes, err := again.Occurrences(record.DC("subject"))
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Campus", nodes[0].Text())

	m.FailWrite = func(string) error { return &StatusError{Op: "write", Status: http.StatusConflict} }
	err = m.WriteOne(ctx, "1", again)
	assert.Equal(t, http.StatusConflict, StatusCode(err))
	assert.Len(t, m.Writes(), 1)
}

func TestMemory_FetchOneMissing(t *testing.T) {
	m := NewMemory()
	_, err := m.FetchOne(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_CancelledContext(t *testing.T) {
	m := NewMemory()
	seed(m, "1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.FetchBatch(ctx, []string{"1"})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTransient(err))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "transport", err: errors.New("connection reset"), want: true},
		{name: "429", err: &StatusError{Status: http.StatusTooManyRequests}, want: true},
		{name: "502", err: fmt.Errorf("wrapped: %w", &StatusError{Status: http.StatusBadGateway}), want: true},
		{name: "400", err: &StatusError{Status: http.StatusBadRequest}, want: false},
		{name: "too large", err: ErrBatchTooLarge, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestCached(t *testing.T) {
	mem := NewMemory()
	seed(mem, "1", "2", "3")
	fs, err := cache.NewFileStore(t.TempDir(), true, 600)
	require.NoError(t, err)
	c := NewCached(mem, fs)
	ctx := context.Background()

	recs, err := c.FetchBatch(ctx, []string{"1", "2"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	hits, misses := c.Stats()
	assert.Equal(t, 0, hits)
	assert.Equal(t, 2, misses)

	recs, err = c.FetchBatch(ctx, []string{"3", "1", "missing", "2"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "3", recs[0].ID)
	assert.Equal(t, "1", recs[1].ID)
	assert.Equal(t, "2", recs[2].ID)
	hits, misses = c.Stats()
	assert.Equal(t, 2, hits)
	assert.Equal(t, 4, misses)
	assert.Equal(t, 2, mem.Calls().FetchBatch)

	rec, err := c.FetchOne(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 0, mem.Calls().FetchOne)

	_, err = rec.Add(record.DC("subject"), "new")
	require.NoError(t, err)
	require.NoError(t, c.WriteOne(ctx, "1", rec))

	_, err = fs.Get(cacheKey("1"))
	require.ErrorIs(t, err, cache.ErrCacheNotFound)

	fresh, err := c.FetchOne(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Calls().FetchOne)
	nodes, err := fresh.Occurrences(record.DC("subject"))
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestCached_DisabledCachePassesThrough(t *testing.T) {
	mem := NewMemory()
	seed(mem, "1")
	fs, err := cache.NewFileStore("", false, 0)
	require.NoError(t, err)
	c := NewCached(mem, fs)
	ctx := context.Background()

	for range 2 {
		recs, err := c.FetchBatch(ctx, []string{"1"})
		require.NoError(t, err)
		require.Len(t, recs, 1)
	}
	assert.Equal(t, 2, mem.Calls().FetchBatch)

	mem.SetMembers("s", []string{"1"})
	page, err := c.ListMembers(ctx, "s", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestCached_RefreshingReadsThrough(t *testing.T) {
	mem := NewMemory()
	seed(mem, "1")
	fs, err := cache.NewFileStore(t.TempDir(), true, 600)
	require.NoError(t, err)
	c := NewCached(mem, fs)
	ctx := context.Background()

	_, err = c.FetchBatch(ctx, []string{"1"})
	require.NoError(t, err)

	// The catalog changes after the cache was filled.
	current, err := mem.FetchOne(ctx, "1")
	require.NoError(t, err)
	_, err = current.Add(record.DC("subject"), "added later")
	require.NoError(t, err)
	require.NoError(t, mem.WriteOne(ctx, "1", current))

	stale, err := c.FetchBatch(ctx, []string{"1"})
	require.NoError(t, err)
	nodes, err := stale[0].Occurrences(record.DC("subject"))
	require.NoError(t, err)
	assert.Empty(t, nodes, "plain reads are served from the cache")

	rw := c.Refreshing()
	for _, fetch := range []func() (*record.Record, error){
		func() (*record.Record, error) {
			recs, err := rw.FetchBatch(ctx, []string{"1"})
			if err != nil {
				return nil, err
			}
			require.Len(t, recs, 1)
			return recs[0], nil
		},
		func() (*record.Record, error) { return rw.FetchOne(ctx, "1") },
	} {
		rec, err := fetch()
		require.NoError(t, err)
		nodes, err := rec.Occurrences(record.DC("subject"))
		require.NoError(t, err)
		assert.Len(t, nodes, 1)
	}

	// The refreshed copy replaced the stale one.
	again, err := c.FetchBatch(ctx, []string{"1"})
	require.NoError(t, err)
	nodes, err = again[0].Occurrences(record.DC("subject"))
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestCached_FailedFetchCountsNothing(t *testing.T) {
	mem := NewMemory()
	seed(mem, "1", "2")
	fs, err := cache.NewFileStore(t.TempDir(), true, 600)
	require.NoError(t, err)
	c := NewCached(mem, fs)
	ctx := context.Background()

	mem.FailFetch = func(int, []string) error { return &StatusError{Op: "fetch", Status: http.StatusServiceUnavailable} }
	for range 3 {
		_, err := c.FetchBatch(ctx, []string{"1", "2"})
		require.Error(t, err)
		_, err = c.FetchOne(ctx, "9")
		require.Error(t, err)
	}
	hits, misses := c.Stats()
	assert.Zero(t, hits)
	assert.Zero(t, misses)

	mem.FailFetch = nil
	_, err = c.FetchBatch(ctx, []string{"1", "2"})
	require.NoError(t, err)
	_, misses = c.Stats()
	assert.Equal(t, 2, misses)
}
