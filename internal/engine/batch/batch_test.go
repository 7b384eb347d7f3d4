package batch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cabb/almabatch/internal/store"
)

const bibXML = `<bib><mms_id>%s</mms_id><title>T</title></bib>`

func makeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("99%04d", i)
	}
	return ids
}

func seeded(ids ...string) *store.Memory {
	m := store.NewMemory()
	for _, id := range ids {
		m.Put(id, []byte(fmt.Sprintf(bibXML, id)))
	}
	return m
}

type recordedSleep struct {
	waits []time.Duration
}

func (r *recordedSleep) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func TestCalculateBatches(t *testing.T) {
	batches := CalculateBatches(25, 10)
	require.Len(t, batches, 3)
	assert.Equal(t, [2]int{0, 10}, batches[0])
	assert.Equal(t, [2]int{10, 20}, batches[1])
	assert.Equal(t, [2]int{20, 25}, batches[2])

	assert.Empty(t, CalculateBatches(0, 10))
}

func TestTotalBatches(t *testing.T) {
	tests := []struct {
		items, size, want int
	}{
		{items: 0, size: 100, want: 0},
		{items: 1, size: 100, want: 1},
		{items: 100, size: 100, want: 1},
		{items: 101, size: 100, want: 2},
		{items: 237, size: 100, want: 3},
		{items: 7, size: 1, want: 7},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.items, tt.size), func(t *testing.T) {
			assert.Equal(t, tt.want, TotalBatches(tt.items, tt.size))
		})
	}
}

func TestNewPlan(t *testing.T) {
	ids := makeIDs(237)

	t.Run("EveryIDInExactlyOneChunk", func(t *testing.T) {
		for _, size := range []int{1, 7, 50, 100} {
			p, err := NewPlan(ids, size)
			require.NoError(t, err)

			seen := make(map[string]int)
			for _, c := range p.Chunks() {
				assert.LessOrEqual(t, c.Len(), size)
				for _, id := range c.IDs {
					seen[id]++
				}
			}
			assert.Len(t, seen, len(ids))
			for id, n := range seen {
				assert.Equal(t, 1, n, id)
			}
			assert.Equal(t, TotalBatches(len(ids), size), p.TotalBatches())
		}
	})

	t.Run("CapsAtStoreMaximum", func(t *testing.T) {
		p, err := NewPlan(ids, 500)
		require.NoError(t, err)
		assert.Equal(t, MaxBatchSize, p.BatchSize())
		assert.Equal(t, 3, p.TotalBatches())
		assert.Equal(t, ids[200:], p.Chunk(2).IDs)
	})

	t.Run("InvalidBatchSize", func(t *testing.T) {
		_, err := NewPlan(ids, 0)
		require.ErrorIs(t, err, ErrInvalidBatchSize)
	})
}

func TestFetcher_Fetch(t *testing.T) {
	m := seeded("1", "3")
	f := NewFetcher(m, FetcherConfig{})

	got, err := f.Fetch(context.Background(), []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "1")
	assert.Contains(t, got, "3")
	assert.NotContains(t, got, "2")
	assert.Equal(t, 1, f.Chunks())
	assert.Equal(t, 1, f.Calls())
}

func TestFetcher_RetriesThenSucceeds(t *testing.T) {
	m := seeded("1")
	m.FailFetch = func(call int, _ []string) error {
		if call < 3 {
			return &store.StatusError{Op: "fetch batch", Status: http.StatusServiceUnavailable}
		}
		return nil
	}
	rs := &recordedSleep{}
	f := NewFetcher(m, FetcherConfig{Sleep: rs.sleep})

	got, err := f.Fetch(context.Background(), []string{"1"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 3, f.Calls())
	assert.Equal(t, []time.Duration{DefaultRetryDelay, DefaultRetryDelay}, rs.waits)
}

func TestFetcher_ExhaustsAttempts(t *testing.T) {
	m := seeded("1")
	m.FailFetch = func(int, []string) error {
		return &store.StatusError{Op: "fetch batch", Status: http.StatusBadRequest}
	}
	rs := &recordedSleep{}
	f := NewFetcher(m, FetcherConfig{Attempts: 3, Delay: time.Second, Sleep: rs.sleep})

	_, err := f.Fetch(context.Background(), []string{"1"})
	require.ErrorIs(t, err, ErrChunkFailed)
	assert.Equal(t, http.StatusBadRequest, store.StatusCode(err))
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, f.Calls())
	assert.Len(t, rs.waits, 2)
}

func TestFetcher_DoesNotRetryOversizedChunk(t *testing.T) {
	f := NewFetcher(store.NewMemory(), FetcherConfig{Sleep: (&recordedSleep{}).sleep})

	_, err := f.Fetch(context.Background(), makeIDs(MaxBatchSize+1))
	require.ErrorIs(t, err, store.ErrBatchTooLarge)
	assert.Equal(t, 1, f.Calls())
}

func TestFetcher_CancelledDuringBackoff(t *testing.T) {
	m := seeded("1")
	m.FailFetch = func(int, []string) error { return errors.New("connection reset") }
	ctx, cancel := context.WithCancel(context.Background())
	f := NewFetcher(m, FetcherConfig{Sleep: func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}})

	_, err := f.Fetch(ctx, []string{"1"})
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrChunkFailed)
	assert.Equal(t, 1, f.Calls())
}

func TestSleepWithContext(t *testing.T) {
	require.NoError(t, sleepWithContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepWithContext(ctx, time.Hour), context.Canceled)
	require.ErrorIs(t, sleepWithContext(ctx, 0), context.Canceled)
}

func TestProgress(t *testing.T) {
	p := NewProgress(100, 10, 10)
	clock := p.started
	p.now = func() time.Time { return clock }

	snap := p.Snapshot()
	assert.Zero(t, snap.Ratio())
	assert.False(t, snap.Done())
	assert.Zero(t, snap.Remaining)

	clock = clock.Add(10 * time.Second)
	p.AddProcessed(10, 2)
	p.FinishBatch()
	snap = p.Snapshot()
	assert.InDelta(t, 0.1, snap.Ratio(), 1e-9)
	assert.Equal(t, 10, snap.ProcessedItems)
	assert.Equal(t, 2, snap.FailedItems)
	assert.Equal(t, 1, snap.ProcessedBatches)
	assert.Equal(t, 10, snap.TotalBatches)
	assert.InDelta(t, 1.0, snap.ItemsPerSecond, 1e-9)
	assert.Equal(t, 90*time.Second, snap.Remaining)
	assert.Equal(t, clock, snap.LastUpdateTime)

	p.AddProcessed(90, 0)
	snap = p.Snapshot()
	assert.InDelta(t, 1.0, snap.Ratio(), 1e-9)
	assert.True(t, snap.Done())
	assert.Zero(t, snap.Remaining)
	assert.Equal(t, 10*time.Second, snap.ElapsedTime)

	t.Run("EmptyTotal", func(t *testing.T) {
		empty := NewProgress(0, 0, 100).Snapshot()
		assert.InDelta(t, 1.0, empty.Ratio(), 1e-9)
		assert.True(t, empty.Done())
	})
}
