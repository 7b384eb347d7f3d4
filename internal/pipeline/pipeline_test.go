package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cabb/almabatch/internal/engine/batch"
	"github.com/cabb/almabatch/internal/extract"
	"github.com/cabb/almabatch/internal/record"
	"github.com/cabb/almabatch/internal/source"
	"github.com/cabb/almabatch/internal/store"
)

const bibXML = `<bib><mms_id>%s</mms_id><title>Title %s</title><anies><anie>&lt;record xmlns:dc="http://purl.org/dc/elements/1.1/"&gt;&lt;dc:title&gt;Title %s&lt;/dc:title&gt;&lt;dc:date&gt;19%02d-01-01&lt;/dc:date&gt;&lt;/record&gt;</anie></anies></bib>`

func makeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("99%04d", i)
	}
	return ids
}

func seeded(ids []string) *store.Memory {
	m := store.NewMemory()
	for i, id := range ids {
		m.Put(id, []byte(fmt.Sprintf(bibXML, id, id, id, i%100)))
	}
	return m
}

func collection(ids []string) *source.Collection {
	return &source.Collection{IDs: ids, Origin: "test", ReportedTotal: len(ids), EffectiveTotal: len(ids)}
}

func noSleep(context.Context, time.Duration) error { return nil }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Fetch.Sleep = noSleep
	return cfg
}

// funcOp is an Operation backed by a function.
type funcOp struct {
	fn    func(ctx context.Context, id string, rec *record.Record) Result
	seen  []string
	calls int
}

func (o *funcOp) Name() string { return "test" }

func (o *funcOp) Apply(ctx context.Context, id string, rec *record.Record) Result {
	o.calls++
	o.seen = append(o.seen, id)
	if o.fn == nil {
		return Result{Outcome: OutcomeNoOp}
	}
	return o.fn(ctx, id, rec)
}

type memSink struct {
	rows []*extract.Row
	err  error
}

func (s *memSink) Write(row *extract.Row) error {
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, row)
	return nil
}

func assertSumInvariant(t *testing.T, c RunCounters) {
	t.Helper()
	assert.Equal(t, c.Attempted, c.Succeeded+c.Failed+c.Absent+c.Cancelled, c.String())
}

func TestRunner_ProcessesEveryItemInOrder(t *testing.T) {
	ids := makeIDs(250)
	r, err := NewRunner(seeded(ids), testConfig())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, r.State())

	op := &funcOp{}
	sum, err := r.Run(context.Background(), collection(ids), op)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, sum.State)
	assert.Equal(t, StateCompleted, r.State())
	assert.Equal(t, ids, op.seen)
	assert.Equal(t, 250, sum.Counters.Attempted)
	assert.Equal(t, 250, sum.Counters.Succeeded)
	assert.Equal(t, 250, sum.Counters.ByOutcome[OutcomeNoOp])
	assert.Equal(t, 3, sum.Counters.Chunks)
	assert.Equal(t, 3, sum.Counters.FetchCalls)
	assert.NotEmpty(t, sum.TraceID)
	assert.Equal(t, "test", sum.Origin)
	assertSumInvariant(t, sum.Counters)
}

func TestRunner_ChunkCount(t *testing.T) {
	for _, tt := range []struct{ size, batch, want int }{
		{size: 1, batch: 100, want: 1},
		{size: 100, batch: 100, want: 1},
		{size: 101, batch: 100, want: 2},
		{size: 37, batch: 10, want: 4},
		{size: 250, batch: 1000, want: 3},
		{size: 0, batch: 100, want: 0},
	} {
		t.Run(fmt.Sprintf("%d/%d", tt.size, tt.batch), func(t *testing.T) {
			ids := makeIDs(tt.size)
			cfg := testConfig()
			cfg.BatchSize = tt.batch
			r, err := NewRunner(seeded(ids), cfg)
			require.NoError(t, err)

			sum, err := r.Run(context.Background(), collection(ids), &funcOp{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, sum.Counters.Chunks)
			assert.Equal(t, tt.size, sum.Counters.Succeeded)
		})
	}
}

func TestRunner_FailingChunkIsIsolated(t *testing.T) {
	ids := makeIDs(237)
	m := seeded(ids)
	m.FailFetch = func(_ int, chunk []string) error {
		if chunk[0] == ids[100] {
			return &store.StatusError{Op: "fetch batch", Status: http.StatusInternalServerError}
		}
		return nil
	}
	r, err := NewRunner(m, testConfig())
	require.NoError(t, err)

	op := &funcOp{}
	sum, err := r.Run(context.Background(), collection(ids), op)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, sum.State)
	assert.Equal(t, 3, sum.Counters.Chunks)
	assert.Equal(t, 1+batch.DefaultRetryAttempts+1, sum.Counters.FetchCalls)
	assert.Equal(t, 137, sum.Counters.Succeeded)
	assert.Equal(t, 100, sum.Counters.Failed)
	assert.Equal(t, 237, sum.Counters.Attempted)
	assert.Equal(t, 137, op.calls)
	assert.Equal(t, ids[99], op.seen[99])
	assert.Equal(t, ids[200], op.seen[100])
	assertSumInvariant(t, sum.Counters)

	snap := r.Progress()
	assert.Equal(t, 237, snap.ProcessedItems)
	assert.Equal(t, 100, snap.FailedItems)
	assert.Equal(t, 3, snap.ProcessedBatches)
}

func TestRunner_AbsentRecords(t *testing.T) {
	ids := makeIDs(10)
	m := seeded(ids)
	m.Delete(ids[3])
	m.Delete(ids[7])
	r, err := NewRunner(m, testConfig())
	require.NoError(t, err)

	op := &funcOp{}
	sum, err := r.Run(context.Background(), collection(ids), op)
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Counters.Absent)
	assert.Equal(t, 8, sum.Counters.Succeeded)
	assert.Equal(t, 8, op.calls)
	assert.NotContains(t, op.seen, ids[3])
	assertSumInvariant(t, sum.Counters)
}

func TestRunner_CancelAfterK(t *testing.T) {
	ids := makeIDs(237)

	for _, k := range []int{1, 50, 100, 101, 236} {
		t.Run(fmt.Sprint(k), func(t *testing.T) {
			tok := NewCancelToken()
			r, err := NewRunner(seeded(ids), testConfig())
			require.NoError(t, err)
			r.WithCancelToken(tok)

			op := &funcOp{}
			op.fn = func(context.Context, string, *record.Record) Result {
				if op.calls == k {
					tok.Cancel()
				}
				return Result{Outcome: OutcomeChanged}
			}

			sum, err := r.Run(context.Background(), collection(ids), op)
			require.NoError(t, err)

			c := sum.Counters
			assert.Equal(t, StateCancelled, sum.State)
			assert.Equal(t, k, c.Succeeded+c.Failed+c.Absent)
			assert.Equal(t, len(ids)-k, c.Cancelled)
			assert.Equal(t, batch.TotalBatches(k, 100), c.Chunks)
			assertSumInvariant(t, c)
		})
	}
}

func TestRunner_CancelledBeforeStart(t *testing.T) {
	ids := makeIDs(5)
	m := seeded(ids)
	r, err := NewRunner(m, testConfig())
	require.NoError(t, err)
	r.Cancel()

	sum, err := r.Run(context.Background(), collection(ids), &funcOp{})
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, sum.State)
	assert.Equal(t, 5, sum.Counters.Cancelled)
	assert.Zero(t, m.Calls().FetchBatch)
}

func TestRunner_ContextCancelledDuringRetry(t *testing.T) {
	ids := makeIDs(150)
	m := seeded(ids)
	m.FailFetch = func(_ int, chunk []string) error {
		if chunk[0] == ids[100] {
			return errors.New("connection reset")
		}
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cfg := testConfig()
	cfg.Fetch.Sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	r, err := NewRunner(m, cfg)
	require.NoError(t, err)

	sum, err := r.Run(ctx, collection(ids), &funcOp{})
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, sum.State)
	assert.Equal(t, 100, sum.Counters.Succeeded)
	assert.Equal(t, 50, sum.Counters.Cancelled)
	assert.Zero(t, sum.Counters.Failed)
}

func TestRunner_ItemFailuresAreAbsorbed(t *testing.T) {
	ids := makeIDs(20)
	r, err := NewRunner(seeded(ids), testConfig())
	require.NoError(t, err)

	op := &funcOp{}
	op.fn = func(_ context.Context, id string, _ *record.Record) Result {
		switch id {
		case ids[2]:
			return Failed(&store.StatusError{Op: "write", Status: http.StatusConflict})
		case ids[5]:
			panic("boom")
		default:
			return Result{Outcome: OutcomeAdded}
		}
	}

	sum, err := r.Run(context.Background(), collection(ids), op)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, sum.State)
	assert.Equal(t, 2, sum.Counters.Failed)
	assert.Equal(t, 18, sum.Counters.ByOutcome[OutcomeAdded])
	assert.Equal(t, 20, op.calls)
}

func TestRunner_FatalAcquire(t *testing.T) {
	r, err := NewRunner(store.NewMemory(), testConfig())
	require.NoError(t, err)

	sum, err := r.RunFrom(context.Background(), func(ctx context.Context) (*source.Collection, error) {
		return source.EnumerateSet(ctx, store.NewMemory(), "missing", 100, 0)
	}, &funcOp{})
	require.ErrorIs(t, err, source.ErrEnumerationFailed)
	assert.Equal(t, StateFatal, sum.State)
	assert.Equal(t, StateFatal, r.State())
	require.ErrorIs(t, sum.Err, source.ErrEnumerationFailed)
	assert.Zero(t, sum.Counters.Attempted)
}

func TestRunner_NilOperation(t *testing.T) {
	r, err := NewRunner(store.NewMemory(), testConfig())
	require.NoError(t, err)
	_, err = r.Run(context.Background(), collection(nil), nil)
	require.ErrorIs(t, err, ErrNilOperation)
}

func TestNewRunner_InvalidBatchSize(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 0
	_, err := NewRunner(store.NewMemory(), cfg)
	require.ErrorIs(t, err, batch.ErrInvalidBatchSize)
}

func TestRunner_Progress(t *testing.T) {
	ids := makeIDs(120)
	cfg := testConfig()
	cfg.ProgressEvery = 50

	var mu sync.Mutex
	var snaps []batch.ProgressSnapshot
	r, err := NewRunner(seeded(ids), cfg)
	require.NoError(t, err)
	r.WithProgress(func(s batch.ProgressSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		snaps = append(snaps, s)
	})

	_, err = r.Run(context.Background(), collection(ids), &funcOp{})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, snaps)
	last := snaps[len(snaps)-1]
	assert.Equal(t, 120, last.ProcessedItems)
	assert.Equal(t, 120, last.TotalItems)
	for i := 1; i < len(snaps); i++ {
		assert.GreaterOrEqual(t, snaps[i].ProcessedItems, snaps[i-1].ProcessedItems)
	}
}

func TestRunner_ProgressCallbackCannotStallOrAbort(t *testing.T) {
	ids := makeIDs(30)
	cfg := testConfig()
	cfg.ProgressTimeout = 20 * time.Millisecond

	release := make(chan struct{})
	defer close(release)
	calls := 0
	r, err := NewRunner(seeded(ids), cfg)
	require.NoError(t, err)
	r.WithProgress(func(batch.ProgressSnapshot) {
		calls++
		if calls == 1 {
			panic("progress view crashed")
		}
		<-release
	})

	start := time.Now()
	sum, err := r.Run(context.Background(), collection(ids), &funcOp{})
	require.NoError(t, err)
	assert.Equal(t, 30, sum.Counters.Succeeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExtractOperation(t *testing.T) {
	ids := makeIDs(3)
	report, err := extract.LookupReport(extract.ReportDecade)
	require.NoError(t, err)

	sink := &memSink{}
	r, err := NewRunner(seeded(ids), testConfig())
	require.NoError(t, err)
	r.WithSink(sink)

	op := NewExtractOperation(report.Schema)
	assert.Equal(t, "extract "+report.Schema.Name, op.Name())

	sum, err := r.Run(context.Background(), collection(ids), op)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Counters.ByOutcome[OutcomeExtracted])

	require.Len(t, sink.rows, 3)
	assert.Equal(t, ids[1], sink.rows[1].Get(extract.ColumnMMSID))
	assert.Equal(t, "1901", sink.rows[1].Get(extract.ColumnYear))
	assert.Equal(t, "1900s", sink.rows[1].Get(extract.ColumnDecade))
	assert.Equal(t, 3, op.Mapper.Stats().Rows)
}

func TestExtractOperation_EnricherAndSinkFailures(t *testing.T) {
	ids := makeIDs(4)
	report, err := extract.LookupReport(extract.ReportDecade)
	require.NoError(t, err)

	enrich := EnricherFunc(func(_ context.Context, row *extract.Row) error {
		if row.Get(extract.ColumnMMSID) == ids[0] {
			return errors.New("lookup failed")
		}
		return nil
	})

	sink := &memSink{}
	r, err := NewRunner(seeded(ids), testConfig())
	require.NoError(t, err)
	r.WithSink(sink)

	sum, err := r.Run(context.Background(), collection(ids), NewExtractOperation(report.Schema, enrich))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Counters.Failed)
	assert.Len(t, sink.rows, 3)

	sink.err = errors.New("disk full")
	r2, err := NewRunner(seeded(ids), testConfig())
	require.NoError(t, err)
	r2.WithSink(sink)
	sum, err = r2.Run(context.Background(), collection(ids), NewExtractOperation(report.Schema))
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Counters.Failed)
	assert.Equal(t, StateCompleted, sum.State)
}

func TestRunCounters_String(t *testing.T) {
	c := RunCounters{Attempted: 237, Succeeded: 137, Failed: 100, Chunks: 3, FetchCalls: 5}
	assert.Equal(t, "attempted=237 succeeded=137 failed=100 absent=0 cancelled=0 chunks=3 fetch_calls=5", c.String())

	s := Summary{Operation: "edit", State: StateCompleted, Counters: c}
	assert.Equal(t, "edit completed: "+c.String(), s.String())
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "duplicates-removed", OutcomeDuplicatesRemoved.String())
	assert.Equal(t, "unknown", Outcome(99).String())
	assert.True(t, OutcomeNoOp.Succeeded())
	assert.False(t, OutcomeAbsent.Succeeded())
	assert.False(t, OutcomeFailed.Succeeded())
	assert.True(t, StateCancelled.Terminal())
	assert.False(t, StateRunning.Terminal())
}

func TestCancelToken(t *testing.T) {
	var nilTok *CancelToken
	assert.False(t, nilTok.Cancelled())

	tok := NewCancelToken()
	var c Canceller = tok
	c.Cancel()
	c.Cancel()
	assert.True(t, tok.Cancelled())
}
