package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cabb/almabatch/internal/engine/batch"
	"github.com/cabb/almabatch/internal/logging"
	"github.com/cabb/almabatch/internal/record"
	"github.com/cabb/almabatch/internal/source"
	"github.com/cabb/almabatch/internal/store"
)

// ErrNilOperation is returned when Run is given no operation.
var ErrNilOperation = errors.New("operation cannot be nil")

// Config controls a Runner.
type Config struct {
	// BatchSize is the chunk size, capped at the store maximum.
	BatchSize int

	// Fetch controls chunk retries.
	Fetch batch.FetcherConfig

	// ProgressEvery posts progress every N items; 0 or 1 posts after
	// every item. The last item of a run is always posted.
	ProgressEvery int

	// ProgressTimeout bounds the wait for the final progress delivery.
	ProgressTimeout time.Duration
}

// DefaultConfig returns chunks of 100 with the default fetch retry.
func DefaultConfig() Config {
	return Config{
		BatchSize:       batch.DefaultBatchSize,
		Fetch:           batch.DefaultFetcherConfig(),
		ProgressEvery:   1,
		ProgressTimeout: DefaultProgressTimeout,
	}
}

// AcquireFunc builds the collection a run works on.
type AcquireFunc func(ctx context.Context) (*source.Collection, error)

// Runner applies an Operation to every record of a collection. A Runner
// performs one run; build a new one for the next.
type Runner struct {
	store    store.RecordStore
	cfg      Config
	sink     Sink
	progress ProgressFunc
	token    *CancelToken

	mu       sync.Mutex
	state    State
	snapshot *batch.Progress
}

// NewRunner returns an idle Runner reading from st.
func NewRunner(st store.RecordStore, cfg Config) (*Runner, error) {
	if cfg.BatchSize < batch.MinBatchSize {
		return nil, fmt.Errorf("%w: got %d", batch.ErrInvalidBatchSize, cfg.BatchSize)
	}
	if cfg.ProgressEvery < 1 {
		cfg.ProgressEvery = 1
	}
	return &Runner{store: st, cfg: cfg, token: NewCancelToken()}, nil
}

// WithSink sets where produced rows go.
func (r *Runner) WithSink(s Sink) *Runner {
	r.sink = s
	return r
}

// WithProgress sets a progress callback.
func (r *Runner) WithProgress(fn ProgressFunc) *Runner {
	r.progress = fn
	return r
}

// WithCancelToken shares tok with the caller.
func (r *Runner) WithCancelToken(tok *CancelToken) *Runner {
	if tok != nil {
		r.token = tok
	}
	return r
}

// Cancel asks the run to stop at the next chunk or item boundary.
func (r *Runner) Cancel() { r.token.Cancel() }

// State returns the current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Progress returns the live progress, or a zero snapshot before the run
// has started.
func (r *Runner) Progress() batch.ProgressSnapshot {
	r.mu.Lock()
	p := r.snapshot
	r.mu.Unlock()
	if p == nil {
		return batch.ProgressSnapshot{}
	}
	return p.Snapshot()
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

// RunFrom acquires the collection and runs op over it. An acquisition
// failure ends the run Fatal and is returned; nothing after it fails the
// run.
func (r *Runner) RunFrom(ctx context.Context, acquire AcquireFunc, op Operation) (Summary, error) {
	ctx, sum := r.begin(ctx, op)
	if op == nil {
		return r.fatal(sum, ErrNilOperation)
	}

	col, err := acquire(ctx)
	if err != nil {
		logging.FromContext(ctx).Error().Err(err).Msg("could not build collection")
		return r.fatal(sum, err)
	}
	return r.execute(ctx, sum, col, op)
}

// Run runs op over col.
func (r *Runner) Run(ctx context.Context, col *source.Collection, op Operation) (Summary, error) {
	return r.RunFrom(ctx, func(context.Context) (*source.Collection, error) { return col, nil }, op)
}

func (r *Runner) begin(ctx context.Context, op Operation) (context.Context, Summary) {
	ctx = logging.ContextWithTraceID(ctx, logging.GetOrGenerateTraceID(ctx))
	l := logging.ComponentLogger(*zerolog.Ctx(ctx), "pipeline")
	ctx = l.WithContext(ctx)

	sum := Summary{TraceID: logging.TraceIDFromContext(ctx), Started: time.Now()}
	if op != nil {
		sum.Operation = op.Name()
	}
	r.setState(StateRunning)
	return ctx, sum
}

func (r *Runner) fatal(sum Summary, err error) (Summary, error) {
	r.setState(StateFatal)
	sum.State = StateFatal
	sum.Err = err
	sum.Finished = time.Now()
	return sum, err
}

func (r *Runner) cancelled(ctx context.Context) bool {
	return r.token.Cancelled() || ctx.Err() != nil
}

func (r *Runner) execute(ctx context.Context, sum Summary, col *source.Collection, op Operation) (Summary, error) {
	log := logging.FromContext(ctx)
	sum.Origin = col.Origin

	plan, err := batch.NewPlan(col.IDs, r.cfg.BatchSize)
	if err != nil {
		return r.fatal(sum, err)
	}
	fetcher := batch.NewFetcher(r.store, r.cfg.Fetch)

	total := col.EffectiveTotal
	if total <= 0 {
		total = col.Len()
	}
	progress := batch.NewProgress(total, plan.TotalBatches(), plan.BatchSize())
	r.mu.Lock()
	r.snapshot = progress
	r.mu.Unlock()

	var box *mailbox
	if r.progress != nil {
		box = newMailbox(ctx, r.progress, r.cfg.ProgressTimeout)
	}
	post := func(force bool) {
		if box != nil && (force || progress.Snapshot().ProcessedItems%r.cfg.ProgressEvery == 0) {
			box.post(progress.Snapshot())
		}
	}

	log.Info().
		Str("operation", sum.Operation).
		Str("origin", col.Origin).
		Int("items", col.Len()).
		Int("batch_size", plan.BatchSize()).
		Int("total_batches", plan.TotalBatches()).
		Msg("run started")

	var counters RunCounters
	state := StateCompleted

chunks:
	for _, chunk := range plan.Chunks() {
		if r.cancelled(ctx) {
			counters.cancel(col.Len() - chunk.Start)
			state = StateCancelled
			break
		}

		recs, fetchErr := fetcher.Fetch(ctx, chunk.IDs)
		if fetchErr != nil {
			if r.cancelled(ctx) {
				counters.cancel(col.Len() - chunk.Start)
				state = StateCancelled
				break
			}
			log.Error().
				Err(fetchErr).
				Int("chunk", chunk.Index).
				Int("size", chunk.Len()).
				Int("status", store.StatusCode(fetchErr)).
				Msg("chunk abandoned, marking its items failed")
			for _, id := range chunk.IDs {
				counters.record(OutcomeFailed)
				log.Debug().Str("mms_id", id).Str("outcome", OutcomeFailed.String()).Msg("item not fetched")
			}
			progress.AddProcessed(chunk.Len(), chunk.Len())
			progress.FinishBatch()
			post(true)
			continue
		}

		log.Debug().
			Int("chunk", chunk.Index).
			Int("requested", chunk.Len()).
			Int("returned", len(recs)).
			Msg("chunk fetched")

		for i, id := range chunk.IDs {
			if r.cancelled(ctx) {
				counters.cancel(col.Len() - (chunk.Start + i))
				state = StateCancelled
				break chunks
			}

			outcome := r.item(ctx, op, id, recs[id])
			counters.record(outcome)
			failed := 0
			if !outcome.Succeeded() {
				failed = 1
			}
			progress.AddProcessed(1, failed)
			post(false)
		}
		progress.FinishBatch()
	}

	counters.Chunks = fetcher.Chunks()
	counters.FetchCalls = fetcher.Calls()
	if box != nil {
		box.close(progress.Snapshot())
	}

	r.setState(state)
	sum.State = state
	sum.Counters = counters.clone()
	sum.Finished = time.Now()

	log.Info().
		Str("operation", sum.Operation).
		Str("state", state.String()).
		Int("attempted", counters.Attempted).
		Int("succeeded", counters.Succeeded).
		Int("failed", counters.Failed).
		Int("absent", counters.Absent).
		Int("cancelled", counters.Cancelled).
		Int("chunks", counters.Chunks).
		Int("fetch_calls", counters.FetchCalls).
		Dur("elapsed", sum.Elapsed()).
		Msg("run finished")

	return sum, nil
}

// item applies op to one record and forwards its row. It never panics.
func (r *Runner) item(
	ctx context.Context, op Operation, id string, rec *record.Record,
) (outcome Outcome) { //nolint:nonamedreturns // Needed to report a recovered panic.
	ctx = zerolog.Ctx(ctx).With().Str("mms_id", id).Logger().WithContext(ctx)
	log := logging.FromContext(ctx)

	if rec == nil {
		log.Warn().Str("outcome", OutcomeAbsent.String()).Msg("record not returned by store")
		return OutcomeAbsent
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("outcome", OutcomeFailed.String()).Msg("operation panicked")
			outcome = OutcomeFailed
		}
	}()

	res := op.Apply(ctx, id, rec)
	if res.Outcome == OutcomeFailed {
		log.Error().Err(res.Err).Str("outcome", res.Outcome.String()).Msg("item failed")
		return OutcomeFailed
	}

	if res.Row != nil && r.sink != nil {
		if err := r.sink.Write(res.Row); err != nil {
			log.Error().Err(err).Str("outcome", OutcomeFailed.String()).Msg("could not write row")
			return OutcomeFailed
		}
	}

	log.Debug().Str("outcome", res.Outcome.String()).Msg("item done")
	return res.Outcome
}
