package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cabb/almabatch/internal/logging"
	"github.com/cabb/almabatch/internal/record"
	"github.com/cabb/almabatch/internal/store"
)

// Retry defaults for a failed chunk fetch.
const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 2 * time.Second
)

// ErrChunkFailed is returned once every attempt at fetching a chunk failed.
var ErrChunkFailed = errors.New("chunk fetch failed")

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// FetcherConfig controls chunk fetch retries.
type FetcherConfig struct {
	// Attempts is the total number of tries per chunk, including the first.
	Attempts int

	// Delay is the fixed wait between attempts.
	Delay time.Duration

	// Sleep replaces the real wait in tests.
	Sleep SleepFunc
}

// DefaultFetcherConfig returns 3 attempts 2 seconds apart.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{Attempts: DefaultRetryAttempts, Delay: DefaultRetryDelay}
}

// Fetcher fetches chunks from a RecordStore.
type Fetcher struct {
	store    store.RecordStore
	attempts int
	delay    time.Duration
	sleep    SleepFunc

	chunks int
	calls  int
}

// NewFetcher returns a Fetcher over st. Zero config fields take defaults;
// a negative delay means no wait.
func NewFetcher(st store.RecordStore, cfg FetcherConfig) *Fetcher {
	if cfg.Attempts < 1 {
		cfg.Attempts = DefaultRetryAttempts
	}
	if cfg.Delay == 0 {
		cfg.Delay = DefaultRetryDelay
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepWithContext
	}
	return &Fetcher{store: st, attempts: cfg.Attempts, delay: cfg.Delay, sleep: cfg.Sleep}
}

// Chunks returns the number of chunks fetched, successful or not.
func (f *Fetcher) Chunks() int { return f.chunks }

// Calls returns the number of FetchBatch calls issued, retries included.
func (f *Fetcher) Calls() int { return f.calls }

// Fetch fetches one chunk of at most MaxBatchSize identifiers and returns
// the records keyed by identifier. Identifiers the store did not return
// are missing from the map; records the store returned for identifiers
// not in ids are dropped.
//
// A failed call is retried until the attempts run out, then an error
// wrapping ErrChunkFailed and the last failure is returned. Client errors
// such as 401 are retried too: every non-2xx answer costs the same fixed
// number of attempts. Context cancellation and oversized chunks are not
// retried.
func (f *Fetcher) Fetch(ctx context.Context, ids []string) (map[string]*record.Record, error) {
	f.chunks++
	log := logging.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		f.calls++
		recs, err := f.store.FetchBatch(ctx, ids)
		if err == nil {
			return index(ctx, ids, recs), nil
		}
		lastErr = err

		if ctx.Err() != nil || errors.Is(err, store.ErrBatchTooLarge) {
			break
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", f.attempts).
			Int("size", len(ids)).
			Int("status", store.StatusCode(err)).
			Bool("transient", store.IsTransient(err)).
			Msg("chunk fetch failed")

		if attempt < f.attempts && f.delay > 0 {
			if sleepErr := f.sleep(ctx, f.delay); sleepErr != nil {
				lastErr = sleepErr
				break
			}
		}
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("fetching chunk: %w", ctx.Err())
	}
	return nil, fmt.Errorf("%w after %d attempts (status %d): %w",
		ErrChunkFailed, f.attempts, store.StatusCode(lastErr), lastErr)
}

func index(ctx context.Context, ids []string, recs []*record.Record) map[string]*record.Record {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	out := make(map[string]*record.Record, len(recs))
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		if _, ok := wanted[rec.ID]; !ok {
			logging.FromContext(ctx).Debug().Str("mms_id", rec.ID).Msg("ignoring unrequested record in batch response")
			continue
		}
		out[rec.ID] = rec
	}
	return out
}

// sleepWithContext sleeps for d but returns early if ctx is canceled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
