package store

import (
	"context"
	"errors"

	"github.com/cabb/almabatch/internal/cache"
	"github.com/cabb/almabatch/internal/logging"
	"github.com/cabb/almabatch/internal/record"
)

// DocumentCache is the subset of cache.FileStore used by Cached.
type DocumentCache interface {
	Get(key string) ([]byte, error)
	Put(key string, data []byte) error
	Delete(key string) error
}

// Cached serves fetches from a document cache and fills it on miss.
// Membership listings are never cached. A write drops the cached copy.
type Cached struct {
	next  RecordStore
	cache DocumentCache

	// refresh skips cache lookups; fetched records still replace the
	// cached copies.
	refresh bool

	hits   int
	misses int
}

// NewCached wraps next with c.
func NewCached(next RecordStore, c DocumentCache) *Cached {
	return &Cached{next: next, cache: c}
}

// Refreshing returns a view of c that always reads from the wrapped store
// and refreshes the cache with what it reads. Read-modify-write runs use
// it so a write never starts from a stale copy.
func (c *Cached) Refreshing() *Cached {
	return &Cached{next: c.next, cache: c.cache, refresh: true}
}

// Stats returns cache hits and misses served so far.
func (c *Cached) Stats() (hits, misses int) { //nolint:nonamedreturns // Named returns document the pair.
	return c.hits, c.misses
}

func cacheKey(id string) string { return "bib:" + id }

// ListMembers implements RecordStore.
func (c *Cached) ListMembers(ctx context.Context, setID string, offset, limit int) (MemberPage, error) {
	return c.next.ListMembers(ctx, setID, offset, limit)
}

// FetchBatch implements RecordStore. Only the identifiers missing from the
// cache are requested from the wrapped store; results keep request order.
func (c *Cached) FetchBatch(ctx context.Context, ids []string) ([]*record.Record, error) {
	found := make(map[string]*record.Record, len(ids))
	var missing []string
	for _, id := range ids {
		if rec := c.lookup(ctx, id); rec != nil {
			found[id] = rec
			continue
		}
		missing = append(missing, id)
	}
	hits := len(found)

	if len(missing) > 0 {
		fetched, err := c.next.FetchBatch(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, rec := range fetched {
			c.store(ctx, rec)
			found[rec.ID] = rec
		}
	}
	c.hits += hits
	c.misses += len(missing)

	out := make([]*record.Record, 0, len(found))
	for _, id := range ids {
		if rec, ok := found[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// FetchOne implements RecordStore.
func (c *Cached) FetchOne(ctx context.Context, id string) (*record.Record, error) {
	if rec := c.lookup(ctx, id); rec != nil {
		c.hits++
		return rec, nil
	}
	rec, err := c.next.FetchOne(ctx, id)
	if err != nil {
		return nil, err
	}
	c.misses++
	c.store(ctx, rec)
	return rec, nil
}

// WriteOne implements RecordStore.
func (c *Cached) WriteOne(ctx context.Context, id string, rec *record.Record) error {
	err := c.next.WriteOne(ctx, id, rec)
	if delErr := c.cache.Delete(cacheKey(id)); delErr != nil && !errors.Is(delErr, cache.ErrCacheDisabled) {
		logging.FromContext(ctx).Warn().Err(delErr).Str("mms_id", id).Msg("could not drop cached record")
	}
	return err
}

func (c *Cached) lookup(ctx context.Context, id string) *record.Record {
	if c.refresh {
		return nil
	}
	data, err := c.cache.Get(cacheKey(id))
	if err != nil {
		return nil
	}
	rec, err := record.Parse(id, data)
	if err != nil {
		logging.FromContext(ctx).Debug().Err(err).Str("mms_id", id).Msg("discarding unreadable cached record")
		_ = c.cache.Delete(cacheKey(id))
		return nil
	}
	return rec
}

func (c *Cached) store(ctx context.Context, rec *record.Record) {
	data, err := rec.Document().Marshal()
	if err == nil {
		err = c.cache.Put(cacheKey(rec.ID), data)
	}
	if err != nil && !errors.Is(err, cache.ErrCacheDisabled) {
		logging.FromContext(ctx).Debug().Err(err).Str("mms_id", rec.ID).Msg("could not cache record")
	}
}
