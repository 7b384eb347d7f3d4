// Package store defines the RecordStore capability and its implementations:
// the Alma REST client, an in-memory store, and a caching decorator.
package store

import (
	"context"

	"github.com/cabb/almabatch/internal/record"
)

// MaxBatchSize is the largest number of identifiers one FetchBatch call may
// request.
const MaxBatchSize = 100

// MemberPage is one page of a set's membership.
type MemberPage struct {
	// Members are the identifiers on this page, in store order.
	Members []string

	// Total is the store-reported size of the whole set.
	Total int
}

// RecordStore is the remote catalog.
//
// Every failed call carries the HTTP status as a *StatusError when the
// store answered at all.
type RecordStore interface {
	// ListMembers returns up to limit members of setID starting at offset.
	ListMembers(ctx context.Context, setID string, offset, limit int) (MemberPage, error)

	// FetchBatch fetches up to MaxBatchSize records in one call. The result
	// holds only records the store returned; requested identifiers may be
	// missing from it.
	FetchBatch(ctx context.Context, ids []string) ([]*record.Record, error)

	// FetchOne fetches a single record.
	FetchOne(ctx context.Context, id string) (*record.Record, error)

	// WriteOne replaces the stored document for id with rec.
	WriteOne(ctx context.Context, id string, rec *record.Record) error
}
