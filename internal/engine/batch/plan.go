package batch

import (
	"errors"
	"fmt"

	"github.com/cabb/almabatch/internal/store"
)

// Chunk sizing limits.
const (
	// DefaultBatchSize is the default number of identifiers per chunk.
	DefaultBatchSize = store.MaxBatchSize

	// MinBatchSize is the minimum allowed chunk size.
	MinBatchSize = 1

	// MaxBatchSize is the largest chunk the store accepts in one call.
	MaxBatchSize = store.MaxBatchSize
)

// ErrInvalidBatchSize is returned for a batch size below MinBatchSize.
var ErrInvalidBatchSize = errors.New("batch size must be at least 1")

// Chunk is one consecutive slice of a collection.
type Chunk struct {
	// Index is the 0-based chunk number.
	Index int

	// Start and End are the [start, end) bounds within the collection.
	Start int
	End   int

	// IDs are the identifiers in the chunk, in collection order.
	IDs []string
}

// Len returns the number of identifiers in the chunk.
func (c Chunk) Len() int { return c.End - c.Start }

// Plan is the chunk layout of one collection.
type Plan struct {
	batchSize int
	ids       []string
	bounds    [][2]int
}

// NewPlan lays ids out in chunks of batchSize. Sizes above MaxBatchSize are
// capped to it.
func NewPlan(ids []string, batchSize int) (*Plan, error) {
	if batchSize < MinBatchSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, batchSize)
	}
	batchSize = min(batchSize, MaxBatchSize)

	return &Plan{
		batchSize: batchSize,
		ids:       ids,
		bounds:    CalculateBatches(len(ids), batchSize),
	}, nil
}

// BatchSize returns the effective chunk size.
func (p *Plan) BatchSize() int { return p.batchSize }

// TotalBatches returns the number of chunks.
func (p *Plan) TotalBatches() int { return len(p.bounds) }

// Chunk returns chunk i.
func (p *Plan) Chunk(i int) Chunk {
	b := p.bounds[i]
	return Chunk{Index: i, Start: b[0], End: b[1], IDs: p.ids[b[0]:b[1]]}
}

// Chunks returns every chunk in order.
func (p *Plan) Chunks() []Chunk {
	chunks := make([]Chunk, len(p.bounds))
	for i := range p.bounds {
		chunks[i] = p.Chunk(i)
	}
	return chunks
}

// CalculateBatches returns the batch boundaries for totalItems items.
// Returns a slice of [start, end) index pairs.
func CalculateBatches(totalItems, batchSize int) [][2]int {
	totalBatches := TotalBatches(totalItems, batchSize)
	batches := make([][2]int, totalBatches)

	for i := range totalBatches {
		start := i * batchSize
		end := min(start+batchSize, totalItems)
		batches[i] = [2]int{start, end}
	}

	return batches
}

// TotalBatches returns ceil(totalItems / batchSize).
func TotalBatches(totalItems, batchSize int) int {
	if batchSize <= 0 || totalItems <= 0 {
		return 0
	}
	batches := totalItems / batchSize
	if totalItems%batchSize > 0 {
		batches++
	}
	return batches
}
