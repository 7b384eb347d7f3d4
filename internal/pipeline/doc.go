// Package pipeline runs one Operation across an identifier collection.
//
// The Runner walks the collection chunk by chunk, fetching each chunk with
// a batch.Fetcher and applying the operation to every record in collection
// order. Failures are isolated: a chunk that cannot be fetched marks its
// items failed, an item that fails is counted and logged, and the run
// moves on. Only acquiring the collection can fail a run.
//
// Cancellation is cooperative. A CancelToken is checked before each chunk
// and before each item; the item in flight always finishes.
package pipeline
