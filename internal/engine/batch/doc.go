// Package batch splits an identifier collection into store-sized chunks and
// fetches each chunk with a bounded retry.
//
// Key pieces:
//   - Plan computes the [start, end) chunk boundaries, ceil(S/B) chunks
//     with B capped at the store's per-call maximum
//   - Fetcher issues one FetchBatch per chunk, retrying a failed call a
//     fixed number of times with a fixed delay, and counts both chunks and
//     raw API calls
//   - Progress tracks processed items for progress callbacks and the TUI
//
// Fetching is strictly sequential; nothing in this package starts goroutines.
package batch
