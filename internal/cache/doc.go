// Package cache stores fetched record documents on disk with a TTL.
//
// Read-only reports are often re-run against the same set within a short
// window; caching the raw bib documents avoids refetching them. Keys are
// hashed with xxh3 so arbitrary identifiers map to safe file names, and the
// original key is kept in each entry so a hash collision reads as a miss.
// Writes go to a temporary file and are renamed into place.
package cache
