package cache

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeebo/xxh3"
)

// cacheFileExtension is the file extension used for cache entries.
const cacheFileExtension = ".json"

// Cache errors.
var (
	ErrCacheNotFound   = errors.New("cache entry not found")
	ErrCacheExpired    = errors.New("cache entry expired")
	ErrInvalidCacheKey = errors.New("cache key cannot be empty")
	ErrCacheDisabled   = errors.New("cache is disabled")
)

// FileStore keeps cache entries as JSON files in one directory.
// It is safe for concurrent use.
type FileStore struct {
	directory  string
	enabled    bool
	ttlSeconds int

	mu sync.RWMutex
}

// NewFileStore creates a store rooted at directory, creating it if needed.
// A disabled store answers every call with ErrCacheDisabled.
func NewFileStore(directory string, enabled bool, ttlSeconds int) (*FileStore, error) {
	if !enabled {
		return &FileStore{enabled: false}, nil
	}
	if directory == "" {
		return nil, errors.New("cache directory cannot be empty")
	}
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultTTLSeconds
	}
	if err := os.MkdirAll(directory, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileStore{directory: directory, enabled: true, ttlSeconds: ttlSeconds}, nil
}

// Get returns the data cached under key.
func (s *FileStore) Get(key string) ([]byte, error) {
	entry, err := s.GetEntry(key)
	if err != nil {
		return nil, err
	}
	return entry.Data, nil
}

// GetEntry returns the entry cached under key. Expired entries are removed
// and reported as ErrCacheExpired.
func (s *FileStore) GetEntry(key string) (*Entry, error) {
	if !s.enabled {
		return nil, ErrCacheDisabled
	}
	if key == "" {
		return nil, ErrInvalidCacheKey
	}

	s.mu.RLock()
	filePath := s.keyToFilePath(key)
	data, err := os.ReadFile(filePath)
	s.mu.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCacheNotFound
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var entry Entry
	if unmarshalErr := json.Unmarshal(data, &entry); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", unmarshalErr)
	}
	if entry.Key != key {
		return nil, ErrCacheNotFound
	}
	if entry.IsExpired() {
		s.mu.Lock()
		_ = os.Remove(filePath)
		s.mu.Unlock()
		return nil, ErrCacheExpired
	}
	return &entry, nil
}

// Put stores data under key, replacing any existing entry.
func (s *FileStore) Put(key string, data []byte) error {
	if !s.enabled {
		return ErrCacheDisabled
	}
	if key == "" {
		return ErrInvalidCacheKey
	}

	entryData, err := json.Marshal(NewEntry(key, data, s.ttlSeconds))
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := s.keyToFilePath(key)
	tempPath := filePath + ".tmp"
	if writeErr := os.WriteFile(tempPath, entryData, 0o600); writeErr != nil {
		return fmt.Errorf("failed to write cache file: %w", writeErr)
	}
	if renameErr := os.Rename(tempPath, filePath); renameErr != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename cache file: %w", renameErr)
	}
	return nil
}

// Delete removes the entry for key. Deleting a missing entry is not an error.
func (s *FileStore) Delete(key string) error {
	if !s.enabled {
		return ErrCacheDisabled
	}
	if key == "" {
		return ErrInvalidCacheKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.keyToFilePath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cache file: %w", err)
	}
	return nil
}

// Clear removes every entry and returns how many were removed.
func (s *FileStore) Clear() (int, error) {
	return s.sweep(func(*Entry) bool { return true })
}

// CleanupExpired removes expired entries and returns how many were removed.
func (s *FileStore) CleanupExpired() (int, error) {
	return s.sweep(func(e *Entry) bool { return e != nil && e.IsExpired() })
}

// sweep removes the entries for which remove returns true. Unreadable
// entries are passed as nil.
func (s *FileStore) sweep(remove func(*Entry) bool) (int, error) {
	if !s.enabled {
		return 0, ErrCacheDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.entryFiles()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, filePath := range files {
		var entry *Entry
		if data, readErr := os.ReadFile(filePath); readErr == nil {
			var e Entry
			if json.Unmarshal(data, &e) == nil {
				entry = &e
			}
		}
		if !remove(entry) {
			continue
		}
		if rmErr := os.Remove(filePath); rmErr != nil {
			return removed, fmt.Errorf("failed to remove cache file %s: %w", filepath.Base(filePath), rmErr)
		}
		removed++
	}
	return removed, nil
}

// Count returns the number of entries, expired ones included.
func (s *FileStore) Count() (int, error) {
	if !s.enabled {
		return 0, ErrCacheDisabled
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := s.entryFiles()
	return len(files), err
}

// Size returns the total size of the entries in bytes.
func (s *FileStore) Size() (int64, error) {
	if !s.enabled {
		return 0, ErrCacheDisabled
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := s.entryFiles()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		if info, statErr := os.Stat(f); statErr == nil {
			total += info.Size()
		}
	}
	return total, nil
}

// IsEnabled reports whether caching is active.
func (s *FileStore) IsEnabled() bool { return s.enabled }

// GetDirectory returns the cache directory.
func (s *FileStore) GetDirectory() string { return s.directory }

// GetTTL returns the TTL applied to new entries, in seconds.
func (s *FileStore) GetTTL() int { return s.ttlSeconds }

func (s *FileStore) entryFiles() ([]string, error) {
	dirEntries, err := os.ReadDir(s.directory)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}
	var out []string
	for _, d := range dirEntries {
		if d.IsDir() || filepath.Ext(d.Name()) != cacheFileExtension {
			continue
		}
		out = append(out, filepath.Join(s.directory, d.Name()))
	}
	return out, nil
}

// keyToFilePath maps a key to its entry file.
func (s *FileStore) keyToFilePath(key string) string {
	sum := xxh3.HashString128(key).Bytes()
	return filepath.Join(s.directory, hex.EncodeToString(sum[:])+cacheFileExtension)
}
