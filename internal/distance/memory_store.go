package distance

import (
	"context"
	"sync"
	"time"
)

// MemoryStoreConfig holds configuration for the in-process cache store.
type MemoryStoreConfig struct {
	// CleanupInterval is how often expired entries are swept (default: 5 minutes).
	CleanupInterval time.Duration

	// MaxEntries bounds the store; zero means unbounded.
	MaxEntries int
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	cleanupInterval time.Duration
	maxEntries      int

	mu          sync.RWMutex
	entries     map[string]*memoryEntry
	lastCleanup time.Time
}

type memoryEntry struct {
	entry     CacheEntry
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(cfg MemoryStoreConfig) *MemoryStore {
	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = 5 * time.Minute
	}
	return &MemoryStore{
		cleanupInterval: cleanupInterval,
		maxEntries:      cfg.MaxEntries,
		entries:         make(map[string]*memoryEntry),
		lastCleanup:     time.Now(),
	}
}

// Get returns the entry for key, or ErrCacheMiss.
func (s *MemoryStore) Get(_ context.Context, key string) (*CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, ErrCacheMiss
	}

	cpy := e.entry
	return &cpy, nil
}

// Set stores entry under key until ttl elapses.
func (s *MemoryStore) Set(_ context.Context, key string, entry CacheEntry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupIfNeeded()

	if s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		if _, exists := s.entries[key]; !exists {
			s.evictOldest()
		}
	}

	s.entries[key] = &memoryEntry{
		entry:     entry,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear removes all entries.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*memoryEntry)
}

// cleanupIfNeeded removes expired entries if the cleanup interval has passed.
// Callers must hold the write lock.
func (s *MemoryStore) cleanupIfNeeded() {
	now := time.Now()
	if now.Sub(s.lastCleanup) < s.cleanupInterval {
		return
	}
	s.lastCleanup = now

	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, key)
		}
	}
}

// evictOldest drops the entry fetched longest ago. Callers must hold the write lock.
func (s *MemoryStore) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for key, e := range s.entries {
		if oldestKey == "" || e.entry.FetchedAt.Before(oldest) {
			oldestKey = key
			oldest = e.entry.FetchedAt
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
	}
}

var _ Store = (*MemoryStore)(nil)
