package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

const (
	// DefaultTTL applies when Set is called without a TTL.
	DefaultTTL = 60 * time.Second
	// DefaultMaxEntries bounds the in-process store; the oldest entry is evicted first.
	DefaultMaxEntries = 500
)

type memoryEntry struct {
	key       string
	payload   []byte
	expiresAt time.Time
}

// MemoryStore is a process-local TTL map holding JSON encoded values, so
// callers never share mutable state with the cache.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	defaultTTL time.Duration
	maxEntries int
	now        func() time.Time
}

// NewMemoryStore creates an in-memory store. Non-positive arguments use the defaults.
func NewMemoryStore(defaultTTL time.Duration, maxEntries int) *MemoryStore {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get decodes the cached value into dest or returns ErrCacheMiss.
func (s *MemoryStore) Get(_ context.Context, key string, dest interface{}) error {
	s.mu.Lock()
	el, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return appErrors.ErrCacheMiss
	}
	entry := el.Value.(*memoryEntry)
	if !s.now().Before(entry.expiresAt) {
		s.remove(el)
		s.mu.Unlock()
		return appErrors.ErrCacheMiss
	}
	payload := entry.payload
	s.mu.Unlock()

	if err := json.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return nil
}

// Set stores value under key. Overwriting a key refreshes its position.
func (s *MemoryStore) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		s.remove(el)
	}
	for s.order.Len() >= s.maxEntries {
		s.remove(s.order.Front())
	}
	el := s.order.PushBack(&memoryEntry{key: key, payload: payload, expiresAt: s.now().Add(ttl)})
	s.entries[key] = el
	return nil
}

// Delete removes the given keys.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		if el, ok := s.entries[key]; ok {
			s.remove(el)
		}
	}
	return nil
}

// DeleteByPattern removes keys matching a glob pattern such as "dashboard:*".
func (s *MemoryStore) DeleteByPattern(_ context.Context, pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid cache pattern %s: %w", pattern, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, el := range s.entries {
		if matched, _ := path.Match(pattern, key); matched {
			s.remove(el)
		}
	}
	return nil
}

// Clear drops every entry.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*list.Element)
	s.order.Init()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

func (s *MemoryStore) remove(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	delete(s.entries, entry.key)
	s.order.Remove(el)
}
