// Package blobstore holds binary payloads referenced by opaque tokens
// across requests. The store is passed explicitly to components that
// need it rather than living in an ambient global, and entries expire:
// a blob token is a lease, not a permanent handle.
package blobstore

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"cartrita/internal/domain"
)

const (
	// DefaultTTL applies when the configured TTL is zero.
	DefaultTTL = 15 * time.Minute

	janitorInterval = time.Minute
)

type entry struct {
	data        []byte
	contentType string
	expiresAt   time.Time
}

// Store is an in-memory, expiring blob registry. Safe for concurrent
// use. Expiry is enforced both lazily on Get and by a janitor sweep.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	nowFn   func() time.Time
	closeCh chan struct{}
	once    sync.Once
}

// New creates a Store with the given entry TTL and starts the janitor.
func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		entries: make(map[string]entry),
		ttl:     ttl,
		nowFn:   time.Now,
		closeCh: make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Put stores data under a freshly generated token and returns it.
// The data is copied so callers may reuse their buffer.
func (s *Store) Put(data []byte, contentType string) string {
	now := s.nowFn()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(now.UnixNano())), 0)
	token := ulid.MustNew(ulid.Timestamp(now), entropy).String()

	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.entries[token] = entry{
		data:        buf,
		contentType: contentType,
		expiresAt:   now.Add(s.ttl),
	}
	s.mu.Unlock()
	return token
}

// Get returns the payload for a token. Expired or unknown tokens
// return ErrBlobNotFound; an expired entry is removed on access.
func (s *Store) Get(token string) ([]byte, string, error) {
	s.mu.RLock()
	e, ok := s.entries[token]
	s.mu.RUnlock()

	if !ok {
		return nil, "", domain.ErrBlobNotFound
	}
	if s.nowFn().After(e.expiresAt) {
		s.Delete(token)
		return nil, "", domain.ErrBlobNotFound
	}
	return e.data, e.contentType, nil
}

// Delete removes a token. Idempotent.
func (s *Store) Delete(token string) {
	s.mu.Lock()
	delete(s.entries, token)
	s.mu.Unlock()
}

// Len returns the number of live entries, counting any not yet swept.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the janitor. Idempotent.
func (s *Store) Close() {
	s.once.Do(func() { close(s.closeCh) })
}

func (s *Store) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closeCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := s.nowFn()
	s.mu.Lock()
	for token, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, token)
		}
	}
	s.mu.Unlock()
}
