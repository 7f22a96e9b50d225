package dedupe

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with an in-process map. Suitable for
// single-node deployments and tests; records do not survive restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryEntry
	ttl     time.Duration
	closed  bool
	stop    chan struct{}
}

type memoryEntry struct {
	rec       *Record
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory store. A ttl of zero keeps records
// until the store is closed.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]memoryEntry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	if ttl > 0 {
		go s.sweep()
	}
	return s
}

// sweep evicts expired records periodically.
func (s *MemoryStore) sweep() {
	interval := s.ttl
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for id, entry := range s.records {
				if now.After(entry.expiresAt) {
					delete(s.records, id)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Check retrieves the record for an envelope ID.
func (s *MemoryStore) Check(ctx context.Context, envelopeID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	entry, ok := s.records[envelopeID]
	if !ok {
		return nil, ErrNotSeen
	}
	if s.ttl > 0 && time.Now().After(entry.expiresAt) {
		return nil, ErrNotSeen
	}

	return entry.rec, nil
}

// Mark stores the record for an envelope ID.
func (s *MemoryStore) Mark(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	entry := memoryEntry{rec: rec}
	if s.ttl > 0 {
		entry.expiresAt = time.Now().Add(s.ttl)
	}
	s.records[rec.EnvelopeID] = entry
	return nil
}

// Ping reports whether the store is usable.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close releases the store and stops the sweeper.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stop)
	s.records = nil
	return nil
}

// Size returns the number of live records. Used by tests and metrics.
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
