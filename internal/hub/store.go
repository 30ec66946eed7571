package hub

import (
	"encoding/json"
	"sync"
	"time"
)

// Record is one instance-data envelope received from a publisher.
type Record struct {
	ID        int64           `json:"id"`
	PublicKey string          `json:"publicKey"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Store keeps received envelopes.
type Store interface {
	// Add stores a record and returns its ID.
	Add(rec Record) int64
	// List returns all records, newest first.
	List() []Record
	// ListFor returns the records of one instance, newest first.
	ListFor(publicKey string) []Record
	Clear()
	Count() int
}

// InMemoryStore implements Store with a bounded ring, newest first.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []Record
	nextID  int64
	maxSize int
}

// NewInMemoryStore creates a store holding at most maxSize records.
func NewInMemoryStore(maxSize int) *InMemoryStore {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &InMemoryStore{
		records: make([]Record, 0, maxSize),
		maxSize: maxSize,
	}
}

func (s *InMemoryStore) Add(rec Record) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = s.nextID
	s.nextID++
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	if len(s.records) >= s.maxSize {
		// drop oldest
		copy(s.records[1:], s.records[:len(s.records)-1])
		s.records[0] = rec
	} else {
		next := make([]Record, len(s.records)+1, s.maxSize)
		next[0] = rec
		copy(next[1:], s.records)
		s.records = next
	}

	return rec.ID
}

func (s *InMemoryStore) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Record, len(s.records))
	copy(result, s.records)
	return result
}

func (s *InMemoryStore) ListFor(publicKey string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Record, 0)
	for _, r := range s.records {
		if r.PublicKey == publicKey {
			result = append(result, r)
		}
	}
	return result
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// nextID keeps counting so IDs stay unique
	s.records = s.records[:0]
}

func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
