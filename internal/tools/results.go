package tools

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultResultTTL is how long a stored result stays retrievable.
const DefaultResultTTL = 30 * time.Minute

// sweepEvery is the number of Puts between full expiry sweeps. Get
// already removes the entries it finds expired; the sweep catches ids
// nobody asks for again.
const sweepEvery = 64

// StoredResult is a large tool payload parked outside the model
// context.
type StoredResult struct {
	ID        string
	Data      any
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ResultStore keeps large tool outputs keyed by id so the model can be
// handed a short reference instead of the payload. Its keyspace is
// independent of the page cache. Safe for concurrent use.
type ResultStore struct {
	mu      sync.Mutex
	entries map[string]*StoredResult
	ttl     time.Duration
	puts    int
	now     func() time.Time
	logger  *slog.Logger
}

// NewResultStore creates a store whose entries live for ttl (ttl <= 0
// uses DefaultResultTTL).
func NewResultStore(ttl time.Duration, logger *slog.Logger) *ResultStore {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultStore{
		entries: make(map[string]*StoredResult),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.With("component", "results"),
	}
}

// Put stores data under a new unique id using the default TTL.
func (s *ResultStore) Put(data any) string {
	return s.PutWithTTL(data, s.ttl)
}

// PutWithTTL stores data with its own lifetime.
func (s *ResultStore) PutWithTTL(data any, ttl time.Duration) string {
	if ttl <= 0 {
		ttl = s.ttl
	}
	id := newResultID()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.entries[id] = &StoredResult{
		ID:        id,
		Data:      data,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	s.puts++
	if s.puts%sweepEvery == 0 {
		s.sweepLocked(now)
	}
	return id
}

// Get returns the data stored under id. Absent and expired ids both
// yield ErrResultNotFound; an expired entry is removed.
func (s *ResultStore) Get(id string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrResultNotFound
	}
	if !s.now().Before(e.ExpiresAt) {
		delete(s.entries, id)
		return nil, ErrResultNotFound
	}
	return e.Data, nil
}

// Len returns the number of entries currently held, expired or not.
func (s *ResultStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *ResultStore) sweepLocked(now time.Time) {
	removed := 0
	for id, e := range s.entries {
		if !now.Before(e.ExpiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("expired results swept", "removed", removed, "remaining", len(s.entries))
	}
}

func newResultID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
