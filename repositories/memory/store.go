// Package memory implements an in-process chunk store.
//
// Writes made through a transaction are staged per source and applied
// atomically on commit. A transaction that locks a source holds that lock
// until it commits or rolls back.
package memory

import (
	"context"
	"sync"

	"github.com/tidexp/retrieval-engine/models"
	"github.com/tidexp/retrieval-engine/repositories"
	"go.uber.org/zap"
)

// Store is an in-memory repositories.Store
type Store struct {
	mu      sync.RWMutex
	sources map[string][]*models.Chunk // committed chunks ordered by chunk index

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	chunks repositories.ChunkRepository
	logger *zap.Logger
}

// NewStore creates an empty store
func NewStore(logger *zap.Logger) *Store {
	s := &Store{
		sources: make(map[string][]*models.Chunk),
		locks:   make(map[string]chan struct{}),
		logger:  logger,
	}
	s.chunks = &chunkRepository{store: s}
	return s
}

// Chunks returns the chunk repository
func (s *Store) Chunks() repositories.ChunkRepository {
	return s.chunks
}

// TransactionManager returns the transaction manager
func (s *Store) TransactionManager() repositories.TransactionManager {
	return &transactionManager{store: s}
}

// HealthCheck always succeeds while ctx is live
func (s *Store) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

// committed returns the committed chunks of a source. Callers must not mutate the slice.
func (s *Store) committed(sourceID string) []*models.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sources[sourceID]
}

// apply replaces the chunk sets of the given sources in one step
func (s *Store) apply(changes map[string][]*models.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sourceID, rows := range changes {
		if len(rows) == 0 {
			delete(s.sources, sourceID)
			continue
		}
		s.sources[sourceID] = rows
	}
}

// lockSource acquires the per-source lock, honoring ctx cancellation
func (s *Store) lockSource(ctx context.Context, sourceID string) error {
	s.locksMu.Lock()
	ch, ok := s.locks[sourceID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[sourceID] = ch
	}
	s.locksMu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) unlockSource(sourceID string) {
	s.locksMu.Lock()
	ch := s.locks[sourceID]
	s.locksMu.Unlock()
	<-ch
}
