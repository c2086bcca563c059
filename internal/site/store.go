package site

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/starford/marksite/internal/logfields"
)

// Store publishes index generations. Readers call Load and keep the
// returned snapshot for the duration of one request or job.
type Store struct {
	scanner *Scanner
	logger  *slog.Logger

	mu      sync.Mutex
	gen     uint64
	current atomic.Pointer[Index]
}

// NewStore returns a store holding an empty generation-zero index.
func NewStore(scanner *Scanner, logger *slog.Logger) *Store {
	s := &Store{scanner: scanner, logger: logger}
	s.current.Store(Empty(scanner.Root(), scanner.Rules()))
	return s
}

// Load returns the current snapshot. It never returns nil.
func (s *Store) Load() *Index {
	return s.current.Load()
}

// Rescan builds a fresh index off to the side and swaps it in. Concurrent
// rescans are serialized; readers are never blocked.
func (s *Store) Rescan(ctx context.Context) (*Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	s.gen++
	idx.Generation = s.gen
	s.current.Store(idx)
	s.logger.Info("site: index published",
		logfields.Generation(idx.Generation),
		logfields.Count(len(idx.Files)))
	return idx, nil
}
