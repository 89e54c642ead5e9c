package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/goodtune/shibasync/internal/storage"
)

// DefaultHistorySize is used when no history size is configured
const DefaultHistorySize = 50

// Store keeps run history in process memory. History is lost on restart.
type Store struct {
	mu          sync.RWMutex
	runs        []storage.Run // oldest first
	historySize int
}

// New creates an in-memory store holding at most historySize runs
func New(historySize int) *Store {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Store{historySize: historySize}
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

// Runs returns the RunStore implementation
func (s *Store) Runs() storage.RunStore {
	return s
}

// Record stores a run, replacing any run with the same id
func (s *Store) Record(ctx context.Context, run storage.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			s.runs = append(s.runs[:i], s.runs[i+1:]...)
			break
		}
	}

	s.runs = append(s.runs, run)
	sort.SliceStable(s.runs, func(i, j int) bool {
		return s.runs[i].StartedAt.Before(s.runs[j].StartedAt)
	})

	if excess := len(s.runs) - s.historySize; excess > 0 {
		s.runs = append([]storage.Run(nil), s.runs[excess:]...)
	}
	return nil
}

// Latest returns the most recently started run
func (s *Store) Latest(ctx context.Context) (*storage.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.runs) == 0 {
		return nil, storage.ErrNotFound
	}
	run := s.runs[len(s.runs)-1]
	return &run, nil
}

// List returns up to limit runs, newest first
func (s *Store) List(ctx context.Context, limit int) ([]storage.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.runs)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]storage.Run, 0, n)
	for i := len(s.runs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.runs[i])
	}
	return out, nil
}
