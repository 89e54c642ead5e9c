package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Runs() RunStore
}

// RunStore keeps the history of reconciliation passes.
type RunStore interface {
	// Record stores a finished run, evicting the oldest runs beyond the
	// configured history size.
	Record(ctx context.Context, run Run) error
	// Latest returns the most recently started run, or ErrNotFound.
	Latest(ctx context.Context) (*Run, error)
	// List returns up to limit runs, newest first. A limit <= 0 returns all.
	List(ctx context.Context, limit int) ([]Run, error)
}
