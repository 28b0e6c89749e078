package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ProcessedStore remembers task keys that completed, so a redelivered event
// does not call a collaborator twice.
type ProcessedStore interface {
	AlreadyProcessed(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, key string) (bool, error)
}

type MemoryProcessedStore struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewMemoryProcessedStore() *MemoryProcessedStore {
	return &MemoryProcessedStore{keys: make(map[string]struct{})}
}

func (s *MemoryProcessedStore) AlreadyProcessed(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok, nil
}

func (s *MemoryProcessedStore) MarkProcessed(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false, nil
	}
	s.keys[key] = struct{}{}
	return true, nil
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgProcessedStore keeps processed keys in processed_dispatches.
type PgProcessedStore struct {
	db rowQuerier
}

func NewPgProcessedStore(db rowQuerier) *PgProcessedStore {
	if db == nil {
		panic("dispatch: db required")
	}
	return &PgProcessedStore{db: db}
}

func (s *PgProcessedStore) AlreadyProcessed(ctx context.Context, key string) (bool, error) {
	var exists int
	err := s.db.QueryRow(ctx, `SELECT 1 FROM processed_dispatches WHERE task_key = $1`, key).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("dispatch: check processed: %w", err)
	}
	return true, nil
}

// MarkProcessed returns false if the key was already recorded.
func (s *PgProcessedStore) MarkProcessed(ctx context.Context, key string) (bool, error) {
	ct, err := s.db.Exec(ctx, `
		INSERT INTO processed_dispatches (task_key)
		VALUES ($1)
		ON CONFLICT DO NOTHING
	`, key)
	if err != nil {
		return false, fmt.Errorf("dispatch: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
