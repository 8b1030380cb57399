// Package store holds the QueryRecord registries behind port.RecordStore.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/guillermoBallester/agentproxy/internal/core/domain"
)

// MemoryStore keeps records in a map guarded by a single RWMutex. Records
// are copied in and out. Nothing is ever evicted.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.QueryRecord
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]domain.QueryRecord),
		now:     time.Now,
	}
}

func (s *MemoryStore) Insert(_ context.Context, rec domain.QueryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateID, rec.ID)
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (domain.QueryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return domain.QueryRecord{}, fmt.Errorf("query %s: %w", id, domain.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status domain.RecordStatus, rowsAffected int64) (domain.QueryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return domain.QueryRecord{}, fmt.Errorf("query %s: %w", id, domain.ErrNotFound)
	}
	if err := applyStatus(&rec, status, rowsAffected, s.now()); err != nil {
		return domain.QueryRecord{}, err
	}
	s.records[id] = rec
	return rec.Clone(), nil
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// applyStatus performs the transition on rec in place.
func applyStatus(rec *domain.QueryRecord, status domain.RecordStatus, rowsAffected int64, now time.Time) error {
	if !rec.Status.CanTransition(status) {
		if rec.Status == domain.StatusCommitted {
			return fmt.Errorf("query %s: %w", rec.ID, domain.ErrAlreadyCommitted)
		}
		return fmt.Errorf("query %s: %w: %s -> %s", rec.ID, domain.ErrInvalidTransition, rec.Status, status)
	}
	rec.Status = status
	rec.RowsAffected = rowsAffected
	if status == domain.StatusCommitted {
		t := now.UTC()
		rec.CommittedAt = &t
	}
	return nil
}
