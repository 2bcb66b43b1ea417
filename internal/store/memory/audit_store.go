package memory

import (
	"context"
	"sync"
	"time"

	"github.com/bitbondlabs/bitbondd/internal/domain"
)

// AuditStore is an in-memory domain.AuditStore for dev mode and tests.
type AuditStore struct {
	mu      sync.Mutex
	nextID  int64
	entries []domain.AuditEntry
}

// NewAuditStore returns an empty in-memory audit log.
func NewAuditStore() *AuditStore {
	return &AuditStore{nextID: 1}
}

// Log appends an entry.
func (s *AuditStore) Log(ctx context.Context, action string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        s.nextID,
		Action:    action,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	s.nextID++
	return nil
}

// List returns the most recent entries, newest first.
func (s *AuditStore) List(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}
	out := make([]domain.AuditEntry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}
