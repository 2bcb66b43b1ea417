package domain

import (
	"context"
	"time"
)

// AuditStore records operational events in an append-only log, outside the
// ledger transaction.
type AuditStore interface {
	Log(ctx context.Context, action string, detail map[string]any) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Action    string         `json:"action"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
