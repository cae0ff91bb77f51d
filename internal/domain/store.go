package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit      int
	Offset     int
	Collection string
	Since      *time.Time
	Until      *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID         int64          `json:"id"`
	Event      string         `json:"event"`
	Collection string         `json:"collection"`
	TokenID    string         `json:"token_id,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AuditStore persists an append-only log of engine actions.
type AuditStore interface {
	Log(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
