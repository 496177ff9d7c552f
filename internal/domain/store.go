package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ReceiptEntry is a persisted ledger receipt.
type ReceiptEntry struct {
	ID        int64     `json:"id"`
	Receipt   Receipt   `json:"receipt"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReceiptStore journals every confirmed ledger mutation.
type ReceiptStore interface {
	Append(ctx context.Context, receipt Receipt) error
	List(ctx context.Context, opts ListOpts) ([]ReceiptEntry, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]ReceiptEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is an operational event such as an archive run.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditStore records operational events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
