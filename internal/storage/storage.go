// Package storage defines persistence for the request audit log.
package storage

import (
	"context"
	"time"

	"github.com/tjfontaine/twin-gateway/internal/domain"
)

// DefaultListLimit caps list queries that do not set a limit.
const DefaultListLimit = 100

// ListOptions paginates list queries. Results are newest first.
type ListOptions struct {
	Limit  int
	Offset int
}

// Normalize applies the default limit.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// AuditStats summarizes the audit log.
type AuditStats struct {
	Total           int            `json:"total"`
	Succeeded       int            `json:"succeeded"`
	Failed          int            `json:"failed"`
	AvgResponseTime float64        `json:"avgResponseTimeMs"`
	ByOperation     map[string]int `json:"byOperation"`
}

// AuditStore appends and queries audit records.
type AuditStore interface {
	// Append stores rec and assigns its ID. A zero CreatedAt is set to now.
	Append(ctx context.Context, rec *domain.AuditRecord) error

	// ListByTimeRange returns records created in [from, to].
	ListByTimeRange(ctx context.Context, from, to time.Time, opts ListOptions) ([]*domain.AuditRecord, error)

	ListByOperationType(ctx context.Context, operationType string, opts ListOptions) ([]*domain.AuditRecord, error)
	ListByTargetComponent(ctx context.Context, target string, opts ListOptions) ([]*domain.AuditRecord, error)
	ListFailed(ctx context.Context, opts ListOptions) ([]*domain.AuditRecord, error)

	Stats(ctx context.Context) (*AuditStats, error)

	Close() error
}
