package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/tjfontaine/twin-gateway/internal/domain"
	"github.com/tjfontaine/twin-gateway/internal/storage"
)

// Store is an in-memory implementation of storage.AuditStore.
type Store struct {
	mu      sync.RWMutex
	nextID  int64
	records []*domain.AuditRecord
}

var _ storage.AuditStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{}
}

func (s *Store) Append(ctx context.Context, rec *domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.nextID++
	rec.ID = s.nextID

	stored := *rec
	s.records = append(s.records, &stored)
	return nil
}

func (s *Store) filter(opts storage.ListOptions, keep func(*domain.AuditRecord) bool) []*domain.AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*domain.AuditRecord{}
	for _, r := range s.records {
		if keep(r) {
			c := *r
			result = append(result, &c)
		}
	}

	slices.SortStableFunc(result, func(a, b *domain.AuditRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})

	opts = opts.Normalize()
	start := opts.Offset
	if start >= len(result) {
		return []*domain.AuditRecord{}
	}
	end := min(start+opts.Limit, len(result))
	return result[start:end]
}

func (s *Store) ListByTimeRange(ctx context.Context, from, to time.Time, opts storage.ListOptions) ([]*domain.AuditRecord, error) {
	return s.filter(opts, func(r *domain.AuditRecord) bool {
		return !r.CreatedAt.Before(from) && !r.CreatedAt.After(to)
	}), nil
}

func (s *Store) ListByOperationType(ctx context.Context, operationType string, opts storage.ListOptions) ([]*domain.AuditRecord, error) {
	return s.filter(opts, func(r *domain.AuditRecord) bool {
		return r.OperationType == operationType
	}), nil
}

func (s *Store) ListByTargetComponent(ctx context.Context, target string, opts storage.ListOptions) ([]*domain.AuditRecord, error) {
	return s.filter(opts, func(r *domain.AuditRecord) bool {
		return r.TargetComponent == target
	}), nil
}

func (s *Store) ListFailed(ctx context.Context, opts storage.ListOptions) ([]*domain.AuditRecord, error) {
	return s.filter(opts, func(r *domain.AuditRecord) bool {
		return r.Status == domain.AuditFailed
	}), nil
}

func (s *Store) Stats(ctx context.Context) (*storage.AuditStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.AuditStats{ByOperation: map[string]int{}}
	var totalTime int64
	for _, r := range s.records {
		stats.Total++
		totalTime += r.ResponseTimeMillis
		if r.Status == domain.AuditSuccess {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
		if r.OperationType != "" {
			stats.ByOperation[r.OperationType]++
		}
	}
	if stats.Total > 0 {
		stats.AvgResponseTime = float64(totalTime) / float64(stats.Total)
	}
	return stats, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) Close() error {
	return nil
}
