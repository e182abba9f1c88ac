package memory

import (
	"context"
	"testing"
	"time"

	"github.com/tjfontaine/twin-gateway/internal/domain"
	"github.com/tjfontaine/twin-gateway/internal/storage"
)

func TestMemoryStore_AppendAssignsIDs(t *testing.T) {
	store := New()

	a := &domain.AuditRecord{UserInstruction: "重置", Status: domain.AuditSuccess}
	b := &domain.AuditRecord{UserInstruction: "放大", Status: domain.AuditSuccess}
	for _, r := range []*domain.AuditRecord{a, b} {
		if err := store.Append(context.Background(), r); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	if a.ID != 1 || b.ID != 2 {
		t.Errorf("IDs = %d,%d, want 1,2", a.ID, b.ID)
	}
	if a.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	if store.Len() != 2 {
		t.Errorf("Len() = %d, want 2", store.Len())
	}
}

func TestMemoryStore_Queries(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	records := []*domain.AuditRecord{
		{OperationType: "rotate", Status: domain.AuditSuccess, CreatedAt: base},
		{OperationType: "focus", TargetComponent: "pump", Status: domain.AuditSuccess, CreatedAt: base.Add(time.Minute)},
		{Status: domain.AuditFailed, CreatedAt: base.Add(2 * time.Minute)},
		{OperationType: "focus", TargetComponent: "valve", Status: domain.AuditSuccess, CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, r := range records {
		store.Append(ctx, r)
	}

	tests := []struct {
		name string
		list func() ([]*domain.AuditRecord, error)
		want []int64
	}{
		{"by operation", func() ([]*domain.AuditRecord, error) {
			return store.ListByOperationType(ctx, "focus", storage.ListOptions{})
		}, []int64{4, 2}},
		{"by target", func() ([]*domain.AuditRecord, error) {
			return store.ListByTargetComponent(ctx, "pump", storage.ListOptions{})
		}, []int64{2}},
		{"failed", func() ([]*domain.AuditRecord, error) {
			return store.ListFailed(ctx, storage.ListOptions{})
		}, []int64{3}},
		{"time range", func() ([]*domain.AuditRecord, error) {
			return store.ListByTimeRange(ctx, base, base.Add(2*time.Minute), storage.ListOptions{})
		}, []int64{3, 2, 1}},
		{"paginated", func() ([]*domain.AuditRecord, error) {
			return store.ListByTimeRange(ctx, base, base.Add(time.Hour), storage.ListOptions{Limit: 2, Offset: 1})
		}, []int64{3, 2}},
		{"offset past end", func() ([]*domain.AuditRecord, error) {
			return store.ListFailed(ctx, storage.ListOptions{Offset: 10})
		}, []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.list()
			if err != nil {
				t.Fatalf("list error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i, r := range got {
				if r.ID != tt.want[i] {
					t.Errorf("got[%d].ID = %d, want %d", i, r.ID, tt.want[i])
				}
			}
		})
	}
}

func TestMemoryStore_Stats(t *testing.T) {
	store := New()
	ctx := context.Background()
	store.Append(ctx, &domain.AuditRecord{OperationType: "zoom", Status: domain.AuditSuccess, ResponseTimeMillis: 40})
	store.Append(ctx, &domain.AuditRecord{Status: domain.AuditFailed, ResponseTimeMillis: 20})

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 2 || stats.Succeeded != 1 || stats.Failed != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
	if stats.AvgResponseTime != 30 {
		t.Errorf("AvgResponseTime = %v, want 30", stats.AvgResponseTime)
	}
	if stats.ByOperation["zoom"] != 1 {
		t.Errorf("ByOperation = %v", stats.ByOperation)
	}
}
