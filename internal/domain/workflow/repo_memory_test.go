package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryRepo_ListByPatient(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		s := &Submission{PatientID: "p1", Kind: KindEntry, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.ID == uuid.Nil {
			t.Error("expected id assigned")
		}
	}
	repo.Create(ctx, &Submission{PatientID: "p2", Kind: KindConfirm})

	items, total, err := repo.ListByPatient(ctx, "p1", 2, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if !items[0].CreatedAt.Equal(base.Add(3 * time.Hour)) {
		t.Errorf("expected newest-first paging, got %v", items[0].CreatedAt)
	}

	items, total, _ = repo.ListByPatient(ctx, "p1", 10, 10)
	if total != 5 || len(items) != 0 {
		t.Errorf("expected empty page past the end, got %d items of %d", len(items), total)
	}
}
