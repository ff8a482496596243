package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/caregap/internal/domain/workflow"
)

func TestMigrator_UpIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := createSchema(t, ctx, uniqueSchema("mig"))

	count, err := m.Up(ctx)
	if err != nil {
		t.Fatalf("second Up: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 migrations on second run, got %d", count)
	}

	statuses, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(statuses) == 0 {
		t.Fatal("expected at least one migration")
	}
	for _, s := range statuses {
		if !s.Applied || s.AppliedAt == nil {
			t.Errorf("expected %s applied, got %+v", s.Name, s)
		}
	}
}

func TestSubmissionLogCRUD(t *testing.T) {
	ctx := context.Background()
	schema := uniqueSchema("sub")
	createSchema(t, ctx, schema)
	repo := workflow.NewRepo(globalDB.Pool)

	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	t.Run("Create", func(t *testing.T) {
		err := inSchema(ctx, schema, func(ctx context.Context) error {
			for i, kind := range []string{workflow.KindConfirm, workflow.KindEntry, workflow.KindEncounter} {
				s := &workflow.Submission{
					SessionID:    "sess-1",
					PatientID:    "p1",
					Kind:         kind,
					ResourceType: "Observation",
					ResourceID:   "obs-" + kind,
					Success:      true,
					SubmittedBy:  "dev-physician",
					CreatedAt:    base.Add(time.Duration(i) * time.Hour),
				}
				if err := repo.Create(ctx, s); err != nil {
					return err
				}
				if s.ID == uuid.Nil {
					t.Error("expected id assigned")
				}
			}
			return repo.Create(ctx, &workflow.Submission{
				SessionID: "sess-2", PatientID: "p2", Kind: workflow.KindEntry,
				ResourceType: "Observation", Error: "status 500",
			})
		})
		if err != nil {
			t.Fatalf("create submissions: %v", err)
		}
	})

	t.Run("ListByPatient", func(t *testing.T) {
		err := inSchema(ctx, schema, func(ctx context.Context) error {
			items, total, err := repo.ListByPatient(ctx, "p1", 2, 0)
			if err != nil {
				return err
			}
			if total != 3 {
				t.Errorf("expected total 3, got %d", total)
			}
			if len(items) != 2 {
				t.Fatalf("expected 2 items, got %d", len(items))
			}
			if items[0].Kind != workflow.KindEncounter {
				t.Errorf("expected newest first, got %s", items[0].Kind)
			}
			if items[0].SubmittedBy != "dev-physician" || items[0].Error != "" {
				t.Errorf("unexpected nullable columns %+v", items[0])
			}

			failed, _, err := repo.ListByPatient(ctx, "p2", 10, 0)
			if err != nil {
				return err
			}
			if len(failed) != 1 || failed[0].Success || failed[0].Error != "status 500" || failed[0].ResourceID != "" {
				t.Errorf("unexpected failed submission %+v", failed)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("list submissions: %v", err)
		}
	})

	t.Run("RollbackDiscardsWrites", func(t *testing.T) {
		errAbort := errors.New("abort")
		err := inSchema(ctx, schema, func(ctx context.Context) error {
			if err := repo.Create(ctx, &workflow.Submission{
				SessionID: "sess-3", PatientID: "p3", Kind: workflow.KindEntry, ResourceType: "Observation",
			}); err != nil {
				return err
			}
			return errAbort
		})
		if !errors.Is(err, errAbort) {
			t.Fatalf("expected abort error, got %v", err)
		}

		err = inSchema(ctx, schema, func(ctx context.Context) error {
			_, total, err := repo.ListByPatient(ctx, "p3", 10, 0)
			if err != nil {
				return err
			}
			if total != 0 {
				t.Errorf("expected rolled back insert, got %d rows", total)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("list after rollback: %v", err)
		}
	})
}
