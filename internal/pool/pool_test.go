package pool

import (
	"context"
	"testing"
	"time"

	"tagsci/internal/apperr"
	"tagsci/internal/directory"
	"tagsci/internal/identity"
	"tagsci/internal/model"
)

func newFixture(t *testing.T) (*Service, *directory.Memory, model.Student) {
	t.Helper()
	dir := directory.NewMemory()
	student := model.Student{
		FullName:   "Maria Santos",
		GradeLevel: "11",
		Strand:     "HUMSS",
		Section:    "B",
		LRN:        "111122223333",
	}
	id, err := dir.CreateStudent(context.Background(), student)
	if err != nil {
		t.Fatalf("CreateStudent failed: %v", err)
	}
	student.ID = id

	clock := func() time.Time { return time.Date(2025, 9, 1, 7, 30, 0, 0, time.UTC) }
	svc := NewService(dir, identity.NewResolver(dir), clock)
	return svc, dir, student
}

func TestAddToPoolComputesCompositeClassID(t *testing.T) {
	svc, dir, student := newFixture(t)

	res, err := svc.AddToPool(context.Background(), student.LRN, "scanner-1")
	if err != nil {
		t.Fatalf("AddToPool failed: %v", err)
	}
	if res.PoolID == "" {
		t.Error("expected pool id")
	}

	entries, err := dir.ListDailyPool(context.Background(), "11 HUMSS - B", "2025-09-01")
	if err != nil {
		t.Fatalf("ListDailyPool failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 pool entry, got %d", len(entries))
	}
	e := entries[0]
	if e.StudentID != student.ID {
		t.Errorf("pool entry student %q, want %q", e.StudentID, student.ID)
	}
	if e.Status != model.PoolStatusActive {
		t.Errorf("pool entry status %q, want ACTIVE", e.Status)
	}
	if e.ScannedBy != "scanner-1" {
		t.Errorf("scanned by %q, want scanner-1", e.ScannedBy)
	}
}

func TestAddToPoolRejectsSecondScanSameDay(t *testing.T) {
	svc, _, student := newFixture(t)

	if _, err := svc.AddToPool(context.Background(), student.LRN, "scanner-1"); err != nil {
		t.Fatalf("first scan failed: %v", err)
	}
	_, err := svc.AddToPool(context.Background(), student.LRN, "scanner-2")
	if !apperr.Is(err, apperr.AlreadyInPool) {
		t.Errorf("expected ALREADY_IN_POOL, got %v", err)
	}
}

func TestAddToPoolUnknownStudent(t *testing.T) {
	svc, _, _ := newFixture(t)

	_, err := svc.AddToPool(context.Background(), "000000000000", "scanner-1")
	if !apperr.Is(err, apperr.IdentityNotFound) {
		t.Errorf("expected IDENTITY_NOT_FOUND, got %v", err)
	}
}

func TestTodayCount(t *testing.T) {
	svc, _, student := newFixture(t)

	if _, err := svc.AddToPool(context.Background(), student.LRN, "scanner-1"); err != nil {
		t.Fatalf("AddToPool failed: %v", err)
	}
	n, err := svc.TodayCount(context.Background())
	if err != nil {
		t.Fatalf("TodayCount failed: %v", err)
	}
	if n != 1 {
		t.Errorf("today count %d, want 1", n)
	}
}
