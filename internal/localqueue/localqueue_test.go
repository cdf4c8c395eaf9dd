package localqueue

import (
	"context"
	"testing"
	"time"

	"tagsci/internal/apperr"
	"tagsci/internal/model"
)

func openQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func entry(studentID, date string, capturedAt time.Time) model.LocalQueueEntry {
	return model.LocalQueueEntry{
		StudentID:  studentID,
		FullName:   "Student " + studentID,
		GradeLevel: "12",
		Strand:     "STEM",
		Section:    "A",
		LRN:        "LRN-" + studentID,
		Timestamp:  capturedAt,
		Date:       date,
		ScannedBy:  "scanner-1",
	}
}

func TestEnqueueRejectsDuplicateCapture(t *testing.T) {
	q := openQueue(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := q.Enqueue(ctx, entry("s1", "2025-09-01", now)); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	_, err := q.Enqueue(ctx, entry("s1", "2025-09-01", now.Add(time.Minute)))
	if !apperr.Is(err, apperr.DuplicateCapture) {
		t.Errorf("expected DUPLICATE_CAPTURE, got %v", err)
	}

	// Same student on another day is a fresh capture.
	if _, err := q.Enqueue(ctx, entry("s1", "2025-09-02", now.Add(24*time.Hour))); err != nil {
		t.Errorf("next-day enqueue failed: %v", err)
	}
}

func TestDuplicateCaptureAppliesAfterSync(t *testing.T) {
	q := openQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, entry("s1", "2025-09-01", time.Now()))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := q.MarkSynced(ctx, id, "remote-1"); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}
	// Synced entries still count toward duplicate detection.
	_, err = q.Enqueue(ctx, entry("s1", "2025-09-01", time.Now()))
	if !apperr.Is(err, apperr.DuplicateCapture) {
		t.Errorf("expected DUPLICATE_CAPTURE after sync, got %v", err)
	}
}

func TestListUnsyncedOldestFirst(t *testing.T) {
	q := openQueue(t)
	ctx := context.Background()
	base := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)

	// Insert out of capture order.
	for _, e := range []model.LocalQueueEntry{
		entry("s2", "2025-09-01", base.Add(10*time.Minute)),
		entry("s1", "2025-09-01", base),
		entry("s3", "2025-09-01", base.Add(20*time.Minute)),
	} {
		if _, err := q.Enqueue(ctx, e); err != nil {
			t.Fatalf("enqueue %s failed: %v", e.StudentID, err)
		}
	}

	got, err := q.ListUnsynced(ctx)
	if err != nil {
		t.Fatalf("ListUnsynced failed: %v", err)
	}
	want := []string{"s1", "s2", "s3"}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i, e := range got {
		if e.StudentID != want[i] {
			t.Errorf("position %d: got %s, want %s", i, e.StudentID, want[i])
		}
		if e.Synced {
			t.Errorf("entry %s should be unsynced", e.StudentID)
		}
	}
}

func TestMarkSyncedIsIdempotent(t *testing.T) {
	q := openQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, entry("s1", "2025-09-01", time.Now()))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := q.MarkSynced(ctx, id, "remote-1"); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}
	// Second call must not overwrite the remote id or error.
	if err := q.MarkSynced(ctx, id, "remote-2"); err != nil {
		t.Fatalf("repeat MarkSynced failed: %v", err)
	}

	all, err := q.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if !all[0].Synced {
		t.Error("entry should be synced")
	}
	if all[0].RemoteID != "remote-1" {
		t.Errorf("remote id %q, want remote-1", all[0].RemoteID)
	}

	unsynced, _ := q.ListUnsynced(ctx)
	if len(unsynced) != 0 {
		t.Errorf("expected no unsynced entries, got %d", len(unsynced))
	}
}

func TestListTodayAndClear(t *testing.T) {
	q := openQueue(t)
	ctx := context.Background()
	now := time.Now()

	q.Enqueue(ctx, entry("s1", "2025-09-01", now))
	q.Enqueue(ctx, entry("s2", "2025-09-02", now.Add(time.Hour)))

	today, err := q.ListToday(ctx, "2025-09-02")
	if err != nil {
		t.Fatalf("ListToday failed: %v", err)
	}
	if len(today) != 1 || today[0].StudentID != "s2" {
		t.Errorf("ListToday returned %+v, want just s2", today)
	}

	n, err := q.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if n != 2 {
		t.Errorf("pending count %d, want 2", n)
	}

	if err := q.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	all, _ := q.ListAll(ctx)
	if len(all) != 0 {
		t.Errorf("expected empty queue after clear, got %d", len(all))
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	q, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := q.Enqueue(ctx, entry("s1", "2025-09-01", time.Now())); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	q.Close()

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	pending, err := reopened.ListUnsynced(ctx)
	if err != nil {
		t.Fatalf("ListUnsynced after reopen failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("expected capture to survive reopen, got %d entries", len(pending))
	}
}

func TestStudentCache(t *testing.T) {
	q := openQueue(t)
	ctx := context.Background()
	now := time.Now()

	students := []model.Student{
		{ID: "stu-1", FullName: "Fresh", GradeLevel: "12", Strand: "STEM", Section: "A", LRN: "111", TokenPayload: `{"lrnNumber":"111"}`},
		{ID: "stu-2", FullName: "Stale", GradeLevel: "11", Strand: "ABM", Section: "C", LRN: "222"},
	}
	if err := q.CacheStudents(ctx, students[:1], now); err != nil {
		t.Fatalf("CacheStudents failed: %v", err)
	}
	if err := q.CacheStudents(ctx, students[1:], now.Add(-8*24*time.Hour)); err != nil {
		t.Fatalf("CacheStudents (stale) failed: %v", err)
	}

	byLRN, err := q.CachedStudentByLRN(ctx, "111")
	if err != nil {
		t.Fatalf("CachedStudentByLRN failed: %v", err)
	}
	if byLRN == nil || byLRN.FullName != "Fresh" {
		t.Errorf("lookup by LRN got %+v", byLRN)
	}

	byToken, err := q.CachedStudentByToken(ctx, `{"lrnNumber":"111"}`)
	if err != nil {
		t.Fatalf("CachedStudentByToken failed: %v", err)
	}
	if byToken == nil || byToken.ID != "stu-1" {
		t.Errorf("lookup by token got %+v", byToken)
	}

	purged, err := q.PurgeStaleCache(ctx, now)
	if err != nil {
		t.Fatalf("PurgeStaleCache failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged %d rows, want 1", purged)
	}
	if gone, _ := q.CachedStudentByLRN(ctx, "222"); gone != nil {
		t.Error("stale cache row should be gone")
	}
}
