package session

import (
	"context"
	"testing"
	"time"

	"tagsci/internal/apperr"
	"tagsci/internal/directory"
	"tagsci/internal/identity"
	"tagsci/internal/model"
)

type fixture struct {
	svc  *Service
	dir  *directory.Memory
	now  time.Time
	loc  *time.Location
	user string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := directory.NewMemory()
	// Monday 2025-09-01, 08:20 local.
	now := time.Date(2025, 9, 1, 8, 20, 0, 0, time.UTC)
	svc := NewService(dir, identity.NewResolver(dir), func() time.Time { return now }, time.UTC)
	return &fixture{svc: svc, dir: dir, now: now, loc: time.UTC, user: "teacher-1"}
}

func (f *fixture) addStudent(t *testing.T, name, lrn string) model.Student {
	t.Helper()
	s := model.Student{FullName: name, GradeLevel: "12", Strand: "STEM", Section: "A", LRN: lrn}
	id, err := f.dir.CreateStudent(context.Background(), s)
	if err != nil {
		t.Fatalf("CreateStudent failed: %v", err)
	}
	s.ID = id
	return s
}

func (f *fixture) addToPool(t *testing.T, s model.Student, scanTime time.Time) {
	t.Helper()
	_, err := f.dir.InsertDailyPoolEntry(context.Background(), model.DailyPoolEntry{
		StudentID:     s.ID,
		ClassID:       s.ClassID(),
		Date:          "2025-09-01",
		FirstScanTime: scanTime,
		Status:        model.PoolStatusActive,
		ScannedBy:     "scanner-1",
	})
	if err != nil {
		t.Fatalf("InsertDailyPoolEntry failed: %v", err)
	}
}

func (f *fixture) addTimetable(t *testing.T, classID, subjectID, start string) {
	t.Helper()
	_, err := f.dir.CreateTimetableEntry(context.Background(), model.TimetableEntry{
		ClassID:     classID,
		SubjectID:   subjectID,
		SubjectName: "Mathematics",
		StartTime:   start,
		EndTime:     "09:00",
		DayOfWeek:   "Monday",
		CreatedBy:   f.user,
	})
	if err != nil {
		t.Fatalf("CreateTimetableEntry failed: %v", err)
	}
}

func TestCreateSessionRejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, "12 STEM - A", "MATH101", "08:00", "09:00", f.user); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	_, err := f.svc.Create(ctx, "12 STEM - A", "MATH101", "08:00", "09:00", f.user)
	if !apperr.Is(err, apperr.DuplicateSession) {
		t.Errorf("expected DUPLICATE_SESSION, got %v", err)
	}

	// A different subject the same day is fine.
	if _, err := f.svc.Create(ctx, "12 STEM - A", "SCI101", "09:00", "10:00", f.user); err != nil {
		t.Errorf("different subject should create: %v", err)
	}
}

func TestManualCloseIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Create(ctx, "12 STEM - A", "MATH101", "08:00", "09:00", f.user)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := f.svc.Close(ctx, id, f.user); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := f.svc.Close(ctx, id, f.user); !apperr.Is(err, apperr.SessionAlreadyClosed) {
		t.Errorf("expected SESSION_ALREADY_CLOSED, got %v", err)
	}

	sess, err := f.dir.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.Status != model.SessionClosed {
		t.Errorf("session status %s, want CLOSED", sess.Status)
	}
	if sess.LoginEndTime == nil {
		t.Error("expected login end time to be set")
	}
	if sess.VerifierID != f.user {
		t.Errorf("verifier %q, want %q", sess.VerifierID, f.user)
	}
}

func TestVerifyMasterkeyPromotesPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	early := f.addStudent(t, "Early Bird", "111111111111")
	onTime := f.addStudent(t, "On Time", "222222222222")
	late := f.addStudent(t, "Late Comer", "333333333333")

	day := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	f.addToPool(t, early, day.Add(7*time.Hour+50*time.Minute))   // 07:50, 10 early
	f.addToPool(t, onTime, day.Add(8*time.Hour+5*time.Minute))   // 08:05
	f.addToPool(t, late, day.Add(8*time.Hour+30*time.Minute))    // 08:30, 30 late
	f.addTimetable(t, "12 STEM - A", "MATH101", "08:00")

	sessID, err := f.svc.Create(ctx, "12 STEM - A", "MATH101", "08:00", "09:00", f.user)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	token, err := f.svc.IssueMasterkey(ctx, sessID)
	if err != nil {
		t.Fatalf("IssueMasterkey failed: %v", err)
	}

	res, err := f.svc.VerifyMasterkey(ctx, token, f.user)
	if err != nil {
		t.Fatalf("VerifyMasterkey failed: %v", err)
	}
	if res.VerifiedCount != 3 {
		t.Errorf("verified count %d, want 3", res.VerifiedCount)
	}
	if len(res.LogIDs) != 3 {
		t.Errorf("log ids %d, want 3", len(res.LogIDs))
	}

	want := map[string]model.ArrivalCategory{
		early.ID:  model.ArrivalEarly,
		onTime.ID: model.ArrivalPresent,
		late.ID:   model.ArrivalLate,
	}
	logs, err := f.dir.ListLogsBySession(ctx, sessID)
	if err != nil {
		t.Fatalf("ListLogsBySession failed: %v", err)
	}
	for _, l := range logs {
		if l.Status != model.LogVerified {
			t.Errorf("log for %s status %s, want VERIFIED", l.StudentID, l.Status)
		}
		if l.ArrivalCategory != want[l.StudentID] {
			t.Errorf("log for %s category %s, want %s", l.StudentID, l.ArrivalCategory, want[l.StudentID])
		}
		if l.FullName == "" {
			t.Errorf("log for %s missing identity snapshot", l.StudentID)
		}
	}

	sess, _ := f.dir.GetSession(ctx, sessID)
	if sess.Status != model.SessionClosed {
		t.Errorf("session status %s, want CLOSED", sess.Status)
	}
}

func TestVerifyMasterkeyIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.addStudent(t, "Solo Student", "444444444444")
	f.addToPool(t, s, f.now)
	sessID, err := f.svc.Create(ctx, "12 STEM - A", "MATH101", "08:00", "09:00", f.user)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	token, err := f.svc.IssueMasterkey(ctx, sessID)
	if err != nil {
		t.Fatalf("IssueMasterkey failed: %v", err)
	}

	first, err := f.svc.VerifyMasterkey(ctx, token, f.user)
	if err != nil {
		t.Fatalf("first verification failed: %v", err)
	}
	if first.VerifiedCount != 1 {
		t.Fatalf("first verification count %d, want 1", first.VerifiedCount)
	}

	// Second scan of the same masterkey: no writes, terminal error.
	_, err = f.svc.VerifyMasterkey(ctx, token, "teacher-2")
	if !apperr.Is(err, apperr.SessionAlreadyClosed) {
		t.Fatalf("expected SESSION_ALREADY_CLOSED, got %v", err)
	}

	logs, _ := f.dir.ListLogsBySession(ctx, sessID)
	if len(logs) != 1 {
		t.Errorf("log count after second scan %d, want 1", len(logs))
	}

	sess, _ := f.dir.GetSession(ctx, sessID)
	if sess.VerifierID != f.user {
		t.Errorf("verifier %q, want first scanner %q", sess.VerifierID, f.user)
	}
}

func TestVerifyMasterkeyDegradedModeWithoutTimetable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	late := f.addStudent(t, "Would Be Late", "555555555555")
	// 08:30 against an 08:00 start would be LATE, but with no timetable
	// entry everyone defaults to PRESENT.
	f.addToPool(t, late, time.Date(2025, 9, 1, 8, 30, 0, 0, time.UTC))

	sessID, err := f.svc.Create(ctx, "12 STEM - A", "MATH101", "08:00", "09:00", f.user)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	token, err := f.svc.IssueMasterkey(ctx, sessID)
	if err != nil {
		t.Fatalf("IssueMasterkey failed: %v", err)
	}

	res, err := f.svc.VerifyMasterkey(ctx, token, f.user)
	if err != nil {
		t.Fatalf("VerifyMasterkey failed: %v", err)
	}
	if res.VerifiedCount != 1 {
		t.Fatalf("verified count %d, want 1", res.VerifiedCount)
	}

	logs, _ := f.dir.ListLogsBySession(ctx, sessID)
	if logs[0].ArrivalCategory != model.ArrivalPresent {
		t.Errorf("degraded mode category %s, want PRESENT", logs[0].ArrivalCategory)
	}
}

func TestVerifyMasterkeyRejectsBadPayloads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.VerifyMasterkey(ctx, "not json", f.user); !apperr.Is(err, apperr.InvalidMasterkey) {
		t.Errorf("malformed payload: expected INVALID_MASTERKEY, got %v", err)
	}
	missing := `{"type":"MASTERKEY","sessionId":"no-such-session"}`
	if _, err := f.svc.VerifyMasterkey(ctx, missing, f.user); !apperr.Is(err, apperr.SessionNotFound) {
		t.Errorf("missing session: expected SESSION_NOT_FOUND, got %v", err)
	}
}

func TestIssueMasterkeyRequiresOpenSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sessID, err := f.svc.Create(ctx, "12 STEM - A", "MATH101", "08:00", "09:00", f.user)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := f.svc.Close(ctx, sessID, f.user); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	_, err = f.svc.IssueMasterkey(ctx, sessID)
	if !apperr.Is(err, apperr.SessionAlreadyClosed) {
		t.Errorf("expected SESSION_ALREADY_CLOSED, got %v", err)
	}
}

func TestStudentLoginWritesPendingLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.addStudent(t, "Direct Login", "666666666666")
	sessID, err := f.svc.Create(ctx, "12 STEM - A", "MATH101", "08:00", "09:00", f.user)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Clock is 08:20, session start 08:00: 20 minutes late.
	logEntry, err := f.svc.StudentLogin(ctx, s.LRN, sessID, "scanner-1")
	if err != nil {
		t.Fatalf("StudentLogin failed: %v", err)
	}
	if logEntry.Status != model.LogPending {
		t.Errorf("status %s, want PENDING", logEntry.Status)
	}
	if logEntry.ArrivalCategory != model.ArrivalLate {
		t.Errorf("category %s, want LATE", logEntry.ArrivalCategory)
	}

	// Second login for the same session is a duplicate.
	if _, err := f.svc.StudentLogin(ctx, s.LRN, sessID, "scanner-1"); !apperr.Is(err, apperr.DuplicateEntry) {
		t.Errorf("expected DUPLICATE_ENTRY, got %v", err)
	}
}

func TestModifyLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.addStudent(t, "Modified Later", "777777777777")
	f.addToPool(t, s, f.now)
	sessID, _ := f.svc.Create(ctx, "12 STEM - A", "MATH101", "08:00", "09:00", f.user)
	token, _ := f.svc.IssueMasterkey(ctx, sessID)
	res, err := f.svc.VerifyMasterkey(ctx, token, f.user)
	if err != nil {
		t.Fatalf("VerifyMasterkey failed: %v", err)
	}

	if err := f.svc.ModifyLog(ctx, res.LogIDs[0], model.ArrivalAbsent, ""); !apperr.Is(err, apperr.InvalidInput) {
		t.Errorf("empty reason: expected INVALID_INPUT, got %v", err)
	}
	if err := f.svc.ModifyLog(ctx, res.LogIDs[0], model.ArrivalAbsent, "left before verification"); err != nil {
		t.Fatalf("ModifyLog failed: %v", err)
	}

	logs, _ := f.dir.ListLogsBySession(ctx, sessID)
	if logs[0].Status != model.LogModified {
		t.Errorf("status %s, want MODIFIED", logs[0].Status)
	}
	if logs[0].ArrivalCategory != model.ArrivalAbsent {
		t.Errorf("category %s, want ABSENT", logs[0].ArrivalCategory)
	}
	if logs[0].ModificationReason == "" {
		t.Error("expected modification reason to be recorded")
	}
}
