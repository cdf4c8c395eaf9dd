// Package session implements the attendance session lifecycle: creation,
// per-student login, masterkey bulk verification, and manual log
// modification.
package session

import (
	"context"
	"log"
	"time"

	"tagsci/internal/apperr"
	"tagsci/internal/classify"
	"tagsci/internal/directory"
	"tagsci/internal/identity"
	"tagsci/internal/masterkey"
	"tagsci/internal/model"
)

// Service coordinates sessions against the directory store.
type Service struct {
	dir      directory.Store
	resolver *identity.Resolver
	now      func() time.Time
	loc      *time.Location
}

// NewService creates a session service. A nil clock defaults to time.Now;
// a nil location defaults to the local zone (timetable times are
// wall-clock strings).
func NewService(dir directory.Store, resolver *identity.Resolver, now func() time.Time, loc *time.Location) *Service {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{dir: dir, resolver: resolver, now: now, loc: loc}
}

// Create opens a session for (classID, subjectID, today). A second
// session for the same triple fails with DUPLICATE_SESSION.
func (s *Service) Create(ctx context.Context, classID, subjectID, scheduleStart, scheduleEnd, createdBy string) (string, error) {
	now := s.now()
	return s.dir.CreateSession(ctx, model.AttendanceSession{
		ClassID:           classID,
		SubjectID:         subjectID,
		Date:              model.DateString(now),
		ScheduleStartTime: scheduleStart,
		ScheduleEndTime:   scheduleEnd,
		LoginStartTime:    now,
		Status:            model.SessionOpen,
		CreatedBy:         createdBy,
	})
}

// Close closes a session manually. Closing a CLOSED session fails with
// SESSION_ALREADY_CLOSED; the transition is terminal.
func (s *Service) Close(ctx context.Context, sessionID, verifierID string) error {
	return s.dir.CloseSession(ctx, sessionID, verifierID, s.now())
}

// IssueMasterkey serializes the masterkey payload for an OPEN session.
func (s *Service) IssueMasterkey(ctx context.Context, sessionID string) (string, error) {
	sess, err := s.dir.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", apperr.New(apperr.SessionNotFound, "session not found")
	}
	if sess.Status != model.SessionOpen {
		return "", apperr.New(apperr.SessionAlreadyClosed, "session is not open")
	}
	return masterkey.Issue(*sess, s.now()).Encode()
}

// VerifyResult summarizes a masterkey verification.
type VerifyResult struct {
	SessionID     string   `json:"session_id"`
	ClassID       string   `json:"class_id"`
	SubjectID     string   `json:"subject_id"`
	VerifiedCount int      `json:"verified_count"`
	LogIDs        []string `json:"log_ids"`
}

// VerifyMasterkey consumes a masterkey payload: it closes the session via
// a compare-and-set on status, then promotes every daily pool member for
// the session's class and date into a VERIFIED attendance log. The close
// runs first, so a concurrent second scan observes SESSION_ALREADY_CLOSED
// and performs no writes. Log inserts are idempotent per (student,
// session).
func (s *Service) VerifyMasterkey(ctx context.Context, rawToken, verifierID string) (*VerifyResult, error) {
	token, err := masterkey.Parse(rawToken)
	if err != nil {
		return nil, err
	}

	sess, err := s.dir.GetSession(ctx, token.SessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, apperr.New(apperr.SessionNotFound, "session not found")
	}
	if sess.Status != model.SessionOpen {
		return nil, apperr.New(apperr.SessionAlreadyClosed, "session is already closed")
	}

	// Claim the session before any log writes.
	if err := s.dir.CloseSession(ctx, sess.ID, verifierID, s.now()); err != nil {
		return nil, err
	}

	members, err := s.dir.ListDailyPool(ctx, sess.ClassID, sess.Date)
	if err != nil {
		return nil, err
	}

	scheduleStart, haveSchedule := s.scheduleStart(ctx, sess)

	result := &VerifyResult{SessionID: sess.ID, ClassID: sess.ClassID, SubjectID: sess.SubjectID}
	for _, member := range members {
		existing, err := s.dir.FindAttendanceLog(ctx, member.StudentID, sess.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			continue
		}

		student, err := s.dir.GetStudent(ctx, member.StudentID)
		if err != nil {
			return nil, err
		}
		if student == nil {
			log.Printf("pool entry %s references missing student %s, skipping", member.ID, member.StudentID)
			continue
		}

		category := model.ArrivalPresent
		if haveSchedule {
			category = classify.Arrival(scheduleStart, member.FirstScanTime)
		}

		logEntry := model.AttendanceLog{
			StudentID:       member.StudentID,
			SessionID:       sess.ID,
			FullName:        student.FullName,
			GradeLevel:      student.GradeLevel,
			Strand:          student.Strand,
			Section:         student.Section,
			LRN:             student.LRN,
			LoginTimestamp:  member.FirstScanTime,
			Status:          model.LogVerified,
			ArrivalCategory: category,
			ScannedBy:       member.ScannedBy,
		}
		logID, err := s.dir.InsertAttendanceLog(ctx, logEntry)
		if err != nil {
			if apperr.Is(err, apperr.DuplicateEntry) {
				continue
			}
			return nil, err
		}
		result.LogIDs = append(result.LogIDs, logID)
		result.VerifiedCount++
	}

	return result, nil
}

// scheduleStart resolves the canonical scheduled start instant from the
// timetable. A missing timetable entry is the degraded mode: every member
// classifies PRESENT.
func (s *Service) scheduleStart(ctx context.Context, sess *model.AttendanceSession) (time.Time, bool) {
	date, err := time.ParseInLocation("2006-01-02", sess.Date, s.loc)
	if err != nil {
		log.Printf("session %s has unparseable date %q", sess.ID, sess.Date)
		return time.Time{}, false
	}
	entry, err := s.dir.FindTimetableEntry(ctx, sess.ClassID, sess.SubjectID, model.WeekdayName(date))
	if err != nil || entry == nil {
		if err != nil {
			log.Printf("timetable lookup failed for session %s: %v", sess.ID, err)
		}
		return time.Time{}, false
	}
	start, err := model.CombineDateTime(sess.Date, entry.StartTime, s.loc)
	if err != nil {
		log.Printf("timetable entry %s has unparseable start %q", entry.ID, entry.StartTime)
		return time.Time{}, false
	}
	return start, true
}

// StudentLogin scans a student directly against an OPEN session, writing
// a PENDING log with a live arrival classification.
func (s *Service) StudentLogin(ctx context.Context, rawToken, sessionID, scannedBy string) (*model.AttendanceLog, error) {
	sess, err := s.dir.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, apperr.New(apperr.SessionNotFound, "session not found")
	}
	if sess.Status != model.SessionOpen {
		return nil, apperr.New(apperr.SessionAlreadyClosed, "session is not open for attendance")
	}

	student, err := s.resolver.Resolve(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	now := s.now()
	category := model.ArrivalPresent
	if start, err := model.CombineDateTime(sess.Date, sess.ScheduleStartTime, s.loc); err == nil {
		category = classify.Arrival(start, now)
	}

	logEntry := model.AttendanceLog{
		StudentID:       student.ID,
		SessionID:       sess.ID,
		FullName:        student.FullName,
		GradeLevel:      student.GradeLevel,
		Strand:          student.Strand,
		Section:         student.Section,
		LRN:             student.LRN,
		LoginTimestamp:  now,
		Status:          model.LogPending,
		ArrivalCategory: category,
		ScannedBy:       scannedBy,
	}
	logID, err := s.dir.InsertAttendanceLog(ctx, logEntry)
	if err != nil {
		return nil, err
	}
	logEntry.ID = logID
	return &logEntry, nil
}

// ModifyLog overrides a log's arrival category with a mandatory reason.
// It is a direct patch to MODIFIED status and does not reopen the session.
func (s *Service) ModifyLog(ctx context.Context, logID string, category model.ArrivalCategory, reason string) error {
	if reason == "" {
		return apperr.New(apperr.InvalidInput, "modification reason is required")
	}
	return s.dir.PatchAttendanceLog(ctx, logID, model.LogModified, category, reason)
}

// Open lists OPEN sessions.
func (s *Service) Open(ctx context.Context) ([]model.AttendanceSession, error) {
	return s.dir.ListOpenSessions(ctx)
}

// ByClassToday lists today's sessions for a class.
func (s *Service) ByClassToday(ctx context.Context, classID string) ([]model.AttendanceSession, error) {
	return s.dir.ListSessionsByClass(ctx, classID, model.DateString(s.now()))
}
