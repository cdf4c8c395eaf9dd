// Package model defines the core attendance data types shared by the
// directory store, the scanner, and the sync engine.
package model

import (
	"fmt"
	"time"
)

// SessionStatus is the lifecycle state of an attendance session.
type SessionStatus string

const (
	SessionOpen   SessionStatus = "OPEN"
	SessionClosed SessionStatus = "CLOSED"
)

// LogStatus is the verification state of an attendance log. It only ever
// advances PENDING -> VERIFIED -> MODIFIED.
type LogStatus string

const (
	LogPending  LogStatus = "PENDING"
	LogVerified LogStatus = "VERIFIED"
	LogModified LogStatus = "MODIFIED"
)

// ArrivalCategory classifies a student's timeliness relative to the
// scheduled start of a session.
type ArrivalCategory string

const (
	ArrivalEarly   ArrivalCategory = "EARLY"
	ArrivalPresent ArrivalCategory = "PRESENT"
	ArrivalLate    ArrivalCategory = "LATE"
	ArrivalAbsent  ArrivalCategory = "ABSENT"
)

// Student is a registered learner. The LRN (Learner Reference Number) is
// the durable natural key; TokenPayload is the precomputed QR payload
// written at registration time for exact-match resolution.
type Student struct {
	ID           string    `json:"id"`
	FullName     string    `json:"full_name"`
	GradeLevel   string    `json:"grade_level"`
	Strand       string    `json:"strand"`
	Section      string    `json:"section"`
	LRN          string    `json:"lrn_number"`
	TokenPayload string    `json:"token_payload,omitempty"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ClassID returns the composite class identifier used throughout the
// system: "<grade> <strand> - <section>". Historical pool and session rows
// key on this exact string, so it must not change shape.
func (s Student) ClassID() string {
	return fmt.Sprintf("%s %s - %s", s.GradeLevel, s.Strand, s.Section)
}

// DailyPoolEntry records that a student was seen at school on a date,
// before any subject session claims them. At most one entry exists per
// (student, date); entries are never mutated after insert.
type DailyPoolEntry struct {
	ID            string    `json:"id"`
	StudentID     string    `json:"student_id"`
	ClassID       string    `json:"class_id"`
	Date          string    `json:"date"`
	FirstScanTime time.Time `json:"first_scan_time"`
	Status        string    `json:"status"`
	ScannedBy     string    `json:"scanned_by"`
}

// PoolStatusActive is the only pool entry status.
const PoolStatusActive = "ACTIVE"

// AttendanceSession is a (class, subject, date) verification window. It is
// created OPEN and transitions to CLOSED exactly once.
type AttendanceSession struct {
	ID                string        `json:"id"`
	ClassID           string        `json:"class_id"`
	SubjectID         string        `json:"subject_id"`
	Date              string        `json:"date"`
	ScheduleStartTime string        `json:"schedule_start_time"`
	ScheduleEndTime   string        `json:"schedule_end_time"`
	LoginStartTime    time.Time     `json:"login_start_time"`
	LoginEndTime      *time.Time    `json:"login_end_time,omitempty"`
	Status            SessionStatus `json:"status"`
	CreatedBy         string        `json:"created_by"`
	VerifierID        string        `json:"verifier_id,omitempty"`
}

// AttendanceLog is a verified (or pending) attendance fact tying a student
// to a session. At most one log exists per (student, session). The student
// identity fields are snapshotted so historical rows survive roster edits.
type AttendanceLog struct {
	ID                 string          `json:"id"`
	StudentID          string          `json:"student_id"`
	SessionID          string          `json:"session_id"`
	FullName           string          `json:"full_name"`
	GradeLevel         string          `json:"grade_level"`
	Strand             string          `json:"strand"`
	Section            string          `json:"section"`
	LRN                string          `json:"lrn_number"`
	LoginTimestamp     time.Time       `json:"login_timestamp"`
	Status             LogStatus       `json:"status"`
	ArrivalCategory    ArrivalCategory `json:"arrival_category"`
	ModificationReason string          `json:"modification_reason,omitempty"`
	ScannedBy          string          `json:"scanned_by"`
}

// TimetableEntry is a scheduled subject slot. The (class, subject, weekday)
// triple is unique; StartTime/EndTime are "HH:MM" wall-clock strings.
type TimetableEntry struct {
	ID          string `json:"id"`
	ClassID     string `json:"class_id"`
	SubjectID   string `json:"subject_id"`
	SubjectName string `json:"subject_name"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	DayOfWeek   string `json:"day_of_week"`
	CreatedBy   string `json:"created_by"`
}

// LegacyAttendance is the daily attendance fact submitted by the sync
// engine. The remote store enforces uniqueness per (student, date).
type LegacyAttendance struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"student_id"`
	FullName   string    `json:"full_name"`
	GradeLevel string    `json:"grade_level"`
	Strand     string    `json:"strand"`
	Section    string    `json:"section"`
	LRN        string    `json:"lrn_number"`
	Date       string    `json:"date"`
	Timestamp  time.Time `json:"timestamp"`
	ScannedBy  string    `json:"scanned_by"`
}

// LocalQueueEntry is an attendance fact captured on the device while
// offline (or before the remote write succeeded). Synced is monotonic
// false -> true; RemoteID records the remote row once synced, or the
// literal "duplicate" when the remote already had the fact.
type LocalQueueEntry struct {
	ID         int64     `json:"id"`
	StudentID  string    `json:"student_id"`
	FullName   string    `json:"full_name"`
	GradeLevel string    `json:"grade_level"`
	Strand     string    `json:"strand"`
	Section    string    `json:"section"`
	LRN        string    `json:"lrn_number"`
	Timestamp  time.Time `json:"timestamp"`
	Date       string    `json:"date"`
	ScannedBy  string    `json:"scanned_by"`
	Synced     bool      `json:"synced"`
	RemoteID   string    `json:"remote_id,omitempty"`
}

// DateString formats t as the YYYY-MM-DD key all per-day uniqueness
// constraints use.
func DateString(t time.Time) string {
	return t.Format("2006-01-02")
}

// WeekdayName returns the English weekday name ("Monday", ...) matching
// the timetable DayOfWeek column.
func WeekdayName(t time.Time) string {
	return t.Weekday().String()
}

// CombineDateTime resolves a date string and an "HH:MM" wall-clock time in
// loc. It is used to turn a timetable start time into an instant for
// arrival classification.
func CombineDateTime(date, hhmm string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation("2006-01-02 15:04", date+" "+hhmm, loc)
}
