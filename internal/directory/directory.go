// Package directory defines the authoritative attendance store and its
// backends. The Postgres backend is the production store; the in-memory
// backend serves dev mode and tests. Lookup methods return (nil, nil)
// when no row matches; uniqueness violations surface as coded errors
// (ALREADY_IN_POOL, DUPLICATE_SESSION, DUPLICATE_ENTRY, ...).
package directory

import (
	"context"
	"time"

	"tagsci/internal/model"
)

// Store is the full directory surface consumed by the core services.
// Service packages declare the narrow slices they need; both backends
// satisfy all of them.
type Store interface {
	FindStudentByLRN(ctx context.Context, lrn string) (*model.Student, error)
	FindStudentByToken(ctx context.Context, token string) (*model.Student, error)
	GetStudent(ctx context.Context, id string) (*model.Student, error)
	CreateStudent(ctx context.Context, s model.Student) (string, error)
	ListStudents(ctx context.Context) ([]model.Student, error)

	InsertDailyPoolEntry(ctx context.Context, e model.DailyPoolEntry) (string, error)
	FindDailyPoolEntry(ctx context.Context, studentID, date string) (*model.DailyPoolEntry, error)
	ListDailyPool(ctx context.Context, classID, date string) ([]model.DailyPoolEntry, error)
	CountDailyPool(ctx context.Context, date string) (int, error)

	CreateSession(ctx context.Context, s model.AttendanceSession) (string, error)
	GetSession(ctx context.Context, id string) (*model.AttendanceSession, error)
	CloseSession(ctx context.Context, id, verifierID string, endedAt time.Time) error
	ListOpenSessions(ctx context.Context) ([]model.AttendanceSession, error)
	ListSessionsByClass(ctx context.Context, classID, date string) ([]model.AttendanceSession, error)

	CreateTimetableEntry(ctx context.Context, e model.TimetableEntry) (string, error)
	FindTimetableEntry(ctx context.Context, classID, subjectID, dayOfWeek string) (*model.TimetableEntry, error)

	FindAttendanceLog(ctx context.Context, studentID, sessionID string) (*model.AttendanceLog, error)
	InsertAttendanceLog(ctx context.Context, l model.AttendanceLog) (string, error)
	ListLogsBySession(ctx context.Context, sessionID string) ([]model.AttendanceLog, error)
	PatchAttendanceLog(ctx context.Context, logID string, status model.LogStatus, category model.ArrivalCategory, reason string) error

	InsertLegacyAttendance(ctx context.Context, a model.LegacyAttendance) (string, error)
}
