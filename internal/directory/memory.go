package directory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tagsci/internal/apperr"
	"tagsci/internal/model"
)

// Memory is a map-backed Store for dev mode and tests. Uniqueness and the
// session close compare-and-set follow the same rules as the Postgres
// backend, guarded by a single mutex.
type Memory struct {
	mu         sync.Mutex
	students   map[string]model.Student // keyed by id
	pool       map[string]model.DailyPoolEntry
	sessions   map[string]model.AttendanceSession
	timetables map[string]model.TimetableEntry
	logs       map[string]model.AttendanceLog
	legacy     map[string]model.LegacyAttendance
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		students:   make(map[string]model.Student),
		pool:       make(map[string]model.DailyPoolEntry),
		sessions:   make(map[string]model.AttendanceSession),
		timetables: make(map[string]model.TimetableEntry),
		logs:       make(map[string]model.AttendanceLog),
		legacy:     make(map[string]model.LegacyAttendance),
	}
}

func (m *Memory) FindStudentByLRN(ctx context.Context, lrn string) (*model.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.LRN == lrn {
			c := s
			return &c, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetStudent(ctx context.Context, id string) (*model.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok {
		return nil, nil
	}
	c := s
	return &c, nil
}

func (m *Memory) FindStudentByToken(ctx context.Context, token string) (*model.Student, error) {
	if token == "" {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.TokenPayload == token {
			c := s
			return &c, nil
		}
	}
	return nil, nil
}

// CreateStudent upserts by LRN: re-registering an existing learner updates
// the record in place and returns the existing id.
func (m *Memory) CreateStudent(ctx context.Context, s model.Student) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.students {
		if existing.LRN == s.LRN {
			s.ID = id
			s.CreatedAt = existing.CreatedAt
			m.students[id] = s
			return id, nil
		}
	}
	s.ID = uuid.NewString()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.students[s.ID] = s
	return s.ID, nil
}

func (m *Memory) ListStudents(ctx context.Context) ([]model.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Student, 0, len(m.students))
	for _, s := range m.students {
		out = append(out, s)
	}
	return out, nil
}

func (m *Memory) InsertDailyPoolEntry(ctx context.Context, e model.DailyPoolEntry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.pool {
		if existing.StudentID == e.StudentID && existing.Date == e.Date {
			return "", apperr.New(apperr.AlreadyInPool, "student already scanned today")
		}
	}
	e.ID = uuid.NewString()
	if e.Status == "" {
		e.Status = model.PoolStatusActive
	}
	m.pool[e.ID] = e
	return e.ID, nil
}

func (m *Memory) FindDailyPoolEntry(ctx context.Context, studentID, date string) (*model.DailyPoolEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.pool {
		if e.StudentID == studentID && e.Date == date {
			c := e
			return &c, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListDailyPool(ctx context.Context, classID, date string) ([]model.DailyPoolEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DailyPoolEntry
	for _, e := range m.pool {
		if e.ClassID == classID && e.Date == date {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) CountDailyPool(ctx context.Context, date string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.pool {
		if e.Date == date {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CreateSession(ctx context.Context, s model.AttendanceSession) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.ClassID == s.ClassID && existing.SubjectID == s.SubjectID && existing.Date == s.Date {
			return "", apperr.New(apperr.DuplicateSession, "session already exists for this class and subject today")
		}
	}
	s.ID = uuid.NewString()
	if s.Status == "" {
		s.Status = model.SessionOpen
	}
	m.sessions[s.ID] = s
	return s.ID, nil
}

func (m *Memory) GetSession(ctx context.Context, id string) (*model.AttendanceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	c := s
	return &c, nil
}

// CloseSession is a compare-and-set on status: it only succeeds when the
// session is still OPEN, so a concurrent second close observes
// SESSION_ALREADY_CLOSED.
func (m *Memory) CloseSession(ctx context.Context, id, verifierID string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return apperr.New(apperr.SessionNotFound, "session not found")
	}
	if s.Status != model.SessionOpen {
		return apperr.New(apperr.SessionAlreadyClosed, "session is already closed")
	}
	s.Status = model.SessionClosed
	s.LoginEndTime = &endedAt
	s.VerifierID = verifierID
	m.sessions[id] = s
	return nil
}

func (m *Memory) ListOpenSessions(ctx context.Context) ([]model.AttendanceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AttendanceSession
	for _, s := range m.sessions {
		if s.Status == model.SessionOpen {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) ListSessionsByClass(ctx context.Context, classID, date string) ([]model.AttendanceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AttendanceSession
	for _, s := range m.sessions {
		if s.ClassID == classID && s.Date == date {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) CreateTimetableEntry(ctx context.Context, e model.TimetableEntry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.timetables {
		if existing.ClassID == e.ClassID && existing.SubjectID == e.SubjectID && existing.DayOfWeek == e.DayOfWeek {
			return "", apperr.New(apperr.DuplicateEntry, "timetable entry already exists for this class, subject, and day")
		}
	}
	e.ID = uuid.NewString()
	m.timetables[e.ID] = e
	return e.ID, nil
}

func (m *Memory) FindTimetableEntry(ctx context.Context, classID, subjectID, dayOfWeek string) (*model.TimetableEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.timetables {
		if e.ClassID == classID && e.SubjectID == subjectID && e.DayOfWeek == dayOfWeek {
			c := e
			return &c, nil
		}
	}
	return nil, nil
}

func (m *Memory) FindAttendanceLog(ctx context.Context, studentID, sessionID string) (*model.AttendanceLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.logs {
		if l.StudentID == studentID && l.SessionID == sessionID {
			c := l
			return &c, nil
		}
	}
	return nil, nil
}

func (m *Memory) InsertAttendanceLog(ctx context.Context, l model.AttendanceLog) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.logs {
		if existing.StudentID == l.StudentID && existing.SessionID == l.SessionID {
			return "", apperr.New(apperr.DuplicateEntry, "student already logged for this session")
		}
	}
	l.ID = uuid.NewString()
	m.logs[l.ID] = l
	return l.ID, nil
}

func (m *Memory) ListLogsBySession(ctx context.Context, sessionID string) ([]model.AttendanceLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AttendanceLog
	for _, l := range m.logs {
		if l.SessionID == sessionID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *Memory) PatchAttendanceLog(ctx context.Context, logID string, status model.LogStatus, category model.ArrivalCategory, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[logID]
	if !ok {
		return apperr.New(apperr.NotFound, "attendance log not found")
	}
	l.Status = status
	l.ArrivalCategory = category
	l.ModificationReason = reason
	m.logs[logID] = l
	return nil
}

func (m *Memory) InsertLegacyAttendance(ctx context.Context, a model.LegacyAttendance) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.legacy {
		if existing.StudentID == a.StudentID && existing.Date == a.Date {
			return "", apperr.New(apperr.DuplicateEntry, "attendance already recorded for this student today")
		}
	}
	a.ID = uuid.NewString()
	m.legacy[a.ID] = a
	return a.ID, nil
}
