package directory

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"tagsci/internal/apperr"
	"tagsci/internal/model"
)

// Postgres persists the directory in Postgres via database/sql with the
// pgx driver. Natural-key uniqueness lives in the schema; unique
// violations are translated to coded errors.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres-backed store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the directory tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS students (
	id            TEXT PRIMARY KEY,
	full_name     TEXT NOT NULL,
	grade_level   TEXT NOT NULL,
	strand        TEXT NOT NULL,
	section       TEXT NOT NULL,
	lrn_number    TEXT NOT NULL UNIQUE,
	token_payload TEXT,
	created_by    TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS students_token_idx ON students (token_payload);

CREATE TABLE IF NOT EXISTS daily_pool (
	id              TEXT PRIMARY KEY,
	student_id      TEXT NOT NULL REFERENCES students(id),
	class_id        TEXT NOT NULL,
	date            TEXT NOT NULL,
	first_scan_time TIMESTAMPTZ NOT NULL,
	status          TEXT NOT NULL DEFAULT 'ACTIVE',
	scanned_by      TEXT NOT NULL,
	UNIQUE (student_id, date)
);
CREATE INDEX IF NOT EXISTS daily_pool_class_date_idx ON daily_pool (class_id, date);
CREATE INDEX IF NOT EXISTS daily_pool_date_idx ON daily_pool (date);

CREATE TABLE IF NOT EXISTS attendance_sessions (
	id                  TEXT PRIMARY KEY,
	class_id            TEXT NOT NULL,
	subject_id          TEXT NOT NULL,
	date                TEXT NOT NULL,
	schedule_start_time TEXT NOT NULL,
	schedule_end_time   TEXT NOT NULL,
	login_start_time    TIMESTAMPTZ NOT NULL,
	login_end_time      TIMESTAMPTZ,
	status              TEXT NOT NULL DEFAULT 'OPEN',
	created_by          TEXT NOT NULL,
	verifier_id         TEXT,
	UNIQUE (class_id, subject_id, date)
);
CREATE INDEX IF NOT EXISTS sessions_status_idx ON attendance_sessions (status);

CREATE TABLE IF NOT EXISTS timetables (
	id           TEXT PRIMARY KEY,
	class_id     TEXT NOT NULL,
	subject_id   TEXT NOT NULL,
	subject_name TEXT NOT NULL,
	start_time   TEXT NOT NULL,
	end_time     TEXT NOT NULL,
	day_of_week  TEXT NOT NULL,
	created_by   TEXT NOT NULL,
	UNIQUE (class_id, subject_id, day_of_week)
);

CREATE TABLE IF NOT EXISTS attendance_logs (
	id                  TEXT PRIMARY KEY,
	student_id          TEXT NOT NULL REFERENCES students(id),
	session_id          TEXT NOT NULL REFERENCES attendance_sessions(id),
	full_name           TEXT NOT NULL,
	grade_level         TEXT NOT NULL,
	strand              TEXT NOT NULL,
	section             TEXT NOT NULL,
	lrn_number          TEXT NOT NULL,
	login_timestamp     TIMESTAMPTZ NOT NULL,
	status              TEXT NOT NULL,
	arrival_category    TEXT NOT NULL,
	modification_reason TEXT,
	scanned_by          TEXT NOT NULL,
	UNIQUE (student_id, session_id)
);
CREATE INDEX IF NOT EXISTS logs_session_idx ON attendance_logs (session_id);

CREATE TABLE IF NOT EXISTS legacy_attendance (
	id          TEXT PRIMARY KEY,
	student_id  TEXT NOT NULL REFERENCES students(id),
	full_name   TEXT NOT NULL,
	grade_level TEXT NOT NULL,
	strand      TEXT NOT NULL,
	section     TEXT NOT NULL,
	lrn_number  TEXT NOT NULL,
	date        TEXT NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	scanned_by  TEXT NOT NULL,
	UNIQUE (student_id, date)
);
`

// isUniqueViolation reports a Postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (p *Postgres) FindStudentByLRN(ctx context.Context, lrn string) (*model.Student, error) {
	return p.scanStudent(p.db.QueryRowContext(ctx, `
		SELECT id, full_name, grade_level, strand, section, lrn_number, token_payload, created_by, created_at
		FROM students WHERE lrn_number = $1
	`, lrn))
}

func (p *Postgres) GetStudent(ctx context.Context, id string) (*model.Student, error) {
	return p.scanStudent(p.db.QueryRowContext(ctx, `
		SELECT id, full_name, grade_level, strand, section, lrn_number, token_payload, created_by, created_at
		FROM students WHERE id = $1
	`, id))
}

func (p *Postgres) FindStudentByToken(ctx context.Context, token string) (*model.Student, error) {
	if token == "" {
		return nil, nil
	}
	return p.scanStudent(p.db.QueryRowContext(ctx, `
		SELECT id, full_name, grade_level, strand, section, lrn_number, token_payload, created_by, created_at
		FROM students WHERE token_payload = $1
	`, token))
}

func (p *Postgres) scanStudent(row *sql.Row) (*model.Student, error) {
	var s model.Student
	var token, createdBy sql.NullString
	err := row.Scan(&s.ID, &s.FullName, &s.GradeLevel, &s.Strand, &s.Section, &s.LRN, &token, &createdBy, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.TokenPayload = token.String
	s.CreatedBy = createdBy.String
	return &s, nil
}

// CreateStudent upserts by LRN and returns the row id either way.
func (p *Postgres) CreateStudent(ctx context.Context, s model.Student) (string, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	var id string
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO students (id, full_name, grade_level, strand, section, lrn_number, token_payload, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (lrn_number) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			grade_level = EXCLUDED.grade_level,
			strand = EXCLUDED.strand,
			section = EXCLUDED.section,
			token_payload = EXCLUDED.token_payload
		RETURNING id
	`, s.ID, s.FullName, s.GradeLevel, s.Strand, s.Section, s.LRN, nullable(s.TokenPayload), nullable(s.CreatedBy)).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) ListStudents(ctx context.Context) ([]model.Student, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, full_name, grade_level, strand, section, lrn_number, token_payload, created_by, created_at
		FROM students ORDER BY full_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Student
	for rows.Next() {
		var s model.Student
		var token, createdBy sql.NullString
		if err := rows.Scan(&s.ID, &s.FullName, &s.GradeLevel, &s.Strand, &s.Section, &s.LRN, &token, &createdBy, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.TokenPayload = token.String
		s.CreatedBy = createdBy.String
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) InsertDailyPoolEntry(ctx context.Context, e model.DailyPoolEntry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = model.PoolStatusActive
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO daily_pool (id, student_id, class_id, date, first_scan_time, status, scanned_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, e.StudentID, e.ClassID, e.Date, e.FirstScanTime, e.Status, e.ScannedBy)
	if isUniqueViolation(err) {
		return "", apperr.New(apperr.AlreadyInPool, "student already scanned today")
	}
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

func (p *Postgres) FindDailyPoolEntry(ctx context.Context, studentID, date string) (*model.DailyPoolEntry, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, student_id, class_id, date, first_scan_time, status, scanned_by
		FROM daily_pool WHERE student_id = $1 AND date = $2
	`, studentID, date)
	var e model.DailyPoolEntry
	err := row.Scan(&e.ID, &e.StudentID, &e.ClassID, &e.Date, &e.FirstScanTime, &e.Status, &e.ScannedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (p *Postgres) ListDailyPool(ctx context.Context, classID, date string) ([]model.DailyPoolEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, student_id, class_id, date, first_scan_time, status, scanned_by
		FROM daily_pool WHERE class_id = $1 AND date = $2
		ORDER BY first_scan_time
	`, classID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.DailyPoolEntry
	for rows.Next() {
		var e model.DailyPoolEntry
		if err := rows.Scan(&e.ID, &e.StudentID, &e.ClassID, &e.Date, &e.FirstScanTime, &e.Status, &e.ScannedBy); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) CountDailyPool(ctx context.Context, date string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM daily_pool WHERE date = $1`, date).Scan(&n)
	return n, err
}

func (p *Postgres) CreateSession(ctx context.Context, s model.AttendanceSession) (string, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = model.SessionOpen
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO attendance_sessions
			(id, class_id, subject_id, date, schedule_start_time, schedule_end_time, login_start_time, status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, s.ID, s.ClassID, s.SubjectID, s.Date, s.ScheduleStartTime, s.ScheduleEndTime, s.LoginStartTime, s.Status, s.CreatedBy)
	if isUniqueViolation(err) {
		return "", apperr.New(apperr.DuplicateSession, "session already exists for this class and subject today")
	}
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

func (p *Postgres) GetSession(ctx context.Context, id string) (*model.AttendanceSession, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, class_id, subject_id, date, schedule_start_time, schedule_end_time,
		       login_start_time, login_end_time, status, created_by, verifier_id
		FROM attendance_sessions WHERE id = $1
	`, id)
	return p.scanSession(row)
}

func (p *Postgres) scanSession(row *sql.Row) (*model.AttendanceSession, error) {
	var s model.AttendanceSession
	var endTime sql.NullTime
	var verifier sql.NullString
	err := row.Scan(&s.ID, &s.ClassID, &s.SubjectID, &s.Date, &s.ScheduleStartTime, &s.ScheduleEndTime,
		&s.LoginStartTime, &endTime, &s.Status, &s.CreatedBy, &verifier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		t := endTime.Time
		s.LoginEndTime = &t
	}
	s.VerifierID = verifier.String
	return &s, nil
}

// CloseSession transitions OPEN -> CLOSED as a single conditional update.
// Zero rows affected means the session was missing or already closed; the
// follow-up read tells the two apart.
func (p *Postgres) CloseSession(ctx context.Context, id, verifierID string, endedAt time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE attendance_sessions
		SET status = 'CLOSED', login_end_time = $2, verifier_id = $3
		WHERE id = $1 AND status = 'OPEN'
	`, id, endedAt, verifierID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		s, err := p.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if s == nil {
			return apperr.New(apperr.SessionNotFound, "session not found")
		}
		return apperr.New(apperr.SessionAlreadyClosed, "session is already closed")
	}
	return nil
}

func (p *Postgres) ListOpenSessions(ctx context.Context) ([]model.AttendanceSession, error) {
	return p.listSessions(ctx, `
		SELECT id, class_id, subject_id, date, schedule_start_time, schedule_end_time,
		       login_start_time, login_end_time, status, created_by, verifier_id
		FROM attendance_sessions WHERE status = 'OPEN' ORDER BY login_start_time DESC
	`)
}

func (p *Postgres) ListSessionsByClass(ctx context.Context, classID, date string) ([]model.AttendanceSession, error) {
	return p.listSessions(ctx, `
		SELECT id, class_id, subject_id, date, schedule_start_time, schedule_end_time,
		       login_start_time, login_end_time, status, created_by, verifier_id
		FROM attendance_sessions WHERE class_id = $1 AND date = $2 ORDER BY login_start_time DESC
	`, classID, date)
}

func (p *Postgres) listSessions(ctx context.Context, query string, args ...any) ([]model.AttendanceSession, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AttendanceSession
	for rows.Next() {
		var s model.AttendanceSession
		var endTime sql.NullTime
		var verifier sql.NullString
		if err := rows.Scan(&s.ID, &s.ClassID, &s.SubjectID, &s.Date, &s.ScheduleStartTime, &s.ScheduleEndTime,
			&s.LoginStartTime, &endTime, &s.Status, &s.CreatedBy, &verifier); err != nil {
			return nil, err
		}
		if endTime.Valid {
			t := endTime.Time
			s.LoginEndTime = &t
		}
		s.VerifierID = verifier.String
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateTimetableEntry(ctx context.Context, e model.TimetableEntry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO timetables (id, class_id, subject_id, subject_name, start_time, end_time, day_of_week, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, e.ID, e.ClassID, e.SubjectID, e.SubjectName, e.StartTime, e.EndTime, e.DayOfWeek, e.CreatedBy)
	if isUniqueViolation(err) {
		return "", apperr.New(apperr.DuplicateEntry, "timetable entry already exists for this class, subject, and day")
	}
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

func (p *Postgres) FindTimetableEntry(ctx context.Context, classID, subjectID, dayOfWeek string) (*model.TimetableEntry, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, class_id, subject_id, subject_name, start_time, end_time, day_of_week, created_by
		FROM timetables WHERE class_id = $1 AND subject_id = $2 AND day_of_week = $3
	`, classID, subjectID, dayOfWeek)
	var e model.TimetableEntry
	err := row.Scan(&e.ID, &e.ClassID, &e.SubjectID, &e.SubjectName, &e.StartTime, &e.EndTime, &e.DayOfWeek, &e.CreatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (p *Postgres) FindAttendanceLog(ctx context.Context, studentID, sessionID string) (*model.AttendanceLog, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, student_id, session_id, full_name, grade_level, strand, section, lrn_number,
		       login_timestamp, status, arrival_category, modification_reason, scanned_by
		FROM attendance_logs WHERE student_id = $1 AND session_id = $2
	`, studentID, sessionID)
	var l model.AttendanceLog
	var reason sql.NullString
	err := row.Scan(&l.ID, &l.StudentID, &l.SessionID, &l.FullName, &l.GradeLevel, &l.Strand, &l.Section, &l.LRN,
		&l.LoginTimestamp, &l.Status, &l.ArrivalCategory, &reason, &l.ScannedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.ModificationReason = reason.String
	return &l, nil
}

func (p *Postgres) InsertAttendanceLog(ctx context.Context, l model.AttendanceLog) (string, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO attendance_logs
			(id, student_id, session_id, full_name, grade_level, strand, section, lrn_number,
			 login_timestamp, status, arrival_category, modification_reason, scanned_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, l.ID, l.StudentID, l.SessionID, l.FullName, l.GradeLevel, l.Strand, l.Section, l.LRN,
		l.LoginTimestamp, l.Status, l.ArrivalCategory, nullable(l.ModificationReason), l.ScannedBy)
	if isUniqueViolation(err) {
		return "", apperr.New(apperr.DuplicateEntry, "student already logged for this session")
	}
	if err != nil {
		return "", err
	}
	return l.ID, nil
}

func (p *Postgres) ListLogsBySession(ctx context.Context, sessionID string) ([]model.AttendanceLog, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, student_id, session_id, full_name, grade_level, strand, section, lrn_number,
		       login_timestamp, status, arrival_category, modification_reason, scanned_by
		FROM attendance_logs WHERE session_id = $1 ORDER BY login_timestamp
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AttendanceLog
	for rows.Next() {
		var l model.AttendanceLog
		var reason sql.NullString
		if err := rows.Scan(&l.ID, &l.StudentID, &l.SessionID, &l.FullName, &l.GradeLevel, &l.Strand, &l.Section, &l.LRN,
			&l.LoginTimestamp, &l.Status, &l.ArrivalCategory, &reason, &l.ScannedBy); err != nil {
			return nil, err
		}
		l.ModificationReason = reason.String
		out = append(out, l)
	}
	return out, rows.Err()
}

func (p *Postgres) PatchAttendanceLog(ctx context.Context, logID string, status model.LogStatus, category model.ArrivalCategory, reason string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE attendance_logs
		SET status = $2, arrival_category = $3, modification_reason = $4
		WHERE id = $1
	`, logID, status, category, nullable(reason))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.New(apperr.NotFound, "attendance log not found")
	}
	return nil
}

func (p *Postgres) InsertLegacyAttendance(ctx context.Context, a model.LegacyAttendance) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO legacy_attendance (id, student_id, full_name, grade_level, strand, section, lrn_number, date, ts, scanned_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, a.ID, a.StudentID, a.FullName, a.GradeLevel, a.Strand, a.Section, a.LRN, a.Date, a.Timestamp, a.ScannedBy)
	if isUniqueViolation(err) {
		return "", apperr.New(apperr.DuplicateEntry, "attendance already recorded for this student today")
	}
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
