// Package localqueue is the device-local durable staging area for
// attendance captured while offline (or before the remote write
// succeeded). It is backed by a SQLite file so captures survive crashes
// and restarts; the capture path appends while the sync engine drains.
package localqueue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tagsci/internal/apperr"
	"tagsci/internal/model"
)

// Queue wraps the SQLite capture store.
type Queue struct {
	db *sql.DB
}

// Open opens (or creates) the queue database under dataDir. WAL mode
// lets the foreground capture path and the background drain path share
// the file.
func Open(dataDir string) (*Queue, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "scanner.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}
	// Single writer; SQLite serializes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(queueSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate queue schema: %w", err)
	}
	return &Queue{db: db}, nil
}

const queueSchema = `
CREATE TABLE IF NOT EXISTS attendance_queue (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	student_id  TEXT NOT NULL,
	full_name   TEXT NOT NULL,
	grade_level TEXT NOT NULL,
	strand      TEXT NOT NULL,
	section     TEXT NOT NULL,
	lrn_number  TEXT NOT NULL,
	captured_at INTEGER NOT NULL,
	date        TEXT NOT NULL,
	scanned_by  TEXT NOT NULL,
	synced      INTEGER NOT NULL DEFAULT 0,
	remote_id   TEXT,
	UNIQUE (student_id, date)
);

CREATE TABLE IF NOT EXISTS students_cache (
	student_id  TEXT PRIMARY KEY,
	full_name   TEXT NOT NULL,
	grade_level TEXT NOT NULL,
	strand      TEXT NOT NULL,
	section     TEXT NOT NULL,
	lrn_number  TEXT NOT NULL UNIQUE,
	token_payload TEXT,
	cached_at   INTEGER NOT NULL
);
`

// Close closes the underlying database.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue persists a capture with synced=false. A second capture for the
// same (student, date) fails with DUPLICATE_CAPTURE regardless of
// whether the first has synced.
func (q *Queue) Enqueue(ctx context.Context, e model.LocalQueueEntry) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO attendance_queue
			(student_id, full_name, grade_level, strand, section, lrn_number, captured_at, date, scanned_by, synced)
		VALUES (?,?,?,?,?,?,?,?,?,0)
	`, e.StudentID, e.FullName, e.GradeLevel, e.Strand, e.Section, e.LRN, e.Timestamp.UnixMilli(), e.Date, e.ScannedBy)
	if err != nil {
		if isConstraintViolation(err) {
			return 0, apperr.New(apperr.DuplicateCapture, "attendance already recorded for this student today")
		}
		return 0, err
	}
	return res.LastInsertId()
}

// ListUnsynced returns pending entries oldest-first, the drain order.
func (q *Queue) ListUnsynced(ctx context.Context) ([]model.LocalQueueEntry, error) {
	return q.list(ctx, `SELECT `+entryColumns+` FROM attendance_queue WHERE synced = 0 ORDER BY captured_at ASC`)
}

// ListToday returns today's captures, newest first.
func (q *Queue) ListToday(ctx context.Context, date string) ([]model.LocalQueueEntry, error) {
	return q.list(ctx, `SELECT `+entryColumns+` FROM attendance_queue WHERE date = ? ORDER BY captured_at DESC`, date)
}

// ListAll returns every capture, newest first.
func (q *Queue) ListAll(ctx context.Context) ([]model.LocalQueueEntry, error) {
	return q.list(ctx, `SELECT `+entryColumns+` FROM attendance_queue ORDER BY captured_at DESC`)
}

const entryColumns = `id, student_id, full_name, grade_level, strand, section, lrn_number, captured_at, date, scanned_by, synced, remote_id`

func (q *Queue) list(ctx context.Context, query string, args ...any) ([]model.LocalQueueEntry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.LocalQueueEntry
	for rows.Next() {
		var e model.LocalQueueEntry
		var capturedAt int64
		var remoteID sql.NullString
		if err := rows.Scan(&e.ID, &e.StudentID, &e.FullName, &e.GradeLevel, &e.Strand, &e.Section, &e.LRN,
			&capturedAt, &e.Date, &e.ScannedBy, &e.Synced, &remoteID); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(capturedAt)
		e.RemoteID = remoteID.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkSynced flips synced false -> true exactly once; the conditional
// update makes a repeat call a no-op, so the flag never reverts and the
// first remote id wins.
func (q *Queue) MarkSynced(ctx context.Context, localID int64, remoteID string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE attendance_queue SET synced = 1, remote_id = ? WHERE id = ? AND synced = 0
	`, remoteID, localID)
	return err
}

// HasCapture reports whether any entry exists for (studentID, date).
func (q *Queue) HasCapture(ctx context.Context, studentID, date string) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance_queue WHERE student_id = ? AND date = ?
	`, studentID, date).Scan(&n)
	return n > 0, err
}

// PendingCount returns the number of unsynced entries.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance_queue WHERE synced = 0`).Scan(&n)
	return n, err
}

// Clear removes all captures. Maintenance only.
func (q *Queue) Clear(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM attendance_queue`)
	return err
}

func isConstraintViolation(err error) bool {
	// modernc.org/sqlite reports constraint failures in the error text;
	// the driver does not export a typed error for them.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
