package localqueue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tagsci/internal/model"
)

// cacheTTL bounds how stale a cached student record may get before the
// startup purge drops it.
const cacheTTL = 7 * 24 * time.Hour

// CacheStudents refreshes the offline student cache from a roster
// snapshot. Existing rows are replaced so roster edits propagate.
func (q *Queue) CacheStudents(ctx context.Context, students []model.Student, now time.Time) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, s := range students {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO students_cache
				(student_id, full_name, grade_level, strand, section, lrn_number, token_payload, cached_at)
			VALUES (?,?,?,?,?,?,?,?)
		`, s.ID, s.FullName, s.GradeLevel, s.Strand, s.Section, s.LRN, s.TokenPayload, now.UnixMilli()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CachedStudentByLRN looks a student up in the offline cache.
func (q *Queue) CachedStudentByLRN(ctx context.Context, lrn string) (*model.Student, error) {
	return q.scanCached(q.db.QueryRowContext(ctx, `
		SELECT student_id, full_name, grade_level, strand, section, lrn_number, token_payload
		FROM students_cache WHERE lrn_number = ?
	`, lrn))
}

// CachedStudentByToken looks a student up by exact token payload match.
func (q *Queue) CachedStudentByToken(ctx context.Context, token string) (*model.Student, error) {
	if token == "" {
		return nil, nil
	}
	return q.scanCached(q.db.QueryRowContext(ctx, `
		SELECT student_id, full_name, grade_level, strand, section, lrn_number, token_payload
		FROM students_cache WHERE token_payload = ?
	`, token))
}

func (q *Queue) scanCached(row *sql.Row) (*model.Student, error) {
	var s model.Student
	var token sql.NullString
	err := row.Scan(&s.ID, &s.FullName, &s.GradeLevel, &s.Strand, &s.Section, &s.LRN, &token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.TokenPayload = token.String
	return &s, nil
}

// PurgeStaleCache drops cache rows older than a week. Called on startup.
func (q *Queue) PurgeStaleCache(ctx context.Context, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM students_cache WHERE cached_at < ?
	`, now.Add(-cacheTTL).UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
