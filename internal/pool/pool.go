// Package pool manages the provisional daily attendance pool.
package pool

import (
	"context"
	"time"

	"tagsci/internal/directory"
	"tagsci/internal/identity"
	"tagsci/internal/model"
)

// Service inserts scanned students into today's pool. Entries are
// immutable once present; there is no removal operation.
type Service struct {
	dir      directory.Store
	resolver *identity.Resolver
	now      func() time.Time
}

// NewService creates a pool service. A nil clock defaults to time.Now.
func NewService(dir directory.Store, resolver *identity.Resolver, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{dir: dir, resolver: resolver, now: now}
}

// ScanResult is returned to the scanning UI after a pool insert.
type ScanResult struct {
	PoolID   string        `json:"pool_id"`
	Student  model.Student `json:"student"`
	ScanTime time.Time     `json:"scan_time"`
}

// AddToPool resolves the scanned token and inserts the student into
// today's pool. A repeat scan the same day fails with ALREADY_IN_POOL.
func (s *Service) AddToPool(ctx context.Context, rawToken, scannedBy string) (*ScanResult, error) {
	student, err := s.resolver.Resolve(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	return s.AddResolved(ctx, *student, scannedBy)
}

// AddResolved inserts an already-resolved student, computing the composite
// class id from the student's current record.
func (s *Service) AddResolved(ctx context.Context, student model.Student, scannedBy string) (*ScanResult, error) {
	now := s.now()
	entry := model.DailyPoolEntry{
		StudentID:     student.ID,
		ClassID:       student.ClassID(),
		Date:          model.DateString(now),
		FirstScanTime: now,
		Status:        model.PoolStatusActive,
		ScannedBy:     scannedBy,
	}
	poolID, err := s.dir.InsertDailyPoolEntry(ctx, entry)
	if err != nil {
		return nil, err
	}
	return &ScanResult{PoolID: poolID, Student: student, ScanTime: now}, nil
}

// List returns the pool for a class and date.
func (s *Service) List(ctx context.Context, classID, date string) ([]model.DailyPoolEntry, error) {
	if date == "" {
		date = model.DateString(s.now())
	}
	return s.dir.ListDailyPool(ctx, classID, date)
}

// TodayCount returns the number of students seen today across all classes.
func (s *Service) TodayCount(ctx context.Context) (int, error) {
	return s.dir.CountDailyPool(ctx, model.DateString(s.now()))
}
