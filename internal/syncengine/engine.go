// Package syncengine drains the local durable queue into the remote
// directory with idempotent retry semantics. One engine instance owns
// the drain; overlapping triggers coalesce into the active run.
package syncengine

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"tagsci/internal/apperr"
	"tagsci/internal/connectivity"
	"tagsci/internal/localqueue"
	"tagsci/internal/model"
)

// Directory is the remote surface the engine needs. It is satisfied by
// the directory backends in-process and by the HTTP client on devices.
type Directory interface {
	FindStudentByLRN(ctx context.Context, lrn string) (*model.Student, error)
	CreateStudent(ctx context.Context, s model.Student) (string, error)
	InsertLegacyAttendance(ctx context.Context, a model.LegacyAttendance) (string, error)
}

// Options tunes the engine. Zero values fall back to the defaults the
// original deployment ran with.
type Options struct {
	Interval   time.Duration // periodic drain interval (default 30s)
	RetryBase  time.Duration // first retry delay, doubles per failure (default 2s)
	MaxRetries int           // retries per failure burst before giving up until the next tick (default 3)
}

func (o *Options) fill() {
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 2 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
}

// Engine is the background sync process.
type Engine struct {
	queue   *localqueue.Queue
	dir     Directory
	monitor connectivity.Monitor
	opts    Options
	now     func() time.Time

	inProgress atomic.Bool
	trigger    chan struct{}

	mu         sync.Mutex
	retryCount int
	retryAt    *time.Timer
	retryCh    chan struct{}
}

// New creates an engine. A nil clock defaults to time.Now.
func New(queue *localqueue.Queue, dir Directory, monitor connectivity.Monitor, opts Options, now func() time.Time) *Engine {
	opts.fill()
	if now == nil {
		now = time.Now
	}
	return &Engine{
		queue:   queue,
		dir:     dir,
		monitor: monitor,
		opts:    opts,
		now:     now,
		trigger: make(chan struct{}, 1),
		retryCh: make(chan struct{}, 1),
	}
}

// Run drives the periodic drain until ctx is canceled. Drains also fire
// on connectivity restoration, on Trigger, and on a pending retry timer.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()
	defer e.cancelRetry()

	changes := e.monitor.Changes()
	log.Printf("sync engine started (interval %s)", e.opts.Interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("sync engine stopped")
			return
		case <-ticker.C:
			e.runOnce(ctx)
		case online := <-changes:
			if online {
				log.Println("connectivity restored, draining queue")
				e.runOnce(ctx)
			}
		case <-e.trigger:
			e.runOnce(ctx)
		case <-e.retryCh:
			e.runOnce(ctx)
		}
	}
}

// Trigger requests a drain without waiting for the next tick. If a run
// is active the request coalesces into it; the periodic tick picks up
// anything missed.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// ForceSync runs a drain synchronously. It is the on-demand entry point
// for callers that want the result now (the UI sync button).
func (e *Engine) ForceSync(ctx context.Context) error {
	return e.runOnce(ctx)
}

// PendingCount reports unsynced queue entries.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.queue.PendingCount(ctx)
}

// runOnce drains the queue. It is a no-op while offline or while another
// run is active.
func (e *Engine) runOnce(ctx context.Context) error {
	if !e.monitor.Online() {
		return nil
	}
	if !e.inProgress.CompareAndSwap(false, true) {
		return nil
	}
	defer e.inProgress.Store(false)

	start := e.now()
	entries, err := e.queue.ListUnsynced(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		e.resetRetries()
		return nil
	}
	log.Printf("syncing %d captured entries", len(entries))

	synced := 0
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := e.syncEntry(ctx, entry); err != nil {
			// Abort the remaining batch: later entries stay unsynced and
			// the retry timer (or next tick) picks them up.
			syncFailures.Inc()
			e.scheduleRetry(err)
			return err
		}
		synced++
	}

	e.resetRetries()
	syncedEntries.Add(float64(synced))
	runDuration.Observe(e.now().Sub(start).Seconds())
	e.observePending(ctx)
	log.Printf("sync completed: %d entries", synced)
	return nil
}

// syncEntry transmits one capture. Creation is find-then-create-then-
// re-read so a concurrent creator resolved by the unique-LRN constraint
// still yields the canonical id. A remote duplicate means the fact
// already arrived through another path and counts as success.
func (e *Engine) syncEntry(ctx context.Context, entry model.LocalQueueEntry) error {
	student, err := e.dir.FindStudentByLRN(ctx, entry.LRN)
	if err != nil {
		return apperr.Wrap(apperr.SyncTransient, "student lookup failed", err)
	}
	if student == nil {
		if _, err := e.dir.CreateStudent(ctx, model.Student{
			FullName:   entry.FullName,
			GradeLevel: entry.GradeLevel,
			Strand:     entry.Strand,
			Section:    entry.Section,
			LRN:        entry.LRN,
		}); err != nil {
			return apperr.Wrap(apperr.SyncTransient, "student create failed", err)
		}
		student, err = e.dir.FindStudentByLRN(ctx, entry.LRN)
		if err != nil {
			return apperr.Wrap(apperr.SyncTransient, "student re-read failed", err)
		}
		if student == nil {
			return apperr.New(apperr.SyncFatal, "student missing after create")
		}
	}

	remoteID, err := e.dir.InsertLegacyAttendance(ctx, model.LegacyAttendance{
		StudentID:  student.ID,
		FullName:   entry.FullName,
		GradeLevel: entry.GradeLevel,
		Strand:     entry.Strand,
		Section:    entry.Section,
		LRN:        entry.LRN,
		Date:       entry.Date,
		Timestamp:  entry.Timestamp,
		ScannedBy:  entry.ScannedBy,
	})
	if err != nil {
		if apperr.Is(err, apperr.DuplicateEntry) {
			// Already recorded remotely through another path.
			log.Printf("entry %d already recorded remotely, reconciling", entry.ID)
			return e.queue.MarkSynced(ctx, entry.ID, "duplicate")
		}
		return apperr.Wrap(apperr.SyncTransient, "attendance submit failed", err)
	}
	return e.queue.MarkSynced(ctx, entry.ID, remoteID)
}

// scheduleRetry arms a one-shot retry with exponential backoff. After
// MaxRetries consecutive failures the engine stops retrying and waits
// for the next periodic tick.
func (e *Engine) scheduleRetry(cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.retryCount++
	if e.retryCount > e.opts.MaxRetries {
		log.Printf("sync retries exhausted (%d), waiting for next tick: %v", e.opts.MaxRetries, cause)
		e.retryCount = 0
		return
	}
	delay := e.backoffDelay(e.retryCount)
	log.Printf("sync failed, retry %d/%d in %s: %v", e.retryCount, e.opts.MaxRetries, delay, cause)
	retriesScheduled.Inc()

	if e.retryAt != nil {
		e.retryAt.Stop()
	}
	e.retryAt = time.AfterFunc(delay, func() {
		select {
		case e.retryCh <- struct{}{}:
		default:
		}
	})
}

// backoffDelay is the delay before the attempt-th retry: RetryBase
// doubling per consecutive failure.
func (e *Engine) backoffDelay(attempt int) time.Duration {
	d := e.opts.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func (e *Engine) resetRetries() {
	e.mu.Lock()
	e.retryCount = 0
	if e.retryAt != nil {
		e.retryAt.Stop()
		e.retryAt = nil
	}
	e.mu.Unlock()
}

func (e *Engine) cancelRetry() {
	e.mu.Lock()
	if e.retryAt != nil {
		e.retryAt.Stop()
		e.retryAt = nil
	}
	e.mu.Unlock()
}

func (e *Engine) observePending(ctx context.Context) {
	if n, err := e.queue.PendingCount(ctx); err == nil {
		pendingEntries.Set(float64(n))
	}
}
