package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tagsci/internal/apperr"
	"tagsci/internal/config"
	"tagsci/internal/connectivity"
	"tagsci/internal/dirclient"
	"tagsci/internal/identity"
	"tagsci/internal/localqueue"
	"tagsci/internal/model"
	"tagsci/internal/syncengine"
)

func main() {
	cfg := config.LoadScanner()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("scanner failed: %v", err)
	}
}

func run(cfg config.Scanner) error {
	queue, err := localqueue.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer queue.Close()

	if purged, err := queue.PurgeStaleCache(context.Background(), time.Now()); err != nil {
		log.Printf("cache purge failed: %v", err)
	} else if purged > 0 {
		log.Printf("purged %d stale cached students", purged)
	}

	client := dirclient.New(cfg.DirectoryURL, cfg.APIToken)
	probe := connectivity.NewProbe(client.HealthURL(), cfg.ProbeEvery)
	engine := syncengine.New(queue, client, probe, syncengine.Options{Interval: cfg.SyncInterval}, nil)
	resolver := identity.NewResolver(cacheLookup{queue})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go probe.Run(ctx)
	go engine.Run(ctx)
	go refreshCacheLoop(ctx, client, queue, probe)

	d := &daemon{cfg: cfg, queue: queue, client: client, probe: probe, engine: engine, resolver: resolver}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", d.health)

	r.POST("/scan", d.scan)
	r.POST("/capture", d.capture)
	r.GET("/sync/pending", d.pending)
	r.POST("/sync", d.forceSync)
	r.POST("/masterkey", d.masterkey)
	r.POST("/sessions/:id/close", d.closeSession)
	r.GET("/queue/today", d.queueToday)
	r.GET("/queue", d.queueAll)
	r.DELETE("/queue", d.queueClear)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("scanner %s listening on :%s", cfg.DeviceName, cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down scanner...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}

	// One last drain attempt so a clean shutdown loses nothing it could
	// have delivered.
	if probe.Online() {
		if err := engine.ForceSync(shutdownCtx); err != nil {
			log.Printf("final sync failed: %v", err)
		}
	}
	log.Println("scanner exited")
	return nil
}

// refreshCacheLoop keeps the offline student cache warm: a refresh on
// startup, on connectivity restoration, and hourly while online.
func refreshCacheLoop(ctx context.Context, client *dirclient.Client, queue *localqueue.Queue, probe *connectivity.Probe) {
	refresh := func() {
		if !probe.Online() {
			return
		}
		students, err := client.ListStudents(ctx)
		if err != nil {
			log.Printf("student cache refresh failed: %v", err)
			return
		}
		if err := queue.CacheStudents(ctx, students, time.Now()); err != nil {
			log.Printf("student cache write failed: %v", err)
			return
		}
		log.Printf("cached %d students for offline capture", len(students))
	}

	refresh()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	changes := probe.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		case online := <-changes:
			if online {
				refresh()
			}
		}
	}
}

// cacheLookup adapts the SQLite student cache to the resolver.
type cacheLookup struct {
	q *localqueue.Queue
}

func (l cacheLookup) FindStudentByToken(ctx context.Context, token string) (*model.Student, error) {
	return l.q.CachedStudentByToken(ctx, token)
}

func (l cacheLookup) FindStudentByLRN(ctx context.Context, lrn string) (*model.Student, error) {
	return l.q.CachedStudentByLRN(ctx, lrn)
}

type daemon struct {
	cfg      config.Scanner
	queue    *localqueue.Queue
	client   *dirclient.Client
	probe    *connectivity.Probe
	engine   *syncengine.Engine
	resolver *identity.Resolver
}

func httpStatus(err error) int {
	switch apperr.CodeOf(err) {
	case apperr.IdentityNotFound, apperr.SessionNotFound, apperr.NotFound:
		return http.StatusNotFound
	case apperr.AlreadyInPool, apperr.DuplicateCapture, apperr.DuplicateSession,
		apperr.SessionAlreadyClosed, apperr.DuplicateEntry:
		return http.StatusConflict
	case apperr.InvalidMasterkey, apperr.InvalidInput:
		return http.StatusBadRequest
	case apperr.NotAuthenticated:
		return http.StatusUnauthorized
	case apperr.SyncTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(httpStatus(err), gin.H{"error": err.Error(), "code": apperr.CodeOf(err)})
}

func (d *daemon) health(c *gin.Context) {
	pending, _ := d.queue.PendingCount(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"online":  d.probe.Online(),
		"pending": pending,
	})
}

// scan is the primary capture entry point. Online scans go straight to
// the directory pool; offline scans resolve against the local cache and
// land in the durable queue.
func (d *daemon) scan(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if d.probe.Online() {
		result, err := d.client.AddToPool(c.Request.Context(), req.Token)
		if err == nil {
			c.JSON(http.StatusCreated, gin.H{"mode": "online", "result": result})
			return
		}
		if !apperr.Is(err, apperr.SyncTransient) {
			fail(c, err)
			return
		}
		log.Printf("directory unreachable mid-scan, capturing offline: %v", err)
	}

	d.enqueueOffline(c, req.Token)
}

// capture always queues locally, even while online. Used when the
// operator wants the durable path explicitly.
func (d *daemon) capture(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d.enqueueOffline(c, req.Token)
}

func (d *daemon) enqueueOffline(c *gin.Context, token string) {
	student, err := d.resolver.Resolve(c.Request.Context(), token)
	if err != nil {
		fail(c, err)
		return
	}
	now := time.Now()
	id, err := d.queue.Enqueue(c.Request.Context(), model.LocalQueueEntry{
		StudentID:  student.ID,
		FullName:   student.FullName,
		GradeLevel: student.GradeLevel,
		Strand:     student.Strand,
		Section:    student.Section,
		LRN:        student.LRN,
		Timestamp:  now,
		Date:       model.DateString(now),
		ScannedBy:  d.cfg.DeviceName,
	})
	if err != nil {
		fail(c, err)
		return
	}
	d.engine.Trigger()
	c.JSON(http.StatusCreated, gin.H{"mode": "offline", "queue_id": id, "student": student})
}

func (d *daemon) pending(c *gin.Context) {
	count, err := d.engine.PendingCount(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": count})
}

func (d *daemon) forceSync(c *gin.Context) {
	if err := d.engine.ForceSync(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	pending, _ := d.queue.PendingCount(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "synced", "pending": pending})
}

func (d *daemon) masterkey(c *gin.Context) {
	var req struct {
		Masterkey string `json:"masterkey" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !d.probe.Online() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "masterkey verification requires the directory"})
		return
	}
	result, err := d.client.VerifyMasterkey(c.Request.Context(), req.Masterkey)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (d *daemon) closeSession(c *gin.Context) {
	if !d.probe.Online() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session close requires the directory"})
		return
	}
	if err := d.client.CloseSession(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

func (d *daemon) queueToday(c *gin.Context) {
	entries, err := d.queue.ListToday(c.Request.Context(), model.DateString(time.Now()))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (d *daemon) queueAll(c *gin.Context) {
	entries, err := d.queue.ListAll(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (d *daemon) queueClear(c *gin.Context) {
	if err := d.queue.Clear(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}
