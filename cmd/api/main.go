package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tagsci/internal/apperr"
	"tagsci/internal/auth"
	"tagsci/internal/config"
	"tagsci/internal/directory"
	"tagsci/internal/events"
	"tagsci/internal/httpmiddleware"
	"tagsci/internal/identity"
	"tagsci/internal/model"
	"tagsci/internal/pool"
	"tagsci/internal/session"
	"tagsci/internal/store"
)

func main() {
	cfg := config.LoadDirectory()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.Directory) error {
	loc := config.Location(cfg.Timezone)

	var dir directory.Store
	var db *store.DB
	if cfg.DirectoryBackend == "memory" {
		dir = directory.NewMemory()
		log.Println("using in-memory directory backend")
	} else {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		pg := directory.NewPostgres(db.Client)
		if err := pg.Migrate(context.Background()); err != nil {
			return err
		}
		dir = pg
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var feed events.Feed
	if cfg.FeedBackend == "memory" {
		feed = events.NewInMemory(256)
	} else {
		feed = events.NewRedisFeed(redisClient.Client, "")
	}

	resolver := identity.NewResolver(dir)
	pools := pool.NewService(dir, resolver, nil)
	sessions := session.NewService(dir, resolver, nil, loc)

	srv := &server{cfg: cfg, dir: dir, resolver: resolver, pools: pools, sessions: sessions, feed: feed}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db == nil || db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/devices/register", srv.registerDevice)
	r.POST("/v1/teachers/login", srv.teacherLogin)

	v1 := r.Group("/v1", auth.Bearer(cfg.JWTSigningKey, cfg.JWTIssuer))
	{
		v1.POST("/students", auth.RequireRole(auth.RoleTeacher), srv.registerStudent)
		v1.GET("/students", srv.listStudents)
		v1.GET("/students/by-lrn", srv.studentByLRN)
		v1.GET("/students/resolve", srv.resolveIdentity)

		v1.POST("/pool/scans", srv.poolScan)
		v1.GET("/pool", srv.poolList)
		v1.GET("/pool/count", srv.poolCount)

		v1.POST("/sessions", auth.RequireRole(auth.RoleTeacher), srv.createSession)
		v1.GET("/sessions/open", srv.openSessions)
		v1.GET("/sessions/by-class", srv.sessionsByClass)
		v1.GET("/sessions/:id/masterkey", auth.RequireRole(auth.RoleTeacher), srv.sessionMasterkey)
		v1.GET("/sessions/:id/logs", srv.sessionLogs)
		v1.POST("/sessions/:id/close", auth.RequireRole(auth.RoleTeacher), srv.closeSession)
		v1.POST("/sessions/:id/login", srv.studentLogin)
		v1.POST("/sessions/verify", srv.verifyMasterkey)

		v1.PATCH("/logs/:id", auth.RequireRole(auth.RoleTeacher), srv.modifyLog)

		v1.POST("/timetables", auth.RequireRole(auth.RoleTeacher), srv.createTimetable)

		v1.POST("/attendance", srv.legacyAttendance)
	}

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("directory listening on :%s", cfg.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down directory...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
	log.Println("directory exited")
	return nil
}

type server struct {
	cfg      config.Directory
	dir      directory.Store
	resolver *identity.Resolver
	pools    *pool.Service
	sessions *session.Service
	feed     events.Feed
}

// httpStatus maps taxonomy codes onto HTTP statuses. Unknown errors are
// internal.
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
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(httpStatus(err), gin.H{"error": err.Error(), "code": apperr.CodeOf(err)})
}

func (s *server) publish(c *gin.Context, kind string, payload any) {
	ev, err := events.NewEvent(kind, time.Now(), payload)
	if err != nil {
		return
	}
	if err := s.feed.Publish(c.Request.Context(), ev); err != nil {
		log.Printf("event publish failed: %v", err)
	}
}

func subject(c *gin.Context) string {
	claims, _ := auth.FromContext(c)
	return claims.Subject
}

func (s *server) registerDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, err := auth.Issue(req.DeviceID, auth.RoleScanner, s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.AccessTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"access_token": tok.Value, "expires_at": tok.ExpiresAt.Unix()})
}

func (s *server) teacherLogin(c *gin.Context) {
	var req struct {
		TeacherID string `json:"teacher_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, err := auth.Issue(req.TeacherID, auth.RoleTeacher, s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.AccessTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok.Value, "expires_at": tok.ExpiresAt.Unix()})
}

func (s *server) registerStudent(c *gin.Context) {
	var req struct {
		FullName   string `json:"full_name" binding:"required"`
		GradeLevel string `json:"grade_level" binding:"required"`
		Strand     string `json:"strand" binding:"required"`
		Section    string `json:"section" binding:"required"`
		LRN        string `json:"lrn_number" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payload, err := json.Marshal(map[string]string{
		"fullName":   req.FullName,
		"gradeLevel": req.GradeLevel,
		"strand":     req.Strand,
		"section":    req.Section,
		"lrnNumber":  req.LRN,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payload encoding failed"})
		return
	}
	id, err := s.dir.CreateStudent(c.Request.Context(), model.Student{
		FullName:     req.FullName,
		GradeLevel:   req.GradeLevel,
		Strand:       req.Strand,
		Section:      req.Section,
		LRN:          req.LRN,
		TokenPayload: string(payload),
		CreatedBy:    subject(c),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "token_payload": string(payload)})
}

func (s *server) listStudents(c *gin.Context) {
	students, err := s.dir.ListStudents(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

func (s *server) studentByLRN(c *gin.Context) {
	lrn := c.Query("lrn")
	if lrn == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lrn required"})
		return
	}
	student, err := s.dir.FindStudentByLRN(c.Request.Context(), lrn)
	if err != nil {
		fail(c, err)
		return
	}
	if student == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found", "code": apperr.NotFound})
		return
	}
	c.JSON(http.StatusOK, student)
}

func (s *server) resolveIdentity(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return
	}
	student, err := s.resolver.Resolve(c.Request.Context(), token)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, student)
}

func (s *server) poolScan(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := s.pools.AddToPool(c.Request.Context(), req.Token, subject(c))
	if err != nil {
		fail(c, err)
		return
	}
	s.publish(c, events.KindPoolScan, result)
	c.JSON(http.StatusCreated, result)
}

func (s *server) poolList(c *gin.Context) {
	entries, err := s.pools.List(c.Request.Context(), c.Query("class_id"), c.Query("date"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *server) poolCount(c *gin.Context) {
	count, err := s.pools.TodayCount(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (s *server) createSession(c *gin.Context) {
	var req struct {
		ClassID       string `json:"class_id" binding:"required"`
		SubjectID     string `json:"subject_id" binding:"required"`
		ScheduleStart string `json:"schedule_start_time"`
		ScheduleEnd   string `json:"schedule_end_time"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := s.sessions.Create(c.Request.Context(), req.ClassID, req.SubjectID, req.ScheduleStart, req.ScheduleEnd, subject(c))
	if err != nil {
		fail(c, err)
		return
	}
	s.publish(c, events.KindSessionOpen, gin.H{"session_id": id, "class_id": req.ClassID, "subject_id": req.SubjectID})
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *server) openSessions(c *gin.Context) {
	sessions, err := s.sessions.Open(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *server) sessionsByClass(c *gin.Context) {
	classID := c.Query("class_id")
	if classID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "class_id required"})
		return
	}
	sessions, err := s.sessions.ByClassToday(c.Request.Context(), classID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *server) sessionMasterkey(c *gin.Context) {
	encoded, err := s.sessions.IssueMasterkey(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"masterkey": encoded})
}

func (s *server) sessionLogs(c *gin.Context) {
	logs, err := s.dir.ListLogsBySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *server) closeSession(c *gin.Context) {
	if err := s.sessions.Close(c.Request.Context(), c.Param("id"), subject(c)); err != nil {
		fail(c, err)
		return
	}
	s.publish(c, events.KindSessionClose, gin.H{"session_id": c.Param("id"), "closed_by": subject(c)})
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

func (s *server) studentLogin(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logEntry, err := s.sessions.StudentLogin(c.Request.Context(), req.Token, c.Param("id"), subject(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, logEntry)
}

func (s *server) verifyMasterkey(c *gin.Context) {
	var req struct {
		Masterkey string `json:"masterkey" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := s.sessions.VerifyMasterkey(c.Request.Context(), req.Masterkey, subject(c))
	if err != nil {
		fail(c, err)
		return
	}
	s.publish(c, events.KindVerified, result)
	c.JSON(http.StatusOK, result)
}

func (s *server) modifyLog(c *gin.Context) {
	var req struct {
		ArrivalCategory string `json:"arrival_category" binding:"required"`
		Reason          string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.sessions.ModifyLog(c.Request.Context(), c.Param("id"), model.ArrivalCategory(req.ArrivalCategory), req.Reason); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "modified"})
}

func (s *server) createTimetable(c *gin.Context) {
	var req struct {
		ClassID     string `json:"class_id" binding:"required"`
		SubjectID   string `json:"subject_id" binding:"required"`
		SubjectName string `json:"subject_name"`
		StartTime   string `json:"start_time" binding:"required"`
		EndTime     string `json:"end_time" binding:"required"`
		DayOfWeek   string `json:"day_of_week" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := s.dir.CreateTimetableEntry(c.Request.Context(), model.TimetableEntry{
		ClassID:     req.ClassID,
		SubjectID:   req.SubjectID,
		SubjectName: req.SubjectName,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		DayOfWeek:   req.DayOfWeek,
		CreatedBy:   subject(c),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// legacyAttendance is the sync target used by scanner devices draining
// their offline queue.
func (s *server) legacyAttendance(c *gin.Context) {
	var req model.LegacyAttendance
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ScannedBy == "" {
		req.ScannedBy = subject(c)
	}
	id, err := s.dir.InsertLegacyAttendance(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	s.publish(c, events.KindLegacySync, gin.H{"id": id, "student_id": req.StudentID, "date": req.Date})
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
