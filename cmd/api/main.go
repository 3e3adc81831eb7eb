package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/approval"
	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/challenge"
	"rollcall/internal/config"
	"rollcall/internal/core"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/metrics"
	"rollcall/internal/notify"
	"rollcall/internal/session"
	"rollcall/internal/store"
	"rollcall/internal/trigger"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable, using in-memory stores: %v", err)
		db = nil
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)
	m := metrics.New()

	var q notify.Queue
	if cfg.QueueBackend == "memory" {
		q = notify.NewInMemory(64)
	} else {
		q = notify.NewRedisQueue(redisClient.Client, "")
	}
	notifier := notify.NewQueueNotifier(q)

	var sessionStore session.Store
	var attendanceRepo attendance.Repo
	var approvalRepo approval.Repo
	var bindings trigger.BindingSource
	if db != nil {
		sessionStore = session.NewPostgresStore(db.Client)
		attendanceRepo = attendance.NewPostgresRepo(db.Client)
		approvalRepo = approval.NewPostgresRepo(db.Client)
		bindings = trigger.NewPostgresBindings(db.Client)
	} else {
		sessionStore = session.NewMemoryStore()
		attendanceRepo = attendance.NewMemoryRepo()
		approvalRepo = approval.NewMemoryRepo()
		bindings = &trigger.StaticBindings{}
	}

	sessions := session.NewService(sessionStore, cfg.SessionMaxDuration, m)
	challenges := challenge.NewService(
		challenge.NewMemoryStore(),
		challenge.NewRedisStore(redisClient.Client, ""),
		notifier,
		cfg.ChallengeTTL,
		m,
	)
	recorder := attendance.NewService(attendanceRepo, sessions, m)
	approvals := approval.NewService(approvalRepo, recorder, notifier, m)
	runner := trigger.NewRunner(bindings, sessions, notifier, cfg.SessionDuration, cfg.TriggerLookAhead, cfg.TriggerDedup, m)

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
		dbHealthy := db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Token minting sits behind the shared secret: staff authentication is
	// the surrounding application's job, this just converts its verdict
	// into a bearer token for the engine.
	internal := r.Group("/v1/internal", auth.CronSecret(cfg.CronSecret))

	internal.POST("/token", func(c *gin.Context) {
		var req struct {
			Subject string `json:"subject" binding:"required"`
			Role    string `json:"role" binding:"required,oneof=teacher admin student"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		token, exp, err := auth.Issue(req.Subject, req.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"access_token": token, "expires_at": exp.Unix()})
	})

	// Periodic entry point for an external cron caller. The worker runs the
	// same scan on its own ticker; both paths share the dedup window.
	internal.POST("/trigger", func(c *gin.Context) {
		report, err := runner.RunOnce(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		errs := make([]string, 0, len(report.Errors))
		for _, ce := range report.Errors {
			errs = append(errs, ce.Err.Error())
		}
		c.JSON(http.StatusOK, gin.H{
			"scanned": report.Scanned,
			"fired":   report.Fired,
			"skipped": report.Skipped,
			"errors":  errs,
		})
	})

	staff := r.Group("/v1", auth.RequireRole(cfg.JWTSigningKey, cfg.JWTIssuer, "teacher", "admin"))

	staff.POST("/sessions", func(c *gin.Context) {
		var req struct {
			ClassID         string `json:"class_id" binding:"required"`
			SubjectID       string `json:"subject_id" binding:"required"`
			DurationSeconds int    `json:"duration_seconds"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.ClaimsFrom(c)
		duration := cfg.SessionDuration
		if req.DurationSeconds != 0 {
			duration = time.Duration(req.DurationSeconds) * time.Second
		}
		sess, err := sessions.Open(c.Request.Context(), claims.Subject, req.ClassID, req.SubjectID, duration)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, sessionJSON(sess))
	})

	staff.POST("/sessions/:id/close", func(c *gin.Context) {
		var req struct {
			Reason string `json:"reason"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		if req.Reason != "" && req.Reason != "completed" && req.Reason != "expired" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reason must be completed or expired"})
			return
		}
		state := core.SessionCompleted
		if req.Reason == "expired" {
			state = core.SessionExpired
		}
		sess, err := sessions.Close(c.Request.Context(), c.Param("id"), state)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, sessionJSON(sess))
	})

	staff.GET("/sessions/:id/attendance", func(c *gin.Context) {
		recs, err := recorder.ListBySession(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		out := make([]gin.H, 0, len(recs))
		for _, rec := range recs {
			out = append(out, gin.H{
				"claimant_id": rec.ClaimantID,
				"status":      rec.Status,
				"marked_at":   rec.MarkedAt,
				"marked_by":   rec.MarkedBy,
			})
		}
		c.JSON(http.StatusOK, gin.H{"records": out})
	})

	staff.POST("/attendance/manual", func(c *gin.Context) {
		var req struct {
			SessionID  string `json:"session_id" binding:"required"`
			ClaimantID string `json:"claimant_id" binding:"required"`
			Status     string `json:"status" binding:"required,oneof=present absent late onduty"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.ClaimsFrom(c)
		rec, err := recorder.Mark(c.Request.Context(), req.SessionID, req.ClaimantID, core.AttendanceStatus(req.Status), claims.Subject)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, recordJSON(rec))
	})

	// Claimant-facing endpoints: code lookup, challenge issue, and the
	// verify-then-mark composite. No bearer token; identity is proven by
	// the OTP round trip.
	r.GET("/v1/session-codes/:code", func(c *gin.Context) {
		sess, err := sessions.LookupByCode(c.Request.Context(), c.Param("code"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, sessionJSON(sess))
	})

	r.POST("/v1/challenges", func(c *gin.Context) {
		var req struct {
			ClaimantKey string `json:"claimant_key" binding:"required"`
			SessionCode string `json:"session_code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess, err := sessions.LookupByCode(c.Request.Context(), req.SessionCode)
		if err != nil {
			writeError(c, err)
			return
		}
		ch, err := challenges.Issue(c.Request.Context(), req.ClaimantKey, sess.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		// The code itself travels out-of-band via the notifier.
		c.JSON(http.StatusCreated, gin.H{
			"session_id": ch.SessionID,
			"expires_at": ch.ExpiresAt,
		})
	})

	r.POST("/v1/challenges/verify", func(c *gin.Context) {
		var req struct {
			ClaimantKey string `json:"claimant_key" binding:"required"`
			Code        string `json:"code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ch, err := challenges.Verify(c.Request.Context(), req.ClaimantKey, req.Code)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": ch.SessionID})
	})

	r.POST("/v1/attendance", func(c *gin.Context) {
		var req struct {
			ClaimantKey string `json:"claimant_key" binding:"required"`
			Code        string `json:"code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ch, err := challenges.Verify(c.Request.Context(), req.ClaimantKey, req.Code)
		if err != nil {
			writeError(c, err)
			return
		}
		// Session activity is re-validated inside Mark; a session that
		// expired while the claimant typed the code is rejected here even
		// though the challenge itself was still valid.
		rec, err := recorder.Mark(c.Request.Context(), ch.SessionID, ch.ClaimantKey, core.StatusPresent, ch.ClaimantKey)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, recordJSON(rec))
	})

	anyRole := r.Group("/v1", auth.RequireRole(cfg.JWTSigningKey, cfg.JWTIssuer))

	anyRole.POST("/od-requests", func(c *gin.Context) {
		var req struct {
			SubjectID string `json:"subject_id" binding:"required"`
			ClassID   string `json:"class_id"`
			TeacherID string `json:"teacher_id" binding:"required"`
			AdminID   string `json:"admin_id" binding:"required"`
			Date      string `json:"date" binding:"required"`
			Reason    string `json:"reason"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		claims, _ := auth.ClaimsFrom(c)
		od, err := approvals.File(c.Request.Context(), approval.FileParams{
			ClaimantID: claims.Subject,
			SubjectID:  req.SubjectID,
			ClassID:    req.ClassID,
			TeacherID:  req.TeacherID,
			AdminID:    req.AdminID,
			Date:       date,
			Reason:     req.Reason,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, requestJSON(od))
	})

	anyRole.GET("/od-requests/:id", func(c *gin.Context) {
		od, err := approvals.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, requestJSON(od))
	})

	approvers := r.Group("/v1", auth.RequireRole(cfg.JWTSigningKey, cfg.JWTIssuer, "teacher", "admin"))

	approvers.GET("/od-requests", func(c *gin.Context) {
		claims, _ := auth.ClaimsFrom(c)
		reqs, err := approvals.ListForApprover(c.Request.Context(), claims.Subject)
		if err != nil {
			writeError(c, err)
			return
		}
		out := make([]gin.H, 0, len(reqs))
		for _, od := range reqs {
			out = append(out, requestJSON(od))
		}
		c.JSON(http.StatusOK, gin.H{"requests": out})
	})

	approvers.POST("/od-requests/:id/decision", func(c *gin.Context) {
		var req struct {
			Decision string `json:"decision" binding:"required,oneof=approve reject"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.ClaimsFrom(c)
		od, err := approvals.RecordApproval(c.Request.Context(), c.Param("id"),
			core.ApproverRole(claims.Role), claims.Subject, approval.Decision(req.Decision))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, requestJSON(od))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// writeError maps engine errors onto HTTP statuses. ErrNotFound and
// ErrSessionNotActive stay distinct so clients can tell "no such code" from
// "ask for a new one".
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrValidation), errors.Is(err, core.ErrInvalidDuration):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, core.ErrSessionNotActive):
		c.JSON(http.StatusGone, gin.H{"error": "session no longer active"})
	case errors.Is(err, core.ErrChallengeExpired):
		c.JSON(http.StatusGone, gin.H{"error": "challenge expired, request a new code"})
	case errors.Is(err, core.ErrChallengeMismatch):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "code does not match"})
	case errors.Is(err, core.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		log.Printf("internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func sessionJSON(sess session.Session) gin.H {
	return gin.H{
		"id":         sess.ID,
		"owner_id":   sess.OwnerID,
		"class_id":   sess.ClassID,
		"subject_id": sess.SubjectID,
		"code":       sess.Code,
		"state":      sess.State,
		"created_at": sess.CreatedAt,
		"expires_at": sess.ExpiresAt,
	}
}

func recordJSON(rec attendance.Record) gin.H {
	return gin.H{
		"session_id":  rec.SessionID,
		"claimant_id": rec.ClaimantID,
		"status":      rec.Status,
		"marked_at":   rec.MarkedAt,
		"marked_by":   rec.MarkedBy,
	}
}

func requestJSON(od approval.Request) gin.H {
	return gin.H{
		"id":                 od.ID,
		"claimant_id":        od.ClaimantID,
		"subject_id":         od.SubjectID,
		"class_id":           od.ClassID,
		"teacher_id":         od.TeacherID,
		"admin_id":           od.AdminID,
		"date":               od.Date.Format("2006-01-02"),
		"reason":             od.Reason,
		"teacher_approved":   od.TeacherApproved,
		"admin_approved":     od.AdminApproved,
		"teacher_decided_at": od.TeacherDecidedAt,
		"admin_decided_at":   od.AdminDecidedAt,
		"status":             od.Status,
		"created_at":         od.CreatedAt,
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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
