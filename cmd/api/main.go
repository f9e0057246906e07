package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/imvg93/NoriX-sub006/internal/audit"
	"github.com/imvg93/NoriX-sub006/internal/auth"
	"github.com/imvg93/NoriX-sub006/internal/config"
	"github.com/imvg93/NoriX-sub006/internal/evidence"
	"github.com/imvg93/NoriX-sub006/internal/httpmiddleware"
	"github.com/imvg93/NoriX-sub006/internal/logger"
	"github.com/imvg93/NoriX-sub006/internal/queue"
	"github.com/imvg93/NoriX-sub006/internal/store"
	"github.com/imvg93/NoriX-sub006/internal/verification"
)

// Admin verification API: review queues over the scores the auto-check
// worker produces, manual decisions, evidence intake and re-check
// requests.
func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Get()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	mongoStore, err := store.NewMongo(cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatal().Err(err).Msg("mongo connect failed")
	}
	defer mongoStore.Close(context.Background())

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "norix:rechecks")
	}

	repo := verification.NewRepository(mongoStore.DB)
	auditLog := audit.NewStore(mongoStore.DB)
	thresholds := verification.Thresholds{
		OCRPass:  cfg.OCRPass,
		OCRFlag:  cfg.OCRFlag,
		FacePass: cfg.FacePass,
		FaceFlag: cfg.FaceFlag,
	}

	// Evidence storage client (nil when not configured)
	var evClient *evidence.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		evClient = evidence.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Info().Str("cloud", cfg.CloudinaryCloudName).Msg("evidence storage configured")
	} else {
		log.Warn().Msg("evidence storage not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		mongoHealthy := mongoStore.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !mongoHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "mongo": mongoHealthy})
	})

	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			APIKey  string `json:"api_key" binding:"required"`
			AdminID string `json:"admin_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.APIKey != cfg.AdminAPIKey {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		if _, err := primitive.ObjectIDFromHex(req.AdminID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "admin_id must be a valid object id"})
			return
		}

		tokens, err := auth.Issue(req.AdminID, auth.RoleAdmin, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	admin := r.Group("/v1", auth.AdminAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	admin.POST("/students", func(c *gin.Context) {
		var req struct {
			Name  string `json:"name" binding:"required"`
			Email string `json:"email" binding:"required,email"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec, err := repo.CreateRecord(c.Request.Context(), req.Name, req.Email)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, rec)
	})

	admin.POST("/students/:id/evidence", func(c *gin.Context) {
		id, ok := recordID(c)
		if !ok {
			return
		}
		if evClient == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "evidence storage not configured"})
			return
		}

		kind := verification.EvidenceKind(c.PostForm("kind"))
		if kind != verification.EvidenceIDDocument && kind != verification.EvidenceVideo {
			c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be id_document or video"})
			return
		}
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
			return
		}

		var result *evidence.UploadResult
		if kind == verification.EvidenceVideo {
			result, err = evClient.UploadVideo(data, header.Filename)
		} else {
			result, err = evClient.UploadDocument(data, header.Filename)
		}
		if err != nil {
			log.Error().Err(err).Msg("evidence upload failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "evidence upload failed"})
			return
		}

		now := time.Now().UTC()
		if err := repo.SetEvidence(c.Request.Context(), id, kind, result.SecureURL, now); err != nil {
			respondRepoError(c, err)
			return
		}
		appendAudit(c, log, auditLog, audit.Entry{
			StudentID: id,
			Action:    audit.ActionEvidenceSubmitted,
			Code:      string(kind),
			Details:   bson.M{"url": result.SecureURL, "bytes": result.Bytes},
		})

		c.JSON(http.StatusOK, gin.H{"url": result.SecureURL, "submitted_at": now})
	})

	admin.POST("/students/:id/shifts", func(c *gin.Context) {
		id, ok := recordID(c)
		if !ok {
			return
		}
		var req struct {
			NoShow bool `json:"no_show"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec, err := repo.RecordShiftOutcome(c.Request.Context(), id, req.NoShow)
		if err != nil {
			respondRepoError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"total_shifts":      rec.TotalShifts,
			"no_shows":          rec.NoShows,
			"reliability_score": rec.ReliabilityScore,
		})
	})

	admin.GET("/verifications", func(c *gin.Context) {
		state := strings.ReplaceAll(c.Query("state"), "-", "_")
		band, isBand := verification.ParseBand(state)
		f := verification.ListFilter{State: state, Limit: 50}
		if isBand {
			// Band states narrow the checked set by score, which the
			// store cannot express; fetch checked and classify here.
			f.State = "checked"
		}
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				f.Limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				f.Offset = parsed
			}
		}
		recs, err := repo.List(c.Request.Context(), f)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if isBand {
			recs = verification.FilterByBand(recs, thresholds, band)
		}
		out := make([]gin.H, 0, len(recs))
		for _, rec := range recs {
			row := gin.H{"record": rec}
			if rec.AutoChecks != nil {
				row["band"] = thresholds.Band(*rec.AutoChecks)
			}
			out = append(out, row)
		}
		c.JSON(http.StatusOK, gin.H{"verifications": out})
	})

	admin.GET("/verifications/:id", func(c *gin.Context) {
		id, ok := recordID(c)
		if !ok {
			return
		}
		rec, err := repo.GetRecord(c.Request.Context(), id)
		if err != nil {
			respondRepoError(c, err)
			return
		}
		trail, err := auditLog.ListForStudent(c.Request.Context(), id, 50)
		if err != nil {
			log.Error().Err(err).Msg("audit trail read failed")
		}
		resp := gin.H{"record": rec, "audit_trail": trail}
		if rec.AutoChecks != nil {
			resp["band"] = thresholds.Band(*rec.AutoChecks)
		}
		c.JSON(http.StatusOK, resp)
	})

	admin.POST("/verifications/:id/decision", func(c *gin.Context) {
		id, ok := recordID(c)
		if !ok {
			return
		}
		var req struct {
			Decision string `json:"decision" binding:"required,oneof=approve reject"`
			Note     string `json:"note"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		verified := req.Decision == "approve"
		if err := repo.SetVerified(c.Request.Context(), id, verified); err != nil {
			respondRepoError(c, err)
			return
		}

		action := audit.ActionManualReject
		if verified {
			action = audit.ActionManualApprove
		}
		appendAudit(c, log, auditLog, audit.Entry{
			StudentID: id,
			AdminID:   adminID(c),
			Action:    action,
			Code:      req.Decision,
			Details:   bson.M{"note": req.Note},
		})

		c.JSON(http.StatusOK, gin.H{"id": id.Hex(), "verified": verified})
	})

	admin.POST("/verifications/:id/recheck", func(c *gin.Context) {
		id, ok := recordID(c)
		if !ok {
			return
		}
		if _, err := repo.GetRecord(c.Request.Context(), id); err != nil {
			respondRepoError(c, err)
			return
		}
		req := queue.RecheckRequest{
			RecordID:    id.Hex(),
			RequestedAt: time.Now().UTC(),
		}
		if by := adminID(c); by != nil {
			req.RequestedBy = by.Hex()
		}
		if err := q.Publish(c.Request.Context(), req); err != nil {
			log.Error().Err(err).Msg("recheck publish failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "recheck request failed"})
			return
		}
		appendAudit(c, log, auditLog, audit.Entry{
			StudentID: id,
			AdminID:   adminID(c),
			Action:    audit.ActionRecheckRequested,
			Code:      "queued",
		})
		c.JSON(http.StatusAccepted, gin.H{"id": id.Hex(), "status": "queued"})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("starting admin api")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced shutdown")
	}
	log.Info().Msg("server exited")
}

// recordID parses the :id path param, responding with 400 on bad input.
func recordID(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
		return primitive.NilObjectID, false
	}
	return id, true
}

// adminID extracts the acting admin's id from verified claims.
func adminID(c *gin.Context) *primitive.ObjectID {
	claimsAny, _ := c.Get("claims")
	claims, ok := claimsAny.(auth.Claims)
	if !ok {
		return nil
	}
	id, err := primitive.ObjectIDFromHex(claims.Subject)
	if err != nil {
		return nil
	}
	return &id
}

func respondRepoError(c *gin.Context, err error) {
	if errors.Is(err, verification.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// appendAudit writes a trail entry; failures are reported, never fatal.
func appendAudit(c *gin.Context, log zerolog.Logger, store *audit.Store, e audit.Entry) {
	if err := store.Append(c.Request.Context(), e); err != nil {
		log.Error().Err(err).Str("action", e.Action).Str("student_id", e.StudentID.Hex()).Msg("audit append failed")
	}
}

// CORS middleware for browser requests
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
