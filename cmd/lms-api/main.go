package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/lms-cohort-api/api/swagger"
	"github.com/noah-isme/lms-cohort-api/internal/handler"
	internalmiddleware "github.com/noah-isme/lms-cohort-api/internal/middleware"
	"github.com/noah-isme/lms-cohort-api/internal/models"
	"github.com/noah-isme/lms-cohort-api/internal/repository"
	"github.com/noah-isme/lms-cohort-api/internal/service"
	"github.com/noah-isme/lms-cohort-api/pkg/cache"
	"github.com/noah-isme/lms-cohort-api/pkg/config"
	"github.com/noah-isme/lms-cohort-api/pkg/database"
	"github.com/noah-isme/lms-cohort-api/pkg/export"
	"github.com/noah-isme/lms-cohort-api/pkg/jobs"
	"github.com/noah-isme/lms-cohort-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lms-cohort-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lms-cohort-api/pkg/middleware/requestid"
	"github.com/noah-isme/lms-cohort-api/pkg/storage"
)

// @title LMS Cohort API
// @version 0.1.0
// @description Batch lifecycle, week progress and certificate issuance
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, progress cache disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Progress.CacheTTL, logr,
		cfg.Progress.CacheEnabled && cacheRepo != nil)

	store, err := storage.NewLocalStorage(cfg.Issuance.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare certificate storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Issuance.SignedURLSecret, cfg.Issuance.SignedURLTTL)
	issuer := service.NewPDFCertificateIssuer(export.NewCertificatePDF(), store, signer, cfg.APIPrefix, cfg.Issuance.IssuerTimeout)
	pool := jobs.NewPool(jobs.PoolConfig{Concurrency: cfg.Issuance.BulkConcurrency, Logger: logr})

	batchRepo := repository.NewBatchRepository(db)
	weekRepo := repository.NewWeekProgressRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	certificateRepo := repository.NewCertificateRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	userRepo := repository.NewUserRepository(db)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})
	batchSvc := service.NewBatchLifecycleService(batchRepo, courseRepo, weekRepo, cacheSvc, metrics, validate, logr)
	progressSvc := service.NewProgressService(weekRepo, batchRepo, courseRepo, cacheSvc, metrics, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, courseRepo, validate, logr)
	eligibilitySvc := service.NewEligibilityService(enrollmentRepo, certificateRepo, batchRepo, logr)
	issuanceSvc := service.NewIssuanceService(enrollmentRepo, certificateRepo, templateRepo, batchRepo,
		courseRepo, eligibilitySvc, issuer, pool, metrics, validate, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	batchHandler := handler.NewBatchHandler(batchSvc, progressSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	certificateHandler := handler.NewCertificateHandler(issuanceSvc, eligibilitySvc, store, signer)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/login", authHandler.Login)

	// Signed token is the credential; no session required.
	api.GET("/certificates/download", certificateHandler.Download)

	authed := api.Group("")
	authed.Use(internalmiddleware.JWT(authSvc))

	authed.GET("/auth/me", authHandler.Me)

	staff := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)
	admin := internalmiddleware.RequireRoles(models.RoleAdmin)

	batches := authed.Group("/batches")
	{
		batches.GET("", batchHandler.List)
		batches.GET("/:id", batchHandler.Get)
		batches.POST("", staff, batchHandler.Create)
		batches.POST("/:id/start", staff, batchHandler.Start)
		batches.PUT("/:id/dates", staff, batchHandler.SetDates)
		batches.POST("/:id/restart", staff, batchHandler.Restart)
		batches.POST("/:id/complete", staff, batchHandler.Complete)
		batches.POST("/:id/archive", admin, batchHandler.Archive)
		batches.DELETE("/:id", admin, batchHandler.Delete)
		batches.PUT("/:id/students/:studentId", staff, batchHandler.AssignStudent)
		batches.DELETE("/:id/students/:studentId", staff, batchHandler.RemoveStudent)

		batches.GET("/:id/progress", batchHandler.Progress)
		batches.PUT("/:id/progress", staff, batchHandler.SetWeekStatus)

		batches.GET("/:id/certificates/eligible", staff, certificateHandler.EligibleForBatch)
		batches.POST("/:id/certificates", staff, certificateHandler.IssueForBatch)
	}

	enrollments := authed.Group("/enrollments")
	{
		enrollments.GET("", staff, enrollmentHandler.List)
		enrollments.POST("", enrollmentHandler.Apply)
		enrollments.POST("/:id/approve", staff, enrollmentHandler.Approve)
		enrollments.POST("/:id/reject", staff, enrollmentHandler.Reject)
		enrollments.POST("/:id/complete", staff, enrollmentHandler.Complete)
		enrollments.PUT("/:id/progress", staff, enrollmentHandler.SetProgress)
	}

	certificates := authed.Group("/certificates")
	{
		certificates.GET("", staff, certificateHandler.List)
		certificates.GET("/templates", staff, certificateHandler.Templates)
		certificates.POST("/issue", staff, certificateHandler.IssueOne)
		certificates.POST("/issue-bulk", staff, certificateHandler.IssueMany)
		certificates.POST("/:id/regenerate", staff, certificateHandler.Regenerate)
	}

	courses := authed.Group("/courses")
	{
		courses.GET("/:id/certificates/eligible", staff, certificateHandler.EligibleForCourse)
		courses.POST("/:id/certificates", staff, certificateHandler.IssueForCourse)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
