package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/sma-ekskul-api/api/swagger"
	"github.com/noah-isme/sma-ekskul-api/internal/handler"
	"github.com/noah-isme/sma-ekskul-api/internal/middleware"
	"github.com/noah-isme/sma-ekskul-api/internal/models"
	"github.com/noah-isme/sma-ekskul-api/internal/repository"
	"github.com/noah-isme/sma-ekskul-api/internal/service"
	"github.com/noah-isme/sma-ekskul-api/pkg/cache"
	"github.com/noah-isme/sma-ekskul-api/pkg/config"
	"github.com/noah-isme/sma-ekskul-api/pkg/database"
	"github.com/noah-isme/sma-ekskul-api/pkg/jobs"
	"github.com/noah-isme/sma-ekskul-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-ekskul-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-ekskul-api/pkg/middleware/requestid"
)

// @title SMA Ekskul API
// @version 0.1.0
// @description Extracurricular registration and approval service
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
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Read-side caching is an optimisation; run without it.
		logr.Sugar().Warnw("redis unavailable, activity cache disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	termRepo := repository.NewTermRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	registrationRepo := repository.NewRegistrationRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})
	termSvc := service.NewTermService(termRepo, validate, logr)
	authoritySvc := service.NewAuthorityService()
	eventSvc := service.NewEventService(auditRepo, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
	}, logr)
	activitySvc := service.NewActivityService(activityRepo, termSvc, cacheRepo, cfg.Activities.CacheTTL, validate, logr)
	registrationSvc := service.NewRegistrationService(registrationRepo, activityRepo, termSvc, authoritySvc, eventSvc, metricsSvc, validate, logr, cfg.Registrations.BulkMaxItems)

	authHandler := handler.NewAuthHandler(authSvc)
	termHandler := handler.NewTermHandler(termSvc)
	activityHandler := handler.NewActivityHandler(activitySvc)
	registrationHandler := handler.NewRegistrationHandler(registrationSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))

	authed.GET("/terms", termHandler.List)
	authed.GET("/terms/:id", termHandler.Get)
	authed.GET("/terms/:id/writability", termHandler.Writability)
	authed.PUT("/terms/:id/advance", middleware.RequireRoles(models.RoleAdmin), termHandler.Advance)

	authed.GET("/activities", activityHandler.List)
	authed.GET("/activities/:id", activityHandler.Get)
	authed.POST("/activities", middleware.RequireRoles(models.RoleMonitor, models.RoleTeacher, models.RoleAdmin), activityHandler.Create)
	authed.PUT("/activities/:id/approve", middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin), activityHandler.Approve)
	authed.PUT("/activities/:id/reject", middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin), activityHandler.Reject)

	authed.GET("/registrations", registrationHandler.List)
	authed.GET("/registrations/:id", registrationHandler.Get)
	authed.POST("/registrations", middleware.RequireRoles(models.RoleStudent, models.RoleAdmin), registrationHandler.Create)
	authed.DELETE("/registrations/:id", middleware.RequireRoles(models.RoleStudent, models.RoleAdmin), registrationHandler.Cancel)
	authed.PUT("/registrations/:id/approve", middleware.RequireRoles(models.RoleMonitor, models.RoleTeacher, models.RoleAdmin), registrationHandler.Approve)
	authed.PUT("/registrations/:id/reject", middleware.RequireRoles(models.RoleMonitor, models.RoleTeacher, models.RoleAdmin), registrationHandler.Reject)
	authed.PUT("/registrations/:id/attendance", middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin), registrationHandler.Attendance)
	authed.POST("/registrations/bulk-approve", middleware.RequireRoles(models.RoleMonitor, models.RoleTeacher, models.RoleAdmin), registrationHandler.BulkApprove)
	authed.POST("/registrations/bulk-reject", middleware.RequireRoles(models.RoleMonitor, models.RoleTeacher, models.RoleAdmin), registrationHandler.BulkReject)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventSvc.Start(ctx)
	defer eventSvc.Stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown incomplete", "error", err)
	}
}
