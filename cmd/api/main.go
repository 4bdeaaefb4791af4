package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/franciumm/edusite-api/api/swagger"
	"github.com/franciumm/edusite-api/internal/handler"
	"github.com/franciumm/edusite-api/internal/middleware"
	"github.com/franciumm/edusite-api/internal/models"
	"github.com/franciumm/edusite-api/internal/repository"
	"github.com/franciumm/edusite-api/internal/service"
	"github.com/franciumm/edusite-api/pkg/cache"
	"github.com/franciumm/edusite-api/pkg/clock"
	"github.com/franciumm/edusite-api/pkg/config"
	"github.com/franciumm/edusite-api/pkg/database"
	"github.com/franciumm/edusite-api/pkg/logger"
	corsmiddleware "github.com/franciumm/edusite-api/pkg/middleware/cors"
	reqidmiddleware "github.com/franciumm/edusite-api/pkg/middleware/requestid"
	"github.com/franciumm/edusite-api/pkg/storage"
)

// @title EduSite API
// @version 1.0.0
// @description Multi-tenant school content and submission backend
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	clk, err := clock.NewReal(cfg.Timezone)
	if err != nil {
		logr.Sugar().Fatalw("invalid timezone", "zone", cfg.Timezone, "error", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, feed caching disabled", "error", err)
		redisClient = nil
	}

	store, err := storage.NewMinIOStore(cfg.Storage)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to object storage", "error", err)
	}

	// Repositories.
	streamRepo := repository.NewStreamRepository(db)
	statusRepo := repository.NewStatusRepository(db)
	contentRepo := repository.NewContentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	metricsSvc := service.NewMetricsService()
	propagationSvc := service.NewPropagationService(streamRepo, statusRepo, studentRepo, teacherRepo, contentRepo, cacheRepo, metricsSvc, logr)
	accessSvc := service.NewAccessService(streamRepo, contentRepo, metricsSvc, clk, logr)
	contentSvc := service.NewContentService(db, contentRepo, submissionRepo, streamRepo, propagationSvc, accessSvc, store, cacheRepo, cfg.Storage, cfg.Stream, metricsSvc, clk, logr)
	submissionSvc := service.NewSubmissionService(db, submissionRepo, statusRepo, contentRepo, accessSvc, store, cfg.Storage, clk, logr)
	groupSvc := service.NewGroupService(db, groupRepo, studentRepo, propagationSvc, clk, logr)
	authSvc := service.NewAuthService(studentRepo, teacherRepo, cfg.JWT, clk, logr)
	teacherSvc := service.NewTeacherService(db, teacherRepo, propagationSvc, logr)
	reportSvc := service.NewReportService(submissionSvc, contentRepo, clk, logr)

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	contentHandler := handler.NewContentHandler(contentSvc)
	submissionHandler := handler.NewSubmissionHandler(submissionSvc)
	groupHandler := handler.NewGroupHandler(groupSvc)
	teacherHandler := handler.NewTeacherHandler(teacherSvc)
	reportHandler := handler.NewReportHandler(reportSvc)
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

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	v1 := r.Group("/api/v1")
	v1.POST("/auth/login", authHandler.Login)

	authed := v1.Group("")
	authed.Use(middleware.JWT(authSvc))
	{
		mainOnly := authed.Group("")
		mainOnly.Use(middleware.RequireRoles(models.RoleMainTeacher))
		{
			mainOnly.POST("/auth/students", authHandler.RegisterStudent)
			mainOnly.POST("/auth/teachers", authHandler.RegisterTeacher)
			mainOnly.POST("/grades", groupHandler.CreateGrade)
			mainOnly.POST("/groups", groupHandler.CreateGroup)
			mainOnly.DELETE("/groups/:id", groupHandler.DeleteGroup)
			mainOnly.PUT("/groups/:id/students/:studentId", groupHandler.AddStudent)
			mainOnly.DELETE("/groups/:id/students/:studentId", groupHandler.RemoveStudent)
			mainOnly.POST("/contents", contentHandler.Create)
			mainOnly.POST("/sections", contentHandler.CreateSection)
			mainOnly.PATCH("/contents/:id", contentHandler.Update)
			mainOnly.DELETE("/contents/:id", contentHandler.Delete)
			mainOnly.PUT("/contents/:id/exceptions", contentHandler.ReplaceExceptions)
			mainOnly.PUT("/contents/:id/rejections", contentHandler.ReplaceRejections)
			mainOnly.GET("/teachers/:id/permissions", teacherHandler.ListPermissions)
			mainOnly.PUT("/teachers/:id/permissions", teacherHandler.ReplacePermissions)
		}

		teachers := authed.Group("")
		teachers.Use(middleware.RequireTeacher())
		{
			teachers.GET("/grades", groupHandler.ListGrades)
			teachers.GET("/groups", groupHandler.ListGroups)
			teachers.GET("/groups/:id/students", groupHandler.Roster)
			teachers.GET("/contents/:id/status", submissionHandler.GroupStatus)
			teachers.POST("/submissions/:id/mark", submissionHandler.Mark)
		}
		if cfg.Reports.Enabled {
			reports := authed.Group("")
			reports.Use(middleware.RequireTeacher())
			reports.GET("/contents/:id/status/export", reportHandler.GroupStatus)
		}

		authed.GET("/contents", contentHandler.Feed)
		authed.GET("/contents/:id", contentHandler.Get)
		authed.GET("/contents/:id/students/:studentId/status", submissionHandler.StudentStatus)
		authed.GET("/submissions/:id/download", submissionHandler.Download)

		students := authed.Group("")
		students.Use(middleware.RequireRoles(models.RoleStudent))
		students.POST("/contents/:id/submissions", submissionHandler.Submit)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown failed", "error", err)
	}
}
