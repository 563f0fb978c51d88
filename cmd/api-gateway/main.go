package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/kestrel-research/rdm-api/api/swagger"
	"github.com/kestrel-research/rdm-api/internal/handler"
	"github.com/kestrel-research/rdm-api/internal/middleware"
	"github.com/kestrel-research/rdm-api/internal/repository"
	"github.com/kestrel-research/rdm-api/internal/service"
	"github.com/kestrel-research/rdm-api/pkg/cache"
	"github.com/kestrel-research/rdm-api/pkg/config"
	"github.com/kestrel-research/rdm-api/pkg/database"
	"github.com/kestrel-research/rdm-api/pkg/logger"
	corsmiddleware "github.com/kestrel-research/rdm-api/pkg/middleware/cors"
	reqidmiddleware "github.com/kestrel-research/rdm-api/pkg/middleware/requestid"
	"github.com/kestrel-research/rdm-api/pkg/storage"
)

// @title RDM API
// @version 0.1.0
// @description Versioned research data query and transformation engine
// @BasePath /
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
		logr.Sugar().Warnw("redis unavailable, result cache lookaside disabled", "error", err)
		redisClient = nil
	}

	blobs, err := storage.NewLocalBlobStore(cfg.Blobs.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init blob store", "error", err)
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	studyRepo := repository.NewStudyRepository(db)
	dataRowRepo := repository.NewDataRowRepository(db)
	fieldRepo := repository.NewFieldRepository(db)
	entryRepo := repository.NewCacheEntryRepository(db)
	lookaside := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret: cfg.JWT.Secret,
		Expiry: cfg.JWT.Expiration,
		Issuer: cfg.JWT.Issuer,
	})
	permissionSvc := service.NewPermissionService(roleRepo, logr)
	cacheSvc := service.NewCacheService(entryRepo, lookaside, blobs, logr, service.CacheConfig{
		Enabled: cfg.Query.CacheEnabled,
		TTL:     cfg.Query.CacheTTL,
	})
	versionSvc := service.NewVersionService(studyRepo, cacheSvc, logr)
	querySvc := service.NewQueryService(permissionSvc, versionSvc, dataRowRepo, fieldRepo, cacheSvc, logr)
	querySvc.SetMetrics(metricsSvc)
	querySvc.SetFieldTermLimit(cfg.Query.MaxFieldTerms)
	exportSvc := service.NewExportService(querySvc, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	queryHandler := handler.NewQueryHandler(querySvc, metricsSvc)
	versionHandler := handler.NewVersionHandler(versionSvc)
	roleHandler := handler.NewRoleHandler(permissionSvc)
	exportHandler := handler.NewExportHandler(exportSvc)

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
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))
	{
		protected.POST("/studies/:studyId/query", queryHandler.Query)
		protected.GET("/studies/:studyId/fields", queryHandler.GetFields)
		protected.POST("/studies/:studyId/fields", queryHandler.WriteFields)
		protected.POST("/studies/:studyId/data", queryHandler.WriteData)
		protected.DELETE("/studies/:studyId/data", queryHandler.DeleteData)
		protected.GET("/studies/:studyId/versions", versionHandler.List)
		protected.POST("/roles/validate", roleHandler.Validate)
		if cfg.Exports.Enabled {
			protected.GET("/studies/:studyId/export", exportHandler.Export)
		}
	}

	admin := api.Group("")
	admin.Use(middleware.JWT(authSvc), middleware.AdminOnly())
	{
		admin.POST("/studies/:studyId/versions", versionHandler.Create)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
