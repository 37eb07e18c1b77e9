package main

import (
	"context"
	"fmt"
	"os"
	"time"
	"github.com/veldtlab/chromalab-backend/internal/logger"
	"github.com/veldtlab/chromalab-backend/internal/utils"
	"github.com/veldtlab/chromalab-backend/internal/cache"
	"github.com/veldtlab/chromalab-backend/internal/db"
	"github.com/veldtlab/chromalab-backend/internal/observability"
	"github.com/veldtlab/chromalab-backend/internal/render"
	"github.com/veldtlab/chromalab-backend/internal/repos"
	"github.com/veldtlab/chromalab-backend/internal/services"
	"github.com/veldtlab/chromalab-backend/internal/handlers"
	"github.com/veldtlab/chromalab-backend/internal/middleware"
	"github.com/veldtlab/chromalab-backend/internal/server"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Tracing
	shutdownOtel := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "chromalab",
		Environment: utils.GetEnv("APP_ENV", "development", log),
		Version:     utils.GetEnv("APP_VERSION", "dev", log),
	})
	defer shutdownOtel(context.Background())

	// Env
	log.Info("Loading environment variables from main...")
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	accessTokenTTL := utils.GetEnvAsInt("ACCESS_TOKEN_TTL", 3600, log)
	refreshTokenTTL := utils.GetEnvAsInt("REFRESH_TOKEN_TTL", 86400, log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Calibration cache
	calibrationCache, err := cache.NewRedisCalibrationCache(log)
	if err != nil {
		log.Warn("Redis unavailable, falling back to uncached calibration reads", "error", err)
		calibrationCache = cache.NoopCalibrationCache{}
	}
	defer calibrationCache.Close()

	// Renderer
	renderer, err := render.NewRenderer(log)
	if err != nil {
		log.Error("Could not init Renderer", "error", err)
		os.Exit(1)
	}

	// Repos
	log.Info("Setting up Repos from main...")
	userRepo := repos.NewUserRepo(thePG, log)
	userTokenRepo := repos.NewUserTokenRepo(thePG, log)
	instrumentRepo := repos.NewInstrumentRepo(thePG, log)
	methodRepo := repos.NewMethodRepo(thePG, log)
	sampleRepo := repos.NewSampleRepo(thePG, log)
	runRepo := repos.NewAnalysisRunRepo(thePG, log)
	calibrationRepo := repos.NewCalibrationModelRepo(thePG, log)
	qcTargetRepo := repos.NewQCTargetRepo(thePG, log)
	qcRecordRepo := repos.NewQCRecordRepo(thePG, log)
	auditRepo := repos.NewAuditEventRepo(thePG, log)

	// Services
	log.Info("Setting up Services from main...")
	auditService := services.NewAuditService(log, auditRepo)
	authService := services.NewAuthService(thePG, log, userRepo, userTokenRepo, jwtSecretKey, time.Duration(accessTokenTTL)*time.Second, time.Duration(refreshTokenTTL)*time.Second)
	instrumentService := services.NewInstrumentService(thePG, log, instrumentRepo, auditService)
	methodService := services.NewMethodService(thePG, log, methodRepo, auditService)
	sampleService := services.NewSampleService(thePG, log, sampleRepo, auditService)
	calibrationService := services.NewCalibrationService(thePG, log, calibrationRepo, calibrationCache, auditService)
	qcService, err := services.NewQCService(thePG, log, qcTargetRepo, qcRecordRepo, auditService)
	if err != nil {
		log.Error("Could not init QCService", "error", err)
		os.Exit(1)
	}
	analysisService := services.NewAnalysisService(
		thePG,
		log,
		methodService,
		sampleService,
		instrumentRepo,
		runRepo,
		qcRecordRepo,
		qcService,
		calibrationService,
		auditService,
		renderer,
	)

	// Handlers
	log.Info("Setting up handlers from main...")
	authHandler := handlers.NewAuthHandler(authService)
	instrumentHandler := handlers.NewInstrumentHandler(instrumentService)
	methodHandler := handlers.NewMethodHandler(methodService)
	sampleHandler := handlers.NewSampleHandler(sampleService)
	runHandler := handlers.NewRunHandler(analysisService)
	calibrationHandler := handlers.NewCalibrationHandler(calibrationService)
	qcHandler := handlers.NewQCHandler(qcService)
	auditHandler := handlers.NewAuditHandler(auditService)

	// Middleware
	log.Info("Setting up middleware from main...")
	authMiddleware := middleware.NewAuthMiddleware(log, authService)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		AuthHandler:        authHandler,
		AuthMiddleware:     authMiddleware,
		InstrumentHandler:  instrumentHandler,
		MethodHandler:      methodHandler,
		SampleHandler:      sampleHandler,
		RunHandler:         runHandler,
		CalibrationHandler: calibrationHandler,
		QCHandler:          qcHandler,
		AuditHandler:       auditHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Warn("Server failed", "error", err)
	}
}
