package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/veldtlab/chromalab-backend/internal/handlers"
	"github.com/veldtlab/chromalab-backend/internal/middleware"
)

type RouterConfig struct {
	AuthHandler        *handlers.AuthHandler
	AuthMiddleware     *middleware.AuthMiddleware
	InstrumentHandler  *handlers.InstrumentHandler
	MethodHandler      *handlers.MethodHandler
	SampleHandler      *handlers.SampleHandler
	RunHandler         *handlers.RunHandler
	CalibrationHandler *handlers.CalibrationHandler
	QCHandler          *handlers.QCHandler
	AuditHandler       *handlers.AuditHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("chromalab"))

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

// ===============
// || Public    ||
// ===============
	router.GET("/healthcheck", handlers.HealthCheck)
	router.POST("/api/register", cfg.AuthHandler.Register)
	router.POST("/api/login", cfg.AuthHandler.Login)

// ===============
// || Protected ||
// ===============
	protected := router.Group("/api")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	// Auth
	protected.POST("/refresh", cfg.AuthHandler.Refresh)
	protected.POST("/logout", cfg.AuthHandler.Logout)
	// Instruments
	protected.POST("/instruments", cfg.InstrumentHandler.Create)
	protected.GET("/instruments", cfg.InstrumentHandler.List)
	protected.GET("/instruments/:id", cfg.InstrumentHandler.Get)
	protected.PATCH("/instruments/:id/status", cfg.InstrumentHandler.UpdateStatus)
	protected.DELETE("/instruments/:id", cfg.InstrumentHandler.Delete)
	// Methods
	protected.POST("/methods", cfg.MethodHandler.Create)
	protected.GET("/methods", cfg.MethodHandler.List)
	protected.GET("/methods/:id", cfg.MethodHandler.Get)
	protected.PUT("/methods/:id/parameters", cfg.MethodHandler.UpdateParameters)
	protected.DELETE("/methods/:id", cfg.MethodHandler.Delete)
	// Samples
	protected.POST("/samples", cfg.SampleHandler.Create)
	protected.GET("/samples", cfg.SampleHandler.List)
	protected.GET("/samples/:id", cfg.SampleHandler.Get)
	protected.DELETE("/samples/:id", cfg.SampleHandler.Delete)
	// Runs
	protected.POST("/runs", cfg.RunHandler.Start)
	protected.GET("/runs", cfg.RunHandler.List)
	protected.GET("/runs/:id", cfg.RunHandler.Get)
	protected.GET("/runs/:id/render.png", cfg.RunHandler.RenderPNG)
	// Calibration
	protected.POST("/calibrations/fit", cfg.CalibrationHandler.Fit)
	protected.POST("/calibrations/:id/activate", cfg.CalibrationHandler.Activate)
	protected.GET("/calibrations/history", cfg.CalibrationHandler.History)
	// QC
	protected.PUT("/qc/targets", cfg.QCHandler.UpsertTarget)
	protected.GET("/qc/targets", cfg.QCHandler.ListTargets)
	protected.DELETE("/qc/targets/:id", cfg.QCHandler.DeleteTarget)
	protected.GET("/qc/records", cfg.QCHandler.History)
	protected.POST("/qc/records/:id/override",
		cfg.AuthMiddleware.RequireRole("supervisor", "admin"),
		cfg.QCHandler.Override)
	// Audit
	protected.GET("/audit", cfg.AuditHandler.ListByEntity)

	return router
}
