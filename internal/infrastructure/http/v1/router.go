// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stockledger/internal/domain/balance"
	"stockledger/internal/domain/guard"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/domain/reports"
	"stockledger/internal/infrastructure/http/v1/handlers"
	"stockledger/internal/infrastructure/http/v1/middleware"
	"stockledger/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// AppName is reported by health endpoints
	AppName string

	// Storage names the backing store in health checks ("postgres", "memory")
	Storage string

	// Checks are the readiness probes, keyed by dependency name
	Checks map[string]handlers.Check

	Guard    *guard.Service
	Ledger   ledger.Store
	Balances *balance.Service
	Reports  *reports.Service

	// Logger for request logging
	Logger *logger.Logger

	// Gatherer backs /metrics; nil serves the default registry
	Gatherer prometheus.Gatherer

	// Mode is the gin mode; empty means release
	Mode string
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Mode == "" {
		cfg.Mode = gin.ReleaseMode
	}
	gin.SetMode(cfg.Mode)
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Actor())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.AppName, cfg.Storage, cfg.Checks)
	router.GET("/health", healthHandler.Ready)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
	}

	router.GET("/metrics", metricsHandler(cfg.Gatherer))

	v1 := router.Group("/api/v1")
	registerLedgerRoutes(v1.Group("/ledger"), cfg)

	return router
}

func metricsHandler(g prometheus.Gatherer) gin.HandlerFunc {
	if g == nil {
		return gin.WrapH(promhttp.Handler())
	}
	return gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}

// registerLedgerRoutes registers movement, balance and report endpoints.
func registerLedgerRoutes(rg *gin.RouterGroup, cfg RouterConfig) {
	baseHandler := handlers.NewBaseHandler()
	ledgerHandler := handlers.NewLedgerHandler(baseHandler, cfg.Guard, cfg.Ledger, cfg.Balances)
	reportsHandler := handlers.NewReportsHandler(baseHandler, cfg.Reports)

	transactions := rg.Group("/transactions")
	{
		transactions.POST("", ledgerHandler.Submit)
		transactions.GET("", ledgerHandler.List)
		transactions.GET("/:id", ledgerHandler.GetTransaction)
		transactions.POST("/:id/reverse", ledgerHandler.Reverse)
	}

	balances := rg.Group("/balances/:materialId/:warehouseId")
	{
		balances.GET("", ledgerHandler.GetBalance)
		balances.POST("/rebuild", ledgerHandler.Rebuild)
	}

	rg.GET("/reports", reportsHandler.GetReport)
}
