package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/metrics"
	"github.com/pos-platform/stock-service/pkg/middleware"
)

// RouterConfig holds what NewRouter needs.
type RouterConfig struct {
	ServiceName    string
	AllowedOrigins []string
	Logger         *logging.Logger
	Metrics        *metrics.Metrics
	// Ready reports whether the backing store can serve requests.
	Ready func(c *gin.Context) error
}

// NewRouter builds the gin engine with the middleware chain, probes,
// /metrics and the /api/v1 stock routes.
func NewRouter(cfg RouterConfig, stock *StockHandlers) *gin.Engine {
	router := gin.New()

	mwConfig := middleware.DefaultConfig(cfg.ServiceName, cfg.Logger)
	mwConfig.Metrics = cfg.Metrics
	mwConfig.ErrorMapper = MapError
	if len(cfg.AllowedOrigins) > 0 {
		mwConfig.AllowedOrigins = cfg.AllowedOrigins
	}
	middleware.Setup(router, mwConfig)

	router.GET("/health", middleware.HealthCheck(cfg.ServiceName))
	ready := cfg.Ready
	if ready == nil {
		ready = func(*gin.Context) error { return nil }
	}
	router.GET("/ready", middleware.ReadinessCheck(cfg.ServiceName, ready))
	if cfg.Metrics != nil {
		router.GET("/metrics", middleware.MetricsEndpoint(cfg.Metrics))
	}

	stock.RegisterRoutes(router.Group("/api/v1"))
	return router
}
